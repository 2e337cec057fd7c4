package durations

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// LoadFile reads a duration file with one "AS,first_seen,last_seen" record
// per line and no header.
func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duration file: %w", err)
	}
	defer f.Close()

	store, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return store, nil
}

func Load(r io.Reader) (*Store, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	store := NewStore()
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}

		line, _ := reader.FieldPos(0)
		d, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		store.Add(d)
	}

	slog.Info("Loaded durations", "records", store.Len(), "asns", len(store.order))
	return store, nil
}

func parseRecord(record []string) (Duration, error) {
	if len(record) != 3 {
		return Duration{}, fmt.Errorf("%w: expected 3 fields, got %d", ErrMalformedRecord, len(record))
	}

	as, err := strconv.ParseUint(strings.TrimSpace(record[0]), 10, 32)
	if err != nil {
		return Duration{}, fmt.Errorf("%w: invalid AS %q", ErrMalformedRecord, record[0])
	}
	firstSeen, err := strconv.ParseInt(strings.TrimSpace(record[1]), 10, 64)
	if err != nil {
		return Duration{}, fmt.Errorf("%w: invalid first_seen %q", ErrMalformedRecord, record[1])
	}
	lastSeen, err := strconv.ParseInt(strings.TrimSpace(record[2]), 10, 64)
	if err != nil {
		return Duration{}, fmt.Errorf("%w: invalid last_seen %q", ErrMalformedRecord, record[2])
	}

	return NewDuration(uint32(as), firstSeen, lastSeen)
}
