package durations

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownAS       = errors.New("unknown AS")
	ErrMalformedRecord = errors.New("malformed duration record")
)

// Duration is the span during which a single address was seen occupied and
// attributed to an AS. Times are milliseconds since the epoch.
type Duration struct {
	as        uint32
	firstSeen int64
	lastSeen  int64
}

func NewDuration(as uint32, firstSeen, lastSeen int64) (Duration, error) {
	if firstSeen > lastSeen {
		return Duration{}, fmt.Errorf("%w: first_seen %d after last_seen %d", ErrMalformedRecord, firstSeen, lastSeen)
	}
	return Duration{as: as, firstSeen: firstSeen, lastSeen: lastSeen}, nil
}

func (d Duration) AS() uint32 {
	return d.as
}

func (d Duration) FirstSeen() int64 {
	return d.firstSeen
}

func (d Duration) LastSeen() int64 {
	return d.lastSeen
}

func (d Duration) Length() int64 {
	return d.lastSeen - d.firstSeen
}

// Overlaps reports whether d was active in the window [start, end].
// The window end is inclusive against first_seen while last_seen must be
// strictly after start.
func (d Duration) Overlaps(start, end int64) bool {
	return d.firstSeen <= end && d.lastSeen > start
}
