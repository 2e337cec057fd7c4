package durations

import (
	"fmt"
	"math"
)

// Store groups durations by AS. It is filled once with Add and is safe for
// concurrent reads afterwards.
type Store struct {
	byAS  map[uint32][]Duration
	order []uint32
	total int
}

func NewStore() *Store {
	return &Store{
		byAS: make(map[uint32][]Duration),
	}
}

func (s *Store) Add(d Duration) {
	list, exists := s.byAS[d.as]
	if !exists {
		s.order = append(s.order, d.as)
	}
	s.byAS[d.as] = append(list, d)
	s.total++
}

// Query returns the lengths of all durations of as that overlap [start, end],
// in insertion order.
func (s *Store) Query(as uint32, start, end int64) ([]int64, error) {
	list, exists := s.byAS[as]
	if !exists {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAS, as)
	}

	lengths := make([]int64, 0, len(list))
	for _, d := range list {
		if d.Overlaps(start, end) {
			lengths = append(lengths, d.Length())
		}
	}
	return lengths, nil
}

func (s *Store) QueryAll(as uint32) ([]int64, error) {
	return s.Query(as, 0, math.MaxInt64)
}

// ASNs returns the known AS numbers in the order they were first added.
func (s *Store) ASNs() []uint32 {
	out := make([]uint32, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Store) Count(as uint32) int {
	return len(s.byAS[as])
}

func (s *Store) Len() int {
	return s.total
}
