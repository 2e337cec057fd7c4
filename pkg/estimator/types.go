package estimator

import (
	"errors"
	"time"
)

var (
	ErrEmptyPopulation      = errors.New("no observed durations to sample from")
	ErrInvalidSampleSize    = errors.New("invalid sample size")
	ErrSampleSizeTooLarge   = errors.New("sample size exceeds limit")
	ErrInvalidWindow        = errors.New("invalid window")
	ErrInvalidResampleCount = errors.New("invalid resample count")
)

// Result is a host-count estimate for one AS over one window.
type Result struct {
	AS          uint32
	IPs         int
	WindowStart int64
	WindowEnd   int64
	NumHosts    float64
	LowerBound  float64
	UpperBound  float64
	Resamples   int
	Confidence  float64

	// ObservedDurations holds the transformed durations, sorted ascending.
	ObservedDurations []float64
	Timestamp         time.Time
}

// Bootstrap summarises the resampled means of one bootstrap run. Values are
// mean transformed durations in milliseconds, not host counts.
type Bootstrap struct {
	Mean  float64
	Lower float64
	Upper float64
	Means []float64
}
