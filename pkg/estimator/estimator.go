package estimator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultResamples     = 1000
	DefaultConfidence    = 0.95
	DefaultMaxResamples  = 100000
	DefaultMaxSampleSize = 1000000
)

// DurationSource yields the lengths, in milliseconds, of all durations of an
// AS that overlap [start, end].
type DurationSource interface {
	Query(as uint32, start, end int64) ([]int64, error)
}

type Options struct {
	Resamples     int
	Confidence    float64
	Workers       int
	MaxResamples  int
	MaxSampleSize int
}

// Estimator implements CARDCount: durations are truncated to the window,
// bootstrapped, and the resampled mean occupancy is scaled to a host count.
type Estimator struct {
	resamples     int
	confidence    float64
	workers       int
	maxResamples  int
	maxSampleSize int
}

func NewEstimator(opts Options) *Estimator {
	e := &Estimator{
		resamples:     opts.Resamples,
		confidence:    opts.Confidence,
		workers:       opts.Workers,
		maxResamples:  opts.MaxResamples,
		maxSampleSize: opts.MaxSampleSize,
	}
	if e.resamples <= 0 {
		e.resamples = DefaultResamples
	}
	if e.confidence <= 0 || e.confidence >= 1 {
		e.confidence = DefaultConfidence
	}
	if e.workers <= 0 {
		e.workers = runtime.GOMAXPROCS(0)
	}
	if e.maxResamples <= 0 {
		e.maxResamples = DefaultMaxResamples
	}
	if e.maxSampleSize <= 0 {
		e.maxSampleSize = DefaultMaxSampleSize
	}
	return e
}

func (e *Estimator) Resamples() int {
	return e.resamples
}

func (e *Estimator) Confidence() float64 {
	return e.confidence
}

// Estimate computes the number of hosts of as active in [windowStart,
// windowEnd] given that ips unique addresses were observed there.
func (e *Estimator) Estimate(ctx context.Context, src DurationSource, as uint32, ips int, windowStart, windowEnd int64, rng *rand.Rand) (Result, error) {
	if err := e.checkSampleSize(ips); err != nil {
		return Result{}, err
	}

	window := windowEnd - windowStart
	if windowEnd <= windowStart || window <= 0 {
		return Result{}, fmt.Errorf("%w: [%d, %d]", ErrInvalidWindow, windowStart, windowEnd)
	}

	lengths, err := src.Query(as, windowStart, windowEnd)
	if err != nil {
		return Result{}, fmt.Errorf("failed to query durations: %w", err)
	}

	observed := Transform(lengths, window)
	if len(observed) == 0 {
		return Result{}, fmt.Errorf("%w: AS %d has no durations in [%d, %d]", ErrEmptyPopulation, as, windowStart, windowEnd)
	}

	started := time.Now()
	b, err := e.Bootstrap(ctx, observed, ips, rng)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		AS:                as,
		IPs:               ips,
		WindowStart:       windowStart,
		WindowEnd:         windowEnd,
		NumHosts:          scaleToHosts(b.Mean, ips, window),
		LowerBound:        scaleToHosts(b.Lower, ips, window),
		UpperBound:        scaleToHosts(b.Upper, ips, window),
		Resamples:         len(b.Means),
		Confidence:        e.confidence,
		ObservedDurations: observed,
		Timestamp:         time.Now(),
	}

	slog.Debug("Estimated hosts", "as", as, "ips", ips, "observed", len(observed), "hosts", result.NumHosts, "lower", result.LowerBound, "upper", result.UpperBound, "elapsed", time.Since(started))

	return result, nil
}

// Transform truncates each length d to d*W/(d+W), which is always below the
// window size W, and returns the values sorted ascending. W must be positive.
func Transform(lengths []int64, window int64) []float64 {
	w := float64(window)
	observed := make([]float64, len(lengths))
	for i, d := range lengths {
		fd := float64(d)
		observed[i] = fd * w / (fd + w)
	}
	slices.Sort(observed)
	return observed
}

// Bootstrap draws ips values with replacement from observed, once per
// resample, and summarises the sorted resampled means.
//
// One sub-seed per resample is taken from rng before the resamples are
// spread over the workers, so the outcome depends only on rng's state and
// not on scheduling.
func (e *Estimator) Bootstrap(ctx context.Context, observed []float64, ips int, rng *rand.Rand) (Bootstrap, error) {
	if err := e.checkSampleSize(ips); err != nil {
		return Bootstrap{}, err
	}
	if len(observed) == 0 {
		return Bootstrap{}, ErrEmptyPopulation
	}
	n := e.resamples
	if n > e.maxResamples {
		return Bootstrap{}, fmt.Errorf("%w: %d exceeds %d", ErrInvalidResampleCount, n, e.maxResamples)
	}

	seeds := make([]uint64, n)
	for i := range seeds {
		seeds[i] = rng.Uint64()
	}

	means := make([]float64, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range n {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			means[i] = resampleMean(observed, ips, rand.New(rand.NewPCG(seeds[i], uint64(i))))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Bootstrap{}, fmt.Errorf("bootstrap interrupted: %w", err)
	}

	slices.Sort(means)

	var sum float64
	for _, m := range means {
		sum += m
	}
	lower, upper := percentileIndices(n, e.confidence)

	return Bootstrap{
		Mean:  sum / float64(n),
		Lower: means[lower],
		Upper: means[upper],
		Means: means,
	}, nil
}

func (e *Estimator) checkSampleSize(ips int) error {
	if ips <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSampleSize, ips)
	}
	if ips > e.maxSampleSize {
		return fmt.Errorf("%w: %d exceeds %d", ErrSampleSizeTooLarge, ips, e.maxSampleSize)
	}
	return nil
}

func resampleMean(population []float64, ips int, r *rand.Rand) float64 {
	var sum float64
	for range ips {
		sum += population[r.IntN(len(population))]
	}
	return sum / float64(ips)
}

// percentileIndices returns the positions of the two-sided confidence bounds
// in n sorted resampled means: round(tail*n) and round((1-tail)*n)-1.
func percentileIndices(n int, confidence float64) (lower, upper int) {
	tail := (1 - confidence) / 2
	lower = int(math.Round(tail * float64(n)))
	upper = int(math.Round((1-tail)*float64(n))) - 1

	lower = min(max(lower, 0), n-1)
	upper = min(max(upper, lower), n-1)
	return lower, upper
}

func scaleToHosts(meanDuration float64, ips int, window int64) float64 {
	totalDuration := meanDuration * float64(ips)
	return totalDuration / float64(window)
}
