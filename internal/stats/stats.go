// Package stats implements the streaming statistics behind chat surge
// detection: an online mean/variance accumulator and a time-bucketed
// message counter that flags buckets whose count sits far outside the
// historical distribution.
package stats

import "math"

// RunningVariance accumulates mean and variance online using Welford's
// algorithm. The zero value is ready to use.
type RunningVariance struct {
	n    int64
	mean float64
	m2   float64
}

// Append folds one sample into the accumulator.
func (r *RunningVariance) Append(x float64) {
	r.n++
	delta := x - r.mean
	r.mean += delta / float64(r.n)
	r.m2 += delta * (x - r.mean)
}

// N returns the number of samples seen.
func (r *RunningVariance) N() int64 { return r.n }

// Mean returns the running mean, or 0 before any samples.
func (r *RunningVariance) Mean() float64 { return r.mean }

// Variance returns the sample variance (n-1 denominator), or 0 when
// fewer than two samples have been seen.
func (r *RunningVariance) Variance() float64 {
	if r.n < 2 {
		return 0
	}
	return r.m2 / float64(r.n-1)
}

// StdDev returns the sample standard deviation.
func (r *RunningVariance) StdDev() float64 {
	return math.Sqrt(r.Variance())
}

// Reset discards all accumulated samples.
func (r *RunningVariance) Reset() {
	r.n = 0
	r.mean = 0
	r.m2 = 0
}

const (
	// DefaultBucketSize is the width of one counting bucket in seconds.
	DefaultBucketSize = 5
	// DefaultThresholdSigma is the multiple of the standard deviation a
	// closed bucket must exceed to be considered anomalous.
	DefaultThresholdSigma = 5.0
	// DefaultGapResetBuckets is the number of empty buckets after which
	// the history is considered stale and dropped.
	DefaultGapResetBuckets = 60
)

// TimeBucketsConfig tunes a TimeBuckets counter. Zero fields take the
// package defaults.
type TimeBucketsConfig struct {
	// BucketSize is the bucket width in seconds.
	BucketSize int64
	// ThresholdSigma is the anomaly threshold as a multiple of the
	// standard deviation of the closed-bucket counts.
	ThresholdSigma float64
	// GapResetBuckets resets all state when a new sample lands more
	// than this many buckets past the current one.
	GapResetBuckets int64
}

// TimeBuckets counts events into fixed-width time buckets and keeps a
// running distribution of closed-bucket counts. The current bucket stays
// open (its count is not part of the distribution) until a later sample
// closes it; buckets skipped between two samples are recorded as zeros.
//
// TimeBuckets is not safe for concurrent use.
type TimeBuckets struct {
	bucketSize     int64
	thresholdSigma float64
	gapReset       int64

	variance      RunningVariance
	currentBucket int64
	currentCount  int64
	lastClosed    int64
}

// NewTimeBuckets returns a counter configured by cfg.
func NewTimeBuckets(cfg TimeBucketsConfig) *TimeBuckets {
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = DefaultBucketSize
	}
	if cfg.ThresholdSigma <= 0 {
		cfg.ThresholdSigma = DefaultThresholdSigma
	}
	if cfg.GapResetBuckets <= 0 {
		cfg.GapResetBuckets = DefaultGapResetBuckets
	}
	return &TimeBuckets{
		bucketSize:     cfg.BucketSize,
		thresholdSigma: cfg.ThresholdSigma,
		gapReset:       cfg.GapResetBuckets,
	}
}

// Append counts one event at the given Unix timestamp (seconds).
//
// A sample in the current bucket increments its count. A sample in a
// later bucket first closes the current one: a zero is recorded for
// every bucket strictly between the two, then the closed count joins
// the distribution and becomes the last closed count. A sample further
// ahead than the gap-reset horizon drops all history first. Samples
// that arrive late, for a bucket already closed, count toward the open
// bucket.
func (t *TimeBuckets) Append(timestamp int64) {
	bucket := timestamp / t.bucketSize

	if bucket-t.currentBucket > t.gapReset {
		t.reset()
	}

	if t.currentBucket == 0 {
		t.currentBucket = bucket
	}

	if bucket <= t.currentBucket {
		t.currentCount++
		return
	}

	for b := t.currentBucket + 1; b < bucket; b++ {
		t.variance.Append(0)
	}
	t.variance.Append(float64(t.currentCount))
	t.lastClosed = t.currentCount

	t.currentBucket = bucket
	t.currentCount = 1
}

func (t *TimeBuckets) reset() {
	t.variance.Reset()
	t.currentBucket = 0
	t.currentCount = 0
	t.lastClosed = 0
}

// Size returns the number of closed buckets in the distribution.
func (t *TimeBuckets) Size() int64 { return t.variance.N() }

// LastClosed returns the count of the most recently closed bucket.
func (t *TimeBuckets) LastClosed() int64 { return t.lastClosed }

// Mean returns the mean of the closed-bucket counts.
func (t *TimeBuckets) Mean() float64 { return t.variance.Mean() }

// StdDev returns the standard deviation of the closed-bucket counts.
func (t *TimeBuckets) StdDev() float64 { return t.variance.StdDev() }

// CheckForAnomaly reports whether the last closed bucket count exceeds
// the configured multiple of the distribution's standard deviation.
func (t *TimeBuckets) CheckForAnomaly() bool {
	return float64(t.lastClosed) > t.thresholdSigma*t.variance.StdDev()
}

// AppendAndCheck counts one event and reports whether the last closed
// bucket is anomalous.
func (t *TimeBuckets) AppendAndCheck(timestamp int64) bool {
	t.Append(timestamp)
	return t.CheckForAnomaly()
}
