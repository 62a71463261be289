package stats

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunningVarianceSmall(t *testing.T) {
	var rv RunningVariance

	assert.Equal(t, int64(0), rv.N())
	assert.Equal(t, 0.0, rv.Mean())
	assert.Equal(t, 0.0, rv.Variance())

	rv.Append(4)
	assert.Equal(t, int64(1), rv.N())
	assert.Equal(t, 4.0, rv.Mean())
	assert.Equal(t, 0.0, rv.Variance(), "single sample has no variance")

	rv.Append(8)
	assert.Equal(t, int64(2), rv.N())
	assert.InDelta(t, 6.0, rv.Mean(), 1e-12)
	assert.InDelta(t, 8.0, rv.Variance(), 1e-12)
	assert.InDelta(t, 2.8284271247461903, rv.StdDev(), 1e-12)
}

func TestRunningVarianceMatchesBatch(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	var rv RunningVariance
	samples := make([]float64, 0, 1_000_000)
	for i := 0; i < 1_000_000; i++ {
		x := float64(rng.Intn(101))
		samples = append(samples, x)
		rv.Append(x)
	}

	var sum float64
	for _, x := range samples {
		sum += x
	}
	batchMean := sum / float64(len(samples))

	var sq float64
	for _, x := range samples {
		d := x - batchMean
		sq += d * d
	}
	batchVariance := sq / float64(len(samples)-1)

	require.Equal(t, int64(len(samples)), rv.N())
	assert.InEpsilon(t, batchMean, rv.Mean(), 1e-9)
	assert.InEpsilon(t, batchVariance, rv.Variance(), 1e-9)
}

func TestRunningVarianceReset(t *testing.T) {
	var rv RunningVariance
	rv.Append(1)
	rv.Append(2)
	rv.Reset()

	assert.Equal(t, int64(0), rv.N())
	assert.Equal(t, 0.0, rv.Mean())
	assert.Equal(t, 0.0, rv.Variance())
}

func TestTimeBucketsClosesBucketsWithInterveningZeros(t *testing.T) {
	tb := NewTimeBuckets(TimeBucketsConfig{BucketSize: 5})

	// Buckets 20, 20, 20, then a jump to bucket 23. Closing bucket 20
	// records zeros for the skipped buckets 21 and 22, then the count 3.
	for _, ts := range []int64{100, 101, 102, 115} {
		tb.Append(ts)
	}

	require.Equal(t, int64(3), tb.Size())
	assert.Equal(t, int64(3), tb.LastClosed())
	assert.InDelta(t, 1.0, tb.Mean(), 1e-12, "samples are {3, 0, 0}")
	assert.Equal(t, int64(23), tb.currentBucket)
	assert.Equal(t, int64(1), tb.currentCount, "open bucket holds the closing sample")
}

func TestTimeBucketsSampleCountTracksBucketsTraversed(t *testing.T) {
	tb := NewTimeBuckets(TimeBucketsConfig{BucketSize: 5})

	// Walk buckets 10 through 40 with uneven per-bucket activity and
	// occasional skips. After each advance the number of samples must
	// equal the number of distinct buckets traversed minus the open one.
	rng := rand.New(rand.NewSource(7))
	bucket := int64(10)
	traversed := int64(1)
	tb.Append(bucket * 5)

	for bucket < 40 {
		step := int64(1 + rng.Intn(4))
		bucket += step
		traversed += step
		for i := 0; i < 1+rng.Intn(3); i++ {
			tb.Append(bucket*5 + int64(rng.Intn(5)))
		}
		require.Equal(t, traversed-1, tb.Size())
	}
}

func TestTimeBucketsSameBucketIncrements(t *testing.T) {
	tb := NewTimeBuckets(TimeBucketsConfig{BucketSize: 5})

	tb.Append(100)
	tb.Append(104)
	assert.Equal(t, int64(0), tb.Size(), "no bucket closed yet")
	assert.Equal(t, int64(2), tb.currentCount)
}

func TestTimeBucketsLateSampleCountsTowardOpenBucket(t *testing.T) {
	tb := NewTimeBuckets(TimeBucketsConfig{BucketSize: 5})

	tb.Append(100)
	tb.Append(110)
	tb.Append(101) // bucket 20 is already closed
	assert.Equal(t, int64(1), tb.Size())
	assert.Equal(t, int64(2), tb.currentCount)
}

func TestTimeBucketsGapReset(t *testing.T) {
	tb := NewTimeBuckets(TimeBucketsConfig{BucketSize: 5})

	for ts := int64(100); ts < 400; ts += 5 {
		tb.Append(ts)
	}
	require.Greater(t, tb.Size(), int64(0))

	// More than 60 buckets of silence drops all history; the next
	// sample starts a fresh open bucket.
	tb.Append(400 + 61*5)
	assert.Equal(t, int64(0), tb.Size())
	assert.Equal(t, int64(0), tb.LastClosed())
	assert.Equal(t, int64(1), tb.currentCount)

	// A gap of exactly the horizon does not reset.
	tb2 := NewTimeBuckets(TimeBucketsConfig{BucketSize: 5})
	tb2.Append(100)
	tb2.Append(100 + 60*5)
	assert.Equal(t, int64(60), tb2.Size(), "59 zeros plus the closed count")
}

func TestTimeBucketsAnomaly(t *testing.T) {
	tb := NewTimeBuckets(TimeBucketsConfig{BucketSize: 5, ThresholdSigma: 5})

	// Steady traffic: per-bucket counts cycling 1, 2, 3 keep every
	// closed count inside five standard deviations.
	ts := int64(1000)
	for i := 0; i < 100; i++ {
		for j := 0; j < 1+i%3; j++ {
			tb.Append(ts)
		}
		ts += 5
	}
	require.False(t, tb.CheckForAnomaly())

	// A burst two orders of magnitude above the mean closes into an
	// anomalous bucket.
	for i := 0; i < 500; i++ {
		tb.Append(ts)
	}
	ts += 5
	assert.True(t, tb.AppendAndCheck(ts))
	assert.Equal(t, int64(500), tb.LastClosed())
}

func TestTimeBucketsThresholdSigma(t *testing.T) {
	mk := func(sigma float64) *TimeBuckets {
		tb := NewTimeBuckets(TimeBucketsConfig{BucketSize: 5, ThresholdSigma: sigma})
		ts := int64(1000)
		for i := 0; i < 50; i++ {
			n := 2 + i%3 // counts cycle 2,3,4
			for j := 0; j < n; j++ {
				tb.Append(ts)
			}
			ts += 5
		}
		for i := 0; i < 8; i++ {
			tb.Append(ts)
		}
		tb.Append(ts + 5)
		return tb
	}

	// The same closed count of 8 is anomalous only under the tighter
	// threshold.
	assert.True(t, mk(2).CheckForAnomaly())
	assert.False(t, mk(50).CheckForAnomaly())
}

func TestTimeBucketsDefaults(t *testing.T) {
	tb := NewTimeBuckets(TimeBucketsConfig{})
	assert.Equal(t, int64(DefaultBucketSize), tb.bucketSize)
	assert.Equal(t, DefaultThresholdSigma, tb.thresholdSigma)
	assert.Equal(t, int64(DefaultGapResetBuckets), tb.gapReset)
}
