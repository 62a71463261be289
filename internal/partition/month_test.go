package partition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonth(t *testing.T) {
	tests := []struct {
		name string
		ms   int64
		want int32
	}{
		{"start of 2024", 1704067200000, 202401}, // 2024-01-01T00:00:00Z
		{"last second of january", time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC).UnixMilli(), 202401},
		{"first second of february", time.Date(2024, 2, 1, 0, 0, 1, 0, time.UTC).UnixMilli(), 202402},
		{"new year's eve", time.Date(2023, 12, 31, 23, 59, 59, 999000000, time.UTC).UnixMilli(), 202312},
		{"epoch", 0, 197001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Month(tt.ms))
		})
	}
}

func TestNext(t *testing.T) {
	tests := []struct {
		name string
		ym   int32
		want int32
	}{
		{"mid year", 202406, 202407},
		{"december rolls over", 202312, 202401},
		{"january", 202401, 202402},
		{"november", 202411, 202412},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Next(tt.ym))
		})
	}
}

// Walking Next from any month must reach the month of any later timestamp.
// This is what the storage layer's month walk relies on to terminate.
func TestNextReachesLaterMonths(t *testing.T) {
	ym := Month(time.Date(2023, 11, 15, 0, 0, 0, 0, time.UTC).UnixMilli())
	end := Month(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC).UnixMilli())

	steps := 0
	for ym < end {
		ym = Next(ym)
		steps++
		if steps > 100 {
			t.Fatal("month walk did not terminate")
		}
	}
	assert.Equal(t, end, ym)
	assert.Equal(t, 15, steps) // nov 2023 -> feb 2025
}
