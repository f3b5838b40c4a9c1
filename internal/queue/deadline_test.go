package queue

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMillisToDuration(t *testing.T) {
	tests := []struct {
		ms   int64
		want time.Duration
	}{
		{0, 0},
		{-5, 0},
		{1, time.Millisecond},
		{1500, 1500 * time.Millisecond},
		{math.MaxInt64, time.Duration(math.MaxInt64)},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MillisToDuration(tt.ms), "ms=%d", tt.ms)
	}
}

func TestDeadline(t *testing.T) {
	before := time.Now()
	d := Deadline(1500)
	after := time.Now()

	assert.False(t, d.Before(before.Add(1500*time.Millisecond)))
	assert.False(t, d.After(after.Add(1500*time.Millisecond)))

	// 負のタイムアウトは現在時刻に丸める
	assert.False(t, Deadline(-1).After(time.Now()))
}

func TestRemaining(t *testing.T) {
	assert.Zero(t, Remaining(time.Now().Add(-time.Second)))

	r := Remaining(time.Now().Add(time.Hour))
	assert.Greater(t, r, 59*time.Minute)
	assert.LessOrEqual(t, r, time.Hour)
}
