package correlate

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/events/internal/domain"
)

var t0 = time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)

func can(offset time.Duration, rpm float64) domain.CANPoint {
	return domain.CANPoint{Timestamp: t0.Add(offset), EngineRPM: rpm, Rotativo: true}
}

func TestNearest(t *testing.T) {
	samples := []domain.CANPoint{
		can(0, 1000),
		can(10*time.Second, 1100),
		can(20*time.Second, 1200),
	}

	tests := []struct {
		name   string
		at     time.Duration
		expect float64
	}{
		{"exact match", 10 * time.Second, 1100},
		{"closer to next", 16 * time.Second, 1200},
		{"closer to previous", 13 * time.Second, 1100},
		{"tie goes to earlier", 5 * time.Second, 1000},
		{"before first", -time.Hour, 1000},
		{"after last, no cutoff", 3 * time.Hour, 1200},
	}

	idx := NewIndex(samples)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Nearest(t0.Add(tt.at), samples)
			require.True(t, ok)
			assert.Equal(t, tt.expect, got.EngineRPM)

			fromIndex, ok := idx.Nearest(t0.Add(tt.at))
			require.True(t, ok)
			assert.Equal(t, tt.expect, fromIndex.EngineRPM)
		})
	}
}

func TestNearest_Empty(t *testing.T) {
	_, ok := Nearest(t0, nil)
	assert.False(t, ok)

	p, ok := NewIndex(nil).Nearest(t0)
	assert.False(t, ok)
	assert.Nil(t, p)
}

func TestIndex_UnsortedInput(t *testing.T) {
	samples := []domain.CANPoint{
		can(30*time.Second, 3),
		can(0, 1),
		can(15*time.Second, 2),
	}
	idx := NewIndex(samples)
	require.Equal(t, 3, idx.Len())

	got, ok := idx.Nearest(t0.Add(14 * time.Second))
	require.True(t, ok)
	assert.Equal(t, 2.0, got.EngineRPM)

	// input slice untouched
	assert.Equal(t, 3.0, samples[0].EngineRPM)
}

func TestIndex_DuplicateTimestampsPickFirst(t *testing.T) {
	samples := []domain.CANPoint{
		can(0, 1),
		can(10*time.Second, 2),
		can(10*time.Second, 3),
		can(20*time.Second, 4),
	}
	idx := NewIndex(samples)

	for _, at := range []time.Duration{9 * time.Second, 10 * time.Second, 12 * time.Second, 15 * time.Second} {
		linear, _ := Nearest(t0.Add(at), samples)
		indexed, _ := idx.Nearest(t0.Add(at))
		assert.Equal(t, linear.EngineRPM, indexed.EngineRPM, "at %v", at)
	}
}

func TestIndex_AgreesWithLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	samples := make([]domain.CANPoint, 0, 200)
	var off time.Duration
	for i := 0; i < 200; i++ {
		off += time.Duration(rng.Intn(3000)) * time.Millisecond
		samples = append(samples, can(off, float64(i)))
	}
	idx := NewIndex(samples)

	for i := 0; i < 1000; i++ {
		at := t0.Add(time.Duration(rng.Int63n(int64(off + time.Minute))) - 30*time.Second)
		linear, _ := Nearest(at, samples)
		indexed, _ := idx.Nearest(at)
		require.Equal(t, linear.EngineRPM, indexed.EngineRPM, "query at %v", at)
	}
}
