// Package correlate matches CAN readings to telemetry samples by timestamp.
//
// Matching is nearest-neighbour with no maximum distance: as long as any CAN
// reading exists, every telemetry sample gets one, however far away in time.
package correlate

import (
	"sort"
	"time"

	"fleet-monitor/events/internal/domain"
)

// Nearest scans samples for the reading closest to ts. On equal distance the
// first one encountered wins. ok is false only when samples is empty.
func Nearest(ts time.Time, samples []domain.CANPoint) (domain.CANPoint, bool) {
	best := -1
	var bestDiff time.Duration
	for i := range samples {
		d := absDuration(samples[i].Timestamp.Sub(ts))
		if best < 0 || d < bestDiff {
			best, bestDiff = i, d
		}
	}
	if best < 0 {
		return domain.CANPoint{}, false
	}
	return samples[best], true
}

// Index answers Nearest queries in O(log n) over a time-sorted copy of the
// samples. For input already in time order it returns the same reading as
// Nearest; ties go to the earlier reading.
type Index struct {
	samples []domain.CANPoint
}

func NewIndex(samples []domain.CANPoint) *Index {
	sorted := make([]domain.CANPoint, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return &Index{samples: sorted}
}

func (x *Index) Len() int {
	return len(x.samples)
}

// Nearest returns a pointer into the index; callers must not modify it.
func (x *Index) Nearest(ts time.Time) (*domain.CANPoint, bool) {
	n := len(x.samples)
	if n == 0 {
		return nil, false
	}

	// first reading at or after ts
	i := sort.Search(n, func(i int) bool {
		return !x.samples[i].Timestamp.Before(ts)
	})

	if i == 0 {
		return &x.samples[0], true
	}
	if i < n {
		after := &x.samples[i]
		if absDuration(after.Timestamp.Sub(ts)) < absDuration(ts.Sub(x.samples[i-1].Timestamp)) {
			return after, true
		}
	}

	// earliest of the readings sharing the preceding timestamp
	j := i - 1
	for j > 0 && x.samples[j-1].Timestamp.Equal(x.samples[i-1].Timestamp) {
		j--
	}
	return &x.samples[j], true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
