package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fleet-monitor/events/internal/cache"
	"fleet-monitor/events/internal/domain"
	"fleet-monitor/events/internal/ratelimit"
	"fleet-monitor/events/internal/speedlimit"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type latLon struct{ lat, lon float64 }

// stubLimits answers every lookup with limit after delay.
type stubLimits struct {
	limit int
	delay time.Duration
	panic bool

	mu    sync.Mutex
	calls []latLon
}

func (s *stubLimits) Resolve(ctx context.Context, pace ratelimit.Waiter, lat, lon float64) int {
	if s.panic {
		panic("resolver exploded")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
		}
	}
	s.mu.Lock()
	s.calls = append(s.calls, latLon{lat, lon})
	s.mu.Unlock()
	return s.limit
}

func (s *stubLimits) callsAt(lat float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.lat == lat {
			n++
		}
	}
	return n
}

func point(offset time.Duration, speed, lat, lon float64) domain.TelemetryPoint {
	return domain.TelemetryPoint{Timestamp: t0.Add(offset), Speed: speed, Latitude: lat, Longitude: lon}
}

func newOverspeed(limits SpeedLimits) *Overspeed {
	return NewOverspeed(limits, ratelimit.NewFactory(ratelimit.ScopeRun, time.Microsecond), zap.NewNop())
}

func TestOverspeed_Threshold(t *testing.T) {
	limits := &stubLimits{limit: 90}
	o := newOverspeed(limits)
	batch := Batch{
		Telemetry: []domain.TelemetryPoint{point(0, 91, 40, -3)},
		CAN:       []domain.CANPoint{{Timestamp: t0, EngineRPM: 1500, Rotativo: true}},
	}

	events, err := o.Run(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOverspeed, events[0].Type)
	assert.Equal(t, map[string]float64{"vehicleSpeed": 91, "limit": 90}, events[0].Values)

	batch.Tolerance = 5
	events, err = o.Run(context.Background(), batch)
	require.NoError(t, err)
	assert.Empty(t, events)
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) MaxSpeedTags(ctx context.Context, lat, lon float64) ([]string, error) {
	args := m.Called(lat, lon)
	tags, _ := args.Get(0).([]string)
	return tags, args.Error(1)
}

func TestOverspeed_MetersPerSecondSampleWithRealResolver(t *testing.T) {
	p := &mockProvider{}
	p.On("MaxSpeedTags", 40.0, -3.0).Return([]string{"80"}, nil)
	resolver := speedlimit.NewResolver(p, cache.New[int](), nil, speedlimit.Options{}, zap.NewNop())

	o := newOverspeed(resolver)
	can := domain.CANPoint{Timestamp: t0, EngineRPM: 1500, Rotativo: true}
	events, err := o.Run(context.Background(), Batch{
		Telemetry: []domain.TelemetryPoint{point(0, 25, 40.0, -3.0)},
		CAN:       []domain.CANPoint{can},
	})

	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, t0, ev.Timestamp)
	assert.InDelta(t, 90.0, ev.Values["vehicleSpeed"], 1e-9)
	assert.Equal(t, 80.0, ev.Values["limit"])
	require.NotNil(t, ev.CAN)
	assert.Equal(t, can, *ev.CAN)
}

func TestOverspeed_FilterAndThinning(t *testing.T) {
	limits := &stubLimits{limit: 10}
	o := newOverspeed(limits)

	var telemetry []domain.TelemetryPoint
	for i := 0; i < 12; i++ {
		// slow points are dropped before thinning
		telemetry = append(telemetry, point(time.Duration(i)*time.Second, 3, 0, float64(i)))
		telemetry = append(telemetry, point(time.Duration(i)*time.Second, 100, 1, float64(i)))
	}

	events, err := o.Run(context.Background(), Batch{Telemetry: telemetry})
	require.NoError(t, err)

	// fast points 0..11 survive the filter; positions 0, 5, 10 are checked
	require.Len(t, events, 3)
	assert.Equal(t, 0.0, events[0].Longitude)
	assert.Equal(t, 5.0, events[1].Longitude)
	assert.Equal(t, 10.0, events[2].Longitude)
	assert.Len(t, limits.calls, 3)
}

func TestOverspeed_UnitHeuristicAndSpeedFilter(t *testing.T) {
	tests := []struct {
		name    string
		raw     float64
		checked bool
		kmh     float64
	}{
		{name: "5.5 m/s is 19.8 km/h, below filter", raw: 5.5, checked: false},
		{name: "20 is read as m/s", raw: 20, checked: true, kmh: 72},
		{name: "44.9 is read as m/s", raw: 44.9, checked: true, kmh: 161.64},
		{name: "45 is read as km/h", raw: 45, checked: true, kmh: 45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := &stubLimits{limit: 10}
			o := newOverspeed(limits)

			events, err := o.Run(context.Background(), Batch{Telemetry: []domain.TelemetryPoint{point(0, tt.raw, 1, 1)}})
			require.NoError(t, err)
			if !tt.checked {
				assert.Empty(t, events)
				assert.Empty(t, limits.calls)
				return
			}
			require.Len(t, events, 1)
			assert.InDelta(t, tt.kmh, events[0].Values["vehicleSpeed"], 1e-9)
		})
	}
}

func TestOverspeed_NoCANLeavesSnapshotNil(t *testing.T) {
	o := newOverspeed(&stubLimits{limit: 50})
	events, err := o.Run(context.Background(), Batch{Telemetry: []domain.TelemetryPoint{point(0, 120, 1, 1)}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].CAN)
}

func TestOverspeed_EmptyBatch(t *testing.T) {
	o := newOverspeed(&stubLimits{limit: 50})
	events, err := o.Run(context.Background(), Batch{})
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestOverspeed_CancelledRunReturnsNoEvents(t *testing.T) {
	limits := &stubLimits{limit: 10, delay: 5 * time.Millisecond}
	o := newOverspeed(limits)

	var telemetry []domain.TelemetryPoint
	for i := 0; i < 500; i++ {
		telemetry = append(telemetry, point(time.Duration(i)*time.Second, 100, 1, 1))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	events, err := o.Run(ctx, Batch{Telemetry: telemetry})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, events)
	assert.Less(t, len(limits.calls), 100)
}

func TestOverspeed_PanicBecomesRunFailure(t *testing.T) {
	o := newOverspeed(&stubLimits{panic: true})
	events, err := o.Run(context.Background(), Batch{Telemetry: []domain.TelemetryPoint{point(0, 120, 1, 1)}})
	assert.True(t, errors.Is(err, ErrRunFailed))
	assert.Nil(t, events)
}
