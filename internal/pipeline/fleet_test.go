package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fleet-monitor/events/internal/domain"
)

func TestFleet_OneRunnerPerVehicle(t *testing.T) {
	f := NewFleet(newOverspeed(&stubLimits{limit: 50}), nil, zap.NewNop())
	defer f.Close()

	a := f.Runner("veh-1", "fleet-a")
	assert.Same(t, a, f.Runner("veh-1", "fleet-a"))
	assert.NotSame(t, a, f.Runner("veh-2", "fleet-a"))

	got, ok := f.Lookup("veh-1", "fleet-a")
	require.True(t, ok)
	assert.Same(t, a, got)

	_, ok = f.Lookup("veh-3", "fleet-a")
	assert.False(t, ok)
}

func TestFleet_VehiclesAreScopedByFleet(t *testing.T) {
	sink := newFakeSink()
	f := NewFleet(newOverspeed(&stubLimits{limit: 50}), NewPublisher(sink, zap.NewNop()), zap.NewNop())
	defer f.Close()

	a := f.Runner("veh-1", "fleet-a")
	b := f.Runner("veh-1", "fleet-b")
	assert.NotSame(t, a, b)

	_, ok := f.Lookup("veh-1", "fleet-c")
	assert.False(t, ok)

	b.Submit(fastBatch(1, 1))
	waitResult(t, b)
	assert.Eventually(t, func() bool { return sink.count("fleet-b") == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, sink.count("fleet-a"))

	events := []domain.Event{
		domain.NewEvent(domain.EventRollover, point(0, 50, 1, 1), map[string]float64{"roll": 30}, nil),
	}
	f.RecordStability("veh-1", "fleet-a", events)
	assert.Empty(t, f.LatestStability("veh-1", "fleet-b"))
	assert.Equal(t, events, f.LatestStability("veh-1", "fleet-a"))
}

func TestFleet_PublishesRunEvents(t *testing.T) {
	sink := newFakeSink()
	f := NewFleet(newOverspeed(&stubLimits{limit: 50}), NewPublisher(sink, zap.NewNop()), zap.NewNop())
	defer f.Close()

	r := f.Runner("veh-1", "fleet-a")
	r.Submit(fastBatch(1, 1))
	waitResult(t, r)

	assert.Eventually(t, func() bool { return sink.count("fleet-a") == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestFleet_RecordStability(t *testing.T) {
	sink := newFakeSink()
	f := NewFleet(newOverspeed(&stubLimits{limit: 50}), NewPublisher(sink, zap.NewNop()), zap.NewNop())

	assert.Empty(t, f.LatestStability("veh-1", "fleet-a"))
	assert.NotNil(t, f.LatestStability("veh-1", "fleet-a"))

	events := []domain.Event{
		domain.NewEvent(domain.EventRollover, point(0, 50, 1, 1), map[string]float64{"roll": 30}, nil),
	}
	f.RecordStability("veh-1", "fleet-a", events)

	assert.Equal(t, events, f.LatestStability("veh-1", "fleet-a"))
	assert.Equal(t, 1, sink.count("fleet-a"))

	f.RecordStability("veh-1", "fleet-a", []domain.Event{})
	assert.Empty(t, f.LatestStability("veh-1", "fleet-a"))
}
