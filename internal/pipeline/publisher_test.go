package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fleet-monitor/events/internal/domain"
)

type fakeSink struct {
	mu        sync.Mutex
	seen      map[string]bool
	published map[string][][]byte
	dedupErr  error
}

func newFakeSink() *fakeSink {
	return &fakeSink{seen: map[string]bool{}, published: map[string][][]byte{}}
}

func (s *fakeSink) MarkEventSeen(ctx context.Context, vehicleID string, ev domain.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupErr != nil {
		return false, s.dedupErr
	}
	key := vehicleID + "/" + string(ev.Type) + "/" + ev.Timestamp.String()
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

func (s *fakeSink) PublishEvent(ctx context.Context, fleetID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published[fleetID] = append(s.published[fleetID], payload)
	return nil
}

func (s *fakeSink) count(fleetID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.published[fleetID])
}

func TestPublisher_PublishesOncePerEvent(t *testing.T) {
	sink := newFakeSink()
	pub := NewPublisher(sink, zap.NewNop())

	p := point(0, 100, 40.4, -3.7)
	ev := domain.NewEvent(domain.EventOverspeed, p, map[string]float64{"vehicleSpeed": 100, "limit": 80}, nil)

	pub.Publish("veh-1", "fleet-a", []domain.Event{ev})
	// a re-run over the same window regenerates the event with a new ID
	again := domain.NewEvent(domain.EventOverspeed, p, ev.Values, nil)
	pub.Publish("veh-1", "fleet-a", []domain.Event{again})

	require.Len(t, sink.published["fleet-a"], 1)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(sink.published["fleet-a"][0], &body))
	assert.Equal(t, "veh-1", body["vehicle_id"])
	assert.Equal(t, "overspeed", body["event_type"])
	assert.Equal(t, map[string]interface{}{"vehicleSpeed": 100.0, "limit": 80.0}, body["valores"])
}

func TestPublisher_DedupFailureSkipsEvent(t *testing.T) {
	sink := newFakeSink()
	sink.dedupErr = errors.New("redis down")
	pub := NewPublisher(sink, zap.NewNop())

	pub.Publish("veh-1", "fleet-a", []domain.Event{
		domain.NewEvent(domain.EventDrift, point(0, 50, 1, 1), nil, nil),
	})
	assert.Empty(t, sink.published)
}

type fakeArchive struct {
	batches [][]domain.Event
}

func (a *fakeArchive) Enqueue(vehicleID, fleetID string, events []domain.Event) {
	a.batches = append(a.batches, events)
}

func TestPublisher_ArchivesOnlyNewEvents(t *testing.T) {
	sink := newFakeSink()
	archive := &fakeArchive{}
	pub := NewPublisher(sink, zap.NewNop()).WithArchive(archive)

	first := domain.NewEvent(domain.EventRollover, point(0, 50, 1, 1), map[string]float64{"roll": 30}, nil)
	second := domain.NewEvent(domain.EventDrift, point(1, 50, 1, 1), map[string]float64{"yaw": 20}, nil)

	pub.Publish("veh-1", "fleet-a", []domain.Event{first})
	pub.Publish("veh-1", "fleet-a", []domain.Event{first, second})

	require.Len(t, archive.batches, 2)
	assert.Equal(t, []domain.Event{first}, archive.batches[0])
	assert.Equal(t, []domain.Event{second}, archive.batches[1])
}
