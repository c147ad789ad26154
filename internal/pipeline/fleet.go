package pipeline

import (
	"sync"

	"go.uber.org/zap"

	"fleet-monitor/events/internal/domain"
)

// Fleet keeps one overspeed Runner per vehicle of each fleet, so batches for
// different vehicles run concurrently while batches for the same vehicle
// supersede each other. The same vehicle ID under two fleets is two vehicles.
type Fleet struct {
	overspeed *Overspeed
	publisher *Publisher
	logger    *zap.Logger

	mu        sync.Mutex
	runners   map[vehicleKey]*Runner
	stability map[vehicleKey][]domain.Event
}

type vehicleKey struct {
	fleetID   string
	vehicleID string
}

// NewFleet builds a Fleet. publisher may be nil.
func NewFleet(overspeed *Overspeed, publisher *Publisher, logger *zap.Logger) *Fleet {
	return &Fleet{
		overspeed: overspeed,
		publisher: publisher,
		logger:    logger.Named("fleet"),
		runners:   make(map[vehicleKey]*Runner),
		stability: make(map[vehicleKey][]domain.Event),
	}
}

// Runner returns the vehicle's runner, creating it on first use. Published
// results are announced under fleetID.
func (f *Fleet) Runner(vehicleID, fleetID string) *Runner {
	key := vehicleKey{fleetID: fleetID, vehicleID: vehicleID}
	f.mu.Lock()
	defer f.mu.Unlock()

	if r, ok := f.runners[key]; ok {
		return r
	}

	var onPublish func(Result)
	if f.publisher != nil {
		onPublish = func(res Result) {
			if res.State == StateIdle && len(res.Events) > 0 {
				f.publisher.Publish(vehicleID, fleetID, res.Events)
			}
		}
	}
	logger := f.logger.With(zap.String("fleet_id", fleetID), zap.String("vehicle_id", vehicleID))
	r := NewRunner(f.overspeed, logger, onPublish)
	f.runners[key] = r
	return r
}

// Lookup returns the vehicle's runner if one exists.
func (f *Fleet) Lookup(vehicleID, fleetID string) (*Runner, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runners[vehicleKey{fleetID: fleetID, vehicleID: vehicleID}]
	return r, ok
}

// RecordStability keeps the vehicle's latest stability events and announces
// them.
func (f *Fleet) RecordStability(vehicleID, fleetID string, events []domain.Event) {
	f.mu.Lock()
	f.stability[vehicleKey{fleetID: fleetID, vehicleID: vehicleID}] = events
	f.mu.Unlock()

	f.Announce(vehicleID, fleetID, events)
}

// LatestStability returns the events of the vehicle's last stability batch.
func (f *Fleet) LatestStability(vehicleID, fleetID string) []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	if events, ok := f.stability[vehicleKey{fleetID: fleetID, vehicleID: vehicleID}]; ok {
		return events
	}
	return []domain.Event{}
}

// Announce publishes events that did not come from a Runner, such as the
// synchronous stability pipeline's output.
func (f *Fleet) Announce(vehicleID, fleetID string, events []domain.Event) {
	if f.publisher == nil || len(events) == 0 {
		return
	}
	f.publisher.Publish(vehicleID, fleetID, events)
}

// Close cancels every run in flight.
func (f *Fleet) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.runners {
		r.Close()
	}
}
