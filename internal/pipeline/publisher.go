package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/events/internal/domain"
	"fleet-monitor/events/internal/metrics"
)

// EventSink is the fan-out target for published events; store.RedisStore
// implements it.
type EventSink interface {
	// MarkEventSeen returns false if the event was already announced.
	MarkEventSeen(ctx context.Context, vehicleID string, ev domain.Event) (bool, error)
	PublishEvent(ctx context.Context, fleetID string, payload []byte) error
}

// EventArchive receives every newly announced event; ArchiveWriter
// implements it.
type EventArchive interface {
	Enqueue(vehicleID, fleetID string, events []domain.Event)
}

// Publisher announces detected events to dashboards, once per event.
type Publisher struct {
	sink    EventSink
	archive EventArchive
	logger  *zap.Logger
	timeout time.Duration
}

func NewPublisher(sink EventSink, logger *zap.Logger) *Publisher {
	return &Publisher{
		sink:    sink,
		logger:  logger.Named("publisher"),
		timeout: 5 * time.Second,
	}
}

// WithArchive also writes every newly announced event to a.
func (p *Publisher) WithArchive(a EventArchive) *Publisher {
	p.archive = a
	return p
}

// Publish announces events for a vehicle. Re-runs over overlapping batches
// produce the same events again; those are skipped.
func (p *Publisher) Publish(vehicleID, fleetID string, events []domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	var fresh []domain.Event
	for _, ev := range events {
		first, err := p.sink.MarkEventSeen(ctx, vehicleID, ev)
		if err != nil {
			p.logger.Warn("event dedup check failed",
				zap.String("vehicle_id", vehicleID),
				zap.String("type", string(ev.Type)),
				zap.Error(err),
			)
			metrics.PublishFailures.Inc()
			continue
		}
		if !first {
			continue
		}
		fresh = append(fresh, ev)

		payload, err := json.Marshal(map[string]interface{}{
			"id":           ev.ID,
			"vehicle_id":   vehicleID,
			"fleet_id":     fleetID,
			"event_type":   string(ev.Type),
			"lat":          ev.Latitude,
			"lon":          ev.Longitude,
			"valores":      ev.Values,
			"can":          ev.CAN,
			"occurred_at":  ev.Timestamp.UnixMilli(),
			"published_at": time.Now().Unix(),
		})
		if err != nil {
			p.logger.Error("event marshal failed", zap.String("id", ev.ID), zap.Error(err))
			continue
		}

		if err := p.sink.PublishEvent(ctx, fleetID, payload); err != nil {
			p.logger.Warn("event publish failed",
				zap.String("vehicle_id", vehicleID),
				zap.Error(err),
			)
			metrics.PublishFailures.Inc()
		}
	}

	if p.archive != nil && len(fresh) > 0 {
		p.archive.Enqueue(vehicleID, fleetID, fresh)
	}
}
