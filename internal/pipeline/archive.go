package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/events/internal/domain"
	"fleet-monitor/events/internal/metrics"
)

// EventStore persists archived events; store.TimescaleStore implements it.
type EventStore interface {
	InsertEvents(ctx context.Context, events []domain.VehicleEvent) error
}

// ArchiveWriter buffers announced events and writes them in batches, so a
// slow database never holds up publication.
type ArchiveWriter struct {
	ch         chan domain.VehicleEvent
	store      EventStore
	batchSize  int
	flushEvery time.Duration
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewArchiveWriter(
	store EventStore,
	bufferSize int,
	batchSize int,
	flushEvery time.Duration,
	logger *zap.Logger,
) *ArchiveWriter {
	return &ArchiveWriter{
		ch:         make(chan domain.VehicleEvent, bufferSize),
		store:      store,
		batchSize:  batchSize,
		flushEvery: flushEvery,
		retryDelay: 500 * time.Millisecond,
		logger:     logger.Named("archive"),
	}
}

// Enqueue never blocks; events that do not fit in the buffer are dropped and
// counted.
func (w *ArchiveWriter) Enqueue(vehicleID, fleetID string, events []domain.Event) {
	for _, ev := range events {
		select {
		case w.ch <- domain.VehicleEvent{VehicleID: vehicleID, FleetID: fleetID, Event: ev}:
		default:
			metrics.ArchiveDrops.Inc()
		}
	}
}

// Run drains the buffer until ctx is done, flushing what it holds on exit.
func (w *ArchiveWriter) Run(ctx context.Context) {
	batch := make([]domain.VehicleEvent, 0, w.batchSize)
	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case ev := <-w.ch:
			batch = append(batch, ev)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			w.drain(batch)
			return
		}
	}
}

// drain writes whatever is buffered with a fresh deadline, since the run
// context is already done.
func (w *ArchiveWriter) drain(batch []domain.VehicleEvent) {
pending:
	for {
		select {
		case ev := <-w.ch:
			batch = append(batch, ev)
		default:
			break pending
		}
	}
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flush(ctx, batch)
}

func (w *ArchiveWriter) flush(ctx context.Context, batch []domain.VehicleEvent) {
	err := w.store.InsertEvents(ctx, batch)
	if err != nil {
		w.logger.Warn("archive write failed, retrying", zap.Int("batch", len(batch)), zap.Error(err))
		time.Sleep(w.retryDelay)
		err = w.store.InsertEvents(ctx, batch)
		if err != nil {
			w.logger.Error("archive write permanently failed", zap.Int("batch", len(batch)), zap.Error(err))
			metrics.ArchiveWrites.WithLabelValues("failure").Add(float64(len(batch)))
			return
		}
	}
	metrics.ArchiveWrites.WithLabelValues("success").Add(float64(len(batch)))
}
