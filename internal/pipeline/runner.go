package pipeline

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"fleet-monitor/events/internal/domain"
	"fleet-monitor/events/internal/metrics"
)

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateFailed  State = "failed"
)

// Result is what a Runner currently exposes. While Busy, Events still holds
// the previous run's output.
type Result struct {
	RunID  uint64         `json:"runId"`
	Events []domain.Event `json:"events"`
	Busy   bool           `json:"computing"`
	State  State          `json:"state"`
	Err    error          `json:"-"`
}

// BatchRunner is implemented by Overspeed.
type BatchRunner interface {
	Run(ctx context.Context, b Batch) ([]domain.Event, error)
}

type run struct {
	id     uint64
	cancel context.CancelFunc
}

// Runner owns the single active run of one pipeline instance. Submitting a
// batch cancels the run in flight and starts a new one with the next run ID;
// a run may publish only while it is still the current one, so a superseded
// run that finishes late is dropped.
type Runner struct {
	pipeline  BatchRunner
	logger    *zap.Logger
	onPublish func(Result)

	mu      sync.Mutex
	nextID  uint64
	current *run
	result  Result
	idle    chan struct{} // closed while no run is in flight

	pubMu         sync.Mutex
	lastPublished uint64
}

// NewRunner wraps p. onPublish, if set, receives every published result in
// run order.
func NewRunner(p BatchRunner, logger *zap.Logger, onPublish func(Result)) *Runner {
	idle := make(chan struct{})
	close(idle)
	return &Runner{
		pipeline:  p,
		logger:    logger.Named("runner"),
		onPublish: onPublish,
		result:    Result{Events: []domain.Event{}, State: StateIdle},
		idle:      idle,
	}
}

// Submit starts a run over b, superseding any run in flight, and returns
// the new run's ID. An empty batch publishes an empty idle result at once.
func (r *Runner) Submit(b Batch) uint64 {
	r.mu.Lock()

	r.supersede()
	r.nextID++
	id := r.nextID

	if len(b.Telemetry) == 0 {
		res := Result{RunID: id, Events: []domain.Event{}, State: StateIdle}
		r.finish(res)
		r.mu.Unlock()
		r.publish(res)
		return id
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.current = &run{id: id, cancel: cancel}
	if !r.result.Busy {
		r.idle = make(chan struct{})
	}
	r.result.RunID = id
	r.result.Busy = true
	r.result.State = StateRunning
	r.result.Err = nil
	r.mu.Unlock()

	go r.execute(ctx, id, b)
	return id
}

// supersede cancels the run in flight. Callers hold r.mu.
func (r *Runner) supersede() {
	if r.current == nil {
		return
	}
	r.current.cancel()
	r.logger.Debug("run superseded", zap.Uint64("run", r.current.id))
	metrics.Runs.WithLabelValues("superseded").Inc()
	r.current = nil
}

// finish installs res as the visible result and wakes waiters. Callers hold r.mu.
func (r *Runner) finish(res Result) {
	r.result = res
	if res.Busy {
		return
	}
	select {
	case <-r.idle:
	default:
		close(r.idle)
	}
}

func (r *Runner) execute(ctx context.Context, id uint64, b Batch) {
	events, err := r.pipeline.Run(ctx, b)

	r.mu.Lock()
	if r.current == nil || r.current.id != id {
		r.mu.Unlock()
		return
	}
	r.current.cancel()
	r.current = nil

	res := Result{RunID: id, Events: events, State: StateIdle}
	switch {
	case err == nil:
		if res.Events == nil {
			res.Events = []domain.Event{}
		}
		metrics.Runs.WithLabelValues("published").Inc()
		countEvents(res.Events)

	case errors.Is(err, context.Canceled):
		// Only Close cancels the current run, and Close clears r.current.
		r.mu.Unlock()
		return

	default:
		r.logger.Error("run failed", zap.Uint64("run", id), zap.Error(err))
		metrics.Runs.WithLabelValues("failed").Inc()
		res.Events = []domain.Event{}
		res.State = StateFailed
		res.Err = err
	}

	r.finish(res)
	r.mu.Unlock()
	r.publish(res)
}

func (r *Runner) publish(res Result) {
	if r.onPublish == nil {
		return
	}
	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	if res.RunID <= r.lastPublished {
		return
	}
	r.lastPublished = res.RunID
	r.onPublish(res)
}

// Result returns the currently visible result.
func (r *Runner) Result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Wait blocks until no run is in flight and returns the published result.
func (r *Runner) Wait(ctx context.Context) (Result, error) {
	r.mu.Lock()
	idle := r.idle
	r.mu.Unlock()

	select {
	case <-idle:
		return r.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Close cancels the run in flight without publishing it.
func (r *Runner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.supersede()
	if r.result.Busy {
		res := r.result
		res.Busy = false
		res.State = StateIdle
		r.finish(res)
	}
}

func countEvents(events []domain.Event) {
	for _, ev := range events {
		metrics.EventsEmitted.WithLabelValues(string(ev.Type)).Inc()
	}
}
