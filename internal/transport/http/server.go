package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/events/internal/domain"
	"fleet-monitor/events/internal/metrics"
	"fleet-monitor/events/internal/pipeline"
)

const maxBatchBytes = 32 << 20

// ReplaySource loads stored samples for a time window; store.TimescaleStore
// implements it.
type ReplaySource interface {
	LoadTelemetry(ctx context.Context, vehicleID string, from, to time.Time) ([]domain.TelemetryPoint, error)
	LoadCANPoints(ctx context.Context, vehicleID string, from, to time.Time) ([]domain.CANPoint, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	fleet  *pipeline.Fleet
	replay ReplaySource
	feed   EventFeed
	auth   *AuthMiddleware
	checks map[string]HealthCheck
	logger *zap.Logger
}

// NewServer builds the API. replay may be nil, which disables the replay
// endpoint.
func NewServer(fleet *pipeline.Fleet, replay ReplaySource, auth Validator, logger *zap.Logger) *Server {
	return &Server{
		fleet:  fleet,
		replay: replay,
		auth:   NewAuthMiddleware(auth),
		checks: make(map[string]HealthCheck),
		logger: logger.Named("http"),
	}
}

func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.checks[name] = check
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /v1/vehicles/{vehicleID}/batches", s.auth.Wrap(http.HandlerFunc(s.submitBatch)))
	mux.Handle("POST /v1/vehicles/{vehicleID}/replay", s.auth.Wrap(http.HandlerFunc(s.replayWindow)))
	mux.Handle("GET /v1/vehicles/{vehicleID}/events", s.auth.Wrap(http.HandlerFunc(s.getEvents)))
	mux.Handle("GET /v1/stream", s.auth.Wrap(http.HandlerFunc(s.stream)))

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", s.healthz)

	return s.recoverer(s.accessLog(mux))
}

type submitResponse struct {
	RunID     uint64 `json:"runId"`
	Stability int    `json:"stabilityEvents"`
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	vehicleID := r.PathValue("vehicleID")

	var batch pipeline.Batch
	body := http.MaxBytesReader(w, r.Body, maxBatchBytes)
	if err := json.NewDecoder(body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch: "+err.Error())
		return
	}
	if batch.Tolerance < 0 {
		writeError(w, http.StatusBadRequest, "tolerance must not be negative")
		return
	}

	writeJSON(w, http.StatusAccepted, s.process(vehicleID, FleetID(r.Context()), batch))
}

func (s *Server) replayWindow(w http.ResponseWriter, r *http.Request) {
	if s.replay == nil {
		writeError(w, http.StatusServiceUnavailable, "replay store disabled")
		return
	}
	vehicleID := r.PathValue("vehicleID")
	q := r.URL.Query()

	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be RFC3339")
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be RFC3339")
		return
	}
	if !from.Before(to) {
		writeError(w, http.StatusBadRequest, "from must be before to")
		return
	}

	var tolerance float64
	if raw := q.Get("tolerance"); raw != "" {
		tolerance, err = strconv.ParseFloat(raw, 64)
		if err != nil || tolerance < 0 {
			writeError(w, http.StatusBadRequest, "tolerance must be a non-negative number")
			return
		}
	}

	telemetry, err := s.replay.LoadTelemetry(r.Context(), vehicleID, from, to)
	if err != nil {
		s.logger.Error("replay telemetry load failed", zap.String("vehicle_id", vehicleID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "telemetry unavailable")
		return
	}
	can, err := s.replay.LoadCANPoints(r.Context(), vehicleID, from, to)
	if err != nil {
		s.logger.Error("replay can load failed", zap.String("vehicle_id", vehicleID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "can samples unavailable")
		return
	}

	batch := pipeline.Batch{Telemetry: telemetry, CAN: can, Tolerance: tolerance}
	writeJSON(w, http.StatusAccepted, s.process(vehicleID, FleetID(r.Context()), batch))
}

// process runs the stability pipeline inline and hands the overspeed check
// to the vehicle's runner.
func (s *Server) process(vehicleID, fleetID string, batch pipeline.Batch) submitResponse {
	stability := pipeline.StabilityFromStreams(batch.Telemetry, batch.CAN)
	s.fleet.RecordStability(vehicleID, fleetID, stability)

	runID := s.fleet.Runner(vehicleID, fleetID).Submit(batch)
	return submitResponse{RunID: runID, Stability: len(stability)}
}

type eventsResponse struct {
	RunID     uint64         `json:"runId"`
	Computing bool           `json:"computing"`
	State     pipeline.State `json:"state"`
	Error     string         `json:"error,omitempty"`
	Overspeed []domain.Event `json:"overspeed"`
	Stability []domain.Event `json:"stability"`
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	vehicleID := r.PathValue("vehicleID")
	fleetID := FleetID(r.Context())

	resp := eventsResponse{
		State:     pipeline.StateIdle,
		Overspeed: []domain.Event{},
		Stability: s.fleet.LatestStability(vehicleID, fleetID),
	}
	if runner, ok := s.fleet.Lookup(vehicleID, fleetID); ok {
		res := runner.Result()
		resp.RunID = res.RunID
		resp.Computing = res.Busy
		resp.State = res.State
		resp.Overspeed = res.Events
		if res.Err != nil {
			resp.Error = res.Err.Error()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]interface{}{
		"status":       overall,
		"dependencies": deps,
		"timestamp":    time.Now().UTC(),
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade reach the underlying connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("handler panic", zap.Any("panic", err), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
