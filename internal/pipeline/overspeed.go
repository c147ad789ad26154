package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"fleet-monitor/events/internal/correlate"
	"fleet-monitor/events/internal/domain"
	"fleet-monitor/events/internal/ratelimit"
)

// ErrRunFailed marks a run that aborted on an unexpected fault. Such a run
// publishes no events.
var ErrRunFailed = errors.New("pipeline run failed")

const (
	// Only points at or above this speed are checked against the road limit.
	MinCheckSpeedKmh = 20.0
	// Of the points that pass the speed filter, every SampleEvery-th is checked.
	SampleEvery = 5
)

// Batch is one overspeed request: a vehicle's telemetry, its CAN readings
// (may be empty) and the tolerance in km/h above the limit.
type Batch struct {
	Telemetry []domain.TelemetryPoint `json:"telemetry"`
	CAN       []domain.CANPoint       `json:"can"`
	Tolerance float64                 `json:"tolerance"`
}

// SpeedLimits resolves road speed limits; implemented by speedlimit.Resolver.
type SpeedLimits interface {
	Resolve(ctx context.Context, pace ratelimit.Waiter, lat, lon float64) int
}

// Overspeed checks a telemetry batch against road speed limits.
type Overspeed struct {
	limits SpeedLimits
	pacers *ratelimit.Factory
	logger *zap.Logger
}

func NewOverspeed(limits SpeedLimits, pacers *ratelimit.Factory, logger *zap.Logger) *Overspeed {
	return &Overspeed{
		limits: limits,
		pacers: pacers,
		logger: logger.Named("overspeed"),
	}
}

type candidate struct {
	point    domain.TelemetryPoint
	speedKmh float64
}

// candidates applies the speed filter and index thinning. Thinning is by
// position among survivors, not by time.
func candidates(points []domain.TelemetryPoint) []candidate {
	out := make([]candidate, 0, len(points)/SampleEvery+1)
	kept := 0
	for _, p := range points {
		speed := domain.NormalizeSpeedKmh(p.Speed)
		if speed < MinCheckSpeedKmh {
			continue
		}
		if kept%SampleEvery == 0 {
			out = append(out, candidate{point: p, speedKmh: speed})
		}
		kept++
	}
	return out
}

// Run returns the overspeed events of b in input order. It stops at the next
// point once ctx is cancelled and returns ctx.Err() with no events. A panic
// inside the run is reported as ErrRunFailed, also with no events.
func (o *Overspeed) Run(ctx context.Context, b Batch) (events []domain.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("overspeed run aborted", zap.Any("panic", r), zap.Stack("stack"))
			events, err = nil, fmt.Errorf("%w: %v", ErrRunFailed, r)
		}
	}()

	events = []domain.Event{}
	if len(b.Telemetry) == 0 {
		return events, nil
	}

	checks := candidates(b.Telemetry)
	index := correlate.NewIndex(b.CAN)
	var pace ratelimit.Waiter = ratelimit.Unlimited{}
	if o.pacers != nil {
		pace = o.pacers.ForRun()
	}

	o.logger.Debug("overspeed run started",
		zap.Int("points", len(b.Telemetry)),
		zap.Int("checks", len(checks)),
		zap.Int("can", index.Len()),
	)

	for _, c := range checks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		limit := o.limits.Resolve(ctx, pace, c.point.Latitude, c.point.Longitude)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if c.speedKmh <= float64(limit)+b.Tolerance {
			continue
		}

		can, _ := index.Nearest(c.point.Timestamp)
		events = append(events, domain.NewEvent(domain.EventOverspeed, c.point, map[string]float64{
			"vehicleSpeed": c.speedKmh,
			"limit":        float64(limit),
		}, can))
	}
	return events, nil
}
