package detect

import (
	"math"

	"fleet-monitor/events/internal/domain"
)

const (
	MinEngineRPM          = 500.0
	MinSpeedKmh           = 5.5
	StableIndexThreshold  = 0.5
	RollThresholdDeg      = 25.0
	YawRateThresholdDegS  = 15.0
	LateralAccelThreshold = 0.3 // g
	ShockAccelThreshold   = 2.0 // g
	UnstableIndexCutoff   = 0.3
)

// Rule checks one instability condition. Match returns the measured values
// the event should carry.
type Rule struct {
	Type  domain.EventType
	Match func(p *domain.TelemetryPoint) (map[string]float64, bool)
}

// Rules is evaluated in order and the first match wins. Thresholds overlap
// (a rolling vehicle usually also yaws), so the order is the priority.
var Rules = []Rule{
	{
		Type: domain.EventRollover,
		Match: func(p *domain.TelemetryPoint) (map[string]float64, bool) {
			if p.Roll == nil || math.Abs(*p.Roll) <= RollThresholdDeg {
				return nil, false
			}
			return map[string]float64{"roll": *p.Roll}, true
		},
	},
	{
		Type: domain.EventDrift,
		Match: func(p *domain.TelemetryPoint) (map[string]float64, bool) {
			if p.Yaw == nil || math.Abs(*p.Yaw) <= YawRateThresholdDegS {
				return nil, false
			}
			return map[string]float64{"yaw": *p.Yaw}, true
		},
	},
	{
		Type: domain.EventAbruptManeuver,
		Match: func(p *domain.TelemetryPoint) (map[string]float64, bool) {
			if p.LateralAccel == nil || math.Abs(*p.LateralAccel) <= LateralAccelThreshold {
				return nil, false
			}
			return map[string]float64{"lateralAccel": *p.LateralAccel}, true
		},
	},
	{
		Type: domain.EventPothole,
		Match: func(p *domain.TelemetryPoint) (map[string]float64, bool) {
			long := p.LongitudinalAccel != nil && math.Abs(*p.LongitudinalAccel) > ShockAccelThreshold
			total := p.TotalAccel != nil && math.Abs(*p.TotalAccel) > ShockAccelThreshold
			if !long && !total {
				return nil, false
			}
			values := make(map[string]float64, 2)
			if p.LongitudinalAccel != nil {
				values["longitudinalAccel"] = *p.LongitudinalAccel
			}
			if p.TotalAccel != nil {
				values["totalAccel"] = *p.TotalAccel
			}
			return values, true
		},
	},
	{
		Type: domain.EventInstability,
		Match: func(p *domain.TelemetryPoint) (map[string]float64, bool) {
			if p.StabilityIndex == nil || *p.StabilityIndex >= UnstableIndexCutoff {
				return nil, false
			}
			return map[string]float64{"stabilityIndex": *p.StabilityIndex}, true
		},
	},
}
