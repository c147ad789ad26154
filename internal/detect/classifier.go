// Package detect classifies telemetry samples into stability events.
package detect

import "fleet-monitor/events/internal/domain"

// Coherent reports whether a sample is worth classifying: engine running,
// vehicle moving and rotating beacon on. A missing CAN reading fails the gate.
// Stability batches arrive with speed already in km/h.
func Coherent(p *domain.TelemetryPoint, can *domain.CANPoint) bool {
	if can == nil {
		return false
	}
	return can.EngineRPM > MinEngineRPM &&
		p.Speed > MinSpeedKmh &&
		can.Rotativo
}

// Classify returns the first rule in Rules that p triggers. Incoherent
// samples and samples whose stability index is above 0.5 produce nothing.
func Classify(p domain.TelemetryPoint, can *domain.CANPoint) (domain.Event, bool) {
	if !Coherent(&p, can) {
		return domain.Event{}, false
	}
	if p.StabilityIndex != nil && *p.StabilityIndex > StableIndexThreshold {
		return domain.Event{}, false
	}

	for _, rule := range Rules {
		values, ok := rule.Match(&p)
		if !ok {
			continue
		}
		return domain.NewEvent(rule.Type, p, values, can), true
	}
	return domain.Event{}, false
}
