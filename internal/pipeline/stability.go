package pipeline

import (
	"fleet-monitor/events/internal/correlate"
	"fleet-monitor/events/internal/detect"
	"fleet-monitor/events/internal/domain"
)

// Stability classifies each sample and returns the events in input order.
// It never blocks and never fails.
func Stability(samples []domain.StabilitySample) []domain.Event {
	events := []domain.Event{}
	for _, s := range samples {
		if ev, ok := detect.Classify(s.Point, s.CAN); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Pair attaches to every telemetry point its nearest CAN reading. Points get
// a nil CAN when there are no readings at all.
func Pair(telemetry []domain.TelemetryPoint, can []domain.CANPoint) []domain.StabilitySample {
	index := correlate.NewIndex(can)
	samples := make([]domain.StabilitySample, len(telemetry))
	for i, p := range telemetry {
		samples[i].Point = p
		if c, ok := index.Nearest(p.Timestamp); ok {
			samples[i].CAN = c
		}
	}
	return samples
}

// StabilityFromStreams is Stability over Pair(telemetry, can).
func StabilityFromStreams(telemetry []domain.TelemetryPoint, can []domain.CANPoint) []domain.Event {
	events := Stability(Pair(telemetry, can))
	countEvents(events)
	return events
}
