package domain

import "time"

type EventType string

const (
	EventRollover       EventType = "rollover"
	EventDrift          EventType = "drift"
	EventPothole        EventType = "pothole"
	EventAbruptManeuver EventType = "abrupt_maneuver"
	EventInstability    EventType = "instability"
	EventOverspeed      EventType = "overspeed"
)

// Event is one detected safety/stability incident or speed violation.
type Event struct {
	ID        string             `json:"id"`
	Type      EventType          `json:"type"`
	Latitude  float64            `json:"lat"`
	Longitude float64            `json:"lon"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"valores"`
	CAN       *CANPoint          `json:"can,omitempty"`
}

// NewEvent builds an event located at p. can may be nil.
func NewEvent(t EventType, p TelemetryPoint, values map[string]float64, can *CANPoint) Event {
	var snapshot *CANPoint
	if can != nil {
		c := *can
		snapshot = &c
	}
	return Event{
		ID:        NewEventID(),
		Type:      t,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Timestamp: p.Timestamp,
		Values:    values,
		CAN:       snapshot,
	}
}

// VehicleEvent is an event tagged with the vehicle and fleet it was announced
// for.
type VehicleEvent struct {
	VehicleID string
	FleetID   string
	Event
}
