package domain

import (
	"time"

	"github.com/google/uuid"
)

// TelemetryPoint is one GPS/IMU sample. Optional IMU channels are nil when
// the device did not report them.
type TelemetryPoint struct {
	Timestamp time.Time `json:"timestamp"`

	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`

	// Speed is raw: km/h or m/s depending on the upstream device.
	// Use NormalizeSpeedKmh before comparing against thresholds.
	Speed float64 `json:"speed"`

	Roll              *float64 `json:"roll,omitempty"`
	Pitch             *float64 `json:"pitch,omitempty"`
	Yaw               *float64 `json:"yaw,omitempty"`
	LateralAccel      *float64 `json:"ay,omitempty"`
	LongitudinalAccel *float64 `json:"ax,omitempty"`
	TotalAccel        *float64 `json:"accmag,omitempty"`
	StabilityIndex    *float64 `json:"si,omitempty"`
}

// CANPoint is an engine/vehicle-bus reading sampled independently of the
// telemetry stream.
type CANPoint struct {
	Timestamp time.Time `json:"timestamp"`
	EngineRPM float64   `json:"engineRpm"`
	Rotativo  bool      `json:"rotativo"`
}

// StabilitySample pairs a telemetry point with its already correlated CAN
// reading. CAN is nil when no reading was available.
type StabilitySample struct {
	Point TelemetryPoint
	CAN   *CANPoint
}

// mpsCutoff: raw speeds below this are assumed to be m/s.
const mpsCutoff = 45.0

// NormalizeSpeedKmh converts a raw speed of unknown unit to km/h. Devices do
// not tag their unit, so magnitude decides: below 45 it is read as m/s.
// TODO: replace with the unit carried by ingestion once devices report it.
func NormalizeSpeedKmh(raw float64) float64 {
	if raw < mpsCutoff {
		return raw * 3.6
	}
	return raw
}

// Float returns a pointer to v, for building optional telemetry fields.
func Float(v float64) *float64 {
	return &v
}

// NewEventID returns a random identifier for an emitted event.
func NewEventID() string {
	return uuid.NewString()
}
