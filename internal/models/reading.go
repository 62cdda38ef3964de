package models

import "time"

// FanSpeed ventilation fan speed; doubles as the controller action set
type FanSpeed string

const (
	SpeedOff    FanSpeed = "off"
	SpeedLow    FanSpeed = "low"
	SpeedMedium FanSpeed = "medium"
	SpeedMax    FanSpeed = "max"
)

// AllSpeeds in ascending order
var AllSpeeds = []FanSpeed{SpeedOff, SpeedLow, SpeedMedium, SpeedMax}

// ParseFanSpeed parses a speed name; ok=false for anything unknown
func ParseFanSpeed(s string) (FanSpeed, bool) {
	switch FanSpeed(s) {
	case SpeedOff, SpeedLow, SpeedMedium, SpeedMax:
		return FanSpeed(s), true
	}
	return SpeedOff, false
}

// IsOn reports whether the speed implies the fan is running
func (s FanSpeed) IsOn() bool {
	return s != SpeedOff && s != ""
}

// SensorReading latest sensor snapshot. CO2/Temperature/Humidity are nil when the sensor has no value.
type SensorReading struct {
	CO2              *int      `json:"co2"`
	Temperature      *float64  `json:"temperature"`
	Humidity         *float64  `json:"humidity"`
	OccupantCount    int       `json:"occupant_count"`
	VentilationOn    bool      `json:"ventilation_on"`
	VentilationSpeed FanSpeed  `json:"ventilation_speed"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasClimate reports whether both CO2 and temperature are present
func (r SensorReading) HasClimate() bool {
	return r.CO2 != nil && r.Temperature != nil
}

// IntPtr helper for building readings
func IntPtr(v int) *int { return &v }

// FloatPtr helper for building readings
func FloatPtr(v float64) *float64 { return &v }
