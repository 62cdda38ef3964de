package controller

import (
	"strings"
)

// Level band of a continuous reading
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Occupancy home occupancy band
type Occupancy string

const (
	Empty    Occupancy = "empty"
	Occupied Occupancy = "occupied"
)

// TimeOfDay coarse time band
type TimeOfDay string

const (
	Morning TimeOfDay = "morning" // 06-10
	Day     TimeOfDay = "day"     // 10-18
	Evening TimeOfDay = "evening" // 18-22
	Night   TimeOfDay = "night"   // 22-06
)

// StateKey discretized controller state indexing the value table
type StateKey struct {
	CO2       Level
	Temp      Level
	Occupancy Occupancy
	TimeOfDay TimeOfDay
}

// UnknownState sentinel returned when a key cannot be parsed
var UnknownState = StateKey{}

// String e.g. "high_medium_occupied_day"
func (k StateKey) String() string {
	if k == UnknownState {
		return "unknown"
	}
	return string(k.CO2) + "_" + string(k.Temp) + "_" + string(k.Occupancy) + "_" + string(k.TimeOfDay)
}

// Known reports whether k is a well-formed key
func (k StateKey) Known() bool { return k != UnknownState }

// ParseStateKey inverse of String; malformed input yields UnknownState
func ParseStateKey(s string) (StateKey, bool) {
	parts := strings.Split(s, "_")
	if len(parts) != 4 {
		return UnknownState, false
	}
	k := StateKey{
		CO2:       Level(parts[0]),
		Temp:      Level(parts[1]),
		Occupancy: Occupancy(parts[2]),
		TimeOfDay: TimeOfDay(parts[3]),
	}
	if !validLevel(k.CO2) || !validLevel(k.Temp) {
		return UnknownState, false
	}
	switch k.Occupancy {
	case Empty, Occupied:
	default:
		return UnknownState, false
	}
	switch k.TimeOfDay {
	case Morning, Day, Evening, Night:
	default:
		return UnknownState, false
	}
	return k, true
}

func validLevel(l Level) bool {
	return l == LevelLow || l == LevelMedium || l == LevelHigh
}

func timeOfDayOf(hour int) TimeOfDay {
	switch {
	case hour >= 6 && hour < 10:
		return Morning
	case hour >= 10 && hour < 18:
		return Day
	case hour >= 18 && hour < 22:
		return Evening
	default:
		return Night
	}
}

// co2Level low below lowBound, medium below mediumBound, high otherwise
func co2Level(co2, lowBound, mediumBound float64) Level {
	switch {
	case co2 < lowBound:
		return LevelLow
	case co2 < mediumBound:
		return LevelMedium
	default:
		return LevelHigh
	}
}

// tempLevel low under the comfort band, medium inside it, high above it
func tempLevel(temp, lowBound, mediumBound float64) Level {
	switch {
	case temp < lowBound:
		return LevelLow
	case temp <= mediumBound:
		return LevelMedium
	default:
		return LevelHigh
	}
}
