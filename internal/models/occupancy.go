package models

import (
	"strings"
	"time"
)

// OccupancyStatus status column of the occupancy history
type OccupancyStatus string

const (
	StatusEmpty             OccupancyStatus = "EMPTY"
	StatusOccupied          OccupancyStatus = "OCCUPIED"
	StatusUserConfirmedHome OccupancyStatus = "USER_CONFIRMED_HOME"
	StatusUserConfirmedAway OccupancyStatus = "USER_CONFIRMED_AWAY"
)

const userConfirmedPrefix = "USER_CONFIRMED_"

// IsUserFeedback reports whether the status came from an explicit user confirmation
func (s OccupancyStatus) IsUserFeedback() bool {
	return strings.HasPrefix(string(s), userConfirmedPrefix)
}

// MeansEmpty reports whether the status says nobody is home
func (s OccupancyStatus) MeansEmpty() bool {
	return s == StatusEmpty || s == StatusUserConfirmedAway
}

// ParseOccupancyStatus validates a status string
func ParseOccupancyStatus(s string) (OccupancyStatus, bool) {
	switch OccupancyStatus(strings.TrimSpace(s)) {
	case StatusEmpty, StatusOccupied, StatusUserConfirmedHome, StatusUserConfirmedAway:
		return OccupancyStatus(strings.TrimSpace(s)), true
	}
	return "", false
}

// OccupancyRecord one row of the append-only occupancy log
type OccupancyRecord struct {
	Timestamp   time.Time       `json:"timestamp"`
	Status      OccupancyStatus `json:"status"`
	PeopleCount int             `json:"people_count"`
}

// NightModeSettings persisted night-mode window
type NightModeSettings struct {
	Enabled   bool `json:"enabled"`
	StartHour int  `json:"start_hour"`
	EndHour   int  `json:"end_hour"`
}

// Active reports whether the hour of t lies inside the window; the window may wrap midnight
func (n NightModeSettings) Active(t time.Time) bool {
	if !n.Enabled {
		return false
	}
	return HourInWindow(t.Hour(), n.StartHour, n.EndHour)
}

// HourInWindow start inclusive, end exclusive, wrapping midnight when start > end
func HourInWindow(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
