package models

import "time"

// Comfort defaults for a freshly created user
const (
	DefaultTempMin      = 20.0
	DefaultTempMax      = 24.0
	DefaultCO2Threshold = 1000.0
	DefaultHumidityMin  = 30.0
	DefaultHumidityMax  = 60.0
	DefaultSensitivity  = 1.0
)

// UserPreference per-user comfort settings
type UserPreference struct {
	UserID              string    `json:"user_id"`
	DisplayName         string    `json:"display_name"`
	TempMin             float64   `json:"temp_min"`
	TempMax             float64   `json:"temp_max"`
	CO2Threshold        float64   `json:"co2_threshold"`
	HumidityMin         float64   `json:"humidity_min"`
	HumidityMax         float64   `json:"humidity_max"`
	SensitivityTemp     float64   `json:"sensitivity_temp"`
	SensitivityCO2      float64   `json:"sensitivity_co2"`
	SensitivityHumidity float64   `json:"sensitivity_humidity"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// NewUserPreference builds a preference with default comfort values
func NewUserPreference(userID, displayName string, now time.Time) *UserPreference {
	return &UserPreference{
		UserID:              userID,
		DisplayName:         displayName,
		TempMin:             DefaultTempMin,
		TempMax:             DefaultTempMax,
		CO2Threshold:        DefaultCO2Threshold,
		HumidityMin:         DefaultHumidityMin,
		HumidityMax:         DefaultHumidityMax,
		SensitivityTemp:     DefaultSensitivity,
		SensitivityCO2:      DefaultSensitivity,
		SensitivityHumidity: DefaultSensitivity,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// TempCenter midpoint of the temperature range
func (p *UserPreference) TempCenter() float64 {
	return (p.TempMin + p.TempMax) / 2
}

// HumidityCenter midpoint of the humidity range
func (p *UserPreference) HumidityCenter() float64 {
	return (p.HumidityMin + p.HumidityMax) / 2
}

// FeedbackKind comfort feedback category
type FeedbackKind string

const (
	FeedbackComfortable FeedbackKind = "comfortable"
	FeedbackTooHot      FeedbackKind = "too_hot"
	FeedbackTooCold     FeedbackKind = "too_cold"
	FeedbackStuffy      FeedbackKind = "stuffy"
	FeedbackTooDry      FeedbackKind = "too_dry"
	FeedbackTooHumid    FeedbackKind = "too_humid"
)

// ParseFeedbackKind validates a feedback kind string
func ParseFeedbackKind(s string) (FeedbackKind, bool) {
	switch FeedbackKind(s) {
	case FeedbackComfortable, FeedbackTooHot, FeedbackTooCold, FeedbackStuffy, FeedbackTooDry, FeedbackTooHumid:
		return FeedbackKind(s), true
	}
	return "", false
}

// FeedbackRecord immutable comfort feedback entry
type FeedbackRecord struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id"`
	Timestamp  time.Time     `json:"timestamp"`
	Kind       FeedbackKind  `json:"kind"`
	Conditions SensorReading `json:"conditions"`
}

// CompromisePreference blended target across several users
type CompromisePreference struct {
	UserCount     int     `json:"user_count"`
	TempMin       float64 `json:"temp_min"`
	TempMax       float64 `json:"temp_max"`
	CO2Threshold  float64 `json:"co2_threshold"`
	HumidityMin   float64 `json:"humidity_min"`
	HumidityMax   float64 `json:"humidity_max"`
	Effectiveness float64 `json:"effectiveness"`
}
