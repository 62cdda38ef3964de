package controller

import (
	"time"

	"wisefido-ventilation/internal/models"
)

// Thresholds band boundaries in effect for one evaluation
type Thresholds struct {
	CO2Low     float64 `json:"co2_low"`
	CO2Medium  float64 `json:"co2_medium"`
	TempLow    float64 `json:"temp_low"`
	TempMedium float64 `json:"temp_medium"`
	Profile    string  `json:"profile"`
}

// Threshold profiles
const (
	ProfileDefault     = "default"
	ProfileCompromise  = "compromise"
	ProfileEnergySaver = "very_energy_saving"
	ProfilePrepare     = "prepare_for_return"
	ProfileStandard    = "standard_empty"
)

var (
	defaultThresholds = Thresholds{CO2Low: 800, CO2Medium: 1000, TempLow: 20, TempMedium: 24, Profile: ProfileDefault}
	energySaver       = Thresholds{CO2Low: 800, CO2Medium: 1200, TempLow: 16, TempMedium: 28, Profile: ProfileEnergySaver}
	prepareForReturn  = Thresholds{CO2Low: 600, CO2Medium: 900, TempLow: 18, TempMedium: 26, Profile: ProfilePrepare}
	standardEmpty     = Thresholds{CO2Low: 700, CO2Medium: 1100, TempLow: 17, TempMedium: 27, Profile: ProfileStandard}
)

// PreferenceSource multi-user comfort compromise
type PreferenceSource interface {
	CompromiseAll() models.CompromisePreference
}

// Forecaster occupancy predictions used while the home is empty
type Forecaster interface {
	ExpectedEmptyDuration(now time.Time) time.Duration
	NextExpectedReturnTime(now time.Time) (time.Time, bool)
}

// targetThresholds boundaries for the current occupancy. Missing collaborators fall back to defaults.
func (c *Controller) targetThresholds(occupants int, now time.Time) Thresholds {
	if occupants == 0 {
		if c.forecaster == nil {
			return defaultThresholds
		}
		if c.forecaster.ExpectedEmptyDuration(now) > c.opts.LongEmptyDuration {
			return energySaver
		}
		if ret, ok := c.forecaster.NextExpectedReturnTime(now); ok && ret.Sub(now) <= c.opts.ReturnSoonWindow {
			return prepareForReturn
		}
		return standardEmpty
	}

	if c.prefs == nil {
		return defaultThresholds
	}
	cp := c.prefs.CompromiseAll()
	if cp.UserCount == 0 {
		return defaultThresholds
	}
	return Thresholds{
		CO2Low:     0.8 * cp.CO2Threshold,
		CO2Medium:  cp.CO2Threshold,
		TempLow:    cp.TempMin,
		TempMedium: cp.TempMax,
		Profile:    ProfileCompromise,
	}
}

// evaluateState classifies the reading; false when CO2 or temperature is missing
func evaluateState(r models.SensorReading, th Thresholds, now time.Time) (StateKey, bool) {
	if !r.HasClimate() {
		return UnknownState, false
	}
	occ := Empty
	if r.OccupantCount > 0 {
		occ = Occupied
	}
	return StateKey{
		CO2:       co2Level(float64(*r.CO2), th.CO2Low, th.CO2Medium),
		Temp:      tempLevel(*r.Temperature, th.TempLow, th.TempMedium),
		Occupancy: occ,
		TimeOfDay: timeOfDayOf(now.Hour()),
	}, true
}
