package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisefido-ventilation/internal/models"
)

func TestStateKey_RoundTrip(t *testing.T) {
	k := StateKey{CO2: LevelHigh, Temp: LevelMedium, Occupancy: Occupied, TimeOfDay: Day}
	assert.Equal(t, "high_medium_occupied_day", k.String())

	parsed, ok := ParseStateKey(k.String())
	require.True(t, ok)
	assert.Equal(t, k, parsed)
}

func TestParseStateKey_Malformed(t *testing.T) {
	for _, s := range []string{
		"", "high", "high_medium_occupied", "high_medium_occupied_day_extra",
		"huge_medium_occupied_day", "high_medium_someone_day", "high_medium_empty_noon",
	} {
		k, ok := ParseStateKey(s)
		assert.False(t, ok, s)
		assert.Equal(t, UnknownState, k, s)
		assert.False(t, k.Known())
	}
	assert.Equal(t, "unknown", UnknownState.String())
}

func TestTimeOfDay(t *testing.T) {
	cases := map[int]TimeOfDay{
		0: Night, 5: Night, 6: Morning, 9: Morning, 10: Day,
		17: Day, 18: Evening, 21: Evening, 22: Night, 23: Night,
	}
	for hour, want := range cases {
		assert.Equal(t, want, timeOfDayOf(hour), "hour %d", hour)
	}
}

func TestEvaluateState(t *testing.T) {
	r := models.SensorReading{CO2: models.IntPtr(1500), Temperature: models.FloatPtr(22), OccupantCount: 2}
	k, ok := evaluateState(r, defaultThresholds, afternoon)
	require.True(t, ok)
	assert.Equal(t, "high_medium_occupied_day", k.String())

	r.CO2 = models.IntPtr(799)
	r.Temperature = models.FloatPtr(24.5)
	r.OccupantCount = 0
	k, _ = evaluateState(r, defaultThresholds, afternoon.Add(6*time.Hour))
	assert.Equal(t, "low_high_empty_evening", k.String())

	r.CO2 = models.IntPtr(800)
	r.Temperature = models.FloatPtr(19.9)
	k, _ = evaluateState(r, defaultThresholds, afternoon)
	assert.Equal(t, LevelMedium, k.CO2)
	assert.Equal(t, LevelLow, k.Temp)

	r.Temperature = nil
	_, ok = evaluateState(r, defaultThresholds, afternoon)
	assert.False(t, ok)
}

func TestTargetThresholds(t *testing.T) {
	t.Run("no collaborators", func(t *testing.T) {
		h := newHarness(t, DefaultOptions(), Deps{})
		assert.Equal(t, defaultThresholds, h.ctrl.targetThresholds(0, afternoon))
		assert.Equal(t, defaultThresholds, h.ctrl.targetThresholds(2, afternoon))
	})

	t.Run("empty presets", func(t *testing.T) {
		f := &fakeForecaster{}
		h := newHarness(t, DefaultOptions(), Deps{Forecaster: f})

		f.emptyFor = 5 * time.Hour
		assert.Equal(t, ProfileEnergySaver, h.ctrl.targetThresholds(0, afternoon).Profile)

		f.emptyFor = 40 * time.Minute
		f.ret, f.hasRet = afternoon.Add(40*time.Minute), true
		th := h.ctrl.targetThresholds(0, afternoon)
		assert.Equal(t, ProfilePrepare, th.Profile)
		assert.Equal(t, 900.0, th.CO2Medium)

		f.emptyFor = 2 * time.Hour
		f.ret = afternoon.Add(2 * time.Hour)
		assert.Equal(t, ProfileStandard, h.ctrl.targetThresholds(0, afternoon).Profile)
	})

	t.Run("occupied uses compromise", func(t *testing.T) {
		prefs := fakePrefs{cp: models.CompromisePreference{UserCount: 2, TempMin: 21, TempMax: 23, CO2Threshold: 900}}
		h := newHarness(t, DefaultOptions(), Deps{Preferences: prefs})
		th := h.ctrl.targetThresholds(1, afternoon)
		assert.Equal(t, ProfileCompromise, th.Profile)
		assert.InDelta(t, 720.0, th.CO2Low, 1e-9)
		assert.Equal(t, 900.0, th.CO2Medium)
		assert.Equal(t, 21.0, th.TempLow)
		assert.Equal(t, 23.0, th.TempMedium)
	})

	t.Run("no registered users", func(t *testing.T) {
		h := newHarness(t, DefaultOptions(), Deps{Preferences: fakePrefs{}})
		assert.Equal(t, defaultThresholds, h.ctrl.targetThresholds(1, afternoon))
	})
}
