package preference

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisefido-ventilation/internal/models"
)

func user(id string, tMin, tMax, co2, hMin, hMax float64) models.UserPreference {
	p := models.NewUserPreference(id, "", time.Time{})
	p.TempMin, p.TempMax = tMin, tMax
	p.CO2Threshold = co2
	p.HumidityMin, p.HumidityMax = hMin, hMax
	return *p
}

func TestCompromise_NoUsers(t *testing.T) {
	c := Compromise(nil)
	assert.Equal(t, 0, c.UserCount)
	assert.Equal(t, 20.0, c.TempMin)
	assert.Equal(t, 24.0, c.TempMax)
	assert.Equal(t, 1000.0, c.CO2Threshold)
	assert.Equal(t, 30.0, c.HumidityMin)
	assert.Equal(t, 60.0, c.HumidityMax)
	assert.Equal(t, 1.0, c.Effectiveness)
}

func TestCompromise_SingleUserIsIdentity(t *testing.T) {
	u := user("a", 19.5, 23, 850, 35, 55)
	u.SensitivityTemp = 1.3
	c := Compromise([]models.UserPreference{u})

	assert.Equal(t, 1, c.UserCount)
	assert.Equal(t, 19.5, c.TempMin)
	assert.Equal(t, 23.0, c.TempMax)
	assert.Equal(t, 850.0, c.CO2Threshold)
	assert.Equal(t, 35.0, c.HumidityMin)
	assert.Equal(t, 55.0, c.HumidityMax)
	assert.Equal(t, 1.0, c.Effectiveness)
}

func TestCompromise_Intersection(t *testing.T) {
	c := Compromise([]models.UserPreference{
		user("a", 20, 24, 1000, 30, 60),
		user("b", 21, 25, 800, 40, 70),
	})
	assert.Equal(t, 21.0, c.TempMin)
	assert.Equal(t, 24.0, c.TempMax)
	assert.Equal(t, 40.0, c.HumidityMin)
	assert.Equal(t, 60.0, c.HumidityMax)
	assert.Equal(t, 900.0, c.CO2Threshold)
	assert.Less(t, c.Effectiveness, 1.0)
	assert.Greater(t, c.Effectiveness, 0.0)
}

func TestCompromise_DisjointFallsBackToWeightedAverage(t *testing.T) {
	cold := user("a", 17, 19, 1000, 30, 60)
	warm := user("b", 24, 26, 1000, 30, 60)
	warm.SensitivityTemp = 1.5
	cold.SensitivityTemp = 0.5

	c := Compromise([]models.UserPreference{cold, warm})
	assert.InDelta(t, (17*0.5+24*1.5)/2, c.TempMin, 1e-9)
	assert.InDelta(t, (19*0.5+26*1.5)/2, c.TempMax, 1e-9)
}

func TestCompromise_WeightedCO2(t *testing.T) {
	a := user("a", 20, 24, 600, 30, 60)
	b := user("b", 20, 24, 1200, 30, 60)
	a.SensitivityCO2 = 1.5
	b.SensitivityCO2 = 0.5

	c := Compromise([]models.UserPreference{a, b})
	assert.InDelta(t, 750.0, c.CO2Threshold, 1e-9)
}

func TestCompromise_EffectivenessDropsWithDisagreement(t *testing.T) {
	near := Compromise([]models.UserPreference{
		user("a", 20, 24, 1000, 30, 60),
		user("b", 20.5, 24.5, 950, 30, 60),
	})
	far := Compromise([]models.UserPreference{
		user("a", 16, 18, 500, 15, 25),
		user("b", 27, 29, 1400, 65, 78),
	})
	assert.Greater(t, near.Effectiveness, far.Effectiveness)
	assert.GreaterOrEqual(t, far.Effectiveness, 0.0)
	assert.LessOrEqual(t, near.Effectiveness, 1.0)
}

func TestAggregator_CompromiseSkipsUnknownUsers(t *testing.T) {
	a := newTestAggregator(t, nil)
	ctx := context.Background()
	a.GetOrCreate(ctx, "u1", "")
	require.True(t, a.Update(ctx, "u1", map[string]float64{FieldCO2Threshold: 800}))

	c := a.Compromise([]string{"u1", "ghost"})
	assert.Equal(t, 1, c.UserCount)
	assert.Equal(t, 800.0, c.CO2Threshold)

	all := a.CompromiseAll()
	assert.Equal(t, c, all)
}
