package preference

import (
	"math"

	"wisefido-ventilation/internal/models"
)

// dissatisfaction weights per dimension and the scale of one "unit" of discomfort
const (
	weightTemp     = 0.7
	weightCO2      = 1.0
	weightHumidity = 0.5
	scaleCO2       = 50.0
	scaleHumidity  = 5.0
)

// Compromise blends the given users' preferences. Unknown ids are skipped;
// with no known users the global defaults are returned.
func (a *Aggregator) Compromise(userIDs []string) models.CompromisePreference {
	a.mu.Lock()
	users := make([]models.UserPreference, 0, len(userIDs))
	for _, id := range userIDs {
		if p, ok := a.prefs[id]; ok {
			users = append(users, *p)
		}
	}
	a.mu.Unlock()

	return Compromise(users)
}

// CompromiseAll blends every registered user
func (a *Aggregator) CompromiseAll() models.CompromisePreference {
	return a.Compromise(a.UserIDs())
}

// Compromise computes the shared target for a set of preferences
func Compromise(users []models.UserPreference) models.CompromisePreference {
	if len(users) == 0 {
		return models.CompromisePreference{
			TempMin:       models.DefaultTempMin,
			TempMax:       models.DefaultTempMax,
			CO2Threshold:  models.DefaultCO2Threshold,
			HumidityMin:   models.DefaultHumidityMin,
			HumidityMax:   models.DefaultHumidityMax,
			Effectiveness: 1.0,
		}
	}

	tMin, tMax := blendRange(users,
		func(u models.UserPreference) (float64, float64, float64) {
			return u.TempMin, u.TempMax, u.SensitivityTemp
		})
	hMin, hMax := blendRange(users,
		func(u models.UserPreference) (float64, float64, float64) {
			return u.HumidityMin, u.HumidityMax, u.SensitivityHumidity
		})

	var co2Sum, co2Weight float64
	for _, u := range users {
		co2Sum += u.CO2Threshold * u.SensitivityCO2
		co2Weight += u.SensitivityCO2
	}
	co2 := weightedMean(co2Sum, co2Weight, users, func(u models.UserPreference) float64 { return u.CO2Threshold })

	c := models.CompromisePreference{
		UserCount:    len(users),
		TempMin:      tMin,
		TempMax:      tMax,
		CO2Threshold: co2,
		HumidityMin:  hMin,
		HumidityMax:  hMax,
	}
	c.Effectiveness = effectiveness(c, users)
	return c
}

// blendRange intersects all ranges, falling back to a sensitivity-weighted
// average of each bound when they do not overlap
func blendRange(users []models.UserPreference, get func(models.UserPreference) (lo, hi, weight float64)) (float64, float64) {
	maxLo, minHi := math.Inf(-1), math.Inf(1)
	var loSum, hiSum, wSum float64
	for _, u := range users {
		lo, hi, w := get(u)
		maxLo = math.Max(maxLo, lo)
		minHi = math.Min(minHi, hi)
		loSum += lo * w
		hiSum += hi * w
		wSum += w
	}
	if maxLo <= minHi {
		return maxLo, minHi
	}

	lo := weightedMean(loSum, wSum, users, func(u models.UserPreference) float64 { l, _, _ := get(u); return l })
	hi := weightedMean(hiSum, wSum, users, func(u models.UserPreference) float64 { _, h, _ := get(u); return h })
	if lo >= hi {
		center := (lo + hi) / 2
		return center - 1, center + 1
	}
	return lo, hi
}

func weightedMean(sum, weight float64, users []models.UserPreference, value func(models.UserPreference) float64) float64 {
	if weight > 0 {
		return sum / weight
	}
	var plain float64
	for _, u := range users {
		plain += value(u)
	}
	return plain / float64(len(users))
}

// effectiveness 1 - total dissatisfaction / total worst-case dissatisfaction
func effectiveness(c models.CompromisePreference, users []models.UserPreference) float64 {
	tempCenter := (c.TempMin + c.TempMax) / 2
	humCenter := (c.HumidityMin + c.HumidityMax) / 2

	var total, worst float64
	for _, u := range users {
		total += weightTemp * u.SensitivityTemp * math.Abs(tempCenter-u.TempCenter())
		total += weightCO2 * u.SensitivityCO2 * math.Abs(c.CO2Threshold-u.CO2Threshold) / scaleCO2
		total += weightHumidity * u.SensitivityHumidity * math.Abs(humCenter-u.HumidityCenter()) / scaleHumidity

		worst += weightTemp * u.SensitivityTemp * (TempCeiling - TempFloor)
		worst += weightCO2 * u.SensitivityCO2 * (CO2Ceiling - CO2Floor) / scaleCO2
		worst += weightHumidity * u.SensitivityHumidity * (HumidityCeiling - HumidityFloor) / scaleHumidity
	}
	if worst <= 0 {
		return 1.0
	}
	return clamp(1-total/worst, 0, 1)
}
