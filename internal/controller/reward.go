package controller

import (
	"math"

	"wisefido-ventilation/internal/models"
)

const maxReward = 5.0

var energyCost = map[models.FanSpeed]float64{
	models.SpeedOff:    0,
	models.SpeedLow:    -0.15,
	models.SpeedMedium: -0.35,
	models.SpeedMax:    -0.6,
}

// co2Transition reward for moving between CO2 bands while occupied
var co2Transition = map[[2]Level]float64{
	{LevelHigh, LevelMedium}: 1.5,
	{LevelHigh, LevelLow}:    1.5,
	{LevelMedium, LevelLow}:  0.8,
	{LevelLow, LevelMedium}:  -0.7,
	{LevelLow, LevelHigh}:    -0.8,
	{LevelMedium, LevelHigh}: -0.5,
}

// Reward scores action taken in prev that led to next, given the live reading
// and the thresholds used at decision time. Result is within ±5.
func Reward(prev StateKey, action models.FanSpeed, next StateKey, snapshot models.SensorReading, th Thresholds) float64 {
	prevCO2, nextCO2 := prev.CO2, next.CO2
	// occupancy is judged on the state the action led to
	nextOccupied := next.Occupancy == Occupied

	r := energyCost[action]
	if !nextOccupied && action != models.SpeedOff {
		r -= 1.8
	}
	if action == models.SpeedMax && prevCO2 != LevelHigh {
		r -= 0.4
	}

	if nextOccupied {
		r += co2Transition[[2]Level{prevCO2, nextCO2}]

		if snapshot.CO2 != nil {
			co2 := float64(*snapshot.CO2)
			switch {
			case co2 > th.CO2Medium+200:
				r -= 0.7
			case co2 > th.CO2Medium:
				r -= 0.4
			case co2 > th.CO2Low+100:
				r -= 0.15
			}
			if co2 < th.CO2Low {
				r += 0.3
				if co2 < 0.8*th.CO2Low {
					r += 0.2
				}
			}
		}

		if snapshot.Temperature != nil {
			t := *snapshot.Temperature
			switch {
			case t < th.TempLow:
				r -= 0.2 * (th.TempLow - t)
			case t > th.TempMedium:
				r -= 0.2 * (t - th.TempMedium)
			default:
				r += 0.5
			}
		}
	} else {
		if nextCO2 == LevelHigh {
			r -= 0.5
		}
		if prevCO2 == LevelHigh && nextCO2 == LevelMedium {
			r += 0.1
		}
		if action == models.SpeedOff {
			r += 0.5
		}
	}

	return math.Max(-maxReward, math.Min(maxReward, r))
}
