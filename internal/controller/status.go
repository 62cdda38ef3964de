package controller

import (
	"time"

	"wisefido-ventilation/internal/models"
)

// Status read-only snapshot for status surfaces
type Status struct {
	AutoMode        bool                     `json:"auto_mode"`
	State           string                   `json:"state"`
	LastAction      models.FanSpeed          `json:"last_action"`
	LastChange      time.Time                `json:"last_change"`
	ExplorationRate float64                  `json:"exploration_rate"`
	LearningRate    float64                  `json:"learning_rate"`
	StatesLearned   int                      `json:"states_learned"`
	Night           models.NightModeSettings `json:"night_mode"`
	NightActive     bool                     `json:"night_active"`
	Emergency       bool                     `json:"emergency"`
	Thresholds      Thresholds               `json:"thresholds"`
	LastReward      *float64                 `json:"last_reward,omitempty"`
	LastDecision    Decision                 `json:"last_decision"`
	Reading         models.SensorReading     `json:"reading"`
}

// Status snapshot of the controller at the current time
func (c *Controller) Status() Status {
	reading := c.readings.Latest()

	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		AutoMode:        c.autoMode,
		State:           c.currentState.String(),
		LastAction:      c.lastAction,
		LastChange:      c.lastChange,
		ExplorationRate: c.explorationRate,
		LearningRate:    c.learningRate,
		StatesLearned:   c.table.Len(),
		Night:           c.night,
		NightActive:     c.night.Active(c.now()),
		Emergency:       c.emergency,
		Thresholds:      c.lastThresholds,
		LastDecision:    c.lastDecision,
		Reading:         reading,
	}
	if c.lastReward != nil {
		r := *c.lastReward
		st.LastReward = &r
	}
	return st
}
