package controller

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisefido-ventilation/internal/models"
)

func TestQTable_UnmarshalDropsUnknownEntries(t *testing.T) {
	raw := `{
		"high_medium_occupied_day": {"medium": 1.5, "turbo": 9},
		"bogus_key": {"off": 3},
		"low_low_empty_night": {"off": 0.25}
	}`
	q := NewQTable()
	require.NoError(t, json.Unmarshal([]byte(raw), q))

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 1.5, q.Get(highOccupiedDay, models.SpeedMedium))
	assert.Len(t, q.Recorded(highOccupiedDay), 1)
	assert.Equal(t, 0.25, q.MaxValue(StateKey{CO2: LevelLow, Temp: LevelLow, Occupancy: Empty, TimeOfDay: Night}))
}

func TestQTable_MaxValue(t *testing.T) {
	q := NewQTable()
	assert.Zero(t, q.MaxValue(highOccupiedDay))

	q.Set(highOccupiedDay, models.SpeedOff, -2)
	q.Set(highOccupiedDay, models.SpeedLow, -0.5)
	assert.Equal(t, -0.5, q.MaxValue(highOccupiedDay), "negative rows keep their true maximum")

	data, err := json.Marshal(q)
	require.NoError(t, err)
	assert.JSONEq(t, `{"high_medium_occupied_day":{"off":-2,"low":-0.5}}`, string(data))
}
