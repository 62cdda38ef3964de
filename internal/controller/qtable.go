package controller

import (
	"encoding/json"

	"wisefido-ventilation/internal/models"
)

// QTable state -> action -> value. Absent entries read as 0.
type QTable struct {
	values map[StateKey]map[models.FanSpeed]float64
}

func NewQTable() *QTable {
	return &QTable{values: make(map[StateKey]map[models.FanSpeed]float64)}
}

func (q *QTable) Get(s StateKey, a models.FanSpeed) float64 {
	return q.values[s][a]
}

func (q *QTable) Set(s StateKey, a models.FanSpeed, v float64) {
	row, ok := q.values[s]
	if !ok {
		row = make(map[models.FanSpeed]float64, len(models.AllSpeeds))
		q.values[s] = row
	}
	row[a] = v
}

// Recorded actions stored for s
func (q *QTable) Recorded(s StateKey) map[models.FanSpeed]float64 {
	return q.values[s]
}

// MaxValue best stored value for s; 0 when s has no entries
func (q *QTable) MaxValue(s StateKey) float64 {
	row := q.values[s]
	if len(row) == 0 {
		return 0
	}
	first := true
	var best float64
	for _, v := range row {
		if first || v > best {
			best, first = v, false
		}
	}
	return best
}

// Len number of states
func (q *QTable) Len() int { return len(q.values) }

// MarshalJSON {"high_medium_occupied_day": {"medium": 1.2}}
func (q *QTable) MarshalJSON() ([]byte, error) {
	out := make(map[string]map[string]float64, len(q.values))
	for s, row := range q.values {
		m := make(map[string]float64, len(row))
		for a, v := range row {
			m[string(a)] = v
		}
		out[s.String()] = m
	}
	return json.Marshal(out)
}

// UnmarshalJSON drops entries with unknown state keys or actions
func (q *QTable) UnmarshalJSON(data []byte) error {
	var raw map[string]map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	q.values = make(map[StateKey]map[models.FanSpeed]float64, len(raw))
	for key, row := range raw {
		s, ok := ParseStateKey(key)
		if !ok {
			continue
		}
		for name, v := range row {
			if a, ok := models.ParseFanSpeed(name); ok {
				q.Set(s, a, v)
			}
		}
	}
	return nil
}
