package occupancy

import (
	"sort"
	"time"
)

// DaySummary hours of one weekday that are usually empty
type DaySummary struct {
	Day        string `json:"day"`
	EmptyHours []int  `json:"empty_hours"`
	Samples    int    `json:"samples"`
}

// PatternSummary read-only snapshot for status surfaces
type PatternSummary struct {
	LastReload       time.Time    `json:"last_reload"`
	Slots            int          `json:"slots"`
	Days             []DaySummary `json:"days"`
	CurrentPeriod    Period       `json:"current_period"`
	NextEvent        *Event       `json:"next_event,omitempty"`
	EmptyProbability float64      `json:"empty_probability"`
}

// Summary snapshot of the learned patterns at now
func (p *Predictor) Summary(now time.Time) PatternSummary {
	period := p.PredictedCurrentPeriod(now)

	p.mu.RLock()
	defer p.mu.RUnlock()

	sum := PatternSummary{
		LastReload:       p.lastReload,
		Slots:            len(p.probabilities),
		CurrentPeriod:    period,
		EmptyProbability: p.probabilityLocked(slotOf(now)),
	}
	if ev, ok := p.nextEventLocked(now); ok {
		sum.NextEvent = &ev
	}

	for d := time.Sunday; d <= time.Saturday; d++ {
		day := DaySummary{Day: d.String(), EmptyHours: []int{}}
		for h := 0; h < 24; h++ {
			s := slot{Day: d, Hour: h}
			if v, ok := p.probabilities[s]; ok && v > departureAbove {
				day.EmptyHours = append(day.EmptyHours, h)
			}
			day.Samples += int(p.counts[s].Total)
		}
		sort.Ints(day.EmptyHours)
		sum.Days = append(sum.Days, day)
	}
	return sum
}
