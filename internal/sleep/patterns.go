package sleep

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// ProcessDailyData runs the end-of-day pass over the buffered samples
func (a *Analyzer) ProcessDailyData(ctx context.Context) (DailyPattern, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.processDailyLocked(ctx, a.buffer)
}

type candidate struct {
	at         time.Time
	delta      float64
	confidence float64
}

// better ranks by confidence, then by the size of the rate change
func (c *candidate) better(than *candidate) bool {
	if than == nil {
		return true
	}
	if c.confidence != than.confidence {
		return c.confidence > than.confidence
	}
	return c.delta > than.delta
}

// processDailyLocked searches the smoothed rate series for the best sleep and
// wake candidate near the night-mode boundaries and keeps the pair when the
// implied sleep duration is plausible
func (a *Analyzer) processDailyLocked(ctx context.Context, samples []sample) (DailyPattern, bool) {
	w := a.cfg.StabilityWindow
	if len(samples) < 2*w+3 {
		return DailyPattern{}, false
	}
	smoothed := movingAverage(ratesOf(samples), 3)
	nm := a.nightMode()
	threshold := a.cfg.RateThreshold

	var best [2]*candidate // sleep, wake
	for i := w; i+w <= len(smoothed); i++ {
		// rates[i] spans samples[i] -> samples[i+1]
		at := samples[i].Time
		before, _ := meanVariance(smoothed[i-w : i])
		after, _ := meanVariance(smoothed[i : i+w])

		if drop := before - after; drop > threshold && nearHour(at, nm.StartHour, batchWindowHours) {
			c := &candidate{at: at, delta: drop, confidence: rateConfidence(drop, threshold)}
			if c.better(best[0]) {
				best[0] = c
			}
		}
		if rise := after - before; rise > threshold && nearHour(at, nm.EndHour, batchWindowHours) {
			c := &candidate{at: at, delta: rise, confidence: rateConfidence(rise, threshold)}
			if c.better(best[1]) {
				best[1] = c
			}
		}
	}
	if best[0] == nil || best[1] == nil {
		return DailyPattern{}, false
	}

	sleepMin := minuteOfDay(best[0].at)
	wakeMin := minuteOfDay(best[1].at)
	duration := wrapDay(wakeMin - sleepMin)
	if duration < minSleepDuration || duration > maxSleepDuration {
		a.logger.Debug("Rejected daily sleep pattern",
			zap.Float64("duration_minutes", duration),
		)
		return DailyPattern{}, false
	}

	day := samples[0].Time
	dp := DailyPattern{
		Date:         day.Format("2006-01-02"),
		SleepMinutes: sleepMin,
		WakeMinutes:  wakeMin,
		Confidence:   (best[0].confidence + best[1].confidence) / 2,
	}
	p := a.pattern(day.Weekday())
	p.History = append(p.History, dp)
	if len(p.History) > dailyHistoryCap {
		p.History = append([]DailyPattern(nil), p.History[len(p.History)-dailyHistoryCap:]...)
	}
	p.SleepMinutes = blend(p.SleepMinutes, sleepMin)
	p.WakeMinutes = blend(p.WakeMinutes, wakeMin)
	p.SleepDetections++
	p.WakeDetections++
	if best[0].at.After(p.LastSleep) {
		p.LastSleep = best[0].at
	}
	if best[1].at.After(p.LastWake) {
		p.LastWake = best[1].at
	}

	a.logger.Info("Stored daily sleep pattern",
		zap.String("date", dp.Date),
		zap.String("sleep", formatMinutes(sleepMin)),
		zap.String("wake", formatMinutes(wakeMin)),
	)
	a.persist(ctx)
	return dp, true
}

// nearHour t within ±window hours of the given hour, wrapping midnight
func nearHour(t time.Time, hour, window int) bool {
	diff := wrapMinutes(minuteOfDay(t) - float64(hour*60))
	return math.Abs(diff) <= float64(window*60)
}

func movingAverage(xs []float64, n int) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		lo := i - n + 1
		if lo < 0 {
			lo = 0
		}
		var sum float64
		for _, x := range xs[lo : i+1] {
			sum += x
		}
		out[i] = sum / float64(i+1-lo)
	}
	return out
}

// Prediction predicted clock time for one weekday
type Prediction struct {
	Minutes    float64 `json:"minutes"`
	Time       string  `json:"time"`
	Confidence float64 `json:"confidence"`
	Detections int     `json:"detections"`
}

// PredictedSleepTime estimate for weekday at now; false when nothing was learned yet
func (a *Analyzer) PredictedSleepTime(weekday time.Weekday, now time.Time) (Prediction, bool) {
	return a.predict(weekday, EventSleep, now)
}

// PredictedWakeTime estimate for weekday at now; false when nothing was learned yet
func (a *Analyzer) PredictedWakeTime(weekday time.Weekday, now time.Time) (Prediction, bool) {
	return a.predict(weekday, EventWake, now)
}

func (a *Analyzer) predict(weekday time.Weekday, kind EventKind, now time.Time) (Prediction, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.patterns[weekday]
	if !ok {
		return Prediction{}, false
	}
	estimate, count, last := p.SleepMinutes, p.SleepDetections, p.LastSleep
	if kind == EventWake {
		estimate, count, last = p.WakeMinutes, p.WakeDetections, p.LastWake
	}
	if estimate == nil {
		return Prediction{}, false
	}

	var recent []float64
	for _, ev := range a.events {
		if ev.Kind == kind && ev.Time.Weekday() == weekday && now.Sub(ev.Time) <= 7*24*time.Hour {
			recent = append(recent, minuteOfDay(ev.Time))
		}
	}
	var historical []float64
	for _, h := range p.History {
		if kind == EventSleep {
			historical = append(historical, h.SleepMinutes)
		} else {
			historical = append(historical, h.WakeMinutes)
		}
	}

	detections := math.Min(float64(count)/10, 1)
	score := 0.3*1.0 +
		0.3*detections +
		0.2*consistency(recent) +
		0.1*freshness(now.Sub(last), last.IsZero()) +
		0.1*consistency(historical)

	return Prediction{
		Minutes:    *estimate,
		Time:       formatMinutes(*estimate),
		Confidence: math.Max(0.1, math.Min(0.95, score)),
		Detections: count,
	}, true
}

// consistency 1/(1+variance in hours²), 0.5 with fewer than two samples
func consistency(minutes []float64) float64 {
	if len(minutes) < 2 {
		return 0.5
	}
	ref := minutes[0]
	hours := make([]float64, len(minutes))
	for i, m := range minutes {
		hours[i] = wrapMinutes(m-ref) / 60
	}
	_, variance := meanVariance(hours)
	return 1 / (1 + variance)
}

func freshness(age time.Duration, never bool) float64 {
	switch {
	case never:
		return 0.5
	case age <= 24*time.Hour:
		return 1.0
	case age <= 7*24*time.Hour:
		return 0.9
	case age <= 30*24*time.Hour:
		return 0.7
	default:
		return 0.5
	}
}

func formatMinutes(m float64) string {
	total := int(math.Round(wrapDay(m))) % minutesPerDay
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// Summary read-only snapshot for status surfaces
type Summary struct {
	Sleeping    bool         `json:"sleeping"`
	NightStart  int          `json:"night_start_hour"`
	NightEnd    int          `json:"night_end_hour"`
	Days        []DaySummary `json:"days"`
	RecentEvent *Event       `json:"recent_event,omitempty"`
	Events      int          `json:"events"`
}

// DaySummary predictions for one weekday
type DaySummary struct {
	Day   string      `json:"day"`
	Sleep *Prediction `json:"sleep,omitempty"`
	Wake  *Prediction `json:"wake,omitempty"`
}

// Summary sleep patterns for every weekday at now
func (a *Analyzer) Summary(now time.Time) Summary {
	var days []DaySummary
	for d := time.Sunday; d <= time.Saturday; d++ {
		ds := DaySummary{Day: d.String()}
		if p, ok := a.PredictedSleepTime(d, now); ok {
			ds.Sleep = &p
		}
		if p, ok := a.PredictedWakeTime(d, now); ok {
			ds.Wake = &p
		}
		days = append(days, ds)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	nm := a.nightMode()
	s := Summary{
		Sleeping:   a.sleeping,
		NightStart: nm.StartHour,
		NightEnd:   nm.EndHour,
		Days:       days,
		Events:     len(a.events),
	}
	if n := len(a.events); n > 0 {
		ev := a.events[n-1]
		s.RecentEvent = &ev
	}
	return s
}
