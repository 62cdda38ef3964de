package sleep

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"wisefido-ventilation/internal/models"
	"wisefido-ventilation/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	dailyBufferCap   = 288 // 5-minute cadence over 24h
	eventLogCap      = 100
	dailyHistoryCap  = 12
	blendRate        = 0.2
	minSleepConf     = 0.7
	adjustMinCount   = 3
	adjustMinConf    = 0.7
	maxBoundaryDiff  = 15.0 // minutes
	earliestWakeHour = 5
	levelJumpPPM     = 50.0
	minSleepGap      = 6 * time.Hour
	minWakeGap       = 8 * time.Hour
	batchWindowHours = 3
	minSleepDuration = 4 * 60
	maxSleepDuration = 12 * 60
	minutesPerDay    = 24 * 60
)

// EventKind sleep or wake transition
type EventKind string

const (
	EventSleep EventKind = "sleep"
	EventWake  EventKind = "wake"
)

// Event detected transition
type Event struct {
	ID         string    `json:"id"`
	Kind       EventKind `json:"kind"`
	Time       time.Time `json:"time"`
	Confidence float64   `json:"confidence"`
	Details    string    `json:"details"`
}

// NightModeTarget owner of the night-mode window the analyzer nudges
type NightModeTarget interface {
	NightMode() models.NightModeSettings
	SetNightHours(ctx context.Context, start, end int) error
}

// ReadingSource latest sensor snapshot; only the ventilation flag is used
type ReadingSource interface {
	Latest() models.SensorReading
}

// Config detection parameters
type Config struct {
	StabilityWindow int     // samples per comparison window
	RateThreshold   float64 // ppm/min
}

type sample struct {
	Time time.Time
	CO2  float64
}

// DailyPattern accepted sleep/wake pair from an end-of-day pass
type DailyPattern struct {
	Date         string  `json:"date"`
	SleepMinutes float64 `json:"sleep_minutes"`
	WakeMinutes  float64 `json:"wake_minutes"`
	Confidence   float64 `json:"confidence"`
}

// WeekdayPattern running sleep/wake estimates for one weekday
type WeekdayPattern struct {
	SleepMinutes    *float64       `json:"sleep_minutes,omitempty"`
	WakeMinutes     *float64       `json:"wake_minutes,omitempty"`
	SleepDetections int            `json:"sleep_detections"`
	WakeDetections  int            `json:"wake_detections"`
	LastSleep       time.Time      `json:"last_sleep"`
	LastWake        time.Time      `json:"last_wake"`
	History         []DailyPattern `json:"history"`
}

type snapshot struct {
	Patterns  map[time.Weekday]*WeekdayPattern `json:"patterns"`
	Events    []Event                          `json:"events"`
	Sleeping  bool                             `json:"sleeping"`
	LastSleep time.Time                        `json:"last_sleep_event"`
	LastWake  time.Time                        `json:"last_wake_event"`
	Drift     map[EventKind]float64            `json:"drift"`
}

// Analyzer infers sleep and wake times from CO2 trends
type Analyzer struct {
	mu       sync.Mutex
	cfg      Config
	buffer   []sample
	bufDay   string
	patterns map[time.Weekday]*WeekdayPattern
	events   []Event

	initialized bool
	sleeping    bool
	lastSleep   time.Time
	lastWake    time.Time
	drift       map[EventKind]float64 // accumulated boundary shift in minutes

	night   NightModeTarget
	reading ReadingSource
	kv      store.KV
	logger  *zap.Logger
}

// NewAnalyzer loads persisted patterns; night and reading may be nil
func NewAnalyzer(ctx context.Context, cfg Config, night NightModeTarget, reading ReadingSource, kv store.KV, logger *zap.Logger) *Analyzer {
	if cfg.StabilityWindow < 2 {
		cfg.StabilityWindow = 6
	}
	if cfg.RateThreshold <= 0 {
		cfg.RateThreshold = 2.0
	}
	a := &Analyzer{
		cfg:      cfg,
		patterns: make(map[time.Weekday]*WeekdayPattern),
		drift:    make(map[EventKind]float64),
		night:    night,
		reading:  reading,
		kv:       kv,
		logger:   logger,
	}
	a.load(ctx)
	return a
}

func (a *Analyzer) load(ctx context.Context) {
	if a.kv == nil {
		return
	}
	var snap snapshot
	if err := store.GetJSON(ctx, a.kv, store.KeySleepPatterns, &snap); err != nil {
		if !errors.Is(err, store.ErrMiss) {
			a.logger.Warn("Failed to load sleep patterns, starting empty", zap.Error(err))
		}
		return
	}
	for d, p := range snap.Patterns {
		if p != nil && d >= time.Sunday && d <= time.Saturday {
			a.patterns[d] = p
		}
	}
	a.events = snap.Events
	a.lastSleep = snap.LastSleep
	a.lastWake = snap.LastWake
	for k, v := range snap.Drift {
		a.drift[k] = v
	}
}

// persist must be called with mu held
func (a *Analyzer) persist(ctx context.Context) {
	if a.kv == nil {
		return
	}
	snap := snapshot{
		Patterns:  a.patterns,
		Events:    a.events,
		Sleeping:  a.sleeping,
		LastSleep: a.lastSleep,
		LastWake:  a.lastWake,
		Drift:     a.drift,
	}
	if err := store.SetJSON(ctx, a.kv, store.KeySleepPatterns, snap); err != nil {
		a.logger.Error("Failed to persist sleep patterns", zap.Error(err))
	}
}

func (a *Analyzer) nightMode() models.NightModeSettings {
	if a.night == nil {
		return models.NightModeSettings{Enabled: true, StartHour: 23, EndHour: 7}
	}
	return a.night.NightMode()
}

func (a *Analyzer) pattern(d time.Weekday) *WeekdayPattern {
	p, ok := a.patterns[d]
	if !ok {
		p = &WeekdayPattern{}
		a.patterns[d] = p
	}
	return p
}

// Ingest buffers one CO2 sample; a day rollover first runs the end-of-day pass
func (a *Analyzer) Ingest(ctx context.Context, co2 int, ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	day := ts.Format("2006-01-02")
	if a.bufDay != "" && day != a.bufDay && len(a.buffer) > 0 {
		a.processDailyLocked(ctx, a.buffer)
		a.buffer = nil
	}
	a.bufDay = day

	a.buffer = append(a.buffer, sample{Time: ts, CO2: float64(co2)})
	if len(a.buffer) > dailyBufferCap {
		a.buffer = a.buffer[len(a.buffer)-dailyBufferCap:]
	}
}

// DetectInRealTime compares the two most recent rate windows and logs a
// sleep or wake event when one is found
func (a *Analyzer) DetectInRealTime(ctx context.Context, now time.Time) (*Event, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	nm := a.nightMode()
	if !a.initialized {
		a.sleeping = models.HourInWindow(now.Hour(), nm.StartHour, nm.EndHour)
		a.initialized = true
	}

	w := a.cfg.StabilityWindow
	if len(a.buffer) < 2*w+1 {
		return nil, false
	}
	rates := ratesOf(a.buffer[len(a.buffer)-(2*w+1):])
	mean1, var1 := meanVariance(rates[:w])
	mean2, var2 := meanVariance(rates[w:])
	threshold := a.cfg.RateThreshold
	hour := now.Hour()

	if !a.sleeping {
		delta := mean1 - mean2
		if delta <= threshold || var1 <= var2 {
			return nil, false
		}
		if !inBand(hour, nm.StartHour) || a.ventilationOn() {
			return nil, false
		}
		if !a.lastSleep.IsZero() && now.Sub(a.lastSleep) < minSleepGap {
			return nil, false
		}
		confidence := rateConfidence(delta, threshold)
		if confidence < minSleepConf {
			a.logger.Debug("Discarded low-confidence sleep candidate", zap.Float64("confidence", confidence))
			return nil, false
		}
		details := fmt.Sprintf("rate drop %.2f ppm/min", delta)
		ev := a.logEventLocked(ctx, EventSleep, now, confidence, details)
		return &ev, true
	}

	if !inBand(hour, nm.EndHour) {
		return nil, false
	}
	if !a.lastWake.IsZero() && now.Sub(a.lastWake) < minWakeGap {
		return nil, false
	}

	var (
		confidence float64
		details    string
	)
	if delta := mean2 - mean1; delta > threshold && var2 > var1 {
		confidence = rateConfidence(delta, threshold)
		details = fmt.Sprintf("rate rise %.2f ppm/min", delta)
	} else {
		recent := a.buffer[len(a.buffer)-w:]
		earlier := a.buffer[len(a.buffer)-2*w : len(a.buffer)-w]
		jump := meanCO2(recent) - meanCO2(earlier)
		if jump < levelJumpPPM {
			return nil, false
		}
		confidence = math.Min(jump/levelJumpPPM, 1)
		details = fmt.Sprintf("level jump %.0f ppm", jump)
	}
	ev := a.logEventLocked(ctx, EventWake, now, confidence, details)
	return &ev, true
}

// rateConfidence delta relative to the threshold, capped at 1
func rateConfidence(delta, threshold float64) float64 {
	return math.Min(delta/threshold, 1)
}

func (a *Analyzer) ventilationOn() bool {
	if a.reading == nil {
		return false
	}
	return a.reading.Latest().VentilationOn
}

// LogEvent records a transition detected elsewhere
func (a *Analyzer) LogEvent(ctx context.Context, kind EventKind, t time.Time, confidence float64, details string) Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.logEventLocked(ctx, kind, t, confidence, details)
}

func (a *Analyzer) logEventLocked(ctx context.Context, kind EventKind, t time.Time, confidence float64, details string) Event {
	ev := Event{
		ID:         uuid.New().String(),
		Kind:       kind,
		Time:       t,
		Confidence: confidence,
		Details:    details,
	}
	a.initialized = true
	a.events = append(a.events, ev)
	if len(a.events) > eventLogCap {
		a.events = append([]Event(nil), a.events[len(a.events)-eventLogCap:]...)
	}

	minutes := minuteOfDay(t)
	p := a.pattern(t.Weekday())
	var count int
	switch kind {
	case EventSleep:
		p.SleepMinutes = blend(p.SleepMinutes, minutes)
		p.SleepDetections++
		p.LastSleep = t
		count = p.SleepDetections
		a.sleeping = true
		a.lastSleep = t
	case EventWake:
		p.WakeMinutes = blend(p.WakeMinutes, minutes)
		p.WakeDetections++
		p.LastWake = t
		count = p.WakeDetections
		a.sleeping = false
		a.lastWake = t
	}

	a.logger.Info("Sleep pattern event",
		zap.String("kind", string(kind)),
		zap.Time("time", t),
		zap.Float64("confidence", confidence),
		zap.String("details", details),
	)

	if count >= adjustMinCount && confidence >= adjustMinConf {
		a.adjustNightBoundaryLocked(ctx, kind, t, confidence)
	}
	a.persist(ctx)
	return ev
}

// AdjustNightBoundary moves the night-mode start (sleep) or end (wake) hour
// toward a detected time. Returns true when the hour actually changed.
func (a *Analyzer) AdjustNightBoundary(ctx context.Context, kind EventKind, detected time.Time, confidence float64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	changed := a.adjustNightBoundaryLocked(ctx, kind, detected, confidence)
	a.persist(ctx)
	return changed
}

func (a *Analyzer) adjustNightBoundaryLocked(ctx context.Context, kind EventKind, detected time.Time, confidence float64) bool {
	if a.night == nil {
		return false
	}
	nm := a.night.NightMode()
	boundary := nm.StartHour
	if kind == EventWake {
		boundary = nm.EndHour
	}

	diff := wrapMinutes(minuteOfDay(detected) - float64(boundary*60))
	diff = math.Max(-maxBoundaryDiff, math.Min(maxBoundaryDiff, diff))
	drift := a.drift[kind] + diff*confidence*blendRate

	newHour := int(math.Floor(wrapDay(float64(boundary*60)+drift)/60+0.5)) % 24
	if newHour == boundary {
		a.drift[kind] = drift
		return false
	}
	if kind == EventWake && drift < 0 && newHour < earliestWakeHour {
		a.logger.Debug("Wake boundary already at earliest hour", zap.Int("hour", boundary))
		return false
	}

	start, end := nm.StartHour, nm.EndHour
	if kind == EventSleep {
		start = newHour
	} else {
		end = newHour
	}
	if err := a.night.SetNightHours(ctx, start, end); err != nil {
		a.logger.Error("Failed to adjust night mode", zap.Error(err))
		return false
	}
	a.drift[kind] = 0
	a.logger.Info("Adjusted night mode boundary",
		zap.String("boundary", string(kind)),
		zap.Int("before", boundary),
		zap.Int("after", newHour),
		zap.Float64("confidence", confidence),
	)
	return true
}

// Events recent events, newest last
func (a *Analyzer) Events() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Event(nil), a.events...)
}

// Sleeping current inferred state
func (a *Analyzer) Sleeping() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sleeping
}

// inBand hour within [boundary-2, boundary+1], wrapping midnight
func inBand(hour, boundary int) bool {
	start := ((boundary-2)%24 + 24) % 24
	end := (boundary + 2) % 24
	return models.HourInWindow(hour, start, end)
}

func ratesOf(samples []sample) []float64 {
	rates := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		minutes := samples[i].Time.Sub(samples[i-1].Time).Minutes()
		if minutes <= 0 {
			rates = append(rates, 0)
			continue
		}
		rates = append(rates, (samples[i].CO2-samples[i-1].CO2)/minutes)
	}
	return rates
}

func meanCO2(samples []sample) float64 {
	var sum float64
	for _, s := range samples {
		sum += s.CO2
	}
	return sum / float64(len(samples))
}

func meanVariance(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, sq / float64(len(xs))
}

func minuteOfDay(t time.Time) float64 {
	return float64(t.Hour()*60+t.Minute()) + float64(t.Second())/60
}

// wrapMinutes into [-720, 720)
func wrapMinutes(m float64) float64 {
	m = math.Mod(m+minutesPerDay/2, minutesPerDay)
	if m < 0 {
		m += minutesPerDay
	}
	return m - minutesPerDay/2
}

// wrapDay into [0, 1440)
func wrapDay(m float64) float64 {
	m = math.Mod(m, minutesPerDay)
	if m < 0 {
		m += minutesPerDay
	}
	return m
}

// blend moves an estimate toward observed along the shorter way round the clock
func blend(estimate *float64, observed float64) *float64 {
	if estimate == nil {
		v := observed
		return &v
	}
	v := wrapDay(*estimate + wrapMinutes(observed-*estimate)*blendRate)
	return &v
}
