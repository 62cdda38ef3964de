package occupancy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"wisefido-ventilation/internal/models"
	"wisefido-ventilation/internal/repository"
	"wisefido-ventilation/internal/store"

	"go.uber.org/zap"
)

const (
	defaultProbability = 0.5
	feedbackWeight     = 10.0
	feedbackBlendRate  = 0.3

	horizonHours    = 48
	windowHours     = 2
	stableVariance  = 0.1
	departureAbove  = 0.7
	arrivalBelow    = 0.3
	lookbackHours   = 24
	noArrivalAssume = horizonHours * time.Hour

	reloadMaxAge   = 72 * time.Hour
	reloadDebounce = 6 * time.Hour
)

// EventKind predicted occupancy change
type EventKind string

const (
	ExpectedArrival   EventKind = "EXPECTED_ARRIVAL"
	ExpectedDeparture EventKind = "EXPECTED_DEPARTURE"
)

// Event next predicted occupancy change
type Event struct {
	Time       time.Time `json:"time"`
	Kind       EventKind `json:"kind"`
	Confidence float64   `json:"confidence"`
}

// Period current stable occupancy period. End is nil when no change is predicted within the horizon.
type Period struct {
	Status     models.OccupancyStatus `json:"status"`
	Start      time.Time              `json:"start"`
	End        *time.Time             `json:"end,omitempty"`
	Confidence float64                `json:"confidence"`
}

type slot struct {
	Day  time.Weekday
	Hour int
}

func slotOf(t time.Time) slot { return slot{Day: t.Weekday(), Hour: t.Hour()} }

func (s slot) key() string { return fmt.Sprintf("%d-%d", s.Day, s.Hour) }

func parseSlot(k string) (slot, bool) {
	d, h, ok := strings.Cut(k, "-")
	if !ok {
		return slot{}, false
	}
	day, err1 := strconv.Atoi(d)
	hour, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || day < 0 || day > 6 || hour < 0 || hour > 23 {
		return slot{}, false
	}
	return slot{Day: time.Weekday(day), Hour: hour}, true
}

type slotCount struct {
	Total float64 `json:"total"`
	Empty float64 `json:"empty"`
}

type cacheSnapshot struct {
	Probabilities map[string]float64   `json:"probabilities"`
	Counts        map[string]slotCount `json:"counts"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// Predictor per-(weekday,hour) empty-home probabilities built from the occupancy history
type Predictor struct {
	mu            sync.RWMutex
	probabilities map[slot]float64
	counts        map[slot]slotCount
	lastReload    time.Time

	history repository.OccupancyHistory
	kv      store.KV
	logger  *zap.Logger
	now     func() time.Time
}

// NewPredictor loads the probability cache from kv; the history is read lazily on first use
func NewPredictor(ctx context.Context, history repository.OccupancyHistory, kv store.KV, logger *zap.Logger) *Predictor {
	p := &Predictor{
		probabilities: make(map[slot]float64),
		counts:        make(map[slot]slotCount),
		history:       history,
		kv:            kv,
		logger:        logger,
		now:           time.Now,
	}
	p.loadCache(ctx)
	return p
}

func (p *Predictor) loadCache(ctx context.Context) {
	if p.kv == nil {
		return
	}
	var snap cacheSnapshot
	if err := store.GetJSON(ctx, p.kv, store.KeyOccupancyProbabilities, &snap); err != nil {
		if !errors.Is(err, store.ErrMiss) {
			p.logger.Warn("Failed to load occupancy probability cache", zap.Error(err))
		}
		return
	}
	for k, v := range snap.Probabilities {
		if s, ok := parseSlot(k); ok && v >= 0 && v <= 1 {
			p.probabilities[s] = v
		}
	}
	for k, c := range snap.Counts {
		if s, ok := parseSlot(k); ok {
			p.counts[s] = c
		}
	}
}

// saveCache must be called with mu held
func (p *Predictor) saveCache(ctx context.Context) {
	if p.kv == nil {
		return
	}
	snap := cacheSnapshot{
		Probabilities: make(map[string]float64, len(p.probabilities)),
		Counts:        make(map[string]slotCount, len(p.counts)),
		UpdatedAt:     p.now(),
	}
	for s, v := range p.probabilities {
		snap.Probabilities[s.key()] = v
	}
	for s, c := range p.counts {
		snap.Counts[s.key()] = c
	}
	if err := store.SetJSON(ctx, p.kv, store.KeyOccupancyProbabilities, snap); err != nil {
		p.logger.Error("Failed to persist occupancy probabilities", zap.Error(err))
	}
}

// Reload rebuilds the table from the full history. Feedback rows count ten times.
func (p *Predictor) Reload(ctx context.Context) error {
	records, err := p.history.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load occupancy history: %w", err)
	}

	counts := make(map[slot]slotCount)
	feedbackRows := 0
	for _, rec := range records {
		weight := 1.0
		if rec.Status.IsUserFeedback() {
			weight = feedbackWeight
			feedbackRows++
		}
		s := slotOf(rec.Timestamp)
		c := counts[s]
		c.Total += weight
		if rec.Status.MeansEmpty() {
			c.Empty += weight
		}
		counts[s] = c
	}

	probabilities := make(map[slot]float64, len(counts))
	for s, c := range counts {
		if c.Total > 0 {
			probabilities[s] = c.Empty / c.Total
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts = counts
	p.probabilities = probabilities
	p.lastReload = p.now()
	p.saveCache(ctx)

	p.logger.Info("Reloaded occupancy patterns",
		zap.Int("records", len(records)),
		zap.Int("feedback_records", feedbackRows),
		zap.Int("slots", len(counts)),
	)
	return nil
}

// Refresh reloads when the table is stale: never loaded, older than 72h, or
// the history changed and 6h have passed since the last reload
func (p *Predictor) Refresh(ctx context.Context) error {
	now := p.now()
	p.mu.RLock()
	last := p.lastReload
	p.mu.RUnlock()

	if !last.IsZero() && now.Sub(last) <= reloadMaxAge {
		if now.Sub(last) <= reloadDebounce {
			return nil
		}
		modified, err := p.history.LastModified(ctx)
		if err != nil {
			return fmt.Errorf("failed to check occupancy history: %w", err)
		}
		if !modified.After(last) {
			return nil
		}
	}
	return p.Reload(ctx)
}

// LastReload zero until the first reload
func (p *Predictor) LastReload() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastReload
}

// PredictEmptyProbability probability the home is empty at t; 0.5 without data
func (p *Predictor) PredictEmptyProbability(t time.Time) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.probabilityLocked(slotOf(t))
}

func (p *Predictor) probabilityLocked(s slot) float64 {
	if v, ok := p.probabilities[s]; ok {
		return v
	}
	return defaultProbability
}

func isEmpty(prob float64) bool { return prob >= 0.5 }

// NextSignificantEvent scans up to 48h ahead for the first stable 2-hour window
// that crosses the current classification boundary
func (p *Predictor) NextSignificantEvent(now time.Time) (Event, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nextEventLocked(now)
}

func (p *Predictor) nextEventLocked(now time.Time) (Event, bool) {
	currentEmpty := isEmpty(p.probabilityLocked(slotOf(now)))
	base := hourStart(now)

	for h := 1; h <= horizonHours; h++ {
		start := base.Add(time.Duration(h) * time.Hour)
		window := make([]float64, windowHours)
		for i := range window {
			window[i] = p.probabilityLocked(slotOf(start.Add(time.Duration(i) * time.Hour)))
		}
		mean, variance := meanVariance(window)
		if variance >= stableVariance {
			continue
		}

		var kind EventKind
		switch {
		case currentEmpty && mean < arrivalBelow:
			kind = ExpectedArrival
		case !currentEmpty && mean > departureAbove:
			kind = ExpectedDeparture
		default:
			continue
		}

		total := p.counts[slotOf(start)].Total
		confidence := 0.3*math.Min(float64(len(window))/4, 1) +
			0.4*math.Abs(mean-0.5)*2 +
			0.3*math.Min(total/10, 1)
		return Event{Time: start, Kind: kind, Confidence: clamp(confidence, 0.1, 0.9)}, true
	}
	return Event{}, false
}

// PredictedCurrentPeriod when the current stable period began and when it is expected to end
func (p *Predictor) PredictedCurrentPeriod(now time.Time) Period {
	p.mu.RLock()
	defer p.mu.RUnlock()

	currentEmpty := isEmpty(p.probabilityLocked(slotOf(now)))
	status := models.StatusOccupied
	if currentEmpty {
		status = models.StatusEmpty
	}

	base := hourStart(now)
	start := base.Add(-lookbackHours * time.Hour)
	for h := 1; h <= lookbackHours; h++ {
		t := base.Add(-time.Duration(h) * time.Hour)
		if isEmpty(p.probabilityLocked(slotOf(t))) != currentEmpty {
			start = t.Add(time.Hour)
			break
		}
	}

	period := Period{Status: status, Start: start}
	last := base
	if ev, ok := p.nextEventLocked(now); ok {
		end := ev.Time
		period.End = &end
		last = end.Add(-time.Hour)
	}

	var probs []float64
	for t := start; !t.After(last); t = t.Add(time.Hour) {
		probs = append(probs, p.probabilityLocked(slotOf(t)))
	}
	_, variance := meanVariance(probs)
	period.Confidence = clamp(1-4*variance, 0.1, 0.9)
	return period
}

// ExpectedEmptyDuration how long the home is expected to stay empty from now;
// 0 when it is expected to be occupied
func (p *Predictor) ExpectedEmptyDuration(now time.Time) time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !isEmpty(p.probabilityLocked(slotOf(now))) {
		return 0
	}
	if ev, ok := p.nextEventLocked(now); ok && ev.Kind == ExpectedArrival {
		return ev.Time.Sub(now)
	}
	return noArrivalAssume
}

// NextExpectedReturnTime next predicted arrival
func (p *Predictor) NextExpectedReturnTime(now time.Time) (time.Time, bool) {
	ev, ok := p.NextSignificantEvent(now)
	if !ok || ev.Kind != ExpectedArrival {
		return time.Time{}, false
	}
	return ev.Time, true
}

// NextExpectedDepartureTime next predicted departure
func (p *Predictor) NextExpectedDepartureTime(now time.Time) (time.Time, bool) {
	ev, ok := p.NextSignificantEvent(now)
	if !ok || ev.Kind != ExpectedDeparture {
		return time.Time{}, false
	}
	return ev.Time, true
}

// RecordFeedback applies a user confirmation with weight 1, blends it into the
// table and appends it to the history for future reloads
func (p *Predictor) RecordFeedback(ctx context.Context, ts time.Time, status models.OccupancyStatus) error {
	if !status.IsUserFeedback() {
		return fmt.Errorf("not a feedback status: %s", status)
	}
	raw := 0.0
	if status.MeansEmpty() {
		raw = 1.0
	}

	p.mu.Lock()
	s := slotOf(ts)
	c := p.counts[s]
	c.Total++
	c.Empty += raw
	p.counts[s] = c
	p.probabilities[s] = p.probabilityLocked(s)*(1-feedbackBlendRate) + raw*feedbackBlendRate
	p.saveCache(ctx)
	p.mu.Unlock()

	if err := p.history.Append(ctx, models.OccupancyRecord{Timestamp: ts, Status: status}); err != nil {
		p.logger.Error("Failed to append occupancy feedback", zap.Error(err))
		return err
	}
	return nil
}

// RecordObservation appends an automatic EMPTY/OCCUPIED row; the table picks it up on the next reload
func (p *Predictor) RecordObservation(ctx context.Context, ts time.Time, peopleCount int) error {
	status := models.StatusOccupied
	if peopleCount <= 0 {
		status = models.StatusEmpty
		peopleCount = 0
	}
	return p.history.Append(ctx, models.OccupancyRecord{Timestamp: ts, Status: status, PeopleCount: peopleCount})
}

func hourStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
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

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
