package preference

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"wisefido-ventilation/internal/models"
	"wisefido-ventilation/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Hard bounds every preference is coerced into
const (
	TempFloor        = 15.0
	TempCeiling      = 30.0
	TempSpread       = 1.0
	CO2Floor         = 400.0
	CO2Ceiling       = 1500.0
	HumidityFloor    = 10.0
	HumidityCeiling  = 80.0
	HumiditySpread   = 5.0
	SensitivityFloor = 0.5
	SensitivityCeil  = 1.5

	MaxFeedbackRecords = 1000
)

// Aggregator per-user comfort settings and the multi-user compromise
type Aggregator struct {
	mu       sync.Mutex
	prefs    map[string]*models.UserPreference
	feedback []models.FeedbackRecord

	kv     store.KV
	logger *zap.Logger
	now    func() time.Time
}

// NewAggregator loads preferences and feedback from kv; unreadable state starts empty
func NewAggregator(ctx context.Context, kv store.KV, logger *zap.Logger) *Aggregator {
	a := &Aggregator{
		prefs:  make(map[string]*models.UserPreference),
		kv:     kv,
		logger: logger,
		now:    time.Now,
	}
	a.load(ctx)
	return a
}

func (a *Aggregator) load(ctx context.Context) {
	if err := store.GetJSON(ctx, a.kv, store.KeyUserPreferences, &a.prefs); err != nil {
		a.prefs = make(map[string]*models.UserPreference)
		if !errors.Is(err, store.ErrMiss) {
			a.logger.Warn("Failed to load user preferences, starting empty", zap.Error(err))
		}
	}
	for id, p := range a.prefs {
		if p == nil {
			delete(a.prefs, id)
			continue
		}
		normalize(p, true)
	}

	if err := store.GetJSON(ctx, a.kv, store.KeyComfortFeedback, &a.feedback); err != nil {
		a.feedback = nil
		if !errors.Is(err, store.ErrMiss) {
			a.logger.Warn("Failed to load comfort feedback, starting empty", zap.Error(err))
		}
	}
}

func (a *Aggregator) savePreferences(ctx context.Context) {
	if err := store.SetJSON(ctx, a.kv, store.KeyUserPreferences, a.prefs); err != nil {
		a.logger.Error("Failed to persist user preferences", zap.Error(err))
	}
}

func (a *Aggregator) saveFeedback(ctx context.Context) {
	if err := store.SetJSON(ctx, a.kv, store.KeyComfortFeedback, a.feedback); err != nil {
		a.logger.Error("Failed to persist comfort feedback", zap.Error(err))
	}
}

// GetOrCreate returns a copy of the user's preference, creating it with defaults
func (a *Aggregator) GetOrCreate(ctx context.Context, userID, displayName string) models.UserPreference {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.prefs[userID]
	if !ok {
		p = models.NewUserPreference(userID, displayName, a.now())
		a.prefs[userID] = p
		a.logger.Info("Created user preference", zap.String("user_id", userID))
		a.savePreferences(ctx)
		return *p
	}
	if displayName != "" && p.DisplayName != displayName {
		p.DisplayName = displayName
		p.UpdatedAt = a.now()
		a.savePreferences(ctx)
	}
	return *p
}

// Get returns a copy of an existing preference
func (a *Aggregator) Get(userID string) (models.UserPreference, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.prefs[userID]
	if !ok {
		return models.UserPreference{}, false
	}
	return *p, true
}

// UserIDs registered users, sorted
func (a *Aggregator) UserIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.prefs))
	for id := range a.prefs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Updatable numeric fields
const (
	FieldTempMin             = "temp_min"
	FieldTempMax             = "temp_max"
	FieldCO2Threshold        = "co2_threshold"
	FieldHumidityMin         = "humidity_min"
	FieldHumidityMax         = "humidity_max"
	FieldSensitivityTemp     = "sensitivity_temp"
	FieldSensitivityCO2      = "sensitivity_co2"
	FieldSensitivityHumidity = "sensitivity_humidity"
)

// Update applies field updates. Unknown fields are ignored; values are
// clamped into range. Returns false when the user does not exist.
func (a *Aggregator) Update(ctx context.Context, userID string, fields map[string]float64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.prefs[userID]
	if !ok {
		return false
	}

	for name, v := range fields {
		switch name {
		case FieldTempMin:
			p.TempMin = v
		case FieldTempMax:
			p.TempMax = v
		case FieldCO2Threshold:
			p.CO2Threshold = v
		case FieldHumidityMin:
			p.HumidityMin = v
		case FieldHumidityMax:
			p.HumidityMax = v
		case FieldSensitivityTemp:
			p.SensitivityTemp = v
		case FieldSensitivityCO2:
			p.SensitivityCO2 = v
		case FieldSensitivityHumidity:
			p.SensitivityHumidity = v
		default:
			a.logger.Debug("Ignoring unknown preference field", zap.String("field", name))
		}
	}
	// an explicit temp_max alone wins over the stored temp_min
	_, hasMin := fields[FieldTempMin]
	_, hasMax := fields[FieldTempMax]
	normalize(p, hasMin || !hasMax)
	p.UpdatedAt = a.now()
	a.savePreferences(ctx)
	return true
}

// RecordFeedback appends a feedback record and nudges the user's preference.
// Unknown users are created with defaults first.
func (a *Aggregator) RecordFeedback(ctx context.Context, userID string, kind models.FeedbackKind, snapshot models.SensorReading) models.UserPreference {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	p, ok := a.prefs[userID]
	if !ok {
		p = models.NewUserPreference(userID, "", now)
		a.prefs[userID] = p
	}

	a.feedback = append(a.feedback, models.FeedbackRecord{
		ID:         uuid.New().String(),
		UserID:     userID,
		Timestamp:  now,
		Kind:       kind,
		Conditions: snapshot,
	})
	if len(a.feedback) > MaxFeedbackRecords {
		a.feedback = append([]models.FeedbackRecord(nil), a.feedback[len(a.feedback)-MaxFeedbackRecords:]...)
	}

	before := *p
	applyFeedback(p, kind, snapshot)
	p.UpdatedAt = now

	a.logger.Info("Applied comfort feedback",
		zap.String("user_id", userID),
		zap.String("kind", string(kind)),
		zap.Float64("temp_min", p.TempMin),
		zap.Float64("temp_max", p.TempMax),
		zap.Float64("co2_threshold", p.CO2Threshold),
		zap.Bool("changed", before != *p),
	)

	a.saveFeedback(ctx)
	a.savePreferences(ctx)
	return *p
}

// Feedback most recent records, newest last; limit <= 0 returns all
func (a *Aggregator) Feedback(limit int) []models.FeedbackRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := 0
	if limit > 0 && len(a.feedback) > limit {
		start = len(a.feedback) - limit
	}
	return append([]models.FeedbackRecord(nil), a.feedback[start:]...)
}

func applyFeedback(p *models.UserPreference, kind models.FeedbackKind, r models.SensorReading) {
	tempStep := stepFor(p.SensitivityTemp, 0.5, 0.25)
	co2Step := stepFor(p.SensitivityCO2, 50, 25)
	humStep := stepFor(p.SensitivityHumidity, 5.0, 2.5)

	switch kind {
	case models.FeedbackTooHot:
		p.TempMax -= tempStep
		normalize(p, false)
	case models.FeedbackTooCold:
		p.TempMin += tempStep
		normalize(p, true)
	case models.FeedbackComfortable:
		if r.Temperature != nil && *r.Temperature > p.TempMin && *r.Temperature < p.TempMax {
			p.TempMin = math.Max(p.TempMin-0.2, TempFloor)
			p.TempMax = math.Min(p.TempMax+0.2, TempCeiling)
		}
		if r.CO2 != nil && float64(*r.CO2) <= p.CO2Threshold {
			p.CO2Threshold += co2Step
		}
		normalize(p, true)
	case models.FeedbackStuffy:
		p.CO2Threshold -= co2Step
		normalize(p, true)
	case models.FeedbackTooDry:
		p.HumidityMin += humStep
		normalizeHumidity(p, true)
		normalize(p, true)
	case models.FeedbackTooHumid:
		p.HumidityMax -= humStep
		normalizeHumidity(p, false)
		normalize(p, true)
	}
}

func stepFor(sensitivity, full, half float64) float64 {
	if sensitivity >= 1.0 {
		return full
	}
	return half
}

// normalize coerces every field into range and restores min < max.
// keepMin decides which temperature bound wins when the spread is violated.
func normalize(p *models.UserPreference, keepMin bool) {
	p.TempMin, p.TempMax = clampRange(p.TempMin, p.TempMax, TempFloor, TempCeiling, TempSpread, keepMin)
	normalizeHumidity(p, true)
	p.CO2Threshold = clamp(p.CO2Threshold, CO2Floor, CO2Ceiling)
	p.SensitivityTemp = clampSensitivity(p.SensitivityTemp)
	p.SensitivityCO2 = clampSensitivity(p.SensitivityCO2)
	p.SensitivityHumidity = clampSensitivity(p.SensitivityHumidity)
}

func normalizeHumidity(p *models.UserPreference, keepMin bool) {
	p.HumidityMin, p.HumidityMax = clampRange(p.HumidityMin, p.HumidityMax, HumidityFloor, HumidityCeiling, HumiditySpread, keepMin)
}

func clampRange(lo, hi, floor, ceil, spread float64, keepMin bool) (float64, float64) {
	lo = clamp(lo, floor, ceil-spread)
	hi = clamp(hi, floor+spread, ceil)
	if hi-lo >= spread {
		return lo, hi
	}
	if keepMin {
		return lo, lo + spread
	}
	return hi - spread, hi
}

func clampSensitivity(v float64) float64 {
	if v == 0 || math.IsNaN(v) {
		return models.DefaultSensitivity
	}
	return clamp(v, SensitivityFloor, SensitivityCeil)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
