// Package commands is the user-facing command surface shared by the chat bot
// and any other front end. Input is validated here; the core only normalizes.
package commands

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"wisefido-ventilation/internal/controller"
	"wisefido-ventilation/internal/models"
	"wisefido-ventilation/internal/occupancy"
	"wisefido-ventilation/internal/preference"
	"wisefido-ventilation/internal/presence"
	"wisefido-ventilation/internal/sleep"

	"go.uber.org/zap"
)

var (
	ErrUnknownField    = errors.New("unknown preference field")
	ErrInvalidValue    = errors.New("invalid value")
	ErrUnknownFeedback = errors.New("unknown feedback kind")
	ErrNoPrompt        = errors.New("no night-hour prompt pending")
	ErrUnavailable     = errors.New("component not available")
)

// promptTTL pending night-hour prompts older than this are dropped
const promptTTL = 10 * time.Minute

// Ventilation implemented by both the adaptive and the threshold controller
type Ventilation interface {
	Status() controller.Status
	SetAutoMode(on bool)
	AutoMode() bool
	NightMode() models.NightModeSettings
	SetNightHours(ctx context.Context, start, end int) error
	SetNightModeEnabled(ctx context.Context, enabled bool) error
}

type Preferences interface {
	GetOrCreate(ctx context.Context, userID, displayName string) models.UserPreference
	Update(ctx context.Context, userID string, fields map[string]float64) bool
	RecordFeedback(ctx context.Context, userID string, kind models.FeedbackKind, snapshot models.SensorReading) models.UserPreference
	CompromiseAll() models.CompromisePreference
}

type Occupancy interface {
	RecordFeedback(ctx context.Context, ts time.Time, status models.OccupancyStatus) error
	Summary(now time.Time) occupancy.PatternSummary
}

type Sleep interface {
	Summary(now time.Time) sleep.Summary
}

type Readings interface {
	Latest() models.SensorReading
}

type Presence interface {
	BeginEnrollment(owner string) error
	CancelEnrollment() bool
	Enrolling() (string, bool)
	Devices() []presence.Device
	UnknownDevices() []string
}

// NightField which end of the night window a prompt is asking for
type NightField string

const (
	NightStart NightField = "start"
	NightEnd   NightField = "end"
)

type nightPrompt struct {
	field   NightField
	started time.Time
}

// Deps all but Ventilation and Readings are optional
type Deps struct {
	Ventilation Ventilation
	Readings    Readings
	Preferences Preferences
	Occupancy   Occupancy
	Sleep       Sleep
	Presence    Presence
}

type Service struct {
	deps   Deps
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	prompts map[int64]nightPrompt // chat id -> pending prompt
}

func NewService(deps Deps, logger *zap.Logger) *Service {
	return &Service{
		deps:    deps,
		logger:  logger,
		now:     time.Now,
		prompts: make(map[int64]nightPrompt),
	}
}

// StatusReport everything a status view shows
type StatusReport struct {
	Controller controller.Status           `json:"controller"`
	Compromise *models.CompromisePreference `json:"compromise,omitempty"`
}

func (s *Service) Status() StatusReport {
	rep := StatusReport{Controller: s.deps.Ventilation.Status()}
	if s.deps.Preferences != nil {
		cp := s.deps.Preferences.CompromiseAll()
		rep.Compromise = &cp
	}
	return rep
}

// SetPreference validates the field and value; range clamping happens in the aggregator
func (s *Service) SetPreference(ctx context.Context, userID, displayName, field string, value float64) (models.UserPreference, error) {
	if s.deps.Preferences == nil {
		return models.UserPreference{}, ErrUnavailable
	}
	field = strings.ToLower(strings.TrimSpace(field))
	if !knownField(field) {
		return models.UserPreference{}, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return models.UserPreference{}, ErrInvalidValue
	}

	s.deps.Preferences.GetOrCreate(ctx, userID, displayName)
	s.deps.Preferences.Update(ctx, userID, map[string]float64{field: value})
	pref := s.deps.Preferences.GetOrCreate(ctx, userID, displayName)

	s.logger.Info("Preference updated",
		zap.String("user_id", userID),
		zap.String("field", field),
		zap.Float64("requested", value),
	)
	return pref, nil
}

// Feedback records comfort feedback against the current reading
func (s *Service) Feedback(ctx context.Context, userID, displayName, kind string) (models.UserPreference, error) {
	if s.deps.Preferences == nil {
		return models.UserPreference{}, ErrUnavailable
	}
	k, ok := models.ParseFeedbackKind(strings.ToLower(strings.TrimSpace(kind)))
	if !ok {
		return models.UserPreference{}, fmt.Errorf("%w: %s", ErrUnknownFeedback, kind)
	}
	s.deps.Preferences.GetOrCreate(ctx, userID, displayName)
	return s.deps.Preferences.RecordFeedback(ctx, userID, k, s.deps.Readings.Latest()), nil
}

// ConfirmOccupancy records an explicit home/away confirmation
func (s *Service) ConfirmOccupancy(ctx context.Context, home bool) error {
	if s.deps.Occupancy == nil {
		return ErrUnavailable
	}
	status := models.StatusUserConfirmedAway
	if home {
		status = models.StatusUserConfirmedHome
	}
	if err := s.deps.Occupancy.RecordFeedback(ctx, s.now(), status); err != nil {
		return fmt.Errorf("failed to record occupancy confirmation: %w", err)
	}
	return nil
}

func (s *Service) SetAutoMode(on bool) { s.deps.Ventilation.SetAutoMode(on) }

func (s *Service) SetNightHours(ctx context.Context, start, end int) (models.NightModeSettings, error) {
	if err := s.deps.Ventilation.SetNightHours(ctx, start, end); err != nil {
		return models.NightModeSettings{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return s.deps.Ventilation.NightMode(), nil
}

func (s *Service) SetNightEnabled(ctx context.Context, enabled bool) (models.NightModeSettings, error) {
	if err := s.deps.Ventilation.SetNightModeEnabled(ctx, enabled); err != nil {
		return models.NightModeSettings{}, err
	}
	return s.deps.Ventilation.NightMode(), nil
}

// BeginNightPrompt remembers that chatID is expected to answer with an hour.
// A newer prompt for the same chat replaces the old one.
func (s *Service) BeginNightPrompt(chatID int64, field NightField) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expirePromptsLocked()
	s.prompts[chatID] = nightPrompt{field: field, started: s.now()}
}

// PendingNightPrompt the field chatID is being asked for, if any
func (s *Service) PendingNightPrompt(chatID int64) (NightField, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expirePromptsLocked()
	p, ok := s.prompts[chatID]
	return p.field, ok
}

// CompleteNightPrompt applies hour to the pending field. The prompt is
// consumed only when the hour is accepted, so the user can retry.
func (s *Service) CompleteNightPrompt(ctx context.Context, chatID int64, hour int) (models.NightModeSettings, error) {
	s.mu.Lock()
	s.expirePromptsLocked()
	p, ok := s.prompts[chatID]
	s.mu.Unlock()
	if !ok {
		return models.NightModeSettings{}, ErrNoPrompt
	}

	current := s.deps.Ventilation.NightMode()
	start, end := current.StartHour, current.EndHour
	if p.field == NightStart {
		start = hour
	} else {
		end = hour
	}
	nm, err := s.SetNightHours(ctx, start, end)
	if err != nil {
		return models.NightModeSettings{}, err
	}

	s.mu.Lock()
	delete(s.prompts, chatID)
	s.mu.Unlock()
	return nm, nil
}

func (s *Service) CancelNightPrompt(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.prompts[chatID]
	delete(s.prompts, chatID)
	return ok
}

func (s *Service) expirePromptsLocked() {
	now := s.now()
	for id, p := range s.prompts {
		if now.Sub(p.started) > promptTTL {
			delete(s.prompts, id)
		}
	}
}

func (s *Service) OccupancyPatterns() (occupancy.PatternSummary, error) {
	if s.deps.Occupancy == nil {
		return occupancy.PatternSummary{}, ErrUnavailable
	}
	return s.deps.Occupancy.Summary(s.now()), nil
}

func (s *Service) SleepPatterns() (sleep.Summary, error) {
	if s.deps.Sleep == nil {
		return sleep.Summary{}, ErrUnavailable
	}
	return s.deps.Sleep.Summary(s.now()), nil
}

// BeginEnrollment starts the "adding new trusted user" mode
func (s *Service) BeginEnrollment(owner string) error {
	if s.deps.Presence == nil {
		return ErrUnavailable
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return fmt.Errorf("%w: owner name required", ErrInvalidValue)
	}
	return s.deps.Presence.BeginEnrollment(owner)
}

func (s *Service) CancelEnrollment() bool {
	if s.deps.Presence == nil {
		return false
	}
	return s.deps.Presence.CancelEnrollment()
}

// DevicesReport trusted and unknown devices plus any active enrollment
type DevicesReport struct {
	Trusted   []presence.Device `json:"trusted"`
	Unknown   []string          `json:"unknown"`
	Enrolling string            `json:"enrolling,omitempty"`
}

func (s *Service) Devices() (DevicesReport, error) {
	if s.deps.Presence == nil {
		return DevicesReport{}, ErrUnavailable
	}
	rep := DevicesReport{
		Trusted: s.deps.Presence.Devices(),
		Unknown: s.deps.Presence.UnknownDevices(),
	}
	if owner, ok := s.deps.Presence.Enrolling(); ok {
		rep.Enrolling = owner
	}
	return rep, nil
}

func knownField(f string) bool {
	for _, k := range PreferenceFields {
		if k == f {
			return true
		}
	}
	return false
}

// PreferenceFields accepted by SetPreference
var PreferenceFields = []string{
	preference.FieldTempMin, preference.FieldTempMax, preference.FieldCO2Threshold,
	preference.FieldHumidityMin, preference.FieldHumidityMax,
	preference.FieldSensitivityTemp, preference.FieldSensitivityCO2, preference.FieldSensitivityHumidity,
}
