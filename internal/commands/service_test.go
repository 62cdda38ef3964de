package commands

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-ventilation/internal/controller"
	"wisefido-ventilation/internal/models"
	"wisefido-ventilation/internal/occupancy"
	"wisefido-ventilation/internal/preference"
	"wisefido-ventilation/internal/presence"
	"wisefido-ventilation/internal/sensor"
	"wisefido-ventilation/internal/store"
)

type fakeVentilation struct {
	auto  bool
	night models.NightModeSettings
}

func (f *fakeVentilation) Status() controller.Status {
	return controller.Status{AutoMode: f.auto, Night: f.night}
}
func (f *fakeVentilation) SetAutoMode(on bool)                 { f.auto = on }
func (f *fakeVentilation) AutoMode() bool                      { return f.auto }
func (f *fakeVentilation) NightMode() models.NightModeSettings { return f.night }

func (f *fakeVentilation) SetNightHours(ctx context.Context, start, end int) error {
	if start < 0 || start > 23 || end < 0 || end > 23 || start == end {
		return errors.New("bad hours")
	}
	f.night.StartHour, f.night.EndHour = start, end
	return nil
}

func (f *fakeVentilation) SetNightModeEnabled(ctx context.Context, enabled bool) error {
	f.night.Enabled = enabled
	return nil
}

type recordedStatus struct {
	ts     time.Time
	status models.OccupancyStatus
}

type fakeOccupancy struct{ got []recordedStatus }

func (f *fakeOccupancy) RecordFeedback(ctx context.Context, ts time.Time, status models.OccupancyStatus) error {
	f.got = append(f.got, recordedStatus{ts, status})
	return nil
}

func (f *fakeOccupancy) Summary(now time.Time) occupancy.PatternSummary { return occupancy.PatternSummary{} }

type fixture struct {
	svc  *Service
	vent *fakeVentilation
	occ  *fakeOccupancy
	now  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	readings := sensor.NewLatestStore()
	readings.UpdateEnvironment(models.IntPtr(900), models.FloatPtr(25), models.FloatPtr(45))

	f := &fixture{
		vent: &fakeVentilation{auto: true, night: models.NightModeSettings{Enabled: true, StartHour: 23, EndHour: 7}},
		occ:  &fakeOccupancy{},
		now:  time.Date(2024, 3, 4, 20, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(Deps{
		Ventilation: f.vent,
		Readings:    readings,
		Preferences: preference.NewAggregator(ctx, store.NewMemoryKV(), zap.NewNop()),
		Occupancy:   f.occ,
		Presence:    presence.NewRegistry(ctx, nil, 15*time.Minute, zap.NewNop()),
	}, zap.NewNop())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func TestService_SetPreference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.SetPreference(ctx, "42", "Ana", "TEMP_MAX ", 23)
	require.NoError(t, err)
	assert.Equal(t, 23.0, p.TempMax)
	assert.Equal(t, 20.0, p.TempMin)
	assert.Equal(t, "Ana", p.DisplayName)

	_, err = f.svc.SetPreference(ctx, "42", "Ana", "fan_speed", 1)
	assert.ErrorIs(t, err, ErrUnknownField)

	_, err = f.svc.SetPreference(ctx, "42", "Ana", "temp_min", math.NaN())
	assert.ErrorIs(t, err, ErrInvalidValue)

	// out-of-range values are clamped, not rejected
	p, err = f.svc.SetPreference(ctx, "42", "Ana", "co2_threshold", 5000)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, p.CO2Threshold)
}

func TestService_Feedback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Feedback(ctx, "7", "Bo", "too_hot")
	require.NoError(t, err)
	assert.Equal(t, 23.5, p.TempMax)

	_, err = f.svc.Feedback(ctx, "7", "Bo", "meh")
	assert.ErrorIs(t, err, ErrUnknownFeedback)

	rep := f.svc.Status()
	require.NotNil(t, rep.Compromise)
	assert.Equal(t, 1, rep.Compromise.UserCount)
	assert.Equal(t, 23.5, rep.Compromise.TempMax)
}

func TestService_ConfirmOccupancy(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.ConfirmOccupancy(context.Background(), true))
	require.NoError(t, f.svc.ConfirmOccupancy(context.Background(), false))

	require.Len(t, f.occ.got, 2)
	assert.Equal(t, models.StatusUserConfirmedHome, f.occ.got[0].status)
	assert.Equal(t, models.StatusUserConfirmedAway, f.occ.got[1].status)
	assert.Equal(t, f.now, f.occ.got[0].ts)
}

func TestService_NightPromptLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CompleteNightPrompt(ctx, 1, 22)
	assert.ErrorIs(t, err, ErrNoPrompt)

	f.svc.BeginNightPrompt(1, NightStart)
	field, ok := f.svc.PendingNightPrompt(1)
	require.True(t, ok)
	assert.Equal(t, NightStart, field)

	// rejected hour keeps the prompt open
	_, err = f.svc.CompleteNightPrompt(ctx, 1, 7)
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, ok = f.svc.PendingNightPrompt(1)
	assert.True(t, ok)

	nm, err := f.svc.CompleteNightPrompt(ctx, 1, 22)
	require.NoError(t, err)
	assert.Equal(t, 22, nm.StartHour)
	assert.Equal(t, 7, nm.EndHour)
	_, ok = f.svc.PendingNightPrompt(1)
	assert.False(t, ok)

	f.svc.BeginNightPrompt(2, NightEnd)
	assert.True(t, f.svc.CancelNightPrompt(2))
	assert.False(t, f.svc.CancelNightPrompt(2))
}

func TestService_NightPromptExpires(t *testing.T) {
	f := newFixture(t)
	f.svc.BeginNightPrompt(1, NightEnd)

	f.now = f.now.Add(promptTTL + time.Second)
	_, ok := f.svc.PendingNightPrompt(1)
	assert.False(t, ok)
}

func TestService_Enrollment(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.svc.BeginEnrollment("  "), ErrInvalidValue)
	require.NoError(t, f.svc.BeginEnrollment("carla"))
	assert.ErrorIs(t, f.svc.BeginEnrollment("dan"), presence.ErrEnrollmentActive)

	rep, err := f.svc.Devices()
	require.NoError(t, err)
	assert.Equal(t, "carla", rep.Enrolling)

	assert.True(t, f.svc.CancelEnrollment())
}

func TestService_MissingComponents(t *testing.T) {
	svc := NewService(Deps{Ventilation: &fakeVentilation{}, Readings: sensor.NewLatestStore()}, zap.NewNop())
	ctx := context.Background()

	_, err := svc.SetPreference(ctx, "1", "x", "temp_min", 20)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, svc.ConfirmOccupancy(ctx, true), ErrUnavailable)
	_, err = svc.SleepPatterns()
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Nil(t, svc.Status().Compromise)
}
