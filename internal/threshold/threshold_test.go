package threshold

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-ventilation/internal/controller"
	"wisefido-ventilation/internal/models"
	"wisefido-ventilation/internal/sensor"
	"wisefido-ventilation/internal/store"
)

type stubDriver struct {
	on    bool
	speed models.FanSpeed
	calls int
}

func (d *stubDriver) Status() bool            { return d.on }
func (d *stubDriver) Speed() models.FanSpeed { return d.speed }

func (d *stubDriver) Control(ctx context.Context, on bool, speed models.FanSpeed) bool {
	d.calls++
	d.on, d.speed = on, speed
	return true
}

func reading(co2, occupants int) models.SensorReading {
	return models.SensorReading{CO2: models.IntPtr(co2), OccupantCount: occupants}
}

func TestTarget(t *testing.T) {
	opts := DefaultOptions()
	tests := []struct {
		name string
		r    models.SensorReading
		want models.FanSpeed
	}{
		{"clean occupied", reading(700, 1), models.SpeedOff},
		{"low band", reading(800, 1), models.SpeedLow},
		{"medium band", reading(1100, 2), models.SpeedMedium},
		{"high band", reading(1200, 2), models.SpeedMax},
		{"empty shifts low band", reading(950, 0), models.SpeedOff},
		{"empty shifts medium band", reading(1150, 0), models.SpeedLow},
		{"empty shifts high band", reading(1399, 0), models.SpeedMedium},
		{"empty still maxes out", reading(1400, 0), models.SpeedMax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Target(tt.r, opts)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := Target(models.SensorReading{OccupantCount: 1}, opts)
	assert.False(t, ok)
}

type fixture struct {
	ctrl     *Controller
	driver   *stubDriver
	readings *sensor.LatestStore
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		driver:   &stubDriver{speed: models.SpeedOff},
		readings: sensor.NewLatestStore(),
		now:      time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC),
	}
	f.ctrl = New(context.Background(), DefaultOptions(), controller.Deps{
		Driver:   f.driver,
		Readings: f.readings,
		KV:       store.NewMemoryKV(),
	}, zap.NewNop())
	f.ctrl.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) co2(v, occupants int) {
	f.readings.UpdateEnvironment(models.IntPtr(v), nil, nil)
	f.readings.SetOccupantCount(occupants)
}

func TestController_MinimumDurations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.co2(1100, 1)
	d := f.ctrl.Step(ctx)
	require.Equal(t, models.SpeedMedium, d.Action)
	require.True(t, d.Changed)

	// speed changes while running are not held back
	f.now = f.now.Add(time.Minute)
	f.co2(900, 1)
	d = f.ctrl.Step(ctx)
	assert.Equal(t, models.SpeedLow, d.Action)
	assert.True(t, d.Changed)

	f.now = f.now.Add(5 * time.Minute)
	f.co2(600, 1)
	d = f.ctrl.Step(ctx)
	assert.Equal(t, ReasonMinOn, d.Reason)
	assert.True(t, f.driver.on)

	f.now = f.now.Add(5 * time.Minute)
	d = f.ctrl.Step(ctx)
	assert.Equal(t, models.SpeedOff, d.Action)
	assert.True(t, d.Changed)

	f.now = f.now.Add(2 * time.Minute)
	f.co2(1300, 1)
	d = f.ctrl.Step(ctx)
	assert.Equal(t, ReasonMinOff, d.Reason)
	assert.False(t, f.driver.on)

	f.now = f.now.Add(3 * time.Minute)
	d = f.ctrl.Step(ctx)
	assert.Equal(t, models.SpeedMax, d.Action)
	assert.Equal(t, 4, f.driver.calls)
}

func TestController_MinOnDurationCountsFromStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.co2(1100, 1)
	require.True(t, f.ctrl.Step(ctx).Changed)
	start := f.now

	f.now = start.Add(8 * time.Minute)
	f.co2(900, 1)
	d := f.ctrl.Step(ctx)
	require.Equal(t, models.SpeedLow, d.Action)
	require.True(t, d.Changed)

	// ten minutes after switching on, two after the speed change
	f.now = start.Add(10 * time.Minute)
	f.co2(600, 1)
	d = f.ctrl.Step(ctx)
	assert.Equal(t, models.SpeedOff, d.Action)
	assert.Equal(t, ReasonBand, d.Reason)
	assert.False(t, f.driver.on)
}

func TestController_NightForcesOff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.co2(1300, 1)
	f.ctrl.Step(ctx)
	require.True(t, f.driver.on)

	// no emergency path here, and the minimum on-duration is ignored
	f.now = time.Date(2024, 3, 4, 23, 0, 0, 0, time.UTC)
	f.ctrl.lastChange = f.now.Add(-time.Minute)
	f.co2(2500, 1)
	d := f.ctrl.Step(ctx)
	assert.Equal(t, models.SpeedOff, d.Action)
	assert.Equal(t, controller.ReasonNightMode, d.Reason)
	assert.False(t, f.driver.on)
}

func TestController_SkipsWithoutData(t *testing.T) {
	f := newFixture(t)
	f.readings.SetOccupantCount(1)

	d := f.ctrl.Step(context.Background())
	assert.Equal(t, controller.ReasonMissingData, d.Reason)
	assert.Zero(t, f.driver.calls)
}

func TestController_AutoModeAndNightSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ctrl.SetAutoMode(false)
	f.co2(1500, 1)
	d := f.ctrl.Step(ctx)
	assert.Equal(t, controller.ReasonAutoOff, d.Reason)
	assert.Zero(t, f.driver.calls)

	require.NoError(t, f.ctrl.SetNightHours(ctx, 21, 6))
	assert.Error(t, f.ctrl.SetNightHours(ctx, 6, 6))
	assert.Equal(t, 21, f.ctrl.NightMode().StartHour)

	st := f.ctrl.Status()
	assert.False(t, st.AutoMode)
	assert.Equal(t, 800.0, st.Thresholds.CO2Low)
	assert.Equal(t, profileFixed, st.Thresholds.Profile)
}
