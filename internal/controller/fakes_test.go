package controller

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"wisefido-ventilation/internal/models"
	"wisefido-ventilation/internal/sensor"
	"wisefido-ventilation/internal/store"
)

type fakeDriver struct {
	on    bool
	speed models.FanSpeed
	fail  bool
	calls int
}

func newFakeDriver() *fakeDriver { return &fakeDriver{speed: models.SpeedOff} }

func (d *fakeDriver) Status() bool            { return d.on }
func (d *fakeDriver) Speed() models.FanSpeed { return d.speed }

func (d *fakeDriver) Control(ctx context.Context, on bool, speed models.FanSpeed) bool {
	d.calls++
	if d.fail {
		return false
	}
	d.on = on
	d.speed = speed
	if !on {
		d.speed = models.SpeedOff
	}
	return true
}

// fakeRand replays queued values, then falls back to def / 0
type fakeRand struct {
	floats []float64
	ints   []int
	def    float64
}

func (r *fakeRand) Float64() float64 {
	if len(r.floats) == 0 {
		return r.def
	}
	v := r.floats[0]
	r.floats = r.floats[1:]
	return v
}

func (r *fakeRand) Intn(n int) int {
	if len(r.ints) == 0 {
		return 0
	}
	v := r.ints[0]
	r.ints = r.ints[1:]
	return v % n
}

type fakeForecaster struct {
	emptyFor time.Duration
	ret      time.Time
	hasRet   bool
}

func (f *fakeForecaster) ExpectedEmptyDuration(now time.Time) time.Duration { return f.emptyFor }

func (f *fakeForecaster) NextExpectedReturnTime(now time.Time) (time.Time, bool) {
	return f.ret, f.hasRet
}

type fakePrefs struct{ cp models.CompromisePreference }

func (f fakePrefs) CompromiseAll() models.CompromisePreference { return f.cp }

type harness struct {
	ctrl     *Controller
	driver   *fakeDriver
	readings *sensor.LatestStore
	rng      *fakeRand
	kv       *store.MemoryKV
}

// Monday 2024-03-04 14:00, a "day" hour outside the night window
var afternoon = time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, opts Options, deps Deps) *harness {
	t.Helper()
	h := &harness{
		driver:   newFakeDriver(),
		readings: sensor.NewLatestStore(),
		rng:      &fakeRand{def: 0.99},
		kv:       store.NewMemoryKV(),
	}
	deps.Driver = h.driver
	deps.Readings = h.readings
	if deps.KV == nil {
		deps.KV = h.kv
	}
	h.ctrl = New(context.Background(), opts, deps, zap.NewNop())
	h.ctrl.rng = h.rng
	h.ctrl.now = func() time.Time { return afternoon }
	return h
}

func (h *harness) set(co2 int, temp float64, occupants int) {
	h.readings.UpdateEnvironment(models.IntPtr(co2), models.FloatPtr(temp), nil)
	h.readings.SetOccupantCount(occupants)
}
