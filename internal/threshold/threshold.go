// Package threshold is the non-learning fallback: fixed CO2 bands with
// minimum on/off durations.
package threshold

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wisefido-ventilation/internal/controller"
	"wisefido-ventilation/internal/models"
	"wisefido-ventilation/internal/store"

	"go.uber.org/zap"
)

const (
	ReasonBand    = "co2_band"
	ReasonMinOn   = "min_on_duration"
	ReasonMinOff  = "min_off_duration"
	profileFixed  = "fixed_bands"
	profileOffset = "fixed_bands_empty"
)

type Options struct {
	Interval       time.Duration
	CO2Low         int
	CO2Medium      int
	CO2High        int
	EmptyOffset    int // added to every boundary when nobody is home
	MinOnDuration  time.Duration
	MinOffDuration time.Duration
	Night          models.NightModeSettings
}

func DefaultOptions() Options {
	return Options{
		Interval:       60 * time.Second,
		CO2Low:         800,
		CO2Medium:      1000,
		CO2High:        1200,
		EmptyOffset:    200,
		MinOnDuration:  600 * time.Second,
		MinOffDuration: 300 * time.Second,
		Night:          models.NightModeSettings{Enabled: true, StartHour: 23, EndHour: 7},
	}
}

// Target speed for a reading; false when CO2 is missing
func Target(r models.SensorReading, opts Options) (models.FanSpeed, bool) {
	if r.CO2 == nil {
		return models.SpeedOff, false
	}
	offset := 0
	if r.OccupantCount == 0 {
		offset = opts.EmptyOffset
	}
	co2 := *r.CO2
	switch {
	case co2 < opts.CO2Low+offset:
		return models.SpeedOff, true
	case co2 < opts.CO2Medium+offset:
		return models.SpeedLow, true
	case co2 < opts.CO2High+offset:
		return models.SpeedMedium, true
	default:
		return models.SpeedMax, true
	}
}

// Controller drives the same hardware contract as the adaptive controller but keeps no learned state
type Controller struct {
	mu   sync.Mutex
	opts Options

	night        models.NightModeSettings
	autoMode     bool
	lastAction   models.FanSpeed
	lastChange   time.Time
	onSince      time.Time // last off -> on transition; zero while off
	lastDecision controller.Decision

	driver   controller.Driver
	readings controller.ReadingStore
	kv       store.KV
	observer controller.Observer
	logger   *zap.Logger
	now      func() time.Time
}

// New uses Driver, Readings, KV and Observer from deps
func New(ctx context.Context, opts Options, deps controller.Deps, logger *zap.Logger) *Controller {
	c := &Controller{
		opts:       opts,
		night:      opts.Night,
		autoMode:   true,
		lastAction: models.SpeedOff,
		driver:     deps.Driver,
		readings:   deps.Readings,
		kv:         deps.KV,
		observer:   deps.Observer,
		logger:     logger,
		now:        time.Now,
	}
	if c.driver != nil && c.driver.Status() {
		c.lastAction = c.driver.Speed()
	}
	if c.kv != nil {
		var nm models.NightModeSettings
		if err := store.GetJSON(ctx, c.kv, store.KeyNightMode, &nm); err == nil {
			c.night = nm
		} else if !errors.Is(err, store.ErrMiss) {
			logger.Warn("Failed to load night mode settings, using defaults", zap.Error(err))
		}
	}
	return c
}

// Run polls until ctx is cancelled
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("Threshold controller started",
		zap.Duration("interval", c.opts.Interval),
		zap.Int("co2_low", c.opts.CO2Low),
		zap.Int("co2_medium", c.opts.CO2Medium),
		zap.Int("co2_high", c.opts.CO2High),
	)

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	c.Step(ctx)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Threshold controller stopped")
			return nil
		case <-ticker.C:
			c.Step(ctx)
		}
	}
}

// Step runs one cycle at the current time
func (c *Controller) Step(ctx context.Context) controller.Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	d := c.decide(ctx, now)
	d.Time = now
	c.lastDecision = d
	if c.observer != nil {
		c.observer.ObserveDecision(d.Action, d.Reason)
	}
	return d
}

func (c *Controller) decide(ctx context.Context, now time.Time) controller.Decision {
	reading := c.readings.Latest()
	if c.observer != nil {
		c.observer.ObserveReading(reading)
	}

	if !c.autoMode {
		return controller.Decision{Action: c.lastAction, Reason: controller.ReasonAutoOff}
	}

	var target models.FanSpeed
	reason := ReasonBand
	if c.night.Active(now) {
		target, reason = models.SpeedOff, controller.ReasonNightMode
	} else {
		var ok bool
		target, ok = Target(reading, c.opts)
		if !ok {
			c.logger.Warn("CO2 reading missing, skipping cycle")
			return controller.Decision{Action: c.lastAction, Reason: controller.ReasonMissingData}
		}

		running := c.driver.Status()
		if running && !target.IsOn() && !c.onSince.IsZero() && now.Sub(c.onSince) < c.opts.MinOnDuration {
			return controller.Decision{Action: c.lastAction, Reason: ReasonMinOn}
		}
		if !running && target.IsOn() && !c.lastChange.IsZero() && now.Sub(c.lastChange) < c.opts.MinOffDuration {
			return controller.Decision{Action: c.lastAction, Reason: ReasonMinOff}
		}
	}

	d := controller.Decision{Action: target, Reason: reason}
	on := target.IsOn()
	if c.driver.Status() == on && (!on || c.driver.Speed() == target) {
		c.lastAction = target
		d.Executed = true
		return d
	}
	wasOn := c.driver.Status()
	if !c.driver.Control(ctx, on, target) {
		c.logger.Error("Ventilation command failed", zap.String("action", string(target)))
		d.Reason = controller.ReasonHardwareFailure
		return d
	}
	c.readings.SetVentilation(on, target)
	c.logger.Info("Ventilation changed",
		zap.String("from", string(c.lastAction)),
		zap.String("to", string(target)),
		zap.String("reason", reason),
	)
	c.lastAction = target
	c.lastChange = now
	switch {
	case !on:
		c.onSince = time.Time{}
	case !wasOn:
		c.onSince = now
	}
	d.Executed, d.Changed = true, true
	return d
}

func (c *Controller) SetAutoMode(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoMode = on
	c.logger.Info("Auto mode changed", zap.Bool("enabled", on))
}

func (c *Controller) AutoMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoMode
}

func (c *Controller) NightMode() models.NightModeSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.night
}

func (c *Controller) SetNightHours(ctx context.Context, start, end int) error {
	if start < 0 || start > 23 || end < 0 || end > 23 {
		return fmt.Errorf("night hours must be within 0-23, got %d-%d", start, end)
	}
	if start == end {
		return fmt.Errorf("night start and end must differ")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.night.StartHour, c.night.EndHour = start, end
	c.persistNightLocked(ctx)
	return nil
}

func (c *Controller) SetNightModeEnabled(ctx context.Context, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.night.Enabled = enabled
	c.persistNightLocked(ctx)
	return nil
}

func (c *Controller) persistNightLocked(ctx context.Context) {
	if c.kv == nil {
		return
	}
	if err := store.SetJSON(ctx, c.kv, store.KeyNightMode, c.night); err != nil {
		c.logger.Error("Failed to persist night mode", zap.Error(err))
	}
}

// Status reports in the adaptive controller's shape; learning fields stay zero
func (c *Controller) Status() controller.Status {
	reading := c.readings.Latest()

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	profile := profileFixed
	offset := 0
	if reading.OccupantCount == 0 {
		profile, offset = profileOffset, c.opts.EmptyOffset
	}
	return controller.Status{
		AutoMode:    c.autoMode,
		State:       profile,
		LastAction:  c.lastAction,
		LastChange:  c.lastChange,
		Night:       c.night,
		NightActive: c.night.Active(now),
		Thresholds: controller.Thresholds{
			CO2Low:    float64(c.opts.CO2Low + offset),
			CO2Medium: float64(c.opts.CO2Medium + offset),
			Profile:   profile,
		},
		LastDecision: c.lastDecision,
		Reading:      reading,
	}
}
