package controller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"wisefido-ventilation/internal/models"
	"wisefido-ventilation/internal/store"

	"go.uber.org/zap"
)

// Decision reasons
const (
	ReasonAutoOff         = "auto_mode_off"
	ReasonNightMode       = "night_mode"
	ReasonEmergency       = "emergency_co2"
	ReasonEmergencyEnd    = "emergency_end"
	ReasonMissingData     = "missing_data"
	ReasonMinInterval     = "min_interval"
	ReasonPreArrival      = "pre_arrival"
	ReasonExploreRandom   = "explore_random"
	ReasonExploreUntried  = "explore_untried"
	ReasonExploit         = "exploit"
	ReasonDefaultOff      = "unknown_state"
	ReasonHardwareFailure = "hardware_failure"
)

const untriedProbability = 0.3

// Driver ventilation hardware
type Driver interface {
	Status() bool
	Speed() models.FanSpeed
	Control(ctx context.Context, on bool, speed models.FanSpeed) bool
}

// ReadingStore latest sensor snapshot; the controller writes back the ventilation state
type ReadingStore interface {
	Latest() models.SensorReading
	SetVentilation(on bool, speed models.FanSpeed)
}

// Observer receives decision telemetry
type Observer interface {
	ObserveReading(r models.SensorReading)
	ObserveDecision(action models.FanSpeed, reason string)
	ObserveReward(r float64)
	ObserveRates(exploration, learning float64)
	ObserveEmergency()
}

type nopObserver struct{}

func (nopObserver) ObserveReading(models.SensorReading) {}
func (nopObserver) ObserveDecision(models.FanSpeed, string) {}
func (nopObserver) ObserveReward(float64) {}
func (nopObserver) ObserveRates(float64, float64) {}
func (nopObserver) ObserveEmergency() {}

type randSource interface {
	Float64() float64
	Intn(n int) int
}

// Options tuning parameters
type Options struct {
	Interval          time.Duration
	MinActionInterval time.Duration

	LearningRate       float64
	DiscountFactor     float64
	ExplorationRate    float64
	ExplorationDecay   float64
	LearningRateDecay  float64
	MinExplorationRate float64
	MinLearningRate    float64

	PersistProbability    float64 // live loop
	SimPersistProbability float64 // SimulateStep

	CriticalCO2           int
	EmergencyPollInterval time.Duration
	EmergencyMaxCycles    int

	Night models.NightModeSettings

	LongEmptyDuration time.Duration // "very energy saving" above this
	ReturnSoonWindow  time.Duration // "prepare for return" within this
	PreArrivalMin     time.Duration
	PreArrivalMax     time.Duration
}

// DefaultOptions production defaults
func DefaultOptions() Options {
	return Options{
		Interval:              60 * time.Second,
		MinActionInterval:     240 * time.Second,
		LearningRate:          0.1,
		DiscountFactor:        0.95,
		ExplorationRate:       0.3,
		ExplorationDecay:      0.99975,
		LearningRateDecay:     0.99,
		MinExplorationRate:    0.1,
		MinLearningRate:       0.01,
		PersistProbability:    0.02,
		SimPersistProbability: 0.1,
		CriticalCO2:           1600,
		EmergencyPollInterval: 30 * time.Second,
		EmergencyMaxCycles:    20,
		Night:                 models.NightModeSettings{Enabled: true, StartHour: 23, EndHour: 7},
		LongEmptyDuration:     3 * time.Hour,
		ReturnSoonWindow:      time.Hour,
		PreArrivalMin:         30 * time.Minute,
		PreArrivalMax:         60 * time.Minute,
	}
}

// Deps collaborators; Preferences, Forecaster, KV and Observer are optional
type Deps struct {
	Driver      Driver
	Readings    ReadingStore
	Preferences PreferenceSource
	Forecaster  Forecaster
	KV          store.KV
	Observer    Observer
}

// Decision outcome of one cycle
type Decision struct {
	Time     time.Time       `json:"time"`
	Action   models.FanSpeed `json:"action"`
	Reason   string          `json:"reason"`
	State    string          `json:"state"`
	Executed bool            `json:"executed"`
	Changed  bool            `json:"changed"`
	Reward   *float64        `json:"reward,omitempty"`
}

// Controller Q-learning ventilation controller with rule-based overrides
type Controller struct {
	mu   sync.Mutex
	opts Options

	table           *QTable
	explorationRate float64
	learningRate    float64
	night           models.NightModeSettings
	autoMode        bool

	currentState   StateKey
	prevState      StateKey
	prevAction     models.FanSpeed
	lastAction     models.FanSpeed
	lastChange     time.Time
	lastReward     *float64
	lastThresholds Thresholds
	lastDecision   Decision

	emergency       bool
	emergencyCycles int

	driver     Driver
	readings   ReadingStore
	prefs      PreferenceSource
	forecaster Forecaster
	kv         store.KV
	observer   Observer
	logger     *zap.Logger
	rng        randSource
	now        func() time.Time
}

// New builds a controller and loads the value table and night-mode settings from the KV store
func New(ctx context.Context, opts Options, deps Deps, logger *zap.Logger) *Controller {
	c := &Controller{
		opts:            opts,
		table:           NewQTable(),
		explorationRate: opts.ExplorationRate,
		learningRate:    opts.LearningRate,
		night:           opts.Night,
		autoMode:        true,
		lastAction:      models.SpeedOff,
		lastThresholds:  defaultThresholds,
		driver:          deps.Driver,
		readings:        deps.Readings,
		prefs:           deps.Preferences,
		forecaster:      deps.Forecaster,
		kv:              deps.KV,
		observer:        deps.Observer,
		logger:          logger,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		now:             time.Now,
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	if deps.Driver != nil && deps.Driver.Status() {
		c.lastAction = deps.Driver.Speed()
	}
	c.load(ctx)
	return c
}

func (c *Controller) load(ctx context.Context) {
	if c.kv == nil {
		return
	}
	if err := store.GetJSON(ctx, c.kv, store.KeyQTable, c.table); err != nil {
		c.table = NewQTable()
		if !errors.Is(err, store.ErrMiss) {
			c.logger.Warn("Failed to load Q-table, starting empty", zap.Error(err))
		}
	}

	var nm models.NightModeSettings
	if err := store.GetJSON(ctx, c.kv, store.KeyNightMode, &nm); err != nil {
		if !errors.Is(err, store.ErrMiss) {
			c.logger.Warn("Failed to load night mode settings, using defaults", zap.Error(err))
		}
	} else if validHour(nm.StartHour) && validHour(nm.EndHour) {
		c.night = nm
	}

	c.logger.Info("Controller state loaded",
		zap.Int("states", c.table.Len()),
		zap.Bool("night_enabled", c.night.Enabled),
		zap.Int("night_start", c.night.StartHour),
		zap.Int("night_end", c.night.EndHour),
	)
}

func validHour(h int) bool { return h >= 0 && h <= 23 }

// Run drives Step until ctx is cancelled. While an emergency is active the
// loop polls at the emergency interval.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("Ventilation controller started",
		zap.Duration("interval", c.opts.Interval),
		zap.Duration("min_action_interval", c.opts.MinActionInterval),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := c.PersistTable(context.Background()); err != nil {
				c.logger.Error("Failed to persist Q-table on shutdown", zap.Error(err))
			}
			c.logger.Info("Ventilation controller stopped")
			return nil
		case <-timer.C:
			c.Step(ctx)
			timer.Reset(c.nextInterval())
		}
	}
}

func (c *Controller) nextInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emergency && c.opts.EmergencyPollInterval > 0 {
		return c.opts.EmergencyPollInterval
	}
	return c.opts.Interval
}

// Step runs one live control cycle
func (c *Controller) Step(ctx context.Context) Decision {
	return c.cycle(ctx, c.now(), true, false)
}

// SimulateStep runs one cycle at a simulated time. With explore set the
// policy explores and rates decay once per call; otherwise it acts greedily.
func (c *Controller) SimulateStep(ctx context.Context, now time.Time, explore bool) Decision {
	return c.cycle(ctx, now, explore, true)
}

func (c *Controller) cycle(ctx context.Context, now time.Time, explore, simulate bool) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, learned := c.decide(ctx, now, explore, simulate)
	d.Time = now
	c.lastDecision = d
	c.observer.ObserveDecision(d.Action, d.Reason)

	if (simulate && explore) || (!simulate && learned) {
		c.decayRates()
	}
	return d
}

func (c *Controller) decide(ctx context.Context, now time.Time, explore, simulate bool) (Decision, bool) {
	reading := c.readings.Latest()
	c.observer.ObserveReading(reading)

	if !c.autoMode {
		c.clearTransition()
		return Decision{Action: c.lastAction, Reason: ReasonAutoOff}, false
	}

	if c.night.Active(now) {
		c.clearTransition()
		return c.nightCycle(ctx, now, reading), false
	}
	if c.emergency {
		c.emergency = false
		c.emergencyCycles = 0
	}

	th := c.targetThresholds(reading.OccupantCount, now)
	c.lastThresholds = th
	state, ok := evaluateState(reading, th, now)
	if !ok {
		c.currentState = UnknownState
		c.logger.Warn("Sensor data missing, skipping cycle",
			zap.Bool("co2_present", reading.CO2 != nil),
			zap.Bool("temperature_present", reading.Temperature != nil),
		)
		return Decision{Action: c.lastAction, Reason: ReasonMissingData}, false
	}
	c.currentState = state

	if !c.lastChange.IsZero() && now.Sub(c.lastChange) < c.opts.MinActionInterval {
		return Decision{Action: c.lastAction, Reason: ReasonMinInterval, State: state.String()}, false
	}

	action, reason := c.preArrival(now, reading, th)
	if action == "" {
		action, reason = c.selectAction(state, explore)
	}

	d := Decision{Action: action, Reason: reason, State: state.String()}
	executed, changed := c.execute(ctx, action, now)
	if !executed {
		d.Reason = ReasonHardwareFailure
		return d, false
	}
	d.Executed, d.Changed = true, changed

	if c.prevState.Known() {
		r := Reward(c.prevState, c.prevAction, state, reading, th)
		c.updateQ(c.prevState, c.prevAction, r, state)
		c.lastReward = &r
		d.Reward = &r
		c.observer.ObserveReward(r)

		p := c.opts.PersistProbability
		if simulate {
			p = c.opts.SimPersistProbability
		}
		if c.rng.Float64() < p {
			c.persistTableLocked(ctx)
		}
	}
	c.prevState, c.prevAction = state, action

	c.logger.Debug("Ventilation decision",
		zap.String("state", d.State),
		zap.String("action", string(action)),
		zap.String("reason", reason),
		zap.Bool("changed", changed),
	)
	return d, true
}

func (c *Controller) clearTransition() {
	c.prevState = UnknownState
	c.prevAction = ""
}

// nightCycle forces OFF unless CO2 reaches the critical level, in which case
// MEDIUM runs until CO2 is 100ppm below critical or the cycle budget is spent
func (c *Controller) nightCycle(ctx context.Context, now time.Time, reading models.SensorReading) Decision {
	critical := c.opts.CriticalCO2

	if c.emergency {
		c.emergencyCycles++
		recovered := reading.CO2 != nil && *reading.CO2 < critical-100
		if recovered || c.emergencyCycles >= c.opts.EmergencyMaxCycles {
			c.emergency = false
			c.logger.Info("Emergency ventilation ended, resuming night mode",
				zap.Bool("recovered", recovered),
				zap.Int("cycles", c.emergencyCycles),
			)
			executed, changed := c.execute(ctx, models.SpeedOff, now)
			return Decision{Action: models.SpeedOff, Reason: ReasonEmergencyEnd, Executed: executed, Changed: changed}
		}
		executed, changed := c.execute(ctx, models.SpeedMedium, now)
		return Decision{Action: models.SpeedMedium, Reason: ReasonEmergency, Executed: executed, Changed: changed}
	}

	if reading.CO2 != nil && *reading.CO2 >= critical {
		c.emergency = true
		c.emergencyCycles = 0
		c.observer.ObserveEmergency()
		c.logger.Warn("Emergency activation: critical CO2 during night mode",
			zap.Int("co2", *reading.CO2),
			zap.Int("critical", critical),
		)
		executed, changed := c.execute(ctx, models.SpeedMedium, now)
		return Decision{Action: models.SpeedMedium, Reason: ReasonEmergency, Executed: executed, Changed: changed}
	}

	executed, changed := c.execute(ctx, models.SpeedOff, now)
	return Decision{Action: models.SpeedOff, Reason: ReasonNightMode, Executed: executed, Changed: changed}
}

// preArrival forces MEDIUM when a return is due in the pre-arrival window and
// CO2 is above the medium boundary with the fan off or on low
func (c *Controller) preArrival(now time.Time, reading models.SensorReading, th Thresholds) (models.FanSpeed, string) {
	if c.forecaster == nil || reading.CO2 == nil {
		return "", ""
	}
	ret, ok := c.forecaster.NextExpectedReturnTime(now)
	if !ok {
		return "", ""
	}
	until := ret.Sub(now)
	if until < c.opts.PreArrivalMin || until > c.opts.PreArrivalMax {
		return "", ""
	}
	if float64(*reading.CO2) <= th.CO2Medium {
		return "", ""
	}
	if c.lastAction != models.SpeedOff && c.lastAction != models.SpeedLow {
		return "", ""
	}
	c.logger.Info("Pre-arrival ventilation",
		zap.Duration("until_return", until),
		zap.Int("co2", *reading.CO2),
	)
	return models.SpeedMedium, ReasonPreArrival
}

// selectAction epsilon-greedy with forced exploration of untried actions
func (c *Controller) selectAction(state StateKey, explore bool) (models.FanSpeed, string) {
	if explore && c.rng.Float64() < c.explorationRate {
		return models.AllSpeeds[c.rng.Intn(len(models.AllSpeeds))], ReasonExploreRandom
	}

	row := c.table.Recorded(state)
	if explore && len(row) < len(models.AllSpeeds) && c.rng.Float64() < untriedProbability {
		var untried []models.FanSpeed
		for _, a := range models.AllSpeeds {
			if _, ok := row[a]; !ok {
				untried = append(untried, a)
			}
		}
		return untried[c.rng.Intn(len(untried))], ReasonExploreUntried
	}

	if len(row) == 0 {
		return models.SpeedOff, ReasonDefaultOff
	}
	var best []models.FanSpeed
	bestValue := math.Inf(-1)
	for _, a := range models.AllSpeeds {
		v, ok := row[a]
		if !ok {
			continue
		}
		switch {
		case v > bestValue:
			best, bestValue = []models.FanSpeed{a}, v
		case v == bestValue:
			best = append(best, a)
		}
	}
	return best[c.rng.Intn(len(best))], ReasonExploit
}

// execute returns executed=false only on hardware failure; an action matching
// the current hardware state is a successful no-op
func (c *Controller) execute(ctx context.Context, action models.FanSpeed, now time.Time) (executed, changed bool) {
	on := action.IsOn()
	if c.driver.Status() == on && (!on || c.driver.Speed() == action) {
		c.lastAction = action
		return true, false
	}
	if !c.driver.Control(ctx, on, action) {
		c.logger.Error("Ventilation command failed",
			zap.String("action", string(action)),
		)
		return false, false
	}
	c.readings.SetVentilation(on, action)
	c.logger.Info("Ventilation changed",
		zap.String("from", string(c.lastAction)),
		zap.String("to", string(action)),
	)
	c.lastAction = action
	c.lastChange = now
	return true, true
}

// updateQ Q(s,a) += lr * (r + gamma*max Q(s') - Q(s,a)); returns the new value
func (c *Controller) updateQ(s StateKey, a models.FanSpeed, r float64, next StateKey) float64 {
	old := c.table.Get(s, a)
	target := r + c.opts.DiscountFactor*c.table.MaxValue(next)
	v := old + c.learningRate*(target-old)
	c.table.Set(s, a, v)
	return v
}

func (c *Controller) decayRates() {
	c.explorationRate = math.Max(c.opts.MinExplorationRate, c.explorationRate*c.opts.ExplorationDecay)
	c.learningRate = math.Max(c.opts.MinLearningRate, c.learningRate*c.opts.LearningRateDecay)
	c.observer.ObserveRates(c.explorationRate, c.learningRate)
}

// PersistTable writes the value table to the KV store
func (c *Controller) PersistTable(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kv == nil {
		return nil
	}
	return store.SetJSON(ctx, c.kv, store.KeyQTable, c.table)
}

func (c *Controller) persistTableLocked(ctx context.Context) {
	if c.kv == nil {
		return
	}
	if err := store.SetJSON(ctx, c.kv, store.KeyQTable, c.table); err != nil {
		c.logger.Error("Failed to persist Q-table", zap.Error(err))
	}
}

// SetAutoMode enables or disables automatic control
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

// NightMode current night-mode settings
func (c *Controller) NightMode() models.NightModeSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.night
}

// SetNightHours changes the night window and persists it
func (c *Controller) SetNightHours(ctx context.Context, start, end int) error {
	if !validHour(start) || !validHour(end) {
		return fmt.Errorf("night hours must be within 0-23, got %d-%d", start, end)
	}
	if start == end {
		return fmt.Errorf("night start and end must differ")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.night.StartHour, c.night.EndHour = start, end
	return c.persistNightLocked(ctx)
}

// SetNightModeEnabled toggles night mode and persists it
func (c *Controller) SetNightModeEnabled(ctx context.Context, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.night.Enabled = enabled
	return c.persistNightLocked(ctx)
}

func (c *Controller) persistNightLocked(ctx context.Context) error {
	c.logger.Info("Night mode updated",
		zap.Bool("enabled", c.night.Enabled),
		zap.Int("start_hour", c.night.StartHour),
		zap.Int("end_hour", c.night.EndHour),
	)
	if c.kv == nil {
		return nil
	}
	if err := store.SetJSON(ctx, c.kv, store.KeyNightMode, c.night); err != nil {
		c.logger.Error("Failed to persist night mode", zap.Error(err))
	}
	return nil
}
