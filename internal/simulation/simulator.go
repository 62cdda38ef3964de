package simulation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"wisefido-ventilation/internal/controller"
	"wisefido-ventilation/internal/models"
	"wisefido-ventilation/internal/store"
)

// Stepper controller entry point driven by simulated time
type Stepper interface {
	SimulateStep(ctx context.Context, now time.Time, explore bool) controller.Decision
}

// Report aggregate of one training or evaluation run
type Report struct {
	Steps           int                     `json:"steps"`
	Actions         map[models.FanSpeed]int `json:"actions"`
	Reasons         map[string]int          `json:"reasons"`
	Rewarded        int                     `json:"rewarded"`
	RewardSum       float64                 `json:"reward_sum"`
	OccupiedSteps   int                     `json:"occupied_steps"`
	MeanCO2Occupied float64                 `json:"mean_co2_occupied"`
	FanOnFraction   float64                 `json:"fan_on_fraction"`
	Switches        int                     `json:"switches"`
	End             time.Time               `json:"end"`
}

func (r Report) MeanReward() float64 {
	if r.Rewarded == 0 {
		return 0
	}
	return r.RewardSum / float64(r.Rewarded)
}

// Simulator advances a Room along a Schedule in fixed steps
type Simulator struct {
	params   Params
	room     *Room
	schedule Schedule
	now      time.Time
	logger   *zap.Logger
}

func New(params Params, schedule Schedule, logger *zap.Logger) (*Simulator, error) {
	if params.Step <= 0 {
		return nil, errors.New("simulation step must be positive")
	}
	if params.Volume <= 0 || params.Infiltration <= 0 {
		return nil, errors.New("room volume and infiltration must be positive")
	}
	if schedule == nil {
		schedule = DefaultSchedule()
	}
	return &Simulator{
		params:   params,
		room:     NewRoom(params),
		schedule: schedule,
		now:      params.Start,
		logger:   logger,
	}, nil
}

func (s *Simulator) Room() *Room     { return s.room }
func (s *Simulator) Now() time.Time { return s.now }

// NewController adaptive controller wired to the simulated room. kv receives
// the learned table; prefs may be nil.
func (s *Simulator) NewController(ctx context.Context, opts controller.Options, kv store.KV, prefs controller.PreferenceSource) *controller.Controller {
	return controller.New(ctx, opts, controller.Deps{
		Driver:      s.room,
		Readings:    s.room,
		Preferences: prefs,
		KV:          kv,
	}, s.logger.Named("controller"))
}

// Train runs steps cycles with exploration enabled
func (s *Simulator) Train(ctx context.Context, ctrl Stepper, steps int) (Report, error) {
	return s.run(ctx, ctrl, steps, true)
}

// Evaluate runs steps greedy cycles
func (s *Simulator) Evaluate(ctx context.Context, ctrl Stepper, steps int) (Report, error) {
	return s.run(ctx, ctrl, steps, false)
}

func (s *Simulator) run(ctx context.Context, ctrl Stepper, steps int, explore bool) (Report, error) {
	rep := Report{
		Actions: make(map[models.FanSpeed]int),
		Reasons: make(map[string]int),
	}
	switchesBefore := s.room.Switches()
	var co2Sum float64
	fanOn := 0

	var err error
	for i := 0; i < steps; i++ {
		if err = ctx.Err(); err != nil {
			break
		}
		n := s.schedule.Occupants(s.now)
		s.room.SetOccupants(n)

		d := ctrl.SimulateStep(ctx, s.now, explore)
		rep.Steps++
		rep.Actions[d.Action]++
		rep.Reasons[d.Reason]++
		if d.Reward != nil {
			rep.Rewarded++
			rep.RewardSum += *d.Reward
		}
		if n > 0 {
			rep.OccupiedSteps++
			co2Sum += s.room.CO2()
		}
		if s.room.Status() {
			fanOn++
		}

		s.room.Advance(s.params.Step, s.now)
		s.now = s.now.Add(s.params.Step)
	}

	if rep.OccupiedSteps > 0 {
		rep.MeanCO2Occupied = co2Sum / float64(rep.OccupiedSteps)
	}
	if rep.Steps > 0 {
		rep.FanOnFraction = float64(fanOn) / float64(rep.Steps)
	}
	rep.Switches = s.room.Switches() - switchesBefore
	rep.End = s.now

	s.logger.Info("Simulation run finished",
		zap.Bool("explore", explore),
		zap.Int("steps", rep.Steps),
		zap.Float64("mean_reward", rep.MeanReward()),
		zap.Float64("mean_co2_occupied", rep.MeanCO2Occupied),
		zap.Float64("fan_on_fraction", rep.FanOnFraction),
		zap.Int("switches", rep.Switches),
	)
	return rep, err
}
