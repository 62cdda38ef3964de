package simulation

import (
	"context"
	"math"
	"sync"
	"time"

	"wisefido-ventilation/internal/models"
)

// Params physical constants of the simulated home
type Params struct {
	Start time.Time
	Step  time.Duration

	Volume       float64 // m³
	OutdoorCO2   float64 // ppm
	InitialCO2   float64 // ppm
	CO2PerPerson float64 // m³/h exhaled CO2
	Infiltration float64 // air changes per hour with the fan off
	FanACH       map[models.FanSpeed]float64

	InitialTemp   float64
	Setpoint      float64 // heating setpoint, °C
	HeatingRate   float64 // 1/h coupling to the setpoint
	HeatPerPerson float64 // °C/h per occupant
	HeatRecovery  float64 // fraction of fan heat loss recovered
	OutdoorTemp   float64 // daily mean, °C
	OutdoorSwing  float64 // daily amplitude, peak at 15:00
	Humidity      float64
}

// DefaultParams a 60m³ flat with a heat-recovery unit
func DefaultParams() Params {
	return Params{
		Start:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Step:         5 * time.Minute,
		Volume:       60,
		OutdoorCO2:   420,
		InitialCO2:   600,
		CO2PerPerson: 0.018,
		Infiltration: 0.3,
		FanACH: map[models.FanSpeed]float64{
			models.SpeedLow:    1.0,
			models.SpeedMedium: 2.0,
			models.SpeedMax:    3.5,
		},
		InitialTemp:   21,
		Setpoint:      22,
		HeatingRate:   2.0,
		HeatPerPerson: 0.3,
		HeatRecovery:  0.8,
		OutdoorTemp:   8,
		OutdoorSwing:  4,
		Humidity:      45,
	}
}

// Room simulated air volume. Implements the controller's Driver and ReadingStore.
type Room struct {
	mu        sync.Mutex
	params    Params
	co2       float64
	temp      float64
	occupants int
	on        bool
	speed     models.FanSpeed
	switches  int
	updatedAt time.Time
}

func NewRoom(params Params) *Room {
	return &Room{
		params:    params,
		co2:       params.InitialCO2,
		temp:      params.InitialTemp,
		speed:     models.SpeedOff,
		updatedAt: params.Start,
	}
}

func (r *Room) Status() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

func (r *Room) Speed() models.FanSpeed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speed
}

// Control switches the simulated fan; fails only when ctx is done
func (r *Room) Control(ctx context.Context, on bool, speed models.FanSpeed) bool {
	if ctx.Err() != nil {
		return false
	}
	if !on {
		speed = models.SpeedOff
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.on != on || r.speed != speed {
		r.switches++
	}
	r.on, r.speed = on, speed
	return true
}

func (r *Room) Latest() models.SensorReading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return models.SensorReading{
		CO2:              models.IntPtr(int(math.Round(r.co2))),
		Temperature:      models.FloatPtr(math.Round(r.temp*10) / 10),
		Humidity:         models.FloatPtr(r.params.Humidity),
		OccupantCount:    r.occupants,
		VentilationOn:    r.on,
		VentilationSpeed: r.speed,
		UpdatedAt:        r.updatedAt,
	}
}

// SetVentilation no-op; Control already switched the fan
func (r *Room) SetVentilation(on bool, speed models.FanSpeed) {}

func (r *Room) SetOccupants(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.occupants = n
}

func (r *Room) CO2() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.co2
}

func (r *Room) Temperature() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.temp
}

// Switches number of fan state changes so far
func (r *Room) Switches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.switches
}

// Advance integrates the room over dt starting at at. Both CO2 and
// temperature are first-order systems, solved exactly for the interval.
func (r *Room) Advance(dt time.Duration, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.params
	hours := dt.Hours()
	fan := 0.0
	if r.on {
		fan = p.FanACH[r.speed]
	}
	n := float64(r.occupants)

	ach := p.Infiltration + fan
	gen := n * p.CO2PerPerson / p.Volume * 1e6
	co2Eq := p.OutdoorCO2 + gen/ach
	r.co2 = co2Eq + (r.co2-co2Eq)*math.Exp(-ach*hours)

	loss := p.Infiltration + fan*(1-p.HeatRecovery)
	k := p.HeatingRate + loss
	tEq := (p.HeatingRate*p.Setpoint + loss*outdoorTemp(p, at) + p.HeatPerPerson*n) / k
	r.temp = tEq + (r.temp-tEq)*math.Exp(-k*hours)

	r.updatedAt = at.Add(dt)
}

func outdoorTemp(p Params, at time.Time) float64 {
	h := float64(at.Hour()) + float64(at.Minute())/60
	return p.OutdoorTemp + p.OutdoorSwing*math.Cos(2*math.Pi*(h-15)/24)
}
