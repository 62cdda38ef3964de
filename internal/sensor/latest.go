package sensor

import (
	"sync"
	"time"

	"wisefido-ventilation/internal/models"
)

// LatestStore holds the most recent sensor snapshot shared by all workers
type LatestStore struct {
	mu      sync.Mutex
	reading models.SensorReading
	now     func() time.Time
}

// NewLatestStore starts with no climate values, fan off
func NewLatestStore() *LatestStore {
	return &LatestStore{
		reading: models.SensorReading{VentilationSpeed: models.SpeedOff},
		now:     time.Now,
	}
}

// Latest returns a deep copy
func (s *LatestStore) Latest() models.SensorReading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.reading)
}

// UpdateEnvironment sets climate values; nil leaves the previous value untouched
func (s *LatestStore) UpdateEnvironment(co2 *int, temperature, humidity *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if co2 != nil {
		s.reading.CO2 = models.IntPtr(*co2)
	}
	if temperature != nil {
		s.reading.Temperature = models.FloatPtr(*temperature)
	}
	if humidity != nil {
		s.reading.Humidity = models.FloatPtr(*humidity)
	}
	s.reading.UpdatedAt = s.now()
}

// ClearEnvironment drops all climate values, e.g. after the sensor went stale
func (s *LatestStore) ClearEnvironment() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading.CO2 = nil
	s.reading.Temperature = nil
	s.reading.Humidity = nil
}

func (s *LatestStore) SetOccupantCount(n int) {
	if n < 0 {
		n = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading.OccupantCount = n
}

func (s *LatestStore) SetVentilation(on bool, speed models.FanSpeed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !on {
		speed = models.SpeedOff
	}
	s.reading.VentilationOn = on
	s.reading.VentilationSpeed = speed
}

func clone(r models.SensorReading) models.SensorReading {
	out := r
	if r.CO2 != nil {
		out.CO2 = models.IntPtr(*r.CO2)
	}
	if r.Temperature != nil {
		out.Temperature = models.FloatPtr(*r.Temperature)
	}
	if r.Humidity != nil {
		out.Humidity = models.FloatPtr(*r.Humidity)
	}
	return out
}
