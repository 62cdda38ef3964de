package sensor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisefido-ventilation/internal/models"
)

func TestLatestStore_UpdateAndCopy(t *testing.T) {
	s := NewLatestStore()

	r := s.Latest()
	assert.False(t, r.HasClimate())
	assert.Equal(t, models.SpeedOff, r.VentilationSpeed)

	s.UpdateEnvironment(models.IntPtr(850), models.FloatPtr(21.5), nil)
	s.UpdateEnvironment(nil, nil, models.FloatPtr(45))

	r = s.Latest()
	require.True(t, r.HasClimate())
	assert.Equal(t, 850, *r.CO2)
	assert.Equal(t, 21.5, *r.Temperature)
	assert.Equal(t, 45.0, *r.Humidity)

	// mutating the copy must not leak into the store
	*r.CO2 = 5000
	assert.Equal(t, 850, *s.Latest().CO2)

	s.ClearEnvironment()
	assert.False(t, s.Latest().HasClimate())
}

func TestLatestStore_Ventilation(t *testing.T) {
	s := NewLatestStore()

	s.SetVentilation(true, models.SpeedMedium)
	r := s.Latest()
	assert.True(t, r.VentilationOn)
	assert.Equal(t, models.SpeedMedium, r.VentilationSpeed)

	s.SetVentilation(false, models.SpeedMax)
	r = s.Latest()
	assert.False(t, r.VentilationOn)
	assert.Equal(t, models.SpeedOff, r.VentilationSpeed)

	s.SetOccupantCount(-3)
	assert.Equal(t, 0, s.Latest().OccupantCount)
}

func TestLatestStore_Concurrent(t *testing.T) {
	s := NewLatestStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.UpdateEnvironment(models.IntPtr(400+i), nil, nil)
			s.SetOccupantCount(i % 3)
			_ = s.Latest()
		}(i)
	}
	wg.Wait()
	assert.NotNil(t, s.Latest().CO2)
}
