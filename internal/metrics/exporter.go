// Package metrics exports controller and analyzer telemetry in Prometheus format.
package metrics

import (
	"net/http"

	"wisefido-ventilation/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wisefido"

// Exporter private-registry exporter; satisfies controller.Observer
type Exporter struct {
	registry *prometheus.Registry

	co2         prometheus.Gauge
	temperature prometheus.Gauge
	humidity    prometheus.Gauge
	occupants   prometheus.Gauge
	fanSpeed    prometheus.Gauge

	decisions   *prometheus.CounterVec
	reward      prometheus.Histogram
	exploration prometheus.Gauge
	learning    prometheus.Gauge
	emergencies prometheus.Counter
	sleepEvents *prometheus.CounterVec
}

var speedLevel = map[models.FanSpeed]float64{
	models.SpeedOff:    0,
	models.SpeedLow:    1,
	models.SpeedMedium: 2,
	models.SpeedMax:    3,
}

func NewExporter() *Exporter {
	gauge := func(subsystem, name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		})
	}

	e := &Exporter{
		registry:    prometheus.NewRegistry(),
		co2:         gauge("sensor", "co2_ppm", "Latest CO2 concentration"),
		temperature: gauge("sensor", "temperature_celsius", "Latest indoor temperature"),
		humidity:    gauge("sensor", "humidity_percent", "Latest relative humidity"),
		occupants:   gauge("presence", "occupants", "Distinct occupants currently present"),
		fanSpeed:    gauge("ventilation", "fan_speed_level", "Fan speed, 0=off 1=low 2=medium 3=max"),
		exploration: gauge("controller", "exploration_rate", "Current exploration rate"),
		learning:    gauge("controller", "learning_rate", "Current learning rate"),
	}

	e.decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "decisions_total",
			Help:      "Controller decisions by action and reason",
		},
		[]string{"action", "reason"},
	)
	e.reward = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "controller",
		Name:      "reward",
		Help:      "Reward of completed transitions",
		Buckets:   prometheus.LinearBuckets(-5, 1, 11),
	})
	e.emergencies = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "controller",
		Name:      "emergency_activations_total",
		Help:      "Night-mode emergency ventilation activations",
	})
	e.sleepEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sleep",
			Name:      "events_total",
			Help:      "Detected sleep and wake events",
		},
		[]string{"kind"},
	)

	e.registry.MustRegister(
		e.co2, e.temperature, e.humidity, e.occupants, e.fanSpeed,
		e.decisions, e.reward, e.exploration, e.learning,
		e.emergencies, e.sleepEvents,
	)
	return e
}

func (e *Exporter) ObserveReading(r models.SensorReading) {
	if r.CO2 != nil {
		e.co2.Set(float64(*r.CO2))
	}
	if r.Temperature != nil {
		e.temperature.Set(*r.Temperature)
	}
	if r.Humidity != nil {
		e.humidity.Set(*r.Humidity)
	}
	e.occupants.Set(float64(r.OccupantCount))
	e.fanSpeed.Set(speedLevel[r.VentilationSpeed])
}

func (e *Exporter) ObserveDecision(action models.FanSpeed, reason string) {
	e.decisions.WithLabelValues(string(action), reason).Inc()
}

func (e *Exporter) ObserveReward(r float64) { e.reward.Observe(r) }

func (e *Exporter) ObserveRates(exploration, learning float64) {
	e.exploration.Set(exploration)
	e.learning.Set(learning)
}

func (e *Exporter) ObserveEmergency() { e.emergencies.Inc() }

// ObserveSleepEvent counts a detected sleep/wake event
func (e *Exporter) ObserveSleepEvent(kind string) {
	e.sleepEvents.WithLabelValues(kind).Inc()
}

func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func (e *Exporter) Registry() *prometheus.Registry { return e.registry }
