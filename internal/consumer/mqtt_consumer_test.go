package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-ventilation/internal/config"
	"wisefido-ventilation/internal/hardware"
	mqttclient "wisefido-ventilation/internal/mqtt"
	"wisefido-ventilation/internal/models"
	"wisefido-ventilation/internal/presence"
	"wisefido-ventilation/internal/sensor"
)

type fakeSubscriber struct {
	handlers     map[string]mqttclient.MessageHandler
	unsubscribed []string
}

func (f *fakeSubscriber) Subscribe(topic string, qos byte, handler mqttclient.MessageHandler) error {
	f.handlers[topic] = handler
	return nil
}

func (f *fakeSubscriber) Unsubscribe(topics ...string) error {
	f.unsubscribed = append(f.unsubscribed, topics...)
	return nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, byte, bool, []byte) error { return nil }

type fixture struct {
	sub      *fakeSubscriber
	readings *sensor.LatestStore
	registry *presence.Registry
	driver   *hardware.MQTTVentilationDriver
	consumer *MQTTConsumer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{}
	cfg.Topics.Sensors = "home/sensors/climate"
	cfg.Topics.Presence = "home/presence/devices"
	cfg.Topics.VentilationState = "home/ventilation/state"
	cfg.MQTT.QoS = 1

	f := &fixture{
		sub:      &fakeSubscriber{handlers: map[string]mqttclient.MessageHandler{}},
		readings: sensor.NewLatestStore(),
		registry: presence.NewRegistry(context.Background(), nil, 15*time.Minute, zap.NewNop()),
		driver:   hardware.NewMQTTVentilationDriver(nopPublisher{}, "set", 1, zap.NewNop()),
	}
	f.consumer = NewMQTTConsumer(cfg, f.sub, f.readings, f.registry, f.driver, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.consumer.Start(ctx))
	require.Len(t, f.sub.handlers, 3)
	return f
}

func (f *fixture) deliver(t *testing.T, topic, payload string) error {
	t.Helper()
	h, ok := f.sub.handlers[topic]
	require.True(t, ok, topic)
	return h(topic, []byte(payload))
}

func TestMQTTConsumer_Sensors(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.deliver(t, "home/sensors/climate", `{"co2": 812.6, "temperature": 21.5, "humidity": 40}`))
	r := f.readings.Latest()
	require.NotNil(t, r.CO2)
	assert.Equal(t, 813, *r.CO2)
	assert.Equal(t, 21.5, *r.Temperature)

	// partial update keeps the other values
	require.NoError(t, f.deliver(t, "home/sensors/climate", `{"co2": 900}`))
	r = f.readings.Latest()
	assert.Equal(t, 900, *r.CO2)
	assert.Equal(t, 21.5, *r.Temperature)

	assert.Error(t, f.deliver(t, "home/sensors/climate", `{}`))
	assert.Error(t, f.deliver(t, "home/sensors/climate", `{co2`))
}

func TestMQTTConsumer_Presence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.registry.Trust(ctx, "AA:BB:CC:00:00:01", "alice"))
	require.NoError(t, f.registry.Trust(ctx, "aa:bb:cc:00:00:02", "alice"))
	require.NoError(t, f.registry.Trust(ctx, "aa:bb:cc:00:00:03", "bob"))

	require.NoError(t, f.deliver(t, "home/presence/devices", `{"mac":"aa:bb:cc:00:00:01","present":true}`))
	require.NoError(t, f.deliver(t, "home/presence/devices", `{"mac":"aa:bb:cc:00:00:02","present":true}`))
	assert.Equal(t, 1, f.readings.Latest().OccupantCount)

	require.NoError(t, f.deliver(t, "home/presence/devices", `{"mac":"AA:BB:CC:00:00:03","present":true}`))
	assert.Equal(t, 2, f.readings.Latest().OccupantCount)

	require.NoError(t, f.deliver(t, "home/presence/devices", `{"mac":"aa:bb:cc:00:00:03","present":false}`))
	assert.Equal(t, 1, f.readings.Latest().OccupantCount)

	assert.Error(t, f.deliver(t, "home/presence/devices", `{"present":true}`))
}

func TestMQTTConsumer_VentilationState(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.deliver(t, "home/ventilation/state", `{"on":true,"speed":"max"}`))
	assert.True(t, f.driver.Status())
	assert.Equal(t, models.SpeedMax, f.driver.Speed())
	assert.Equal(t, models.SpeedMax, f.readings.Latest().VentilationSpeed)

	assert.Error(t, f.deliver(t, "home/ventilation/state", `{"on":true,"speed":"warp"}`))
}

func TestMQTTConsumer_Stop(t *testing.T) {
	f := newFixture(t)
	f.consumer.Stop()
	assert.ElementsMatch(t, []string{
		"home/sensors/climate", "home/presence/devices", "home/ventilation/state",
	}, f.sub.unsubscribed)
}
