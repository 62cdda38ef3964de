package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"wisefido-ventilation/internal/config"
	"wisefido-ventilation/internal/hardware"
	mqttclient "wisefido-ventilation/internal/mqtt"
	"wisefido-ventilation/internal/models"

	"go.uber.org/zap"
)

// Subscriber subset of the MQTT client used here
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttclient.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// ReadingSink latest-reading store
type ReadingSink interface {
	UpdateEnvironment(co2 *int, temperature, humidity *float64)
	SetOccupantCount(n int)
	SetVentilation(on bool, speed models.FanSpeed)
}

// PresenceTracker trusted-device registry
type PresenceTracker interface {
	MarkSeen(ctx context.Context, mac string)
	MarkAway(mac string)
	OccupantCount() int
}

// StateReporter receives fan state reports
type StateReporter interface {
	ReportState(on bool, speed models.FanSpeed)
}

type sensorPayload struct {
	CO2         *float64 `json:"co2"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
}

type presencePayload struct {
	MAC     string `json:"mac"`
	Present bool   `json:"present"`
}

// MQTTConsumer feeds sensor, presence and fan-state messages into the shared stores
type MQTTConsumer struct {
	topics   []string
	sensors  string
	presence string
	state    string
	qos      byte

	client   Subscriber
	readings ReadingSink
	registry PresenceTracker
	driver   StateReporter
	logger   *zap.Logger

	ctx context.Context
}

func NewMQTTConsumer(
	cfg *config.Config,
	client Subscriber,
	readings ReadingSink,
	registry PresenceTracker,
	driver StateReporter,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		sensors:  cfg.Topics.Sensors,
		presence: cfg.Topics.Presence,
		state:    cfg.Topics.VentilationState,
		qos:      cfg.MQTT.QoS,
		client:   client,
		readings: readings,
		registry: registry,
		driver:   driver,
		logger:   logger,
		ctx:      context.Background(),
	}
}

// Start subscribes and blocks until ctx is cancelled
func (c *MQTTConsumer) Start(ctx context.Context) error {
	c.ctx = ctx
	subs := []struct {
		topic   string
		handler mqttclient.MessageHandler
	}{
		{c.sensors, c.handleSensors},
		{c.presence, c.handlePresence},
		{c.state, c.handleState},
	}
	for _, s := range subs {
		if s.topic == "" {
			continue
		}
		if err := c.client.Subscribe(s.topic, c.qos, s.handler); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", s.topic, err)
		}
		c.topics = append(c.topics, s.topic)
	}

	c.logger.Info("MQTT consumer started", zap.Strings("topics", c.topics))
	<-ctx.Done()
	return nil
}

func (c *MQTTConsumer) Stop() {
	if len(c.topics) == 0 {
		return
	}
	if err := c.client.Unsubscribe(c.topics...); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	c.logger.Info("MQTT consumer stopped")
}

func (c *MQTTConsumer) handleSensors(topic string, payload []byte) error {
	var p sensorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("failed to unmarshal sensor message: %w", err)
	}
	if p.CO2 == nil && p.Temperature == nil && p.Humidity == nil {
		return errors.New("sensor message carries no values")
	}

	var co2 *int
	if p.CO2 != nil {
		v := int(*p.CO2 + 0.5)
		co2 = &v
	}
	c.readings.UpdateEnvironment(co2, p.Temperature, p.Humidity)

	c.logger.Debug("Sensor reading received",
		zap.String("topic", topic),
		zap.Bool("co2", co2 != nil),
		zap.Bool("temperature", p.Temperature != nil),
		zap.Bool("humidity", p.Humidity != nil),
	)
	return nil
}

func (c *MQTTConsumer) handlePresence(topic string, payload []byte) error {
	var p presencePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("failed to unmarshal presence message: %w", err)
	}
	if strings.TrimSpace(p.MAC) == "" {
		return errors.New("presence message without mac")
	}

	if p.Present {
		c.registry.MarkSeen(c.ctx, p.MAC)
	} else {
		c.registry.MarkAway(p.MAC)
	}
	c.readings.SetOccupantCount(c.registry.OccupantCount())
	return nil
}

func (c *MQTTConsumer) handleState(topic string, payload []byte) error {
	cmd, err := hardware.ParseCommand(payload)
	if err != nil {
		return err
	}
	c.driver.ReportState(cmd.On, cmd.Speed)
	c.readings.SetVentilation(cmd.On, cmd.Speed)
	return nil
}
