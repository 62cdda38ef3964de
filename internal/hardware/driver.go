package hardware

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"wisefido-ventilation/internal/models"

	"go.uber.org/zap"
)

// Publisher outbound MQTT
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Command payload sent to, and reported back by, the fan controller
type Command struct {
	On    bool            `json:"on"`
	Speed models.FanSpeed `json:"speed"`
}

// MQTTVentilationDriver publishes fan commands. The tracked state is
// optimistic after a successful publish and corrected by ReportState.
type MQTTVentilationDriver struct {
	pub    Publisher
	topic  string
	qos    byte
	logger *zap.Logger

	mu    sync.RWMutex
	on    bool
	speed models.FanSpeed
}

func NewMQTTVentilationDriver(pub Publisher, topic string, qos byte, logger *zap.Logger) *MQTTVentilationDriver {
	return &MQTTVentilationDriver{
		pub:    pub,
		topic:  topic,
		qos:    qos,
		logger: logger,
		speed:  models.SpeedOff,
	}
}

func (d *MQTTVentilationDriver) Status() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.on
}

func (d *MQTTVentilationDriver) Speed() models.FanSpeed {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.speed
}

// Control sends the command; false when it could not be delivered
func (d *MQTTVentilationDriver) Control(ctx context.Context, on bool, speed models.FanSpeed) bool {
	if err := ctx.Err(); err != nil {
		return false
	}
	cmd := normalize(on, speed)

	payload, err := json.Marshal(cmd)
	if err != nil {
		d.logger.Error("Failed to encode ventilation command", zap.Error(err))
		return false
	}
	if err := d.pub.Publish(d.topic, d.qos, false, payload); err != nil {
		d.logger.Error("Failed to publish ventilation command",
			zap.String("topic", d.topic),
			zap.Error(err),
		)
		return false
	}

	d.mu.Lock()
	d.on, d.speed = cmd.On, cmd.Speed
	d.mu.Unlock()

	d.logger.Debug("Ventilation command sent",
		zap.Bool("on", cmd.On),
		zap.String("speed", string(cmd.Speed)),
	)
	return true
}

// ReportState applies a state report from the fan itself
func (d *MQTTVentilationDriver) ReportState(on bool, speed models.FanSpeed) {
	cmd := normalize(on, speed)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.on != cmd.On || d.speed != cmd.Speed {
		d.logger.Info("Ventilation state reported",
			zap.Bool("on", cmd.On),
			zap.String("speed", string(cmd.Speed)),
		)
	}
	d.on, d.speed = cmd.On, cmd.Speed
}

// ParseCommand decodes a state/command payload
func ParseCommand(payload []byte) (Command, error) {
	var raw struct {
		On    bool   `json:"on"`
		Speed string `json:"speed"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Command{}, fmt.Errorf("failed to unmarshal ventilation state: %w", err)
	}
	speed := models.SpeedOff
	if raw.Speed != "" {
		s, ok := models.ParseFanSpeed(raw.Speed)
		if !ok {
			return Command{}, fmt.Errorf("unknown fan speed %q", raw.Speed)
		}
		speed = s
	}
	return normalize(raw.On, speed), nil
}

// normalize off always reports SpeedOff; on without a speed runs at low
func normalize(on bool, speed models.FanSpeed) Command {
	if !on || speed == "" {
		if on {
			return Command{On: true, Speed: models.SpeedLow}
		}
		return Command{On: false, Speed: models.SpeedOff}
	}
	if speed == models.SpeedOff {
		return Command{On: false, Speed: models.SpeedOff}
	}
	return Command{On: true, Speed: speed}
}
