package hardware

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-ventilation/internal/models"
)

type recordingPublisher struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (p *recordingPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

func TestMQTTVentilationDriver_Control(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewMQTTVentilationDriver(pub, "home/ventilation/set", 1, zap.NewNop())

	assert.False(t, d.Status())
	assert.Equal(t, models.SpeedOff, d.Speed())

	require.True(t, d.Control(context.Background(), true, models.SpeedMedium))
	assert.True(t, d.Status())
	assert.Equal(t, models.SpeedMedium, d.Speed())

	require.Len(t, pub.payloads, 1)
	assert.Equal(t, "home/ventilation/set", pub.topics[0])
	var cmd Command
	require.NoError(t, json.Unmarshal(pub.payloads[0], &cmd))
	assert.Equal(t, Command{On: true, Speed: models.SpeedMedium}, cmd)

	require.True(t, d.Control(context.Background(), false, models.SpeedMax))
	assert.False(t, d.Status())
	assert.Equal(t, models.SpeedOff, d.Speed())
}

func TestMQTTVentilationDriver_PublishFailureKeepsState(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("not connected")}
	d := NewMQTTVentilationDriver(pub, "t", 1, zap.NewNop())

	assert.False(t, d.Control(context.Background(), true, models.SpeedMax))
	assert.False(t, d.Status())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub.err = nil
	assert.False(t, d.Control(ctx, true, models.SpeedLow))
	assert.Empty(t, pub.payloads)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		payload string
		want    Command
		wantErr bool
	}{
		{`{"on":true,"speed":"max"}`, Command{On: true, Speed: models.SpeedMax}, false},
		{`{"on":true}`, Command{On: true, Speed: models.SpeedLow}, false},
		{`{"on":true,"speed":"off"}`, Command{On: false, Speed: models.SpeedOff}, false},
		{`{"on":false,"speed":"medium"}`, Command{On: false, Speed: models.SpeedOff}, false},
		{`{"on":true,"speed":"turbo"}`, Command{}, true},
		{`not json`, Command{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			got, err := ParseCommand([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMQTTVentilationDriver_ReportState(t *testing.T) {
	d := NewMQTTVentilationDriver(&recordingPublisher{}, "t", 1, zap.NewNop())
	d.ReportState(true, models.SpeedLow)
	assert.True(t, d.Status())
	assert.Equal(t, models.SpeedLow, d.Speed())
}
