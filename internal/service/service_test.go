package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-ventilation/internal/config"
	"wisefido-ventilation/internal/controller"
	"wisefido-ventilation/internal/models"
	mqttclient "wisefido-ventilation/internal/mqtt"
	"wisefido-ventilation/internal/repository"
	"wisefido-ventilation/internal/store"
	"wisefido-ventilation/internal/threshold"
)

type published struct {
	topic   string
	payload []byte
}

type fakeBroker struct {
	mu        sync.Mutex
	subs      map[string]mqttclient.MessageHandler
	published []published
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{subs: make(map[string]mqttclient.MessageHandler)}
}

func (f *fakeBroker) Subscribe(topic string, qos byte, handler mqttclient.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = handler
	return nil
}

func (f *fakeBroker) Unsubscribe(topics ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range topics {
		delete(f.subs, t)
	}
	return nil
}

func (f *fakeBroker) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic, payload})
	return nil
}

func (f *fakeBroker) IsConnected() bool { return true }

func (f *fakeBroker) subscribed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeBroker) handler(topic string) mqttclient.MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[topic]
}

func (f *fakeBroker) publishedTo(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.MQTT.QoS = 1
	cfg.Topics.Sensors = "home/sensors/climate"
	cfg.Topics.Presence = "home/presence/devices"
	cfg.Topics.PresenceVerify = "home/presence/verify"
	cfg.Topics.VentilationState = "home/ventilation/state"
	cfg.Topics.VentilationCommand = "home/ventilation/set"
	cfg.Storage.Backend = config.BackendFile
	cfg.Storage.HistoryBackend = config.HistoryCSV

	opts := controller.DefaultOptions()
	cfg.Controller.Mode = config.ModeAdaptive
	cfg.Controller.Interval = time.Hour
	cfg.Controller.MinActionInterval = opts.MinActionInterval
	cfg.Controller.LearningRate = opts.LearningRate
	cfg.Controller.DiscountFactor = opts.DiscountFactor
	cfg.Controller.ExplorationRate = opts.ExplorationRate
	cfg.Controller.ExplorationDecay = opts.ExplorationDecay
	cfg.Controller.LearningRateDecay = opts.LearningRateDecay
	cfg.Controller.MinExplorationRate = opts.MinExplorationRate
	cfg.Controller.MinLearningRate = opts.MinLearningRate
	cfg.Controller.PersistProbability = opts.PersistProbability
	cfg.Controller.CriticalCO2 = opts.CriticalCO2
	cfg.Controller.EmergencyPollInterval = opts.EmergencyPollInterval
	cfg.Controller.EmergencyMaxCycles = opts.EmergencyMaxCycles
	cfg.Controller.NightEnabled = true
	cfg.Controller.NightStartHour = 23
	cfg.Controller.NightEndHour = 7
	cfg.Controller.LongEmptyDuration = opts.LongEmptyDuration
	cfg.Controller.ReturnSoonWindow = opts.ReturnSoonWindow

	cfg.Occupancy.UpdateInterval = time.Hour
	cfg.Sleep.Interval = time.Hour
	cfg.Sleep.StabilityWindow = 6
	cfg.Sleep.RateThreshold = 2
	cfg.Threshold.CO2Low, cfg.Threshold.CO2Medium, cfg.Threshold.CO2High = 800, 1000, 1200
	cfg.Threshold.EmptyOffset = 200
	cfg.Threshold.MinOnDuration = 10 * time.Minute
	cfg.Threshold.MinOffDuration = 5 * time.Minute
	cfg.Presence.SweepInterval = time.Hour
	cfg.Presence.AwayGrace = 15 * time.Minute
	cfg.HTTP.Addr = "127.0.0.1:0"
	return cfg
}

type fixture struct {
	svc     *VentilationService
	broker  *fakeBroker
	kv      *store.MemoryKV
	history *repository.CSVOccupancyHistory
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	history, err := repository.NewCSVOccupancyHistory(filepath.Join(t.TempDir(), "history.csv"), zap.NewNop())
	require.NoError(t, err)

	f := &fixture{broker: newFakeBroker(), kv: store.NewMemoryKV(), history: history}
	f.svc, err = New(context.Background(), cfg, Backends{KV: f.kv, History: history, Broker: f.broker}, zap.NewNop())
	require.NoError(t, err)
	return f
}

func TestNew_RequiresBackends(t *testing.T) {
	_, err := New(context.Background(), testConfig(), Backends{KV: store.NewMemoryKV()}, zap.NewNop())
	assert.Error(t, err)
}

func TestNew_ControlMode(t *testing.T) {
	f := newFixture(t, testConfig())
	_, ok := f.svc.ventilation.(*controller.Controller)
	assert.True(t, ok)

	cfg := testConfig()
	cfg.Controller.Mode = config.ModeThreshold
	f = newFixture(t, cfg)
	_, ok = f.svc.ventilation.(*threshold.Controller)
	assert.True(t, ok)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Controller.NightStartHour = 22
	cfg.Controller.CriticalCO2 = 1800

	opts := ControllerOptions(cfg)
	assert.Equal(t, time.Hour, opts.Interval)
	assert.Equal(t, 1800, opts.CriticalCO2)
	assert.Equal(t, models.NightModeSettings{Enabled: true, StartHour: 22, EndHour: 7}, opts.Night)
	assert.Equal(t, 0.1, opts.SimPersistProbability, "simulation persistence keeps its default")

	th := thresholdOptions(cfg)
	assert.Equal(t, 1000, th.CO2Medium)
	assert.Equal(t, 22, th.Night.StartHour)
}

func TestOccupancyTick_RecordsObservation(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	now := time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)

	f.svc.readings.SetOccupantCount(2)
	f.svc.occupancyTick(ctx, now)
	f.svc.readings.SetOccupantCount(0)
	f.svc.occupancyTick(ctx, now.Add(10*time.Minute))

	recs, err := f.history.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, models.StatusOccupied, recs[0].Status)
	assert.Equal(t, 2, recs[0].PeopleCount)
	assert.Equal(t, models.StatusEmpty, recs[1].Status)
}

func TestPresenceTick_ExpiresAndRequestsVerification(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.svc.registry.Trust(ctx, "AA:BB:CC:DD:EE:FF", "alice"))
	f.svc.registry.MarkSeen(ctx, "aa:bb:cc:dd:ee:ff")
	f.svc.presenceTick(ctx, time.Now())
	assert.Equal(t, 1, f.svc.readings.Latest().OccupantCount)

	done := make(chan error, 1)
	go func() { done <- f.svc.drainVerifications(ctx) }()

	f.svc.presenceTick(ctx, time.Now().Add(time.Hour))
	assert.Equal(t, 0, f.svc.readings.Latest().OccupantCount)

	require.Eventually(t, func() bool {
		return len(f.broker.publishedTo("home/presence/verify")) == 1
	}, time.Second, 10*time.Millisecond)
	var p verifyPayload
	require.NoError(t, json.Unmarshal(f.broker.publishedTo("home/presence/verify")[0].payload, &p))
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", p.MAC)

	cancel()
	assert.NoError(t, <-done)
}

func TestSleepTick_SkipsMissingCO2(t *testing.T) {
	f := newFixture(t, testConfig())
	f.svc.sleepTick(context.Background(), time.Now())
	assert.Equal(t, 0, f.svc.analyzer.Summary(time.Now()).Events)
}

func TestRoutes(t *testing.T) {
	f := newFixture(t, testConfig())
	h := f.svc.server.Handler()

	for _, path := range []string{"/status", "/patterns/occupancy", "/patterns/sleep", "/healthz", "/metrics"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestStart_RunsUntilCancelled(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.svc.Start(ctx) }()

	require.Eventually(t, func() bool { return f.broker.subscribed() == 3 }, 2*time.Second, 10*time.Millisecond)

	h := f.broker.handler("home/sensors/climate")
	require.NotNil(t, h)
	require.NoError(t, h("home/sensors/climate", []byte(`{"co2":912.4,"temperature":22.5}`)))
	got := f.svc.readings.Latest()
	require.NotNil(t, got.CO2)
	assert.Equal(t, 912, *got.CO2)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}

	require.NoError(t, f.svc.Stop())
	assert.Zero(t, f.broker.subscribed())
	_, err := f.kv.Get(context.Background(), store.KeyQTable)
	assert.NoError(t, err, "controller persists its table on shutdown")
}
