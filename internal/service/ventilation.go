package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wisefido-ventilation/internal/bot"
	"wisefido-ventilation/internal/commands"
	"wisefido-ventilation/internal/config"
	"wisefido-ventilation/internal/consumer"
	"wisefido-ventilation/internal/controller"
	"wisefido-ventilation/internal/hardware"
	"wisefido-ventilation/internal/httpapi"
	"wisefido-ventilation/internal/metrics"
	"wisefido-ventilation/internal/models"
	mqttclient "wisefido-ventilation/internal/mqtt"
	"wisefido-ventilation/internal/occupancy"
	"wisefido-ventilation/internal/preference"
	"wisefido-ventilation/internal/presence"
	"wisefido-ventilation/internal/repository"
	"wisefido-ventilation/internal/sensor"
	"wisefido-ventilation/internal/sleep"
	"wisefido-ventilation/internal/store"
	"wisefido-ventilation/internal/threshold"
)

const shutdownTimeout = 5 * time.Second

// Broker MQTT operations the service needs
type Broker interface {
	consumer.Subscriber
	hardware.Publisher
	IsConnected() bool
}

// ventilationController adaptive or threshold controller
type ventilationController interface {
	commands.Ventilation
	Run(ctx context.Context) error
}

// Backends opened connections handed to the core
type Backends struct {
	KV      store.KV
	History repository.OccupancyHistory
	Broker  Broker
	DB      *sql.DB       // optional, health probe only
	Redis   *redis.Client // optional, health probe only
}

// VentilationService wires the controller, analyzers and surfaces
type VentilationService struct {
	config *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttclient.Client

	broker      Broker
	readings    *sensor.LatestStore
	registry    *presence.Registry
	preferences *preference.Aggregator
	predictor   *occupancy.Predictor
	analyzer    *sleep.Analyzer
	driver      *hardware.MQTTVentilationDriver
	consumer    *consumer.MQTTConsumer
	ventilation ventilationController
	exporter    *metrics.Exporter
	commands    *commands.Service
	bot         *bot.TelegramBot
	server      *Server

	now func() time.Time
}

// NewVentilationService opens the configured backends and builds the service
func NewVentilationService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*VentilationService, error) {
	var b Backends
	var err error

	// 1. key-value store
	if b.KV, b.Redis, err = OpenKV(ctx, cfg); err != nil {
		return nil, err
	}

	// 2. occupancy history
	switch cfg.Storage.HistoryBackend {
	case config.HistoryPostgres:
		if b.DB, err = repository.NewPostgresDB(ctx, &cfg.Database); err != nil {
			closeBackends(b, logger)
			return nil, err
		}
		pg := repository.NewPostgresOccupancyHistory(b.DB, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			closeBackends(b, logger)
			return nil, err
		}
		b.History = pg
	default:
		path := cfg.Storage.HistoryFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Storage.DataDir, path)
		}
		if b.History, err = repository.NewCSVOccupancyHistory(path, logger); err != nil {
			closeBackends(b, logger)
			return nil, err
		}
	}

	// 3. MQTT
	mqttClient, err := mqttclient.NewClient(&cfg.MQTT, logger)
	if err != nil {
		closeBackends(b, logger)
		return nil, err
	}
	b.Broker = mqttClient

	s, err := New(ctx, cfg, b, logger)
	if err != nil {
		mqttClient.Disconnect()
		closeBackends(b, logger)
		return nil, err
	}
	s.mqttClient = mqttClient

	// 4. Telegram
	if cfg.Telegram.Token != "" {
		tg, err := bot.NewTelegramBot(cfg.Telegram.Token, cfg.Telegram.AllowedChatIDs, s.commands, logger.Named("telegram"))
		if err != nil {
			s.Stop()
			return nil, err
		}
		s.bot = tg
	}
	return s, nil
}

// OpenKV opens the configured key-value backend. The redis client is nil for the file backend.
func OpenKV(ctx context.Context, cfg *config.Config) (store.KV, *redis.Client, error) {
	if cfg.Storage.Backend != config.BackendRedis {
		kv, err := store.NewFileKV(cfg.Storage.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return kv, nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return store.NewRedisKV(client), client, nil
}

// New builds the service core on already opened backends
func New(ctx context.Context, cfg *config.Config, b Backends, logger *zap.Logger) (*VentilationService, error) {
	if b.KV == nil || b.History == nil || b.Broker == nil {
		return nil, errors.New("kv, history and broker are required")
	}

	readings := sensor.NewLatestStore()
	registry := presence.NewRegistry(ctx, b.KV, cfg.Presence.AwayGrace, logger.Named("presence"))
	prefs := preference.NewAggregator(ctx, b.KV, logger.Named("preference"))
	predictor := occupancy.NewPredictor(ctx, b.History, b.KV, logger.Named("occupancy"))
	driver := hardware.NewMQTTVentilationDriver(b.Broker, cfg.Topics.VentilationCommand, cfg.MQTT.QoS, logger.Named("driver"))
	exporter := metrics.NewExporter()

	deps := controller.Deps{
		Driver:      driver,
		Readings:    readings,
		Preferences: prefs,
		Forecaster:  predictor,
		KV:          b.KV,
		Observer:    exporter,
	}
	var vent ventilationController
	switch cfg.Controller.Mode {
	case config.ModeThreshold:
		vent = threshold.New(ctx, thresholdOptions(cfg), deps, logger.Named("threshold"))
	default:
		vent = controller.New(ctx, ControllerOptions(cfg), deps, logger.Named("controller"))
	}

	analyzer := sleep.NewAnalyzer(ctx, sleep.Config{
		StabilityWindow: cfg.Sleep.StabilityWindow,
		RateThreshold:   cfg.Sleep.RateThreshold,
	}, vent, readings, b.KV, logger.Named("sleep"))

	cmds := commands.NewService(commands.Deps{
		Ventilation: vent,
		Readings:    readings,
		Preferences: prefs,
		Occupancy:   predictor,
		Sleep:       analyzer,
		Presence:    registry,
	}, logger.Named("commands"))

	router := httpapi.NewRouter(logger)
	router.RegisterStatusRoutes(httpapi.NewStatusHandler(vent, predictor, analyzer, logger))
	router.RegisterHealthRoutes(httpapi.NewHealthHandler(b.DB, b.Redis, b.Broker, logger))
	router.RegisterMetrics(exporter.Handler())

	s := &VentilationService{
		config:      cfg,
		logger:      logger,
		db:          b.DB,
		redisClient: b.Redis,
		broker:      b.Broker,
		readings:    readings,
		registry:    registry,
		preferences: prefs,
		predictor:   predictor,
		analyzer:    analyzer,
		driver:      driver,
		consumer:    consumer.NewMQTTConsumer(cfg, b.Broker, readings, registry, driver, logger.Named("consumer")),
		ventilation: vent,
		exporter:    exporter,
		commands:    cmds,
		server:      NewServer(cfg.HTTP.Addr, router, shutdownTimeout, logger),
		now:         time.Now,
	}
	return s, nil
}

// Start runs every worker until ctx is cancelled or one of them fails
func (s *VentilationService) Start(ctx context.Context) error {
	s.logger.Info("Starting ventilation service",
		zap.String("mode", s.config.Controller.Mode),
		zap.String("storage", s.config.Storage.Backend),
		zap.String("history", s.config.Storage.HistoryBackend),
		zap.Bool("telegram", s.bot != nil),
	)

	if err := s.predictor.Refresh(ctx); err != nil {
		s.logger.Warn("Initial occupancy pattern load failed", zap.Error(err))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.ventilation.Run(ctx) })
	g.Go(func() error { return s.consumer.Start(ctx) })
	g.Go(func() error { return s.every(ctx, s.config.Sleep.Interval, s.sleepTick) })
	g.Go(func() error { return s.every(ctx, s.config.Occupancy.UpdateInterval, s.occupancyTick) })
	g.Go(func() error { return s.every(ctx, s.config.Presence.SweepInterval, s.presenceTick) })
	g.Go(func() error { return s.drainVerifications(ctx) })
	g.Go(func() error { return s.server.Run(ctx) })
	if s.bot != nil {
		g.Go(func() error { return s.bot.Run(ctx) })
	}
	return g.Wait()
}

// Stop releases connections; call after Start has returned
func (s *VentilationService) Stop() error {
	s.logger.Info("Stopping ventilation service")

	s.consumer.Stop()
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Failed to close redis", zap.Error(err))
		}
	}
	return nil
}

func closeBackends(b Backends, logger *zap.Logger) {
	if b.DB != nil {
		if err := b.DB.Close(); err != nil {
			logger.Error("Failed to close database", zap.Error(err))
		}
	}
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			logger.Error("Failed to close redis", zap.Error(err))
		}
	}
}

// ControllerOptions adaptive controller tuning from the environment
func ControllerOptions(cfg *config.Config) controller.Options {
	opts := controller.DefaultOptions()
	c := cfg.Controller
	opts.Interval = c.Interval
	opts.MinActionInterval = c.MinActionInterval
	opts.LearningRate = c.LearningRate
	opts.DiscountFactor = c.DiscountFactor
	opts.ExplorationRate = c.ExplorationRate
	opts.ExplorationDecay = c.ExplorationDecay
	opts.LearningRateDecay = c.LearningRateDecay
	opts.MinExplorationRate = c.MinExplorationRate
	opts.MinLearningRate = c.MinLearningRate
	opts.PersistProbability = c.PersistProbability
	opts.CriticalCO2 = c.CriticalCO2
	opts.EmergencyPollInterval = c.EmergencyPollInterval
	opts.EmergencyMaxCycles = c.EmergencyMaxCycles
	opts.Night = models.NightModeSettings{Enabled: c.NightEnabled, StartHour: c.NightStartHour, EndHour: c.NightEndHour}
	opts.LongEmptyDuration = c.LongEmptyDuration
	opts.ReturnSoonWindow = c.ReturnSoonWindow
	return opts
}

func thresholdOptions(cfg *config.Config) threshold.Options {
	t := cfg.Threshold
	return threshold.Options{
		Interval:       cfg.Controller.Interval,
		CO2Low:         t.CO2Low,
		CO2Medium:      t.CO2Medium,
		CO2High:        t.CO2High,
		EmptyOffset:    t.EmptyOffset,
		MinOnDuration:  t.MinOnDuration,
		MinOffDuration: t.MinOffDuration,
		Night: models.NightModeSettings{
			Enabled:   cfg.Controller.NightEnabled,
			StartHour: cfg.Controller.NightStartHour,
			EndHour:   cfg.Controller.NightEndHour,
		},
	}
}
