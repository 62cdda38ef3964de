package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"wisefido-ventilation/internal/config"
	"wisefido-ventilation/internal/logger"
	"wisefido-ventilation/internal/service"
	"wisefido-ventilation/internal/simulation"
)

func main() {
	trainSteps := flag.Int("train", 0, "train the value table offline for N simulated 5-minute steps, then exit")
	flag.Parse()

	// 1. config
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. logger
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-ventilation")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *trainSteps > 0 {
		if err := train(ctx, cfg, log, *trainSteps); err != nil {
			log.Fatal("Offline training failed", zap.Error(err))
		}
		return
	}

	// 3. service
	svc, err := service.NewVentilationService(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create ventilation service", zap.Error(err))
	}
	defer svc.Stop()

	// 4. run until a signal arrives or a worker fails
	serviceErrChan := make(chan error, 1)
	go func() {
		serviceErrChan <- svc.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info("Received signal, shutting down")
		if err := <-serviceErrChan; err != nil {
			log.Error("Service stopped with error", zap.Error(err))
		}
	case err := <-serviceErrChan:
		if err != nil {
			log.Error("Service error", zap.Error(err))
			svc.Stop()
			os.Exit(1)
		}
	}

	log.Info("Ventilation service stopped")
}

// train runs the adaptive controller against the simulated home and stores
// the learned table in the configured KV backend
func train(ctx context.Context, cfg *config.Config, log *zap.Logger, steps int) error {
	kv, redisClient, err := service.OpenKV(ctx, cfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	sim, err := simulation.New(simulation.DefaultParams(), simulation.DefaultSchedule(), log.Named("simulation"))
	if err != nil {
		return err
	}
	ctrl := sim.NewController(ctx, service.ControllerOptions(cfg), kv, nil)

	if _, err := sim.Train(ctx, ctrl, steps); err != nil {
		log.Warn("Training interrupted", zap.Error(err))
	}
	if err := ctrl.PersistTable(context.Background()); err != nil {
		return fmt.Errorf("failed to persist trained table: %w", err)
	}

	// one greedy week for the log
	if _, err := sim.Evaluate(ctx, ctrl, 7*24*12); err != nil {
		log.Warn("Evaluation interrupted", zap.Error(err))
	}
	st := ctrl.Status()
	log.Info("Offline training complete",
		zap.Int("states_learned", st.StatesLearned),
		zap.Float64("exploration_rate", st.ExplorationRate),
		zap.Float64("learning_rate", st.LearningRate),
	)
	return nil
}
