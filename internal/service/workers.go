package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wisefido-ventilation/internal/sleep"
)

type verifyPayload struct {
	MAC string `json:"mac"`
}

// every calls fn on each tick until ctx is cancelled
func (s *VentilationService) every(ctx context.Context, interval time.Duration, fn func(ctx context.Context, now time.Time)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx, s.now())
		}
	}
}

// sleepTick feeds the latest CO2 sample to the sleep analyzer
func (s *VentilationService) sleepTick(ctx context.Context, now time.Time) {
	r := s.readings.Latest()
	if r.CO2 == nil {
		return
	}
	s.analyzer.Ingest(ctx, *r.CO2, now)

	ev, ok := s.analyzer.DetectInRealTime(ctx, now)
	if !ok {
		return
	}
	s.exporter.ObserveSleepEvent(string(ev.Kind))
	if s.bot != nil {
		s.bot.Notify(sleepNotice(ev))
	}
}

func sleepNotice(ev *sleep.Event) string {
	if ev.Kind == sleep.EventSleep {
		return fmt.Sprintf("Sleep detected at %s. Night mode will keep the fan off.", ev.Time.Format("15:04"))
	}
	return fmt.Sprintf("Wake-up detected at %s.", ev.Time.Format("15:04"))
}

// occupancyTick appends an automatic EMPTY/OCCUPIED row and reloads the
// pattern table when the history changed
func (s *VentilationService) occupancyTick(ctx context.Context, now time.Time) {
	count := s.readings.Latest().OccupantCount
	if err := s.predictor.RecordObservation(ctx, now, count); err != nil {
		s.logger.Error("Failed to record occupancy observation", zap.Error(err))
	}
	if err := s.predictor.Refresh(ctx); err != nil {
		s.logger.Error("Failed to refresh occupancy patterns", zap.Error(err))
	}
}

// presenceTick expires devices past the away grace and republishes the occupant count
func (s *VentilationService) presenceTick(ctx context.Context, now time.Time) {
	if expired := s.registry.Sweep(now); expired > 0 {
		s.logger.Info("Devices marked away", zap.Int("count", expired))
	}
	s.readings.SetOccupantCount(s.registry.OccupantCount())
}

// drainVerifications publishes queued reachability checks for the scanner
func (s *VentilationService) drainVerifications(ctx context.Context) error {
	topic := s.config.Topics.PresenceVerify
	for {
		select {
		case <-ctx.Done():
			return nil
		case mac := <-s.registry.Verifications():
			if topic == "" {
				continue
			}
			payload, err := json.Marshal(verifyPayload{MAC: mac})
			if err != nil {
				continue
			}
			if err := s.broker.Publish(topic, s.config.MQTT.QoS, false, payload); err != nil {
				s.logger.Warn("Failed to request presence verification",
					zap.String("mac", mac),
					zap.Error(err),
				)
			}
		}
	}
}
