package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const probeTimeout = 2 * time.Second

// ConnectionChecker e.g. the MQTT client
type ConnectionChecker interface {
	IsConnected() bool
}

type probe struct {
	name string
	// check returns "" when healthy; soft failures are reported but do not fail the probe
	check func(ctx context.Context) (state string, hard bool)
}

// HealthHandler probes the configured backends
type HealthHandler struct {
	probes []probe
	logger *zap.Logger
}

func NewHealthHandler(db *sql.DB, redisClient *redis.Client, mqtt ConnectionChecker, logger *zap.Logger) *HealthHandler {
	h := &HealthHandler{logger: logger}

	redisProbe := probe{name: "redis"}
	if redisClient != nil {
		redisProbe.check = func(ctx context.Context) (string, bool) {
			return pingState(redisClient.Ping(ctx).Err())
		}
	}
	dbProbe := probe{name: "database"}
	if db != nil {
		dbProbe.check = func(ctx context.Context) (string, bool) {
			return pingState(db.PingContext(ctx))
		}
	}
	mqttProbe := probe{name: "mqtt"}
	if mqtt != nil {
		mqttProbe.check = func(context.Context) (string, bool) {
			if mqtt.IsConnected() {
				return "healthy", false
			}
			// paho reconnects by itself
			return "reconnecting", false
		}
	}

	h.probes = []probe{redisProbe, dbProbe, mqttProbe}
	return h
}

type HealthCheckResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthCheckResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Services:  make(map[string]string, len(h.probes)),
	}

	for _, p := range h.probes {
		if p.check == nil {
			resp.Services[p.name] = "not configured"
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		state, failed := p.check(ctx)
		cancel()
		resp.Services[p.name] = state
		if failed {
			resp.Status = "unhealthy"
		}
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
		h.logger.Warn("Health check failed", zap.Any("services", resp.Services))
	}
	writeJSON(w, code, resp)
}

func pingState(err error) (string, bool) {
	if err != nil {
		return "unhealthy: " + err.Error(), true
	}
	return "healthy", false
}
