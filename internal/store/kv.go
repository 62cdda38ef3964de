package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrMiss key does not exist
var ErrMiss = errors.New("cache miss")

// Persistence keys
const (
	KeyUserPreferences        = "user_preferences"
	KeyComfortFeedback        = "comfort_feedback"
	KeyQTable                 = "q_table"
	KeyNightMode              = "night_mode"
	KeyOccupancyProbabilities = "occupancy_probabilities"
	KeySleepPatterns          = "sleep_patterns"
	KeyTrustedDevices         = "trusted_devices"
)

// KV durable key-value storage; every Set fully replaces the previous value
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// RedisKV go-redis backed KV
type RedisKV struct {
	c *redis.Client
}

func NewRedisKV(c *redis.Client) *RedisKV { return &RedisKV{c: c} }

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.c.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

// GetJSON reads key and decodes it into dest
func GetJSON(ctx context.Context, kv KV, key string, dest interface{}) error {
	val, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes value and writes it under key without TTL
func SetJSON(ctx context.Context, kv KV, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := kv.Set(ctx, key, string(data), 0); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}
