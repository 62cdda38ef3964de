package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	HistoryCSV      = "csv"
	HistoryPostgres = "postgres"

	ModeAdaptive  = "adaptive"
	ModeThreshold = "threshold"
)

// Config ventilation service configuration
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	Topics struct {
		Sensors            string // JSON {co2,temperature,humidity}
		Presence           string // JSON {mac,present}
		PresenceVerify     string // MAC published for a deferred reachability check
		VentilationState   string // JSON {on,speed} reported by the fan
		VentilationCommand string // JSON {on,speed} sent to the fan
	}

	Storage struct {
		Backend        string // file | redis
		DataDir        string
		HistoryBackend string // csv | postgres
		HistoryFile    string
	}

	Controller struct {
		Mode              string // adaptive | threshold
		Interval          time.Duration
		MinActionInterval time.Duration

		LearningRate       float64
		DiscountFactor     float64
		ExplorationRate    float64
		ExplorationDecay   float64
		LearningRateDecay  float64
		MinExplorationRate float64
		MinLearningRate    float64
		PersistProbability float64

		CriticalCO2           int
		EmergencyPollInterval time.Duration
		EmergencyMaxCycles    int

		NightEnabled   bool
		NightStartHour int
		NightEndHour   int

		LongEmptyDuration time.Duration
		ReturnSoonWindow  time.Duration
	}

	Occupancy struct {
		UpdateInterval time.Duration
	}

	Sleep struct {
		Interval        time.Duration
		StabilityWindow int
		RateThreshold   float64
	}

	Threshold struct {
		CO2Low         int
		CO2Medium      int
		CO2High        int
		EmptyOffset    int
		MinOnDuration  time.Duration
		MinOffDuration time.Duration
	}

	Presence struct {
		SweepInterval time.Duration
		AwayGrace     time.Duration
	}

	HTTP struct {
		Addr string
	}

	Telegram struct {
		Token          string
		AllowedChatIDs []int64
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from the environment, after loading ./.env when it exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "wisefido_ventilation"
	cfg.Database.SSLMode = "disable"
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "wisefido-ventilation"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Topics.Sensors = getEnv("MQTT_TOPIC_SENSORS", "home/sensors/climate")
	cfg.Topics.Presence = getEnv("MQTT_TOPIC_PRESENCE", "home/presence/devices")
	cfg.Topics.PresenceVerify = getEnv("MQTT_TOPIC_PRESENCE_VERIFY", "home/presence/verify")
	cfg.Topics.VentilationState = getEnv("MQTT_TOPIC_VENT_STATE", "home/ventilation/state")
	cfg.Topics.VentilationCommand = getEnv("MQTT_TOPIC_VENT_COMMAND", "home/ventilation/set")

	cfg.Storage.Backend = getEnv("STORAGE_BACKEND", BackendFile)
	cfg.Storage.DataDir = getEnv("DATA_DIR", "./data")
	cfg.Storage.HistoryBackend = getEnv("HISTORY_BACKEND", HistoryCSV)
	cfg.Storage.HistoryFile = getEnv("HISTORY_FILE", "occupancy_history.csv")

	cfg.Controller.Mode = getEnv("CONTROL_MODE", ModeAdaptive)
	cfg.Controller.Interval = getEnvSeconds("CONTROL_INTERVAL", 60)
	cfg.Controller.MinActionInterval = getEnvSeconds("MIN_ACTION_INTERVAL", 240)
	cfg.Controller.LearningRate = getEnvFloat("LEARNING_RATE", 0.1)
	cfg.Controller.DiscountFactor = getEnvFloat("DISCOUNT_FACTOR", 0.95)
	cfg.Controller.ExplorationRate = getEnvFloat("EXPLORATION_RATE", 0.3)
	cfg.Controller.ExplorationDecay = getEnvFloat("EXPLORATION_DECAY", 0.99975)
	cfg.Controller.LearningRateDecay = getEnvFloat("LEARNING_RATE_DECAY", 0.99)
	cfg.Controller.MinExplorationRate = getEnvFloat("MIN_EXPLORATION_RATE", 0.1)
	cfg.Controller.MinLearningRate = getEnvFloat("MIN_LEARNING_RATE", 0.01)
	cfg.Controller.PersistProbability = getEnvFloat("Q_PERSIST_PROBABILITY", 0.02)
	cfg.Controller.CriticalCO2 = getEnvInt("CRITICAL_CO2", 1600)
	cfg.Controller.EmergencyPollInterval = getEnvSeconds("EMERGENCY_POLL_INTERVAL", 30)
	cfg.Controller.EmergencyMaxCycles = getEnvInt("EMERGENCY_MAX_CYCLES", 20)
	cfg.Controller.NightEnabled = getEnvBool("NIGHT_MODE_ENABLED", true)
	cfg.Controller.NightStartHour = getEnvInt("NIGHT_MODE_START_HOUR", 23)
	cfg.Controller.NightEndHour = getEnvInt("NIGHT_MODE_END_HOUR", 7)
	cfg.Controller.LongEmptyDuration = getEnvSeconds("LONG_EMPTY_SECONDS", 3*3600)
	cfg.Controller.ReturnSoonWindow = getEnvSeconds("RETURN_SOON_SECONDS", 3600)

	cfg.Occupancy.UpdateInterval = getEnvSeconds("OCCUPANCY_UPDATE_INTERVAL", 600)

	cfg.Sleep.Interval = getEnvSeconds("SLEEP_ANALYZER_INTERVAL", 300)
	cfg.Sleep.StabilityWindow = getEnvInt("SLEEP_STABILITY_WINDOW", 6)
	cfg.Sleep.RateThreshold = getEnvFloat("SLEEP_RATE_THRESHOLD", 2.0)

	cfg.Threshold.CO2Low = getEnvInt("THRESHOLD_CO2_LOW", 800)
	cfg.Threshold.CO2Medium = getEnvInt("THRESHOLD_CO2_MEDIUM", 1000)
	cfg.Threshold.CO2High = getEnvInt("THRESHOLD_CO2_HIGH", 1200)
	cfg.Threshold.EmptyOffset = getEnvInt("THRESHOLD_EMPTY_OFFSET", 200)
	cfg.Threshold.MinOnDuration = getEnvSeconds("THRESHOLD_MIN_ON", 600)
	cfg.Threshold.MinOffDuration = getEnvSeconds("THRESHOLD_MIN_OFF", 300)

	cfg.Presence.SweepInterval = getEnvSeconds("PRESENCE_SWEEP_INTERVAL", 30)
	cfg.Presence.AwayGrace = getEnvSeconds("PRESENCE_AWAY_GRACE", 900)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8090")

	cfg.Telegram.Token = getEnv("TELEGRAM_BOT_TOKEN", "")
	ids, err := parseChatIDs(getEnv("TELEGRAM_ALLOWED_CHAT_IDS", ""))
	if err != nil {
		return nil, err
	}
	cfg.Telegram.AllowedChatIDs = ids

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case BackendFile, BackendRedis:
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND: %s", c.Storage.Backend)
	}
	switch c.Storage.HistoryBackend {
	case HistoryCSV, HistoryPostgres:
	default:
		return fmt.Errorf("unsupported HISTORY_BACKEND: %s", c.Storage.HistoryBackend)
	}
	switch c.Controller.Mode {
	case ModeAdaptive, ModeThreshold:
	default:
		return fmt.Errorf("unsupported CONTROL_MODE: %s", c.Controller.Mode)
	}
	if c.Controller.NightStartHour < 0 || c.Controller.NightStartHour > 23 ||
		c.Controller.NightEndHour < 0 || c.Controller.NightEndHour > 23 {
		return fmt.Errorf("night mode hours must be within 0-23")
	}
	return nil
}

func parseChatIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_ALLOWED_CHAT_IDS entry %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}

// getEnvSeconds reads an integer number of seconds
func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}
