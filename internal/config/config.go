// README: Config loader with env defaults for HTTP, Redis, DB, AMQP, Firebase, Maps and tracking settings.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// TrackingConfig holds the thresholds and limits of the tracking core.
type TrackingConfig struct {
	SpeedLimitKmh   float64
	MaxIdle         time.Duration
	RecordTTL       time.Duration
	HistoryCap      int
	AlertLogCap     int
	StoreTimeout    time.Duration
	LockTTL         time.Duration
	LockWait        time.Duration
	NotifyTimeout   time.Duration
	DefaultNearby   int
	MaxNearby       int
	MinBehaviorData int
}

type MapsConfig struct {
	APIKey   string
	Timeout  time.Duration
	CacheTTL time.Duration
}

type Config struct {
	Service string
	// StoreBackend is "redis" or "memory". Memory is for local runs only.
	StoreBackend string
	HTTP    struct {
		Addr            string
		ShutdownTimeout time.Duration
		CORSOrigins     []string
	}
	DB struct {
		DSN string
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	AMQP struct {
		URL      string
		Exchange string
	}
	Firebase struct {
		ProjectID       string
		CredentialsFile string
	}
	Maps     MapsConfig
	Tracking TrackingConfig
}

// DefaultTracking returns the tracking thresholds used when no env override is set.
func DefaultTracking() TrackingConfig {
	return TrackingConfig{
		SpeedLimitKmh:   120,
		MaxIdle:         5 * time.Minute,
		RecordTTL:       24 * time.Hour,
		HistoryCap:      100,
		AlertLogCap:     1000,
		StoreTimeout:    2 * time.Second,
		LockTTL:         5 * time.Second,
		LockWait:        3 * time.Second,
		NotifyTimeout:   3 * time.Second,
		DefaultNearby:   10,
		MaxNearby:       100,
		MinBehaviorData: 10,
	}
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real env vars take precedence.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	cfg.Service = envOrDefault("TRACKING_SERVICE_NAME", "tracking-api")
	cfg.StoreBackend = envOrDefault("TRACKING_STORE_BACKEND", "redis")
	cfg.HTTP.Addr = envOrDefault("TRACKING_HTTP_ADDR", ":8080")
	cfg.HTTP.ShutdownTimeout = envOrDefaultDuration("TRACKING_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)
	cfg.HTTP.CORSOrigins = envOrDefaultList("TRACKING_CORS_ORIGINS", []string{"*"})
	cfg.DB.DSN = os.Getenv("TRACKING_DB_DSN")
	cfg.Redis.Addr = envOrDefault("TRACKING_REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = os.Getenv("TRACKING_REDIS_PASSWORD")
	cfg.Redis.DB = envOrDefaultInt("TRACKING_REDIS_DB", 0)
	cfg.AMQP.URL = os.Getenv("TRACKING_AMQP_URL")
	cfg.AMQP.Exchange = envOrDefault("TRACKING_AMQP_EXCHANGE", "tracking.alerts")
	cfg.Firebase.ProjectID = os.Getenv("TRACKING_FIREBASE_PROJECT_ID")
	cfg.Firebase.CredentialsFile = os.Getenv("TRACKING_FIREBASE_CREDENTIALS")
	cfg.Maps.APIKey = os.Getenv("TRACKING_MAPS_API_KEY")
	cfg.Maps.Timeout = envOrDefaultDuration("TRACKING_MAPS_TIMEOUT", 5*time.Second)
	cfg.Maps.CacheTTL = envOrDefaultDuration("TRACKING_MAPS_CACHE_TTL", 10*time.Minute)

	t := DefaultTracking()
	t.SpeedLimitKmh = envOrDefaultFloat("TRACKING_SPEED_LIMIT_KMH", t.SpeedLimitKmh)
	t.MaxIdle = envOrDefaultDuration("TRACKING_MAX_IDLE", t.MaxIdle)
	t.RecordTTL = envOrDefaultDuration("TRACKING_RECORD_TTL", t.RecordTTL)
	t.HistoryCap = envOrDefaultInt("TRACKING_HISTORY_CAP", t.HistoryCap)
	t.AlertLogCap = envOrDefaultInt("TRACKING_ALERT_LOG_CAP", t.AlertLogCap)
	t.StoreTimeout = envOrDefaultDuration("TRACKING_STORE_TIMEOUT", t.StoreTimeout)
	t.LockTTL = envOrDefaultDuration("TRACKING_LOCK_TTL", t.LockTTL)
	t.LockWait = envOrDefaultDuration("TRACKING_LOCK_WAIT", t.LockWait)
	t.NotifyTimeout = envOrDefaultDuration("TRACKING_NOTIFY_TIMEOUT", t.NotifyTimeout)
	t.DefaultNearby = envOrDefaultInt("TRACKING_NEARBY_DEFAULT", t.DefaultNearby)
	t.MaxNearby = envOrDefaultInt("TRACKING_NEARBY_MAX", t.MaxNearby)
	cfg.Tracking = t
	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
