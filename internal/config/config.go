package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// HTTP
	HTTPPort string

	// Logging
	LogLevel       string
	LogDevelopment bool

	// TimescaleDB (replay source)
	DBEnabled  bool
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Redis
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Speed-limit resolver
	OverpassURL          string
	OverpassRadiusMeters int
	SpeedLimitTimeout    time.Duration
	SpeedLimitDefault    int
	SpeedLimitTTL        time.Duration
	StaleFraction        float64

	// Pacing of external lookups
	PacerInterval time.Duration
	PacerScope    string

	// Local cache
	CacheSweepInterval time.Duration

	// Event archive writer
	ArchiveChannelSize int
	ArchiveBatchSize   int
	ArchiveFlush       time.Duration

	// Auth
	AuthCacheTTLSeconds int
	ValidAPIKeys        []string
}

var defaults = map[string]interface{}{
	"HTTP_PORT":              "8002",
	"LOG_LEVEL":              "info",
	"LOG_DEVELOPMENT":        false,
	"DB_ENABLED":             true,
	"DB_HOST":                "localhost",
	"DB_PORT":                "5432",
	"DB_USER":                "fleet_user",
	"DB_PASSWORD":            "fleet_password",
	"DB_NAME":                "fleet_monitor",
	"DB_MAX_CONNS":           5,
	"REDIS_ENABLED":          true,
	"REDIS_ADDR":             "localhost:6379",
	"REDIS_PASSWORD":         "",
	"REDIS_DB":               0,
	"OVERPASS_URL":           "https://overpass-api.de/api/interpreter",
	"OVERPASS_RADIUS_METERS": 25,
	"SPEED_LIMIT_TIMEOUT_MS": 2000,
	"SPEED_LIMIT_DEFAULT":    90,
	"SPEED_LIMIT_TTL_HOURS":  24,
	"STALE_FRACTION":         0.8,
	"PACER_INTERVAL_MS":      100,
	"PACER_SCOPE":            "run",
	"CACHE_SWEEP_SECONDS":    300,
	"ARCHIVE_CHANNEL_SIZE":   10000,
	"ARCHIVE_BATCH_SIZE":     500,
	"ARCHIVE_FLUSH_MS":       1000,
	"AUTH_CACHE_TTL_SECONDS": 300,
	"VALID_API_KEYS":         "",
}

// Load reads configuration from the environment, falling back to an optional
// events.yaml in the working directory, then to defaults.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	v.SetConfigName("events")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		HTTPPort:             v.GetString("HTTP_PORT"),
		LogLevel:             v.GetString("LOG_LEVEL"),
		LogDevelopment:       v.GetBool("LOG_DEVELOPMENT"),
		DBEnabled:            v.GetBool("DB_ENABLED"),
		DBHost:               v.GetString("DB_HOST"),
		DBPort:               v.GetString("DB_PORT"),
		DBUser:               v.GetString("DB_USER"),
		DBPassword:           v.GetString("DB_PASSWORD"),
		DBName:               v.GetString("DB_NAME"),
		DBMaxConns:           v.GetInt32("DB_MAX_CONNS"),
		RedisEnabled:         v.GetBool("REDIS_ENABLED"),
		RedisAddr:            v.GetString("REDIS_ADDR"),
		RedisPassword:        v.GetString("REDIS_PASSWORD"),
		RedisDB:              v.GetInt("REDIS_DB"),
		OverpassURL:          v.GetString("OVERPASS_URL"),
		OverpassRadiusMeters: v.GetInt("OVERPASS_RADIUS_METERS"),
		SpeedLimitTimeout:    time.Duration(v.GetInt("SPEED_LIMIT_TIMEOUT_MS")) * time.Millisecond,
		SpeedLimitDefault:    v.GetInt("SPEED_LIMIT_DEFAULT"),
		SpeedLimitTTL:        time.Duration(v.GetInt("SPEED_LIMIT_TTL_HOURS")) * time.Hour,
		StaleFraction:        v.GetFloat64("STALE_FRACTION"),
		PacerInterval:        time.Duration(v.GetInt("PACER_INTERVAL_MS")) * time.Millisecond,
		PacerScope:           strings.ToLower(v.GetString("PACER_SCOPE")),
		CacheSweepInterval:   time.Duration(v.GetInt("CACHE_SWEEP_SECONDS")) * time.Second,
		ArchiveChannelSize:   v.GetInt("ARCHIVE_CHANNEL_SIZE"),
		ArchiveBatchSize:     v.GetInt("ARCHIVE_BATCH_SIZE"),
		ArchiveFlush:         time.Duration(v.GetInt("ARCHIVE_FLUSH_MS")) * time.Millisecond,
		AuthCacheTTLSeconds:  v.GetInt("AUTH_CACHE_TTL_SECONDS"),
		ValidAPIKeys:         splitKeys(v.GetString("VALID_API_KEYS")),
	}

	if cfg.PacerScope != "run" && cfg.PacerScope != "global" {
		return nil, fmt.Errorf("invalid PACER_SCOPE %q: want run or global", cfg.PacerScope)
	}
	if cfg.StaleFraction <= 0 || cfg.StaleFraction > 1 {
		return nil, fmt.Errorf("invalid STALE_FRACTION %v: want (0, 1]", cfg.StaleFraction)
	}
	if cfg.ArchiveBatchSize <= 0 || cfg.ArchiveFlush <= 0 {
		return nil, errors.New("ARCHIVE_BATCH_SIZE and ARCHIVE_FLUSH_MS must be positive")
	}
	return cfg, nil
}

func splitKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
