package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// LogConfig controls the global zerolog logger.
type LogConfig struct {
	Level      string `envconfig:"LOG_LEVEL" default:"info"`
	Format     string `envconfig:"LOG_FORMAT" default:"json"`   // json, console
	Output     string `envconfig:"LOG_OUTPUT" default:"stdout"` // stdout, stderr, file
	FilePath   string `envconfig:"LOG_FILE_PATH" default:"logs/tracker.log"`
	TimeFormat string `envconfig:"LOG_TIME_FORMAT" default:"rfc3339"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `envconfig:"SERVER_ADDR" default:":8080"`
	PublicBaseURL   string        `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
	MaxBodyBytes    int64         `envconfig:"SERVER_MAX_BODY_BYTES" default:"1048576"`
}

// StoreConfig selects and tunes the session result store.
type StoreConfig struct {
	Backend       string        `envconfig:"STORE_BACKEND" default:"memory"` // memory, redis
	RedisURL      string        `envconfig:"REDIS_URL"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"10m"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
}

// Config is the process configuration read from the environment.
type Config struct {
	LogConfig    LogConfig    `envconfig:""`
	ServerConfig ServerConfig `envconfig:""`
	StoreConfig  StoreConfig  `envconfig:""`
	TrackersFile string       `envconfig:"TRACKERS_FILE" default:"trackers.yaml"`
}

// LoadConfig reads the configuration from environment variables.
func LoadConfig() (*Config, error) {
	var config Config
	err := envconfig.Process("", &config)
	if err != nil {
		return nil, fmt.Errorf("error processing environment configuration: %w", err)
	}

	switch config.StoreConfig.Backend {
	case "memory":
	case "redis":
		if config.StoreConfig.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL environment variable is required for the redis backend")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", config.StoreConfig.Backend)
	}

	return &config, nil
}
