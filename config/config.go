package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config is loaded once, at process startup, from the environment, and
// shared read-only by every component for the lifetime of the process
// (see SPEC_FULL.md §4.10).
type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	// Redis — the time index (C3).
	RQHost string `env:"RQ_HOST" envDefault:"localhost"`
	RQPort int    `env:"RQ_PORT" envDefault:"6379" validate:"min=1,max=65535"`

	// Relational store — the schedule store (C2). Postgres is the only
	// wired dialect; MariaDB is accepted by validation but rejected at
	// store construction time, leaving the store unavailable (see DESIGN.md).
	SQLDialect  string `env:"SQL_TYPE" envDefault:"postgres" validate:"required,oneof=postgres mariadb"`
	SQLHost     string `env:"SQL_HOST" envDefault:"localhost"`
	SQLPort     int    `env:"SQL_PORT" envDefault:"5432" validate:"min=1,max=65535"`
	SQLDatabase string `env:"SQL_DATABASE,required" validate:"required"`
	SQLSchema   string `env:"SQL_SCHEMA" envDefault:"public"`
	SQLUser     string `env:"SQL_USER,required" validate:"required"`
	SQLPassword string `env:"SQL_PASSWORD,required" validate:"required"`

	// Timing (C1, C6, C7).
	TimeZoneString           string `env:"TIME_ZONE_STRING" envDefault:"UTC" validate:"required"`
	FullRefreshIntervalSecs  int    `env:"FULL_REFRESH_INTERVAL_SECS" envDefault:"3600" validate:"min=60,max=86400"`
	SchedulerPollingInterval int    `env:"SCHEDULER_POLLING_INTERVAL" envDefault:"5" validate:"min=1,max=300"`

	// Control listener (C8).
	SocketPath        string `env:"SOCKET_PATH" envDefault:"/tmp/btu_scheduler.sock"`
	SocketFileGroup   string `env:"SOCKET_FILE_GROUP_OWNER"`
	TCPSocketPort     int    `env:"TCP_SOCKET_PORT" envDefault:"12212" validate:"min=1,max=65535"`
	DisableUnixSocket bool   `env:"DISABLE_UNIX_SOCKET" envDefault:"false"`
	DisableTCPSocket  bool   `env:"DISABLE_TCP_SOCKET" envDefault:"false"`

	// Handoff target — the web application (C3).
	WebserverIP         string `env:"WEBSERVER_IP,required" validate:"required"`
	WebserverPort       int    `env:"WEBSERVER_PORT" envDefault:"443" validate:"min=1,max=65535"`
	WebserverToken      string `env:"WEBSERVER_TOKEN,required" validate:"required"`
	WebserverHostHeader string `env:"WEBSERVER_HOST_HEADER"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
