package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings are the daemon's runtime options, read from the environment.
type Settings struct {
	DBPath         string        `env:"PARADOX_DB_PATH" envDefault:"data/paradox.db"`
	BalanceDir     string        `env:"PARADOX_BALANCE_DIR"`
	APIPort        int           `env:"PARADOX_API_PORT" envDefault:"8080"`
	AdminKey       string        `env:"PARADOX_ADMIN_KEY"`
	TickInterval   time.Duration `env:"PARADOX_TICK_INTERVAL" envDefault:"1s"`
	Speed          float64       `env:"PARADOX_SPEED" envDefault:"1"`
	SaveInterval   time.Duration `env:"PARADOX_SAVE_INTERVAL" envDefault:"1m"`
	SnapshotRetain int           `env:"PARADOX_SNAPSHOT_RETAIN" envDefault:"20"`
	MaxOffline     time.Duration `env:"PARADOX_MAX_OFFLINE" envDefault:"168h"`
	LogLevel       string        `env:"PARADOX_LOG_LEVEL" envDefault:"info"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadSettings reads Settings from the environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := ParseEnv(&s); err != nil {
		return Settings{}, err
	}
	if s.TickInterval <= 0 {
		return Settings{}, fmt.Errorf("PARADOX_TICK_INTERVAL must be positive, got %s", s.TickInterval)
	}
	return s, nil
}

// Balance loads balance data from BalanceDir, or the defaults when unset.
func (s Settings) Balance() (Balance, error) {
	if s.BalanceDir == "" {
		return DefaultBalance(), nil
	}
	return LoadBalanceDir(s.BalanceDir)
}

// SlogLevel maps LogLevel onto a slog level, defaulting to Info.
func (s Settings) SlogLevel() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
