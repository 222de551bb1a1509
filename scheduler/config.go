package scheduler

import (
	"fmt"
	"log/slog"
	"time"
)

type Config struct {
	Logger       *slog.Logger  `json:"-"`
	TickInterval time.Duration `json:"tick-interval"`
}

func DefaultConfig() Config {
	return Config{
		Logger:       slog.Default(),
		TickInterval: 1 * time.Second,
	}
}

func Validate(config Config) error {
	if config.TickInterval <= 0 {
		return fmt.Errorf("tick-interval must be greater than 0")
	}
	return nil
}
