package coordinator

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

const (
	DefaultMaxConcurrent = 3
	DefaultStaleAfter    = 15 * time.Minute
	DefaultSweepSchedule = "@every 30s"
)

type Config struct {
	// MaxConcurrent bounds executions in flight in this instance.
	MaxConcurrent int `validate:"gte=1"`
	// StaleAfter is the inactivity window after which the sweep fails a
	// running execution.
	StaleAfter time.Duration `validate:"gt=0"`
	// SweepSchedule is a cron spec, e.g. "@every 30s".
	SweepSchedule string `validate:"required"`
	// SweepParallelism bounds concurrent finalizations during a sweep.
	SweepParallelism int `validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent:    DefaultMaxConcurrent,
		StaleAfter:       DefaultStaleAfter,
		SweepSchedule:    DefaultSweepSchedule,
		SweepParallelism: 4,
	}
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid coordinator config: %w", err)
	}

	if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
		return fmt.Errorf("invalid sweep schedule '%s': %w", c.SweepSchedule, err)
	}

	return nil
}
