// Package config loads the optional inkwell.yaml file and engine documents.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dukex/inkwell/pkg/coordinator"
	"github.com/dukex/inkwell/pkg/ledger"
	"github.com/dukex/inkwell/pkg/models"
	"gopkg.in/yaml.v3"
)

// File represents the structure of the inkwell.yaml file. Zero values keep
// the built-in defaults.
type File struct {
	Coordinator CoordinatorFile             `yaml:"coordinator"`
	Pricing     map[string]ledger.ModelCost `yaml:"pricing"`
	RateLimits  map[string]RateLimitFile    `yaml:"rate_limits"`
	Artifacts   ArtifactsFile               `yaml:"artifacts"`
}

type CoordinatorFile struct {
	MaxConcurrent    int    `yaml:"max_concurrent"`
	StaleAfter       string `yaml:"stale_after"`
	SweepSchedule    string `yaml:"sweep_schedule"`
	SweepParallelism int    `yaml:"sweep_parallelism"`
}

type RateLimitFile struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type ArtifactsFile struct {
	Bucket        string `yaml:"bucket"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// Load reads configuration from a YAML file.
func Load(filepath string) (File, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return File{}, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return File{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return file, nil
}

// LoadOrDefault loads the file when it exists and returns the empty
// configuration when it does not.
func LoadOrDefault(filepath string) (File, error) {
	if filepath == "" {
		return File{}, nil
	}

	file, err := Load(filepath)
	if errors.Is(err, os.ErrNotExist) {
		return File{}, nil
	}

	return file, err
}

// Validate checks the values the defaults cannot repair.
func Validate(file File) error {
	if file.Coordinator.MaxConcurrent < 0 {
		return fmt.Errorf("coordinator.max_concurrent must not be negative")
	}

	if file.Coordinator.StaleAfter != "" {
		staleAfter, err := time.ParseDuration(file.Coordinator.StaleAfter)
		if err != nil {
			return fmt.Errorf("coordinator.stale_after: %w", err)
		}

		if staleAfter <= 0 {
			return fmt.Errorf("coordinator.stale_after must be positive")
		}
	}

	for key, cost := range file.Pricing {
		if cost.InputCostPerMillion < 0 || cost.OutputCostPerMillion < 0 {
			return fmt.Errorf("pricing[%s]: costs must not be negative", key)
		}
	}

	for name, limit := range file.RateLimits {
		if limit.PerSecond <= 0 {
			return fmt.Errorf("rate_limits[%s]: per_second must be positive", name)
		}

		if limit.Burst < 0 {
			return fmt.Errorf("rate_limits[%s]: burst must not be negative", name)
		}
	}

	return nil
}

// CoordinatorConfig overlays the file on base and validates the result.
func (f File) CoordinatorConfig(base coordinator.Config) (coordinator.Config, error) {
	cfg := base

	if f.Coordinator.MaxConcurrent > 0 {
		cfg.MaxConcurrent = f.Coordinator.MaxConcurrent
	}

	if f.Coordinator.StaleAfter != "" {
		staleAfter, err := time.ParseDuration(f.Coordinator.StaleAfter)
		if err != nil {
			return cfg, fmt.Errorf("coordinator.stale_after: %w", err)
		}

		cfg.StaleAfter = staleAfter
	}

	if f.Coordinator.SweepSchedule != "" {
		cfg.SweepSchedule = f.Coordinator.SweepSchedule
	}

	if f.Coordinator.SweepParallelism > 0 {
		cfg.SweepParallelism = f.Coordinator.SweepParallelism
	}

	return cfg, cfg.Validate()
}

// PricingTable returns the default prices with the file's entries applied.
func (f File) PricingTable() ledger.Pricing {
	pricing := ledger.DefaultPricing()

	for key, cost := range f.Pricing {
		pricing[key] = cost
	}

	return pricing
}

// RateLimitSpec renders the rate limits in the "name=perSecond:burst" form
// accepted on the command line.
func (f File) RateLimitSpec() string {
	spec := ""

	for name, limit := range f.RateLimits {
		burst := max(limit.Burst, 1)

		if spec != "" {
			spec += ","
		}

		spec += fmt.Sprintf("%s=%g:%d", name, limit.PerSecond, burst)
	}

	return spec
}

// LoadEngine reads an engine document. JSON documents parse too.
func LoadEngine(filepath string) (*models.EngineDefinition, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine file %s: %w", filepath, err)
	}

	var engine models.EngineDefinition
	if err := yaml.Unmarshal(data, &engine); err != nil {
		return nil, fmt.Errorf("failed to parse engine file %s: %w", filepath, err)
	}

	return &engine, nil
}
