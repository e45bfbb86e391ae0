// Package config provides configuration loading and management for
// dwirecon. It handles loading configuration from YAML files and provides
// default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Reconstruction parameters
	Reconstruction struct {
		// Lmax is the maximum spherical harmonic degree to
		// reconstruct; must be even
		Lmax int `yaml:"lmax"`

		// SSPWidth is the slice profile full-width-at-half-maximum
		// in slice-thickness units
		SSPWidth float64 `yaml:"sspWidth"`

		// ShellTolerance is the b-value spread within which volumes
		// are grouped into one shell
		ShellTolerance float64 `yaml:"shellTolerance"`

		// NumWorkers caps the goroutines used per projection call
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"reconstruction"`

	// Solver parameters
	Solver struct {
		// Tolerance is the relative residual at which the conjugate
		// gradient iteration stops
		Tolerance float64 `yaml:"tolerance"`

		// MaxIterations caps the conjugate gradient iterations
		MaxIterations int `yaml:"maxIterations"`
	} `yaml:"solver"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Reconstruction.Lmax = 4
	cfg.Reconstruction.SSPWidth = 2.0
	cfg.Reconstruction.ShellTolerance = 100.0
	cfg.Reconstruction.NumWorkers = runtime.NumCPU()

	cfg.Solver.Tolerance = 1e-6
	cfg.Solver.MaxIterations = 100

	cfg.Output.Verbose = true

	return cfg
}

// Validate checks the configuration for values the reconstruction cannot
// accept
func (cfg *Config) Validate() error {
	if cfg.Reconstruction.Lmax < 0 || cfg.Reconstruction.Lmax%2 != 0 {
		return fmt.Errorf("reconstruction.lmax must be even and non-negative, got %d", cfg.Reconstruction.Lmax)
	}
	if cfg.Reconstruction.SSPWidth <= 0 {
		return fmt.Errorf("reconstruction.sspWidth must be positive, got %f", cfg.Reconstruction.SSPWidth)
	}
	if cfg.Solver.Tolerance <= 0 {
		return fmt.Errorf("solver.tolerance must be positive, got %g", cfg.Solver.Tolerance)
	}
	if cfg.Solver.MaxIterations < 1 {
		return fmt.Errorf("solver.maxIterations must be at least 1, got %d", cfg.Solver.MaxIterations)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
