package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known voice-clone provider names. Used by
// [Validate] to warn about unrecognised names, which usually indicate a typo.
var ValidProviderNames = []string{"elevenlabs", "xtts", "mock"}

// Defaults applied by [ApplyDefaults] when the corresponding field is unset.
const (
	DefaultListenAddr      = ":8080"
	DefaultThreshold       = 5
	DefaultMinSamples      = 5
	DefaultMaxSamples      = 8
	DefaultProviderTimeout = Duration(2 * time.Minute)
	DefaultWorkers         = 4
	DefaultQueueSize       = 64
)

// Load reads the YAML configuration file at path, applies environment
// variable overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment variable
// overrides and defaults, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	// Environment variables win over file values so secrets never need to
	// live in the YAML.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: apply env overrides: %w", err)
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Training.Threshold <= 0 {
		cfg.Training.Threshold = DefaultThreshold
	}
	if cfg.Training.MinSamples <= 0 {
		cfg.Training.MinSamples = DefaultMinSamples
	}
	if cfg.Training.MaxSamples <= 0 {
		cfg.Training.MaxSamples = DefaultMaxSamples
	}
	if cfg.Training.ProviderTimeout <= 0 {
		cfg.Training.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.Training.Workers <= 0 {
		cfg.Training.Workers = DefaultWorkers
	}
	if cfg.Training.QueueSize <= 0 {
		cfg.Training.QueueSize = DefaultQueueSize
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Database
	if cfg.Database.PostgresDSN == "" {
		errs = append(errs, errors.New("database.postgres_dsn is required"))
	}

	// Provider
	if cfg.Provider.Name == "" {
		errs = append(errs, errors.New("provider.name is required"))
	} else if !slices.Contains(ValidProviderNames, cfg.Provider.Name) {
		slog.Warn("unknown provider name — may be a typo or third-party provider",
			"name", cfg.Provider.Name,
			"known", ValidProviderNames,
		)
	}

	// Training
	t := cfg.Training
	if t.MinSamples > t.MaxSamples {
		errs = append(errs, fmt.Errorf("training.min_samples %d exceeds training.max_samples %d", t.MinSamples, t.MaxSamples))
	}
	if t.Threshold < t.MinSamples {
		errs = append(errs, fmt.Errorf("training.threshold %d is below training.min_samples %d; triggered runs would always be rejected", t.Threshold, t.MinSamples))
	}
	if t.CostPerSampleCents < 0 {
		errs = append(errs, fmt.Errorf("training.cost_per_sample_cents %d must not be negative", t.CostPerSampleCents))
	}

	return errors.Join(errs...)
}
