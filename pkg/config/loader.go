package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the expected configuration file name.
const ConfigFileName = "agentflow.yaml"

// Initialize loads agentflow.yaml from the config directory, expands
// environment variables, and merges the result over built-in defaults. A
// missing file yields the defaults.
func Initialize(configDir string) (*Config, error) {
	cfg := defaultConfig()
	cfg.configDir = configDir

	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("No configuration file found, using defaults", "path", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var loaded Config
	if err := yaml.Unmarshal(ExpandEnv(data), &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Loaded values win over the built-in defaults.
	if err := mergo.Merge(cfg, &loaded, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge configuration: %w", err)
	}
	cfg.configDir = configDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Info("Configuration loaded", "path", path)
	return cfg, nil
}

// Validate checks cross-field configuration invariants.
func (c *Config) Validate() error {
	if c.Queue.WorkerCount < 1 {
		return fmt.Errorf("queue.worker_count must be at least 1")
	}
	if c.Queue.MaxConcurrentExecutions < c.Queue.WorkerCount {
		return fmt.Errorf("queue.max_concurrent_executions (%d) cannot be below queue.worker_count (%d)",
			c.Queue.MaxConcurrentExecutions, c.Queue.WorkerCount)
	}
	if c.Defaults.DelegationConfidenceThreshold < 0 || c.Defaults.DelegationConfidenceThreshold > 1 {
		return fmt.Errorf("defaults.delegation_confidence_threshold must be within [0, 1]")
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Defaults: &Defaults{
			DelegationTimeout:             30 * time.Second,
			MaxDelegationRetries:          3,
			DelegationConfidenceThreshold: 0.7,
			HumanInputTTL:                 time.Hour,
		},
		Queue: &QueueConfig{
			WorkerCount:             2,
			MaxConcurrentExecutions: 10,
			PollInterval:            2 * time.Second,
			PollIntervalJitter:      500 * time.Millisecond,
			ExecutionTimeout:        30 * time.Minute,
			GracefulShutdownTimeout: 30 * time.Minute,
			OrphanDetectionInterval: time.Minute,
			OrphanThreshold:         5 * time.Minute,
		},
		Retention: &RetentionConfig{
			Enabled:                true,
			ExecutionRetentionDays: 90,
			CleanupInterval:        time.Hour,
		},
	}
}
