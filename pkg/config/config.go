// Package config loads and validates the agentflow.yaml configuration:
// system defaults, queue tuning, and document retrieval settings.
package config

import (
	"time"

	"github.com/intellidoc/agentflow/pkg/docaware"
)

// Config is the umbrella configuration object returned by Initialize and
// used throughout the application.
type Config struct {
	configDir string

	// System-wide defaults.
	Defaults *Defaults `yaml:"defaults"`

	// Queue tuning.
	Queue *QueueConfig `yaml:"queue"`

	// Document retrieval (nil disables DocAware).
	DocAware *DocAwareConfig `yaml:"docaware"`

	// Retention policy.
	Retention *RetentionConfig `yaml:"retention"`
}

// Defaults contains system-wide default values. HumanInputTTL drives the
// stale human-input cleanup. The three delegation values are loaded and
// validated but are not passed to the orchestrator, which resolves unset
// node settings from its own package constants.
type Defaults struct {
	// DelegationTimeout bounds one delegate LLM attempt.
	DelegationTimeout time.Duration `yaml:"delegation_timeout"`

	// MaxDelegationRetries bounds retries per delegation.
	MaxDelegationRetries int `yaml:"max_delegation_retries"`

	// DelegationConfidenceThreshold below which matches broadcast to all
	// delegates.
	DelegationConfidenceThreshold float64 `yaml:"delegation_confidence_threshold"`

	// HumanInputTTL is how long an execution may wait for human input
	// before it is auto-cancelled.
	HumanInputTTL time.Duration `yaml:"human_input_ttl"`
}

// DocAwareConfig wires document retrieval.
type DocAwareConfig struct {
	Qdrant docaware.QdrantConfig `yaml:"qdrant"`

	// EmbeddingModel used for query embeddings (OpenAI).
	EmbeddingModel string `yaml:"embedding_model"`

	// EmbeddingAPIKeyEnv names the environment variable holding the
	// embedding API key.
	EmbeddingAPIKeyEnv string `yaml:"embedding_api_key_env"`
}

// RetentionConfig controls periodic cleanup.
type RetentionConfig struct {
	// Enabled turns the cleanup service on.
	Enabled bool `yaml:"enabled"`

	// ExecutionRetentionDays before completed executions are soft deleted.
	ExecutionRetentionDays int `yaml:"execution_retention_days"`

	// CleanupInterval between cleanup runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// QueueConfig holds worker pool tuning.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica/pod.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentExecutions is the global limit of concurrently running
	// executions across ALL replicas. Enforced by database COUNT(*) check.
	MaxConcurrentExecutions int `yaml:"max_concurrent_executions"`

	// PollInterval is the base interval for checking pending executions.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter randomizes polling: PollInterval ± jitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// ExecutionTimeout is the maximum wall-clock time one scheduler drive
	// may take. Paused executions are not bounded by this — the clock stops
	// at the pause.
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`

	// GracefulShutdownTimeout is the max time to wait for active
	// executions during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// OrphanDetectionInterval is how often to scan for orphaned executions.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how long an execution may go without a heartbeat
	// before it is considered orphaned.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}
