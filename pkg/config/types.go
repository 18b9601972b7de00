package config

import (
	"sort"
	"time"
)

// PraxisYAMLConfig represents the complete praxis.yaml file structure
type PraxisYAMLConfig struct {
	Runtime   *RuntimeConfig         `yaml:"runtime"`
	Chain     *ChainConfig           `yaml:"chain"`
	Agents    map[string]AgentConfig `yaml:"agents"`
	Mapper    *MapperConfig          `yaml:"mapper"`
	Session   *SessionConfig         `yaml:"session"`
	Queue     *QueueConfig           `yaml:"queue"`
	Audit     *AuditConfig           `yaml:"audit"`
	RateLimit *RateLimitConfig       `yaml:"rate_limit"`
	Store     *StoreConfig           `yaml:"store"`
	Circuit   *CircuitConfig         `yaml:"circuit"`
}

// ProvidersYAMLConfig represents the complete providers.yaml file structure
type ProvidersYAMLConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// RuntimeConfig bounds the plan/execute/reflect loop.
type RuntimeConfig struct {
	// MaxIterations caps evaluate→iterate cycles per task.
	MaxIterations int `yaml:"max_iterations"`

	// MaxSteps caps appended step records per task.
	MaxSteps int `yaml:"max_steps"`

	// WallBudget is the default wall-clock budget applied when a task
	// does not carry its own.
	WallBudget time.Duration `yaml:"wall_budget"`

	// StepRetryLimit caps retries of a single step with revised input.
	StepRetryLimit int `yaml:"step_retry_limit"`

	// ReflectOnCancel runs the advisory reflection phase even for tasks
	// that terminate in cancelled.
	ReflectOnCancel bool `yaml:"reflect_on_cancel"`

	// ConsecutiveTimeoutLimit aborts a task after this many step timeouts
	// in a row.
	ConsecutiveTimeoutLimit int `yaml:"consecutive_timeout_limit"`
}

// ChainConfig orders providers and tunes the fallback/retry policy.
type ChainConfig struct {
	// Providers is the fallback order; every name must exist in
	// providers.yaml.
	Providers []string `yaml:"providers"`

	RetryAttempts   int           `yaml:"retry_attempts"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`

	// MaxTokens is the safety ceiling clamped onto every call.
	MaxTokens int `yaml:"max_tokens"`

	// MaxInFlight caps concurrent generate calls across the chain.
	MaxInFlight int `yaml:"max_in_flight"`
}

// AgentConfig declares one agent available to the dispatcher.
type AgentConfig struct {
	Description    string         `yaml:"description"`
	Capabilities   []string       `yaml:"capabilities"`
	TrustLevel     int            `yaml:"trust_level"`
	ModelTargets   []string       `yaml:"model_targets"`
	Tools          []string       `yaml:"tools"`
	Specialization string         `yaml:"specialization"`
	Isolation      IsolationLevel `yaml:"isolation"`
	MaxIterations  *int           `yaml:"max_iterations,omitempty"`
}

// MapperConfig tunes unknown-tool resolution.
type MapperConfig struct {
	// AllowExternalTools gates mapping of requests flagged external.
	AllowExternalTools *bool `yaml:"allow_external_tools,omitempty"`

	// SafeFallbacks returns graceful-degradation results instead of
	// failing on unmappable tools.
	SafeFallbacks *bool `yaml:"safe_fallbacks,omitempty"`

	MaxRetries      int           `yaml:"max_retries"`
	FallbackTimeout time.Duration `yaml:"fallback_timeout"`

	// RefreshInterval drives the remote catalog refresh loop; SyncMode
	// forces refreshes to run synchronously.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	SyncMode        bool          `yaml:"sync_mode"`

	SupportedToolTypes []string      `yaml:"supported_tool_types"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
}

// SessionConfig declares the default coordination session.
type SessionConfig struct {
	Name                    string         `yaml:"name"`
	Isolation               IsolationLevel `yaml:"isolation"`
	MaxConcurrentOperations int            `yaml:"max_concurrent_operations"`
	TrustFloor              int            `yaml:"trust_floor"`
	AllowList               []string       `yaml:"allow_list"`
}

// QueueConfig contains worker pool configuration. These values control how
// tasks are queued, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines.
	WorkerCount int `yaml:"worker_count"`

	// MaxQueuedTasks bounds the pending queue; submissions past the
	// bound fail fast with a busy error.
	MaxQueuedTasks int `yaml:"max_queued_tasks"`

	// TaskTimeout is the maximum time a task may run.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// GracefulShutdownTimeout is the max time to wait for active tasks
	// to complete during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// OrphanDetectionInterval is how often to scan for tasks whose
	// worker stopped reporting progress.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how long a task can go without progress before
	// it is considered orphaned.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`
}

// AuditConfig selects the audit digest algorithm and optional signer.
type AuditConfig struct {
	DigestAlgo DigestAlgo `yaml:"digest_algo"`
	SignerID   string     `yaml:"signer_id,omitempty"`
}

// RateLimitConfig sets the sliding-window defaults for boundary calls.
type RateLimitConfig struct {
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max_requests"`
}

// StoreConfig sets bounded-store defaults.
type StoreConfig struct {
	MaxSize    int            `yaml:"max_size"`
	MaxBytes   int64          `yaml:"max_bytes"`
	DefaultTTL time.Duration  `yaml:"default_ttl"`
	Policy     EvictionPolicy `yaml:"policy"`
}

// CircuitConfig sets breaker defaults shared by all guarded resources.
type CircuitConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	MonitoringPeriod time.Duration `yaml:"monitoring_period"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
}

// ProviderConfig declares one model provider backing the chain.
type ProviderConfig struct {
	// Type selects the adapter: "stub" (in-process scripted) or
	// "remote" (HTTP-backed, wired by the embedding process).
	Type string `yaml:"type"`

	Model       string  `yaml:"model"`
	Endpoint    string  `yaml:"endpoint,omitempty"`
	APIKeyEnv   string  `yaml:"api_key_env,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
}

// AgentRegistry provides lookup over merged agent configurations.
type AgentRegistry struct {
	agents map[string]*AgentConfig
}

// NewAgentRegistry creates a registry from merged agent configs.
func NewAgentRegistry(agents map[string]*AgentConfig) *AgentRegistry {
	return &AgentRegistry{agents: agents}
}

// Get returns the agent config or ErrAgentNotFound.
func (r *AgentRegistry) Get(name string) (*AgentConfig, error) {
	agent, ok := r.agents[name]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return agent, nil
}

// Has reports whether the agent exists.
func (r *AgentRegistry) Has(name string) bool {
	_, ok := r.agents[name]
	return ok
}

// GetAll returns all agents keyed by name.
func (r *AgentRegistry) GetAll() map[string]*AgentConfig {
	return r.agents
}

// Names returns sorted agent names.
func (r *AgentRegistry) Names() []string {
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderRegistry provides lookup over merged provider configurations.
type ProviderRegistry struct {
	providers map[string]*ProviderConfig
}

// NewProviderRegistry creates a registry from merged provider configs.
func NewProviderRegistry(providers map[string]*ProviderConfig) *ProviderRegistry {
	return &ProviderRegistry{providers: providers}
}

// Get returns the provider config or ErrProviderNotFound.
func (r *ProviderRegistry) Get(name string) (*ProviderConfig, error) {
	provider, ok := r.providers[name]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return provider, nil
}

// Has reports whether the provider exists.
func (r *ProviderRegistry) Has(name string) bool {
	_, ok := r.providers[name]
	return ok
}

// GetAll returns all providers keyed by name.
func (r *ProviderRegistry) GetAll() map[string]*ProviderConfig {
	return r.providers
}

// Config is the fully resolved, validated runtime configuration.
type Config struct {
	configDir string

	Runtime   *RuntimeConfig
	Chain     *ChainConfig
	Mapper    *MapperConfig
	Session   *SessionConfig
	Queue     *QueueConfig
	Audit     *AuditConfig
	RateLimit *RateLimitConfig
	Store     *StoreConfig
	Circuit   *CircuitConfig

	AgentRegistry    *AgentRegistry
	ProviderRegistry *ProviderRegistry
}

// ConfigDir returns the directory this configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// Stats summarizes loaded component counts for startup logging.
type Stats struct {
	Agents    int
	Providers int
}

// Stats returns loaded component counts.
func (c *Config) Stats() Stats {
	return Stats{
		Agents:    len(c.AgentRegistry.GetAll()),
		Providers: len(c.ProviderRegistry.GetAll()),
	}
}
