package config

import "time"

// DefaultMaxTokens is the token ceiling applied when none is configured.
const DefaultMaxTokens = 4096

// DefaultRuntimeConfig returns the built-in runtime loop bounds.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MaxIterations:           10,
		MaxSteps:                50,
		WallBudget:              5 * time.Minute,
		StepRetryLimit:          2,
		ReflectOnCancel:         false,
		ConsecutiveTimeoutLimit: 3,
	}
}

// DefaultChainConfig returns the built-in chain defaults. Providers is left
// empty; the fallback order always comes from YAML.
func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{
		RetryAttempts:   2,
		BackoffBase:     200 * time.Millisecond,
		BackoffMax:      5 * time.Second,
		ProviderTimeout: 30 * time.Second,
		MaxTokens:       DefaultMaxTokens,
		MaxInFlight:     16,
	}
}

// DefaultMapperConfig returns the built-in mapper defaults.
func DefaultMapperConfig() *MapperConfig {
	allowExternal := true
	safeFallbacks := true
	return &MapperConfig{
		AllowExternalTools: &allowExternal,
		SafeFallbacks:      &safeFallbacks,
		MaxRetries:         2,
		FallbackTimeout:    5 * time.Second,
		RefreshInterval:    5 * time.Minute,
		SupportedToolTypes: []string{"search", "file", "data", "analysis", "visualization", "ml"},
		CacheTTL:           10 * time.Minute,
	}
}

// DefaultSessionConfig returns the built-in coordination session.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		Name:                    "default",
		Isolation:               IsolationModerate,
		MaxConcurrentOperations: 8,
		TrustFloor:              3,
	}
}

// DefaultQueueConfig returns the built-in worker pool defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		MaxQueuedTasks:          64,
		TaskTimeout:             15 * time.Minute,
		GracefulShutdownTimeout: 15 * time.Minute,
		OrphanDetectionInterval: time.Minute,
		OrphanThreshold:         5 * time.Minute,
	}
}

// DefaultAuditConfig returns the built-in audit settings.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{DigestAlgo: DigestFNV1a32}
}

// DefaultRateLimitConfig returns the built-in rate-limiter window.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		Window:      time.Minute,
		MaxRequests: 120,
	}
}

// DefaultStoreConfig returns the built-in bounded-store sizing.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		MaxSize:    1000,
		MaxBytes:   4 << 20,
		DefaultTTL: 30 * time.Minute,
		Policy:     EvictionLRU,
	}
}

// DefaultCircuitConfig returns the built-in breaker tuning.
func DefaultCircuitConfig() *CircuitConfig {
	return &CircuitConfig{
		FailureThreshold: 5,
		MonitoringPeriod: time.Minute,
		ResetTimeout:     30 * time.Second,
		CallTimeout:      60 * time.Second,
	}
}

// BuiltinAgents returns the agents available without any user YAML. Users
// may override them by name in praxis.yaml.
func BuiltinAgents() map[string]AgentConfig {
	return map[string]AgentConfig{
		"generalist": {
			Description:    "General-purpose agent able to run model and tool steps",
			Capabilities:   []string{"general", "search", "summarize"},
			TrustLevel:     5,
			Tools:          []string{"web-search", "file-read"},
			Specialization: "general",
			Isolation:      IsolationModerate,
		},
		"researcher": {
			Description:    "Web research and synthesis",
			Capabilities:   []string{"general", "search", "research", "summarize"},
			TrustLevel:     6,
			Tools:          []string{"web-search", "web-fetch"},
			Specialization: "research",
			Isolation:      IsolationModerate,
		},
		"analyst": {
			Description:    "Data extraction and analysis over files",
			Capabilities:   []string{"general", "data", "analysis"},
			TrustLevel:     7,
			Tools:          []string{"file-read", "file-grep", "database-query"},
			Specialization: "analysis",
			Isolation:      IsolationStrict,
		},
	}
}
