package config

import (
	"fmt"
	"time"
)

// Validator validates configuration comprehensively with clear error messages
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *Validator) ValidateAll() error {
	// Validate in dependency order: providers before the chain that
	// references them, agents before the session allow-list.

	if err := v.validateProviders(); err != nil {
		return fmt.Errorf("provider validation failed: %w", err)
	}

	if err := v.validateChain(); err != nil {
		return fmt.Errorf("chain validation failed: %w", err)
	}

	if err := v.validateAgents(); err != nil {
		return fmt.Errorf("agent validation failed: %w", err)
	}

	if err := v.validateMapper(); err != nil {
		return fmt.Errorf("mapper validation failed: %w", err)
	}

	if err := v.validateSession(); err != nil {
		return fmt.Errorf("session validation failed: %w", err)
	}

	if err := v.validateRuntime(); err != nil {
		return fmt.Errorf("runtime validation failed: %w", err)
	}

	if err := v.validateMisc(); err != nil {
		return err
	}

	return nil
}

func (v *Validator) validateProviders() error {
	for name, provider := range v.cfg.ProviderRegistry.GetAll() {
		if provider.Type == "" {
			return NewValidationError("provider", name, "type", ErrMissingRequiredField)
		}
		if provider.Type != "stub" && provider.Type != "remote" {
			return NewValidationError("provider", name, "type", fmt.Errorf("%w: %s", ErrInvalidValue, provider.Type))
		}
		if provider.Type == "remote" && provider.Endpoint == "" {
			return NewValidationError("provider", name, "endpoint", fmt.Errorf("required for remote providers"))
		}
		if provider.MaxTokens < 0 {
			return NewValidationError("provider", name, "max_tokens", fmt.Errorf("must not be negative"))
		}
	}
	return nil
}

func (v *Validator) validateChain() error {
	chain := v.cfg.Chain

	// Every chained provider must be declared
	for _, name := range chain.Providers {
		if !v.cfg.ProviderRegistry.Has(name) {
			return NewValidationError("chain", "chain", "providers",
				fmt.Errorf("%w: provider '%s' not found", ErrInvalidReference, name))
		}
	}

	if chain.RetryAttempts < 0 {
		return NewValidationError("chain", "chain", "retry_attempts", fmt.Errorf("must not be negative"))
	}
	if chain.MaxTokens < 1 {
		return NewValidationError("chain", "chain", "max_tokens", fmt.Errorf("must be at least 1"))
	}
	if chain.MaxInFlight < 1 {
		return NewValidationError("chain", "chain", "max_in_flight", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *Validator) validateAgents() error {
	for name, agent := range v.cfg.AgentRegistry.GetAll() {
		if len(agent.Capabilities) == 0 {
			return NewValidationError("agent", name, "capabilities", fmt.Errorf("at least one capability required"))
		}
		if agent.TrustLevel < 0 || agent.TrustLevel > 10 {
			return NewValidationError("agent", name, "trust_level", fmt.Errorf("must be within [0,10]"))
		}
		if agent.Isolation != "" && !agent.Isolation.IsValid() {
			return NewValidationError("agent", name, "isolation", fmt.Errorf("%w: %s", ErrInvalidValue, agent.Isolation))
		}
		if agent.MaxIterations != nil && *agent.MaxIterations < 1 {
			return NewValidationError("agent", name, "max_iterations", fmt.Errorf("must be at least 1"))
		}
	}
	return nil
}

func (v *Validator) validateMapper() error {
	mapper := v.cfg.Mapper

	if mapper.MaxRetries < 0 {
		return NewValidationError("mapper", "mapper", "max_retries", fmt.Errorf("must not be negative"))
	}
	if mapper.FallbackTimeout < time.Second {
		return NewValidationError("mapper", "mapper", "fallback_timeout", fmt.Errorf("must be at least 1s"))
	}
	if len(mapper.SupportedToolTypes) == 0 {
		return NewValidationError("mapper", "mapper", "supported_tool_types", fmt.Errorf("at least one supported tool type required"))
	}
	return nil
}

func (v *Validator) validateSession() error {
	session := v.cfg.Session

	if session.Isolation != "" && !session.Isolation.IsValid() {
		return NewValidationError("session", session.Name, "isolation", fmt.Errorf("%w: %s", ErrInvalidValue, session.Isolation))
	}
	if session.MaxConcurrentOperations < 1 {
		return NewValidationError("session", session.Name, "max_concurrent_operations", fmt.Errorf("must be at least 1"))
	}
	if session.TrustFloor < 0 || session.TrustFloor > 10 {
		return NewValidationError("session", session.Name, "trust_floor", fmt.Errorf("must be within [0,10]"))
	}
	for _, name := range session.AllowList {
		if !v.cfg.AgentRegistry.Has(name) {
			return NewValidationError("session", session.Name, "allow_list",
				fmt.Errorf("%w: agent '%s' not found", ErrInvalidReference, name))
		}
	}
	return nil
}

func (v *Validator) validateRuntime() error {
	runtime := v.cfg.Runtime

	if runtime.MaxIterations < 1 {
		return NewValidationError("runtime", "runtime", "max_iterations", fmt.Errorf("must be at least 1"))
	}
	if runtime.MaxSteps < 1 {
		return NewValidationError("runtime", "runtime", "max_steps", fmt.Errorf("must be at least 1"))
	}
	if runtime.StepRetryLimit < 0 {
		return NewValidationError("runtime", "runtime", "step_retry_limit", fmt.Errorf("must not be negative"))
	}
	return nil
}

func (v *Validator) validateMisc() error {
	if !v.cfg.Audit.DigestAlgo.IsValid() {
		return NewValidationError("audit", "audit", "digest_algo", fmt.Errorf("%w: %s", ErrInvalidValue, v.cfg.Audit.DigestAlgo))
	}
	if !v.cfg.Store.Policy.IsValid() {
		return NewValidationError("store", "store", "policy", fmt.Errorf("%w: %s", ErrInvalidValue, v.cfg.Store.Policy))
	}
	if v.cfg.RateLimit.MaxRequests < 1 {
		return NewValidationError("rate_limit", "rate_limit", "max_requests", fmt.Errorf("must be at least 1"))
	}
	if v.cfg.Queue.WorkerCount < 1 {
		return NewValidationError("queue", "queue", "worker_count", fmt.Errorf("must be at least 1"))
	}
	return nil
}
