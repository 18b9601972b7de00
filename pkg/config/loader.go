package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined configurations
//  5. Apply environment toggle overrides
//  6. Build in-memory registries
//  7. Validate all configuration
//  8. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"agents", stats.Agents,
		"providers", stats.Providers,
		"chain_order", cfg.Chain.Providers,
		"digest_algo", cfg.Audit.DigestAlgo)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load praxis.yaml (runtime, chain, agents, mapper, session, ...)
	praxisConfig, err := loader.loadPraxisYAML()
	if err != nil {
		return nil, NewLoadError("praxis.yaml", err)
	}

	// 2. Load providers.yaml
	providers, err := loader.loadProvidersYAML()
	if err != nil {
		return nil, NewLoadError("providers.yaml", err)
	}

	// 3. Merge built-in + user-defined agents (user overrides built-in)
	agents := mergeAgents(BuiltinAgents(), praxisConfig.Agents)

	// 4. Resolve each section: defaults first, user YAML merged on top so
	// unset fields keep their defaults.
	cfg := &Config{
		configDir: configDir,
		Runtime:   DefaultRuntimeConfig(),
		Chain:     DefaultChainConfig(),
		Mapper:    DefaultMapperConfig(),
		Session:   DefaultSessionConfig(),
		Queue:     DefaultQueueConfig(),
		Audit:     DefaultAuditConfig(),
		RateLimit: DefaultRateLimitConfig(),
		Store:     DefaultStoreConfig(),
		Circuit:   DefaultCircuitConfig(),
	}
	sections := []struct {
		name string
		dst  any
		src  any
	}{
		{"runtime", cfg.Runtime, praxisConfig.Runtime},
		{"chain", cfg.Chain, praxisConfig.Chain},
		{"mapper", cfg.Mapper, praxisConfig.Mapper},
		{"session", cfg.Session, praxisConfig.Session},
		{"queue", cfg.Queue, praxisConfig.Queue},
		{"audit", cfg.Audit, praxisConfig.Audit},
		{"rate_limit", cfg.RateLimit, praxisConfig.RateLimit},
		{"store", cfg.Store, praxisConfig.Store},
		{"circuit", cfg.Circuit, praxisConfig.Circuit},
	}
	for _, s := range sections {
		if isNilSection(s.src) {
			continue
		}
		if err := mergo.Merge(s.dst, s.src, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge %s config: %w", s.name, err)
		}
	}

	// 5. Environment toggles override resolved values
	applyEnvOverrides(cfg)

	// 6. Build registries
	cfg.AgentRegistry = NewAgentRegistry(agents)
	cfg.ProviderRegistry = NewProviderRegistry(providers)

	return cfg, nil
}

func isNilSection(src any) bool {
	switch v := src.(type) {
	case *RuntimeConfig:
		return v == nil
	case *ChainConfig:
		return v == nil
	case *MapperConfig:
		return v == nil
	case *SessionConfig:
		return v == nil
	case *QueueConfig:
		return v == nil
	case *AuditConfig:
		return v == nil
	case *RateLimitConfig:
		return v == nil
	case *StoreConfig:
		return v == nil
	case *CircuitConfig:
		return v == nil
	}
	return src == nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

// mergeAgents merges built-in and user-defined agent configurations.
// User-defined agents override built-in agents with the same name.
func mergeAgents(builtin map[string]AgentConfig, user map[string]AgentConfig) map[string]*AgentConfig {
	result := make(map[string]*AgentConfig)

	for name, agent := range builtin {
		// Defensive copies of slices to prevent shared state
		agentCopy := agent
		agentCopy.Capabilities = append([]string(nil), agent.Capabilities...)
		agentCopy.Tools = append([]string(nil), agent.Tools...)
		agentCopy.ModelTargets = append([]string(nil), agent.ModelTargets...)
		result[name] = &agentCopy
	}

	for name, agent := range user {
		agentCopy := agent
		result[name] = &agentCopy
	}

	return result
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadPraxisYAML() (*PraxisYAMLConfig, error) {
	var config PraxisYAMLConfig

	// Initialize map to avoid nil map
	config.Agents = make(map[string]AgentConfig)

	if err := l.loadYAML("praxis.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (l *configLoader) loadProvidersYAML() (map[string]*ProviderConfig, error) {
	var config ProvidersYAMLConfig

	config.Providers = make(map[string]ProviderConfig)

	if err := l.loadYAML("providers.yaml", &config); err != nil {
		return nil, err
	}

	result := make(map[string]*ProviderConfig, len(config.Providers))
	for name, provider := range config.Providers {
		providerCopy := provider
		result[name] = &providerCopy
	}

	return result, nil
}
