// Package llm provides the model provider abstraction and the resilient
// fallback chain the runtime calls for every model step. Providers are
// uniform adapters (local or remote); the chain adds per-provider circuit
// breaking, health gating, retry with backoff, and fallback ordering.
package llm

import (
	"context"
	"time"
)

// HealthLevel is a provider self-reported resource condition. Providers at
// critical are skipped by the chain without counting as failures.
type HealthLevel string

const (
	HealthNominal  HealthLevel = "nominal"
	HealthElevated HealthLevel = "elevated"
	HealthCritical HealthLevel = "critical"
)

// Options tunes a single generate call. MaxTokens is clamped to the chain's
// safety ceiling regardless of the caller's value.
type Options struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Stop        []string
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is a completed generation. Provider identifies the concrete
// fallback position that produced the text.
type Result struct {
	Text         string `json:"text"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Usage        Usage  `json:"usage"`
	LatencyMS    int64  `json:"latency_ms"`
	FinishReason string `json:"finish_reason"`
}

// Capabilities describes what a provider supports. Used by dispatch and
// planning to avoid routing work a provider cannot do.
type Capabilities struct {
	MaxContextTokens int
	Streaming        bool
	ToolCalling      bool
	Local            bool
}

// Provider is the uniform adapter over a concrete model backend. A provider
// may be backed by HTTP, a local process, or anything else; the runtime
// does not assume a transport.
type Provider interface {
	// Name identifies this provider within a chain ("pA", "ollama-local").
	Name() string

	// Generate produces text for a prompt. Errors should be *ProviderError
	// so the chain can classify retryability; anything else is treated as
	// kind "unknown".
	Generate(ctx context.Context, prompt string, opts Options) (*Result, error)

	// ThermalStatus reports the provider's thermal condition.
	ThermalStatus() HealthLevel

	// MemoryStatus reports the provider's memory pressure.
	MemoryStatus() HealthLevel

	// Capabilities describes what the provider supports.
	Capabilities() Capabilities
}
