// Package tools provides the versioned tool catalog, schema-validated
// execution, and the mapper that resolves unknown tool requests onto
// registered tools with safe fallbacks.
package tools

import (
	"context"
	"errors"
)

// Definition declares a tool's contract. InputSchema is a JSON Schema
// document; inputs are validated against it before the handler runs.
type Definition struct {
	Name               string         `json:"name"`
	Description        string         `json:"description"`
	InputSchema        map[string]any `json:"input_schema,omitempty"`
	Category           string         `json:"category"`
	Version            string         `json:"version,omitempty"`
	RequiresPermission bool           `json:"requires_permission"`

	// External marks tools backed by a remote source; mapping to them is
	// gated by the allow-external-tools toggle.
	External bool `json:"external,omitempty"`
}

// Handler executes a tool call. Args have already passed schema validation.
// Handlers must honor ctx cancellation; long-running tools chunk their work
// and check the signal between chunks.
type Handler func(ctx context.Context, args map[string]any) (*ExecResult, error)

// Tool pairs a definition with its handler.
type Tool struct {
	Definition
	Handler Handler
}

// ExecResult is the outcome of one tool execution. PartialOutput carries
// whatever the tool surfaced before a cancellation or failure.
type ExecResult struct {
	Output        any   `json:"output,omitempty"`
	PartialOutput any   `json:"partial_output,omitempty"`
	LatencyMS     int64 `json:"latency_ms"`
}

var (
	// ErrDuplicateTool indicates a second registration under the same name.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrToolNotFound indicates a lookup for an unregistered tool.
	ErrToolNotFound = errors.New("tool not found")
)
