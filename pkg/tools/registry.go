package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/praxis-platform/praxis/pkg/events"
	"github.com/praxis-platform/praxis/pkg/fault"
	"github.com/praxis-platform/praxis/pkg/telemetry"
)

// Registry is the versioned tool catalog. Registration is idempotent in the
// failure sense: a duplicate name fails with ErrDuplicateTool and leaves the
// catalog unchanged. Input schemas are compiled once at registration.
type Registry struct {
	bus  *events.Bus
	sink telemetry.Sink

	mu       sync.RWMutex
	tools    map[string]*Tool
	compiled map[string]*jsonschema.Schema
}

// NewRegistry creates an empty catalog. bus may be nil; sink may be nil and
// defaults to the noop sink.
func NewRegistry(bus *events.Bus, sink telemetry.Sink) *Registry {
	if sink == nil {
		sink = telemetry.NewNoop()
	}
	return &Registry{
		bus:      bus,
		sink:     sink,
		tools:    make(map[string]*Tool),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool to the catalog. A duplicate name fails without state
// change. An invalid input schema fails registration.
func (r *Registry) Register(tool *Tool) error {
	if tool == nil || tool.Name == "" {
		return fault.New(fault.CodeValidation, "tool must have a name")
	}

	var schema *jsonschema.Schema
	if tool.InputSchema != nil {
		compiled, err := compileSchema(tool.Name, tool.InputSchema)
		if err != nil {
			return fault.Wrap(fault.CodeValidation, err, "invalid input schema for tool %s", tool.Name)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, tool.Name)
	}
	r.tools[tool.Name] = tool
	if schema != nil {
		r.compiled[tool.Name] = schema
	}
	slog.Debug("Tool registered", "tool", tool.Name, "category", tool.Category, "version", tool.Version)
	return nil
}

// Unregister removes a tool, reporting whether it existed. Used when a
// remote source stops offering a mirrored tool.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return false
	}
	delete(r.tools, name)
	delete(r.compiled, name)
	return true
}

// Get returns the tool or ErrToolNotFound.
func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool, nil
}

// Has reports whether the tool exists.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns tool definitions, optionally filtered by category. Results
// are sorted by name for stable output.
func (r *Registry) List(category string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, tool := range r.tools {
		if category != "" && tool.Category != category {
			continue
		}
		out = append(out, tool.Definition)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns sorted registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute validates args against the tool's schema and runs its handler.
// Validation failure never reaches the tool body. Cancellation surfaces as
// a cancelled fault carrying any partial output the tool reported.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*ExecResult, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.compiled[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fault.New(fault.CodeToolNotFound, "tool %s not registered", name)
	}

	if schema != nil {
		if err := validateInstance(schema, args); err != nil {
			return nil, fault.Wrap(fault.CodeValidation, err, "input validation failed for tool %s", name)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fault.Wrap(fault.CodeCancelled, err, "tool %s not started", name)
	}

	r.publish(events.EventTypeToolCallStarted, events.ToolCallPayload{Tool: name})

	start := time.Now()
	result, err := tool.Handler(ctx, args)
	latency := time.Since(start)

	if result == nil {
		result = &ExecResult{}
	}
	result.LatencyMS = latency.Milliseconds()

	outcome := "success"
	switch {
	case err == nil && ctx.Err() != nil:
		// The tool returned normally but the call was already cancelled;
		// treat the output as partial.
		outcome = "aborted"
		result.PartialOutput = result.Output
		result.Output = nil
		err = fault.Wrap(fault.CodeCancelled, ctx.Err(), "tool %s aborted", name)
	case err != nil && fault.CodeOf(err) == fault.CodeCancelled:
		outcome = "aborted"
	case err != nil:
		outcome = "error"
		if fault.CodeOf(err) == fault.CodeInternal {
			err = fault.Wrap(fault.CodeToolExecutionFailed, err, "tool %s failed", name)
		}
	}

	r.sink.RecordToolExecution(name, outcome, latency.Seconds())
	r.publish(events.EventTypeToolCallCompleted, events.ToolCallPayload{
		Tool:      name,
		Success:   err == nil,
		LatencyMS: result.LatencyMS,
	})

	if err != nil {
		return result, err
	}
	return result, nil
}

func (r *Registry) publish(eventType string, payload any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.New(eventType, "tools", "", payload))
}

// compileSchema compiles a JSON Schema document held as a Go map.
func compileSchema(name string, doc map[string]any) (*jsonschema.Schema, error) {
	// Round-trip through JSON so the compiler sees canonical types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	url := "praxis://tools/" + name + "/schema.json"
	if err := c.AddResource(url, schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// validateInstance validates a Go value against a compiled schema.
func validateInstance(schema *jsonschema.Schema, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("unmarshal input: %w", err)
	}
	return schema.Validate(instance)
}
