package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-platform/praxis/pkg/fault"
	"github.com/praxis-platform/praxis/pkg/store"
)

func defaultMapperOptions() MapperOptions {
	return MapperOptions{
		AllowExternalTools: false,
		SafeFallbacks:      true,
		MaxRetries:         2,
		FallbackTimeout:    5 * time.Second,
		SupportedToolTypes: []string{"search", "file", "data", "analysis", "visualization", "ml"},
		CacheTTL:           10 * time.Minute,
	}
}

func newTestMapper(t *testing.T, opts MapperOptions) (*Mapper, *Registry) {
	t.Helper()

	registry := NewRegistry(nil, nil)
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, RegisterBuiltins(registry, BuiltinOptions{Workspace: ws}))

	cache := store.New(store.Options{MaxSize: 100, DefaultTTL: opts.CacheTTL})
	t.Cleanup(cache.Destroy)

	mapper, err := NewMapper(registry, cache, nil, nil, opts)
	require.NoError(t, err)
	return mapper, registry
}

func TestNewMapper_ValidatesOptions(t *testing.T) {
	registry := NewRegistry(nil, nil)
	cache := store.New(store.Options{})

	cases := []struct {
		name   string
		mutate func(*MapperOptions)
	}{
		{"negative retries", func(o *MapperOptions) { o.MaxRetries = -1 }},
		{"sub-second fallback timeout", func(o *MapperOptions) { o.FallbackTimeout = 500 * time.Millisecond }},
		{"no supported types", func(o *MapperOptions) { o.SupportedToolTypes = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := defaultMapperOptions()
			tc.mutate(&opts)
			_, err := NewMapper(registry, cache, nil, nil, opts)
			require.Error(t, err)
			assert.Equal(t, fault.CodeValidation, fault.CodeOf(err))
		})
	}
}

func TestMapper_DirectHit(t *testing.T) {
	mapper, _ := newTestMapper(t, defaultMapperOptions())

	result, err := mapper.Map(context.Background(), UnknownToolRequest{ToolType: "web-search"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1.0, result.Confidence)
	assert.False(t, result.FallbackUsed)
	require.NotNil(t, result.MappedTool)
	assert.Equal(t, "web-search", result.MappedTool.Name)
}

func TestMapper_DiscoveryRegistersFamilyTool(t *testing.T) {
	mapper, registry := newTestMapper(t, defaultMapperOptions())

	result, err := mapper.Map(context.Background(), UnknownToolRequest{ToolType: "search-advanced"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.DiscoveryAttempted)
	assert.False(t, result.FallbackUsed)
	assert.Equal(t, 0.9, result.Confidence)
	require.NotNil(t, result.MappedTool)
	assert.Equal(t, "search-advanced", result.MappedTool.Name)

	// The discovered tool joins the catalog and delegates to its family.
	assert.True(t, registry.Has("search-advanced"))
}

func TestMapper_KeywordFallbackForExperimentalTool(t *testing.T) {
	mapper, _ := newTestMapper(t, defaultMapperOptions())

	// The leading token "experimental" names no supported family, so
	// discovery is skipped and the "ml" keyword selects the fallback.
	result, err := mapper.Map(context.Background(), UnknownToolRequest{ToolType: "experimental-ml-tool"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.FallbackUsed)
	assert.InDelta(t, 0.4, result.Confidence, 0.001)
	require.NotNil(t, result.MappedTool)
	assert.Equal(t, "web-search", result.MappedTool.Name)
	assert.GreaterOrEqual(t, result.Confidence, 0.3)
}

func TestMapper_CacheHitIsFasterAndMarked(t *testing.T) {
	mapper, _ := newTestMapper(t, defaultMapperOptions())
	req := UnknownToolRequest{ToolType: "data-export", Parameters: map[string]any{"format": "csv"}}

	miss, err := mapper.Map(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, miss.FromCache)
	assert.GreaterOrEqual(t, miss.ProcessingMS, int64(1))

	hit, err := mapper.Map(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, hit.FromCache)
	assert.Equal(t, miss.MappedTool, hit.MappedTool)
	assert.Less(t, hit.ProcessingMS, miss.ProcessingMS)
}

func TestMapper_CacheKeyDistinguishesParameters(t *testing.T) {
	mapper, _ := newTestMapper(t, defaultMapperOptions())

	first, err := mapper.Map(context.Background(), UnknownToolRequest{
		ToolType:   "data-export",
		Parameters: map[string]any{"format": "csv"},
	})
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	other, err := mapper.Map(context.Background(), UnknownToolRequest{
		ToolType:   "data-export",
		Parameters: map[string]any{"format": "json"},
	})
	require.NoError(t, err)
	assert.False(t, other.FromCache, "different parameters must not share a cache entry")
}

func TestMapper_SecurityGateRejectsDangerousRequest(t *testing.T) {
	mapper, registry := newTestMapper(t, defaultMapperOptions())
	before := len(registry.Names())

	result, err := mapper.Map(context.Background(), UnknownToolRequest{
		ToolType:   "file-cleanup",
		Parameters: map[string]any{"command": "rm -rf /var"},
	})
	require.Error(t, err)
	assert.Equal(t, fault.CodeSecurityViolation, fault.CodeOf(err))
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.SecurityReason)

	// Rejection happens before discovery; nothing joins the catalog.
	assert.Len(t, registry.Names(), before)
}

func TestMapper_SecurityGateBeforeCache(t *testing.T) {
	mapper, _ := newTestMapper(t, defaultMapperOptions())
	req := UnknownToolRequest{
		ToolType:   "search-logs",
		Parameters: map[string]any{"cmd": "sudo cat /etc/shadow"},
	}

	for i := 0; i < 2; i++ {
		result, err := mapper.Map(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, fault.CodeSecurityViolation, fault.CodeOf(err))
		assert.False(t, result.FromCache, "rejected requests are never cached")
	}
}

func TestMapper_ExternalToolsDisabled(t *testing.T) {
	mapper, _ := newTestMapper(t, defaultMapperOptions())

	result, err := mapper.Map(context.Background(), UnknownToolRequest{
		ToolType: "search-partner-api",
		External: true,
	})
	require.Error(t, err)
	assert.Equal(t, fault.CodeSecurityViolation, fault.CodeOf(err))
	assert.Equal(t, "external tools disabled", result.SecurityReason)
}

func TestMapper_ExternalToolsAllowed(t *testing.T) {
	opts := defaultMapperOptions()
	opts.AllowExternalTools = true
	mapper, _ := newTestMapper(t, opts)

	result, err := mapper.Map(context.Background(), UnknownToolRequest{
		ToolType: "search-partner-api",
		External: true,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestMapper_GracefulDegradationWithEmptyCatalog(t *testing.T) {
	registry := NewRegistry(nil, nil)
	cache := store.New(store.Options{MaxSize: 10})
	t.Cleanup(cache.Destroy)

	mapper, err := NewMapper(registry, cache, nil, nil, defaultMapperOptions())
	require.NoError(t, err)

	result, err := mapper.Map(context.Background(), UnknownToolRequest{ToolType: "quantum-widget"})
	require.NoError(t, err, "safe fallbacks degrade instead of failing")
	assert.False(t, result.Success)
	assert.True(t, result.GracefulDegradation)
	assert.Nil(t, result.MappedTool)
}

func TestMapper_UnmappedWithoutSafeFallbacks(t *testing.T) {
	opts := defaultMapperOptions()
	opts.SafeFallbacks = false
	mapper, _ := newTestMapper(t, opts)

	result, err := mapper.Map(context.Background(), UnknownToolRequest{ToolType: "quantum-widget"})
	require.Error(t, err)
	assert.Equal(t, fault.CodeToolNotFound, fault.CodeOf(err))
	assert.False(t, result.Success)
	assert.False(t, result.GracefulDegradation)
}

func TestMapper_VersionCompatibility(t *testing.T) {
	mapper, _ := newTestMapper(t, defaultMapperOptions())

	result, err := mapper.Map(context.Background(), UnknownToolRequest{
		ToolType:        "web-search",
		RequiredVersion: "1.0.0",
	})
	require.NoError(t, err)
	assert.Equal(t, "compatible", result.VersionCompatibility)

	result, err = mapper.Map(context.Background(), UnknownToolRequest{
		ToolType:        "file-read",
		RequiredVersion: "2.0.0",
	})
	require.NoError(t, err)
	assert.Equal(t, "incompatible", result.VersionCompatibility)
}

func TestVersionCompatibility_Table(t *testing.T) {
	cases := []struct {
		required  string
		candidate string
		want      string
	}{
		{"1.0.0", "1.0.0", "compatible"},
		{"1.0.0", "1.2.0", "compatible"},
		{"1.2.0", "1.0.0", "incompatible"},
		{"1.0.0", "2.0.0", "incompatible"},
		{"v1.0", "1.0.5", "compatible"},
		{"garbage", "1.0.0", "unknown"},
		{"1.0.0", "", "unknown"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, versionCompatibility(tc.required, tc.candidate),
			"required=%s candidate=%s", tc.required, tc.candidate)
	}
}

func TestMatchBand(t *testing.T) {
	assert.Equal(t, "web-search", matchBand("custom-search-thing").target)
	assert.Equal(t, "file-read", matchBand("weird-file-op").target)
	assert.Equal(t, "database-query", matchBand("data-pipeline").target)
	assert.Equal(t, genericFallback.target, matchBand("unrelated").target)
}
