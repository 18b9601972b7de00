package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Environment toggles recognized after YAML resolution. Each overrides the
// corresponding resolved field; invalid values are logged and ignored.
const (
	EnvDigestAlgo            = "DIGEST_ALGO"
	EnvMaxToolTokens         = "MAX_TOOL_TOKENS"
	EnvToolRefreshIntervalMS = "TOOL_REFRESH_INTERVAL_MS"
	EnvSyncMode              = "SYNC_MODE"
	EnvAllowExternalTools    = "ALLOW_EXTERNAL_TOOLS"
	EnvRateLimitWindowMS     = "RATE_LIMIT_WINDOW_MS"
	EnvRateLimitMax          = "RATE_LIMIT_MAX"
)

// applyEnvOverrides applies recognized environment toggles on top of the
// resolved configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvDigestAlgo); v != "" {
		algo := DigestAlgo(v)
		if algo.IsValid() {
			cfg.Audit.DigestAlgo = algo
		} else {
			slog.Warn("Ignoring invalid digest algorithm from environment",
				"var", EnvDigestAlgo, "value", v)
		}
	}

	if n, ok := envInt(EnvMaxToolTokens); ok && n > 0 {
		cfg.Chain.MaxTokens = n
	}

	if n, ok := envInt(EnvToolRefreshIntervalMS); ok && n > 0 {
		cfg.Mapper.RefreshInterval = time.Duration(n) * time.Millisecond
	}

	if b, ok := envBool(EnvSyncMode); ok {
		cfg.Mapper.SyncMode = b
	}

	if b, ok := envBool(EnvAllowExternalTools); ok {
		cfg.Mapper.AllowExternalTools = &b
	}

	if n, ok := envInt(EnvRateLimitWindowMS); ok && n > 0 {
		cfg.RateLimit.Window = time.Duration(n) * time.Millisecond
	}

	if n, ok := envInt(EnvRateLimitMax); ok && n > 0 {
		cfg.RateLimit.MaxRequests = n
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring non-integer environment value", "var", name, "value", v)
		return 0, false
	}
	return n, true
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("Ignoring non-boolean environment value", "var", name, "value", v)
		return false, false
	}
	return b, true
}
