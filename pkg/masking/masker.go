// Package masking redacts secrets from strings and structured values
// before they leave the runtime, such as audit record payloads and event
// data. Masking is pattern-based with named pattern groups; custom
// patterns extend the built-in set.
package masking

import (
	"log/slog"
	"regexp"
)

// Pattern is one named masking rule.
type Pattern struct {
	Name        string
	Pattern     string
	Replacement string
	Description string
}

// CompiledPattern is a pattern with its compiled regex.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinPatterns are the always-available masking rules.
var builtinPatterns = []Pattern{
	{
		Name:        "api_key",
		Pattern:     `(?i)(api[_-]?key["']?\s*[=:]\s*["']?)[^\s"']+`,
		Replacement: "${1}***MASKED_API_KEY***",
		Description: "API key assignments in config or log text",
	},
	{
		Name:        "password",
		Pattern:     `(?i)(password["']?\s*[=:]\s*["']?)[^\s"']+`,
		Replacement: "${1}***MASKED_PASSWORD***",
		Description: "Password assignments",
	},
	{
		Name:        "secret",
		Pattern:     `(?i)(secret["']?\s*[=:]\s*["']?)[^\s"']+`,
		Replacement: "${1}***MASKED_SECRET***",
		Description: "Generic secret assignments",
	},
	{
		Name:        "bearer_token",
		Pattern:     `(?i)bearer\s+[a-zA-Z0-9\-._~+/]+=*`,
		Replacement: "Bearer ***MASKED_TOKEN***",
		Description: "Authorization bearer tokens",
	},
	{
		Name:        "certificate",
		Pattern:     `-----BEGIN [A-Z ]+-----[\s\S]*?-----END [A-Z ]+-----`,
		Replacement: "***MASKED_CERTIFICATE***",
		Description: "PEM certificate and key blocks",
	},
}

// patternGroups name convenient bundles of built-in patterns.
var patternGroups = map[string][]string{
	"basic":    {"api_key", "password", "bearer_token"},
	"security": {"api_key", "password", "secret", "bearer_token", "certificate"},
}

// compilePatterns compiles a pattern list, logging and skipping invalid
// regexes.
func compilePatterns(patterns []Pattern) []*CompiledPattern {
	compiled := make([]*CompiledPattern, 0, len(patterns))
	for _, p := range patterns {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			slog.Error("Failed to compile masking pattern, skipping",
				"pattern", p.Name, "error", err)
			continue
		}
		compiled = append(compiled, &CompiledPattern{
			Name:        p.Name,
			Regex:       regex,
			Replacement: p.Replacement,
			Description: p.Description,
		})
	}
	return compiled
}
