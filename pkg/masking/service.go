package masking

import (
	"log/slog"
)

// Service applies a resolved pattern set to strings and nested values.
type Service struct {
	patterns []*CompiledPattern
}

// NewService builds a masking service from a pattern group name plus
// any custom patterns. An unknown group falls back to "security".
func NewService(group string, custom ...Pattern) *Service {
	names, ok := patternGroups[group]
	if !ok {
		if group != "" {
			slog.Warn("Unknown masking pattern group, using security", "group", group)
		}
		names = patternGroups["security"]
	}

	selected := make([]Pattern, 0, len(names)+len(custom))
	for _, name := range names {
		for _, p := range builtinPatterns {
			if p.Name == name {
				selected = append(selected, p)
				break
			}
		}
	}
	selected = append(selected, custom...)

	return &Service{patterns: compilePatterns(selected)}
}

// Mask redacts all pattern matches in the string.
func (s *Service) Mask(data string) string {
	for _, p := range s.patterns {
		data = p.Regex.ReplaceAllString(data, p.Replacement)
	}
	return data
}

// MaskValue walks maps, slices, and strings, masking every string leaf.
// Non-string leaves pass through untouched.
func (s *Service) MaskValue(value any) any {
	switch v := value.(type) {
	case string:
		return s.Mask(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = s.MaskValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.MaskValue(item)
		}
		return out
	default:
		return value
	}
}

// PatternNames returns the names of the active patterns, for startup
// logging.
func (s *Service) PatternNames() []string {
	names := make([]string, len(s.patterns))
	for i, p := range s.patterns {
		names[i] = p.Name
	}
	return names
}
