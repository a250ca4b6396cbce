// Package masking sanitizes secrets out of tool-call parameters before
// they are persisted to telemetry, grounded on the teacher's
// pkg/masking.MaskingService (pkg/masking/service.go, pkg/masking/pattern.go):
// same compiled-regex-sweep-plus-fail-closed shape, simplified down to a
// single fixed pattern set — this gateway has no per-MCP-server masking
// configuration or alert-payload distinction to resolve against.
package masking

import (
	"log/slog"
	"regexp"
)

// builtinPattern is one regex/replacement pair applied to every tool
// parameter string before it reaches telemetry.
type builtinPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// builtinPatterns covers the secret shapes most likely to appear in this
// gateway's tool arguments: DSN passwords, bearer tokens, and JSON
// "key": "value" pairs under common secret key names. Compiled once at package init; every
// pattern here is a fixed literal, so compilation cannot fail at runtime
// the way the teacher's operator-authored custom patterns can.
var builtinPatterns = []builtinPattern{
	{
		name:        "dsn_password",
		regex:       regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/\s]+:)([^@/\s]+)(@)`),
		replacement: "${1}***${3}",
	},
	{
		name:        "bearer_token",
		regex:       regexp.MustCompile(`(?i)(bearer\s+)([a-z0-9\-_.]{8,})`),
		replacement: "${1}***",
	},
	{
		name:        "kv_secret",
		regex:       regexp.MustCompile(`(?i)("(?:password|api_key|apikey|secret|token)"\s*:\s*")([^"]*)(")`),
		replacement: "${1}***${3}",
	},
}

// Service applies the built-in masking sweep to strings before they are
// persisted. It is stateless and safe for concurrent use.
type Service struct {
	patterns []builtinPattern
}

// NewService constructs a masking Service with the built-in pattern set.
func NewService() *Service {
	return &Service{patterns: builtinPatterns}
}

// Mask sweeps every built-in pattern over content in order. On an
// unexpected panic from a pattern (should not happen with the fixed,
// pre-tested regex set above, but mirrors the teacher's fail-closed
// posture for tool results) it returns a redaction notice rather than the
// raw content.
func (s *Service) Mask(content string) (masked string) {
	if content == "" {
		return content
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("masking panicked, redacting content", "panic", r)
			masked = "[REDACTED: masking failure]"
		}
	}()

	masked = content
	for _, p := range s.patterns {
		masked = p.regex.ReplaceAllString(masked, p.replacement)
	}
	return masked
}
