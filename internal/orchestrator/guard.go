package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
)

const DefaultMaxResultBytes = 16 * 1024

var defaultForbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[/?tool_output\]`),
	regexp.MustCompile(`\[tool_call\]`),
	regexp.MustCompile(`\[tool_use\]`),
	regexp.MustCompile(`<tool_call>`),
	regexp.MustCompile(`<function_call>`),
	regexp.MustCompile(`"type"\s*:\s*"function"`),
	regexp.MustCompile(`"tool_calls"\s*:\s*\[`),
}

// Guard bounds and defangs tool output before it is shown to the
// inference service.
type Guard struct {
	MaxResultBytes    int
	ForbiddenPatterns []*regexp.Regexp
}

// NewGuard returns a guard truncating at maxBytes (DefaultMaxResultBytes
// when zero; negative disables truncation).
func NewGuard(maxBytes int) *Guard {
	if maxBytes == 0 {
		maxBytes = DefaultMaxResultBytes
	}
	return &Guard{
		MaxResultBytes:    maxBytes,
		ForbiddenPatterns: defaultForbiddenPatterns,
	}
}

func (g *Guard) Sanitize(s string) string {
	if s == "" {
		return s
	}

	if g.MaxResultBytes > 0 && len(s) > g.MaxResultBytes {
		s = cutUTF8(s, g.MaxResultBytes) + "\n[truncated: output exceeded size limit]"
	}

	for _, pat := range g.ForbiddenPatterns {
		s = pat.ReplaceAllStringFunc(s, func(match string) string {
			return strings.Repeat("*", len(match))
		})
	}
	return s
}

// Wrap sanitizes tool output and encloses it in a [tool_output] block.
func (g *Guard) Wrap(s string) string {
	return fmt.Sprintf("[tool_output]\n%s\n[/tool_output]", g.Sanitize(s))
}

// cutUTF8 returns the longest prefix of s that fits in n bytes without
// splitting a UTF-8 sequence.
func cutUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8Start(s[n]) {
		n--
	}
	return s[:n]
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
