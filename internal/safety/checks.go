package safety

import (
	"regexp"
	"strings"
)

// Pattern-based checks run when AI classification is disabled or
// unavailable. They are deterministic and cheap.

var injectionPatterns = []*regexp.Regexp{
	// Template literals and env references that suggest prompt smuggling.
	regexp.MustCompile(`\$\{[^}]*\}`),
	regexp.MustCompile(`\{\{[^}]*\}\}`),
	regexp.MustCompile(`(?i)process\.env`),
	regexp.MustCompile(`(?i)os\.environ`),
	// System-prompt leak attempts.
	regexp.MustCompile(`(?i)ignore (all )?(previous|prior) (instructions|prompts)`),
	regexp.MustCompile(`(?i)disregard (all )?(previous|prior|your) (instructions|rules)`),
	regexp.MustCompile(`(?i)(reveal|show|print|repeat) (me )?(your|the) (system prompt|instructions|initial prompt)`),
	regexp.MustCompile(`(?i)you are now (a|an|in) `),
	// Tool-schema and conversation-history leaks.
	regexp.MustCompile(`(?i)(list|show|dump) (all )?(your|available) tools?( schemas?)?`),
	regexp.MustCompile(`(?i)(print|dump|show) (the )?(entire |full )?conversation history`),
}

// containsInjection reports the first matching injection pattern.
func containsInjection(text string) bool {
	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

const (
	repetitionMinTokens   = 20
	repetitionUniqueRatio = 0.30
)

// suspiciousRepetition reports token floods: sequences longer than 20
// tokens where fewer than 30% are unique.
func suspiciousRepetition(text string) bool {
	tokens := strings.Fields(text)
	if len(tokens) <= repetitionMinTokens {
		return false
	}
	unique := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		unique[strings.ToLower(tok)] = struct{}{}
	}
	ratio := float64(len(unique)) / float64(len(tokens))
	return ratio < repetitionUniqueRatio
}

// suspiciousUnicode reports text containing flagged Unicode ranges:
// control characters, zero-width and invisible marks, bidi overrides, and
// line separators.
func suspiciousUnicode(text string) bool {
	for _, r := range text {
		if flaggedRune(r) {
			return true
		}
	}
	return false
}
