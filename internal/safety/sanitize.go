package safety

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	scriptBlockRe = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	htmlTagRe     = regexp.MustCompile(`<[^>]*>`)
	fencedCodeRe  = regexp.MustCompile("(?s)```.*?```")
	latexDelimRe  = regexp.MustCompile(`\\\(|\\\)|\\\[|\\\]|\$\$`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// SanitizeContent normalizes text to NFKC, removes flagged Unicode ranges,
// strips HTML, script blocks, fenced code, LaTeX delimiters, and backticks,
// and collapses whitespace. NFKC can surface new strippable sequences (a
// fullwidth ＜ normalizes to <), so the transform runs to a fixed point,
// which also makes it idempotent.
func SanitizeContent(text string) string {
	prev := text
	for i := 0; i < 4; i++ {
		next := sanitizeOnce(prev)
		if next == prev {
			return next
		}
		prev = next
	}
	return prev
}

func sanitizeOnce(text string) string {
	text = norm.NFKC.String(text)
	text = scriptBlockRe.ReplaceAllString(text, " ")
	text = htmlTagRe.ReplaceAllString(text, " ")
	text = fencedCodeRe.ReplaceAllString(text, " ")
	text = latexDelimRe.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, "`", "")
	text = stripFlaggedRunes(text)
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// stripFlaggedRunes removes the Unicode ranges the abuse check flags.
func stripFlaggedRunes(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if flaggedRune(r) {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// flaggedRune reports control characters (except \t \n \r), zero-width and
// invisible characters, bidi overrides, and line/paragraph separators.
func flaggedRune(r rune) bool {
	switch {
	case r == '\t' || r == '\n' || r == '\r':
		return false
	case r < 0x20, r == 0x7F:
		return true
	case r >= 0x80 && r <= 0x9F:
		return true
	case r >= 0x200B && r <= 0x200F:
		return true
	case r >= 0x202A && r <= 0x202E:
		return true
	case r >= 0x2060 && r <= 0x2064:
		return true
	case r == 0x2028 || r == 0x2029:
		return true
	case r == 0xFEFF:
		return true
	}
	return false
}
