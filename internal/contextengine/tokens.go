package contextengine

import "unicode/utf8"

// EstimateTokens approximates the token count of a text as a quarter of its
// rune count, with a floor of 1. Good enough for budget arithmetic; exact
// counts would need each provider's tokenizer.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	tokens := n / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
