package contextengine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/tranvh/contextgate/pkg/models"
)

const (
	// summaryPickCount is how many messages an extractive summary quotes.
	summaryPickCount = 3
	// summarySentenceLimit bounds each quoted sentence, in runes.
	summarySentenceLimit = 120
)

// summarizeSegment builds a deterministic extractive summary of a message
// segment: the first sentence of the highest-importance messages, in
// chronological order. No LLM call; the same segment always yields the
// same summary.
func summarizeSegment(chatID string, msgs []*models.Message) models.Summary {
	picks := make([]*models.Message, len(msgs))
	copy(picks, msgs)
	sort.SliceStable(picks, func(i, j int) bool {
		return picks[i].Importance > picks[j].Importance
	})
	if len(picks) > summaryPickCount {
		picks = picks[:summaryPickCount]
	}
	sort.Slice(picks, func(i, j int) bool { return picks[i].ID < picks[j].ID })

	parts := make([]string, 0, len(picks))
	for _, m := range picks {
		if s := firstSentence(m.Text()); s != "" {
			parts = append(parts, fmt.Sprintf("[%s] %s", m.Role, s))
		}
	}

	text := fmt.Sprintf("Earlier in this conversation (%d messages): %s",
		len(msgs), strings.Join(parts, " "))

	first, last := msgs[0], msgs[len(msgs)-1]
	return models.Summary{
		ID:           uuid.New().String(),
		ChatID:       chatID,
		Text:         text,
		FromID:       first.ID,
		ToID:         last.ID,
		FromTime:     first.Timestamp,
		ToTime:       last.Timestamp,
		TokenCount:   EstimateTokens(text),
		MessageCount: len(msgs),
	}
}

// firstSentence returns the text up to the first sentence terminator,
// truncated to summarySentenceLimit runes.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexAny(text, ".!?\n"); idx >= 0 {
		text = strings.TrimSpace(text[:idx+1])
	}
	runes := []rune(text)
	if len(runes) > summarySentenceLimit {
		text = string(runes[:summarySentenceLimit])
	}
	return text
}
