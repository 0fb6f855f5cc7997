package contextengine

import (
	"strings"

	"github.com/tranvh/contextgate/pkg/models"
)

var (
	decisionCues = []string{
		"decide", "decided", "we will", "i will", "let's", "agreed",
		"agree to", "confirm", "confirmed", "choose", "chose", "commit",
		"must", "final",
	}
	urgencyCues = []string{
		"urgent", "asap", "immediately", "right away", "critical",
		"deadline", "today", "now",
	}
)

// scoreImportance assigns an initial importance from simple lexical cues.
// Base 0.5; questions, decisions, urgency markers, and user authorship each
// push it up; clamped to 1.
func scoreImportance(msg *models.Message) float64 {
	score := 0.5
	lower := strings.ToLower(msg.Text())

	if strings.Contains(lower, "?") {
		score += 0.1
	}
	for _, cue := range decisionCues {
		if strings.Contains(lower, cue) {
			score += 0.2
			break
		}
	}
	for _, cue := range urgencyCues {
		if strings.Contains(lower, cue) {
			score += 0.15
			break
		}
	}
	if msg.Role == models.RoleUser {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}
