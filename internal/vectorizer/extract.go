package vectorizer

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// Intent classifies what the user is trying to do with a query.
type Intent string

const (
	IntentQuestion      Intent = "question"
	IntentRequest       Intent = "request"
	IntentClarification Intent = "clarification"
	IntentContinuation  Intent = "continuation"
	IntentNewTopic      Intent = "new_topic"
)

// TemporalContext records a recognised time phrase in a query and the
// lookback window it implies.
type TemporalContext struct {
	Phrase   string        `json:"phrase"`
	Lookback time.Duration `json:"lookback"`
}

var (
	capitalizedBigramRe = regexp.MustCompile(`\b[A-Z][a-z]+(?: [A-Z][a-z]+)+\b`)
	acronymRe           = regexp.MustCompile(`\b[A-Z]{2,6}\b`)
	isoDateRe           = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	slashDateRe         = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`)
	monthDateRe         = regexp.MustCompile(`\b(?:January|February|March|April|May|June|July|August|September|October|November|December) \d{1,2}(?:,? \d{4})?\b`)
	clockTimeRe         = regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?\s?(?:[ap]m|[AP]M)?\b`)
	currencyRe          = regexp.MustCompile(`[$€£¥]\s?\d[\d,]*(?:\.\d+)?|\b\d[\d,]*(?:\.\d+)?\s?(?:USD|EUR|GBP|VND|JPY)\b`)
)

// ExtractEntities pulls deterministic pattern-based entities from text:
// capitalized multi-word names, dates, clock times, currency amounts, and
// all-caps acronyms. The result is deduplicated and sorted.
func ExtractEntities(text string) []string {
	seen := make(map[string]struct{})
	add := func(matches []string) {
		for _, m := range matches {
			m = strings.TrimSpace(m)
			if m != "" {
				seen[m] = struct{}{}
			}
		}
	}

	add(capitalizedBigramRe.FindAllString(text, -1))
	add(isoDateRe.FindAllString(text, -1))
	add(slashDateRe.FindAllString(text, -1))
	add(monthDateRe.FindAllString(text, -1))
	add(clockTimeRe.FindAllString(text, -1))
	add(currencyRe.FindAllString(text, -1))
	add(acronymRe.FindAllString(text, -1))

	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// topicTaxonomy is the closed keyword-bag taxonomy used for topic matching.
// A topic matches when any of its keywords occurs in the lowercased text.
var topicTaxonomy = map[string][]string{
	"machine_learning": {"machine learning", "neural network", "model training", "deep learning", "embedding", "llm", "ai "},
	"programming":      {"code", "function", "bug", "compile", "deploy", "api", "database", "refactor", "test"},
	"business":         {"meeting", "client", "contract", "revenue", "deadline", "project plan", "budget"},
	"finance":          {"invoice", "payment", "price", "cost", "salary", "invest", "bank"},
	"travel":           {"flight", "hotel", "trip", "visa", "itinerary", "airport"},
	"food":             {"lunch", "dinner", "restaurant", "recipe", "breakfast", "eat"},
	"health":           {"doctor", "medicine", "exercise", "sleep", "diet", "symptom"},
	"planning":         {"schedule", "plan", "tomorrow", "next week", "remind", "calendar"},
}

// ExtractTopics matches text against the closed topic taxonomy. The result
// is sorted; nil when nothing matches.
func ExtractTopics(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for topic, keywords := range topicTaxonomy {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				out = append(out, topic)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

var (
	clarificationCues = []string{"what do you mean", "i meant", "to clarify", "in other words", "no, i", "that's not what"}
	continuationCues  = []string{"and also", "also,", "what about", "go on", "continue", "tell me more", "more about", "then what"}
	questionStarters  = []string{"what", "how", "why", "when", "where", "who", "which", "can", "could", "do ", "does", "is ", "are ", "did "}
	requestCues       = []string{"please", "write", "create", "make", "generate", "show me", "help me", "give me", "find", "explain", "summarize", "translate"}
)

// ClassifyIntent applies deterministic lexical rules, most specific first.
func ClassifyIntent(text string) Intent {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return IntentNewTopic
	}

	for _, cue := range clarificationCues {
		if strings.Contains(lower, cue) {
			return IntentClarification
		}
	}
	for _, cue := range continuationCues {
		if strings.Contains(lower, cue) {
			return IntentContinuation
		}
	}
	if strings.Contains(lower, "?") {
		return IntentQuestion
	}
	for _, s := range questionStarters {
		if strings.HasPrefix(lower, s) {
			return IntentQuestion
		}
	}
	for _, cue := range requestCues {
		if strings.HasPrefix(lower, cue) || strings.Contains(lower, " "+cue+" ") {
			return IntentRequest
		}
	}
	return IntentNewTopic
}

// temporalPhrases maps recognised time phrases to lookback windows.
var temporalPhrases = []struct {
	phrase   string
	lookback time.Duration
}{
	{"just now", 10 * time.Minute},
	{"earlier today", 12 * time.Hour},
	{"this morning", 12 * time.Hour},
	{"today", 24 * time.Hour},
	{"yesterday", 48 * time.Hour},
	{"last night", 24 * time.Hour},
	{"this week", 7 * 24 * time.Hour},
	{"last week", 14 * 24 * time.Hour},
	{"last month", 31 * 24 * time.Hour},
	{"a while ago", 7 * 24 * time.Hour},
	{"earlier", 24 * time.Hour},
	{"before", 7 * 24 * time.Hour},
	{"recently", 3 * 24 * time.Hour},
}

// ExtractTemporalContext returns the first recognised time phrase in the
// query, or nil when none is present. Phrases are checked longest-match
// first so "earlier today" wins over "earlier".
func ExtractTemporalContext(text string) *TemporalContext {
	lower := strings.ToLower(text)
	for _, tp := range temporalPhrases {
		if strings.Contains(lower, tp.phrase) {
			return &TemporalContext{Phrase: tp.phrase, Lookback: tp.lookback}
		}
	}
	return nil
}

// EntityOverlap is the Jaccard index of two entity sets. Returns 0 when
// either side is empty.
func EntityOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, e := range a {
		setA[strings.ToLower(e)] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, e := range b {
		setB[strings.ToLower(e)] = struct{}{}
	}
	var intersect int
	for k := range setB {
		if _, ok := setA[k]; ok {
			intersect++
		}
	}
	union := len(setA) + len(setB) - intersect
	return float64(intersect) / float64(union)
}

// TopicSimilarity is intersection size over the larger set size. Returns 0
// when either side is empty.
func TopicSimilarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[strings.ToLower(t)] = struct{}{}
	}
	var intersect int
	seen := make(map[string]struct{}, len(b))
	for _, t := range b {
		k := strings.ToLower(t)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if _, ok := setA[k]; ok {
			intersect++
		}
	}
	max := len(setA)
	if len(seen) > max {
		max = len(seen)
	}
	return float64(intersect) / float64(max)
}
