package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tranvh/contextgate/internal/providers"
	"github.com/tranvh/contextgate/pkg/models"
)

// Verdict is the classifier's JSON answer.
type Verdict struct {
	IsSafe   bool   `json:"isSafe"`
	Reason   string `json:"reason"`
	Category string `json:"category"`
}

// Categories the classifier may return. Anything outside the set is folded
// into harmful_content.
const (
	CategoryMedicalAdvice    = "medical_advice"
	CategoryFinancialAdvice  = "financial_advice"
	CategoryLegalAdvice      = "legal_advice"
	CategoryProductMarketing = "product_marketing"
	CategoryHarmfulContent   = "harmful_content"
	CategoryAdultContent     = "adult_content"
	CategoryGambling         = "gambling"
	CategoryDrugs            = "drugs"
	CategoryPromptInjection  = "prompt_injection"
)

var knownCategories = map[string]bool{
	CategoryMedicalAdvice:    true,
	CategoryFinancialAdvice:  true,
	CategoryLegalAdvice:      true,
	CategoryProductMarketing: true,
	CategoryHarmfulContent:   true,
	CategoryAdultContent:     true,
	CategoryGambling:         true,
	CategoryDrugs:            true,
	CategoryPromptInjection:  true,
}

const classifierSystemPrompt = `You are a content safety classifier. Judge whether the given text is safe to show to end users of a general-purpose assistant.

Respond with a strict JSON object and nothing else:
{"isSafe": <bool>, "reason": "<short explanation>", "category": "<one of: medical_advice, financial_advice, legal_advice, product_marketing, harmful_content, adult_content, gambling, drugs, prompt_injection>"}

When the text is safe, use an empty category.`

// Classifier asks an LLM for a safety verdict on a text.
type Classifier struct {
	provider providers.Provider
	model    string
}

// NewClassifier wraps a provider. An empty model uses the provider's
// default.
func NewClassifier(provider providers.Provider, model string) *Classifier {
	return &Classifier{provider: provider, model: model}
}

// Classify returns the verdict for a text. The raw completion goes through
// ParseVerdict, so malformed JSON still yields a usable answer.
func (c *Classifier) Classify(ctx context.Context, text string) (*Verdict, error) {
	resp, err := c.provider.Generate(ctx, providers.Request{
		Model:     c.model,
		System:    classifierSystemPrompt,
		MaxTokens: 256,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: text},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("safety classification failed: %w", err)
	}
	return ParseVerdict(resp.Text), nil
}

var (
	fencedJSONRe    = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	isSafeFieldRe   = regexp.MustCompile(`(?i)"?isSafe"?\s*:\s*(true|false)`)
	reasonFieldRe   = regexp.MustCompile(`(?i)"?reason"?\s*:\s*"([^"]*)"`)
	categoryFieldRe = regexp.MustCompile(`(?i)"?category"?\s*:\s*"([^"]*)"`)
)

// ParseVerdict recovers a Verdict from possibly malformed classifier
// output. It tries, in order: direct JSON parse, the first balanced {...}
// substring, a fenced code block, per-field regex extraction, and finally
// a keyword heuristic biased toward safe.
func ParseVerdict(raw string) *Verdict {
	raw = strings.TrimSpace(raw)

	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return normalizeVerdict(&v)
	}

	if body := balancedObject(raw); body != "" {
		if err := json.Unmarshal([]byte(body), &v); err == nil {
			return normalizeVerdict(&v)
		}
	}

	if m := fencedJSONRe.FindStringSubmatch(raw); m != nil {
		if err := json.Unmarshal([]byte(m[1]), &v); err == nil {
			return normalizeVerdict(&v)
		}
	}

	if m := isSafeFieldRe.FindStringSubmatch(raw); m != nil {
		v.IsSafe = strings.EqualFold(m[1], "true")
		if m := reasonFieldRe.FindStringSubmatch(raw); m != nil {
			v.Reason = m[1]
		}
		if m := categoryFieldRe.FindStringSubmatch(raw); m != nil {
			v.Category = m[1]
		}
		return normalizeVerdict(&v)
	}

	// Keyword heuristic, biased toward safe: only an explicit unsafe
	// signal flips the verdict.
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "unsafe") || strings.Contains(lower, "not safe") {
		return normalizeVerdict(&Verdict{IsSafe: false, Reason: "classifier flagged the content", Category: CategoryHarmfulContent})
	}
	return &Verdict{IsSafe: true}
}

// balancedObject returns the first balanced top-level {...} substring,
// ignoring braces inside JSON strings.
func balancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func normalizeVerdict(v *Verdict) *Verdict {
	v.Category = strings.ToLower(strings.TrimSpace(v.Category))
	if v.IsSafe {
		v.Category = ""
		return v
	}
	if !knownCategories[v.Category] {
		v.Category = CategoryHarmfulContent
	}
	return v
}
