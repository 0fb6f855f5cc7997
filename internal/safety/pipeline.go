// Package safety validates and sanitizes inbound user text and outbound
// generated text. Pattern-based checks always work; an LLM classifier can
// be layered on top and toggled at runtime.
package safety

import (
	"context"
	"sync/atomic"

	"github.com/tranvh/contextgate/internal/observability"
)

// Error is a typed safety rejection carrying the category and a localized
// user-facing message.
type Error struct {
	Category string
	Reason   string
	Message  string
}

func (e *Error) Error() string { return e.Message }

// Config tunes the pipeline.
type Config struct {
	// MaxMessageLength bounds input in runes (default 32000).
	MaxMessageLength int
	// Locale selects the rejection-message language for input validation
	// (default "en"). Response validation takes the locale per call.
	Locale string
	// AIEnabled turns the LLM classifier tier on at startup.
	AIEnabled bool
}

// Pipeline runs the two-tier safety strategy.
type Pipeline struct {
	cfg        Config
	aiEnabled  atomic.Bool
	classifier *Classifier
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// New creates a Pipeline. classifier and metrics may be nil; without a
// classifier only pattern checks run.
func New(cfg Config, classifier *Classifier, logger *observability.Logger, metrics *observability.Metrics) *Pipeline {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 32000
	}
	if cfg.Locale == "" {
		cfg.Locale = "en"
	}
	p := &Pipeline{
		cfg:        cfg,
		classifier: classifier,
		logger:     logger,
		metrics:    metrics,
	}
	if logger == nil {
		p.logger = observability.NopLogger()
	}
	p.aiEnabled.Store(cfg.AIEnabled && classifier != nil)
	return p
}

// EnableAIContentSafety toggles the classifier tier. The toggle is atomic;
// in-flight validations finish under the mode they started with.
func (p *Pipeline) EnableAIContentSafety(enabled bool) {
	p.aiEnabled.Store(enabled && p.classifier != nil)
}

// AIContentSafetyEnabled reports the current mode.
func (p *Pipeline) AIContentSafetyEnabled() bool {
	return p.aiEnabled.Load()
}

// ValidateContent checks inbound user text: length, injection patterns,
// token repetition, and Unicode abuse. The classifier tier is not consulted
// here — it would put an LLM round trip ahead of every turn; inbound text is
// pattern-only and the classifier screens the generated response instead.
func (p *Pipeline) ValidateContent(ctx context.Context, text string) error {
	if len([]rune(text)) > p.cfg.MaxMessageLength {
		return p.reject(ctx, "input", reasonTooLong, reasonTooLong, p.cfg.Locale)
	}
	if suspiciousUnicode(text) {
		return p.reject(ctx, "input", CategoryHarmfulContent, reasonUnicode, p.cfg.Locale)
	}
	if containsInjection(text) {
		return p.reject(ctx, "input", CategoryPromptInjection, CategoryPromptInjection, p.cfg.Locale)
	}
	if suspiciousRepetition(text) {
		return p.reject(ctx, "input", CategoryHarmfulContent, reasonRepetition, p.cfg.Locale)
	}
	return nil
}

// ValidateResponse checks outbound assistant text. With AI classification
// enabled the classifier decides; a classifier failure degrades to the
// pattern checks instead of blocking the response.
func (p *Pipeline) ValidateResponse(ctx context.Context, text, locale string) error {
	if locale == "" {
		locale = p.cfg.Locale
	}

	if p.aiEnabled.Load() && p.classifier != nil {
		verdict, err := p.classifier.Classify(ctx, text)
		if err == nil {
			if verdict.IsSafe {
				return nil
			}
			rej := p.reject(ctx, "output", verdict.Category, verdict.Category, locale)
			if verdict.Reason != "" {
				rej.(*Error).Reason = verdict.Reason
			}
			return rej
		}
		p.logger.Warn(ctx, "safety classifier unavailable, falling back to pattern checks", "error", err)
	}

	if suspiciousUnicode(text) {
		return p.reject(ctx, "output", CategoryHarmfulContent, reasonUnicode, locale)
	}
	if suspiciousRepetition(text) {
		return p.reject(ctx, "output", CategoryHarmfulContent, reasonRepetition, locale)
	}
	return nil
}

func (p *Pipeline) reject(ctx context.Context, stage, category, reason, locale string) error {
	if p.metrics != nil {
		p.metrics.SafetyRejections.WithLabelValues(stage, category).Inc()
	}
	p.logger.Info(ctx, "content rejected", "stage", stage, "category", category, "reason", reason)
	return &Error{
		Category: category,
		Reason:   reason,
		Message:  localizedMessage(locale, reason),
	}
}
