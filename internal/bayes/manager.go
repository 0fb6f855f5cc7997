// Package bayes scores historical messages for relevance to the current
// query by combining weighted evidence channels with weighted priors into a
// posterior probability per message.
package bayes

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tranvh/contextgate/internal/observability"
	"github.com/tranvh/contextgate/internal/vectorizer"
	"github.com/tranvh/contextgate/pkg/models"
)

// referenceThreshold is the posterior above which a selected message's
// times-referenced counter is incremented. The counter never decrements.
const referenceThreshold = 0.7

// MessageSource resolves message IDs back to full messages. The context
// engine implements this over its per-chat registry.
type MessageSource interface {
	Message(chatID string, id int64) (*models.Message, bool)
}

// Config tunes the selection.
type Config struct {
	// MaxHistorySize bounds the candidate pool pulled from the vector
	// store (default 50).
	MaxHistorySize int
	// TopK bounds the selection size (default 5).
	TopK int
	// MinRelevance is both the posterior cutoff and the temporal decay
	// floor (default 0.3).
	MinRelevance float64
	// HalfLifeHours controls temporal decay (default 24).
	HalfLifeHours float64
	// Weights are applied as configured; nil or zero-sum vectors fall
	// back to DefaultWeights.
	Weights Weights
}

func (c *Config) applyDefaults() {
	if c.MaxHistorySize <= 0 {
		c.MaxHistorySize = 50
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.MinRelevance <= 0 {
		c.MinRelevance = 0.3
	}
	if c.HalfLifeHours <= 0 {
		c.HalfLifeHours = 24
	}
	c.Weights.fillDefaults()
}

// Selection is the result of one relevance pass.
type Selection struct {
	Messages           []models.ScoredMessage `json:"messages"`
	CandidateCount     int                    `json:"candidate_count"`
	AverageProbability float64                `json:"average_probability"`
	Note               string                 `json:"note"`
}

// Manager runs the Bayesian relevance selection. Each call is stateless;
// concurrent calls for distinct chats are independent, and metadata writes
// for the same chat are last-writer-wins.
type Manager struct {
	vec     *vectorizer.Vectorizer
	source  MessageSource
	cfg     Config
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// New creates a Manager. metrics may be nil.
func New(vec *vectorizer.Vectorizer, source MessageSource, cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Manager{
		vec:     vec,
		source:  source,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// SelectRelevant returns the top-K historical messages most likely to be
// relevant to the query, excluding the given message IDs (typically the
// recent window). A vector-store failure yields an empty selection with an
// explanatory note rather than an error; memory selection never blocks the
// request.
func (m *Manager) SelectRelevant(ctx context.Context, chatID, query string, exclude map[int64]bool) (*Selection, error) {
	analysis, err := m.vec.AnalyzeQuery(ctx, query)
	if err != nil {
		return m.degraded(ctx, chatID, err), nil
	}

	matches, err := m.vec.FindSimilarMessages(ctx, chatID, analysis, m.cfg.MaxHistorySize)
	if err != nil {
		return m.degraded(ctx, chatID, err), nil
	}

	scored := make([]models.ScoredMessage, 0, len(matches))
	for _, match := range matches {
		if exclude[match.MessageID] {
			continue
		}
		msg, ok := m.source.Message(chatID, match.MessageID)
		if !ok {
			continue
		}

		evidence := m.computeEvidence(analysis, match, msg)
		priors := m.computePriors(match.Metadata, msg)

		var likelihood float64
		for name, w := range m.cfg.Weights.Evidence {
			likelihood += w * evidence[name]
		}
		var prior float64
		for name, w := range m.cfg.Weights.Priors {
			prior += w * priors[name]
		}

		posterior := clamp01(likelihood * prior)
		if posterior < m.cfg.MinRelevance {
			continue
		}

		var evidenceSum float64
		for _, v := range evidence {
			evidenceSum += v
		}
		confidence := clamp01(evidenceSum / float64(len(evidence)) * 1.2)

		scored = append(scored, models.ScoredMessage{
			Message:     msg,
			Probability: posterior,
			Confidence:  confidence,
			Evidence:    evidence,
			Priors:      priors,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Probability > scored[j].Probability
	})
	if len(scored) > m.cfg.TopK {
		scored = scored[:m.cfg.TopK]
	}

	var sum float64
	for i := range scored {
		scored[i].Rank = i + 1
		sum += scored[i].Probability
		if scored[i].Probability > referenceThreshold {
			m.vec.MarkReferenced(chatID, scored[i].Message.ID)
		}
	}

	sel := &Selection{
		Messages:       scored,
		CandidateCount: len(matches),
	}
	if len(scored) > 0 {
		sel.AverageProbability = sum / float64(len(scored))
	}
	sel.Note = m.describe(sel, analysis)

	if m.metrics != nil {
		outcome := "selected"
		if len(scored) == 0 {
			outcome = "empty"
		}
		m.metrics.MemorySelectionCounter.WithLabelValues(outcome).Inc()
	}
	return sel, nil
}

func (m *Manager) degraded(ctx context.Context, chatID string, err error) *Selection {
	m.logger.Warn(ctx, "memory selection degraded", "chat_id", chatID, "error", err)
	if m.metrics != nil {
		m.metrics.MemorySelectionCounter.WithLabelValues("failed").Inc()
	}
	return &Selection{Note: "No historical context was available for this turn."}
}

func (m *Manager) computeEvidence(analysis *vectorizer.QueryAnalysis, match *vectorizer.Match, msg *models.Message) map[string]float64 {
	evidence := map[string]float64{
		EvidenceSemantic: clamp01(float64(match.Score)),
		EvidenceTemporal: m.temporalScore(msg.Timestamp),
		// Continuity is a placeholder channel until a dialog-flow graph
		// exists; it stays pluggable through the weight vector.
		EvidenceContinuity: 0.5,
	}

	interaction := 0.5
	if meta := match.Metadata; meta != nil {
		evidence[EvidenceEntity] = vectorizer.EntityOverlap(analysis.Entities, meta.Entities)
		evidence[EvidenceTopic] = vectorizer.TopicSimilarity(analysis.Topics, meta.Topics)
		if meta.UserMarked {
			interaction += 0.3
		}
		interaction += math.Min(0.2, 0.05*float64(meta.TimesReferenced))
	} else {
		evidence[EvidenceEntity] = 0
		evidence[EvidenceTopic] = 0
	}
	evidence[EvidenceInteraction] = clamp01(interaction)
	return evidence
}

func (m *Manager) temporalScore(ts time.Time) float64 {
	if ts.IsZero() {
		return m.cfg.MinRelevance
	}
	ageHours := m.now().Sub(ts).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	decay := math.Exp(-math.Ln2 * ageHours / m.cfg.HalfLifeHours)
	return math.Max(m.cfg.MinRelevance, decay)
}

func (m *Manager) computePriors(meta *models.MessageMetadata, msg *models.Message) map[string]float64 {
	importance := msg.Importance
	userMarked := false
	if meta != nil {
		importance = meta.CurrentImportance
		userMarked = meta.UserMarked
	}

	var msgType float64
	switch msg.Role {
	case models.RoleUser:
		msgType = 0.8
	case models.RoleAssistant:
		msgType = 0.6
	case models.RoleSystem:
		msgType = 0.5
	default:
		msgType = 0.4
	}

	marked := 0.5
	if userMarked {
		marked = 0.9
	}

	return map[string]float64{
		PriorImportance:  clamp01(importance),
		PriorMessageType: msgType,
		PriorLength:      clamp01(float64(msg.TokenCount) / 100),
		// Position is a placeholder until turn-structure tracking exists.
		PriorPosition:   0.5,
		PriorUserMarked: marked,
	}
}

// describe renders the templated selection note, with the lead sentence
// adapted to the detected query intent.
func (m *Manager) describe(sel *Selection, analysis *vectorizer.QueryAnalysis) string {
	if len(sel.Messages) == 0 {
		return "No prior messages were relevant enough to include."
	}

	top := sel.Messages[0]
	var lead string
	switch analysis.Intent {
	case vectorizer.IntentQuestion:
		lead = fmt.Sprintf("The most relevant earlier exchange (p=%.2f) likely answers this question.", top.Probability)
	case vectorizer.IntentClarification:
		lead = fmt.Sprintf("The most relevant earlier exchange (p=%.2f) is what the clarification refers to.", top.Probability)
	case vectorizer.IntentContinuation:
		lead = fmt.Sprintf("The conversation continues from the top-ranked message (p=%.2f).", top.Probability)
	case vectorizer.IntentRequest:
		lead = fmt.Sprintf("The top-ranked message (p=%.2f) gives the request its context.", top.Probability)
	default:
		lead = fmt.Sprintf("The top-ranked message (p=%.2f) is the closest prior context.", top.Probability)
	}

	return fmt.Sprintf("Selected %d of %d candidate messages (avg p=%.2f). %s",
		len(sel.Messages), sel.CandidateCount, sel.AverageProbability, lead)
}
