// Package contextengine assembles the optimized context window a provider
// sees for each turn: recent messages verbatim, Bayesian-selected history,
// running summaries, and key facts, all under a token budget.
package contextengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tranvh/contextgate/internal/bayes"
	"github.com/tranvh/contextgate/internal/observability"
	"github.com/tranvh/contextgate/internal/vectorizer"
	"github.com/tranvh/contextgate/pkg/models"
)

// ErrChatNotFound is returned for operations on unknown conversations.
var ErrChatNotFound = errors.New("chat not found")

// Config tunes window assembly.
type Config struct {
	// MaxContextTokens is the window budget (default 8000).
	MaxContextTokens int
	// MaxRecentMessages are always included verbatim (default 10).
	MaxRecentMessages int
	// SummarizationThreshold is the un-summarized message count that
	// triggers a new running summary (default 50).
	SummarizationThreshold int
}

func (c *Config) applyDefaults() {
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = 8000
	}
	if c.MaxRecentMessages <= 0 {
		c.MaxRecentMessages = 10
	}
	if c.SummarizationThreshold <= 0 {
		c.SummarizationThreshold = 50
	}
}

// conversation is the per-chat registry. All fields are guarded by the
// engine mutex; appends to one chat are serialized here.
type conversation struct {
	info              models.Conversation
	messages          []*models.Message
	summaries         []models.Summary
	facts             []models.KeyFact
	nextID            int64
	summarizedThrough int64
	lastTimestamp     time.Time
}

// Engine owns conversations and produces context windows.
type Engine struct {
	mu    sync.RWMutex
	chats map[string]*conversation

	vec     *vectorizer.Vectorizer
	memory  *bayes.Manager
	cfg     Config
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New creates an Engine and its Bayesian memory manager. metrics may be
// nil.
func New(vec *vectorizer.Vectorizer, bayesCfg bayes.Config, cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = observability.NopLogger()
	}
	e := &Engine{
		chats:   make(map[string]*conversation),
		vec:     vec,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
	e.memory = bayes.New(vec, e, bayesCfg, logger, metrics)
	return e
}

// CreateConversation registers a chat. An empty chatID gets a generated
// one.
func (e *Engine) CreateConversation(chatID, ownerID, title string) (*models.Conversation, error) {
	if chatID == "" {
		chatID = uuid.New().String()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.chats[chatID]; exists {
		return nil, fmt.Errorf("chat %s already exists", chatID)
	}

	now := time.Now()
	conv := &conversation{
		info: models.Conversation{
			ChatID:     chatID,
			OwnerID:    ownerID,
			Title:      title,
			CreatedAt:  now,
			LastActive: now,
		},
		nextID: 1,
	}
	e.chats[chatID] = conv
	info := conv.info
	return &info, nil
}

// Conversation returns a copy of the chat record.
func (e *Engine) Conversation(chatID string) (*models.Conversation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	conv, ok := e.chats[chatID]
	if !ok {
		return nil, ErrChatNotFound
	}
	info := conv.info
	return &info, nil
}

// DeleteConversation removes a chat, its messages, and its vectors.
func (e *Engine) DeleteConversation(ctx context.Context, chatID string) error {
	e.mu.Lock()
	_, ok := e.chats[chatID]
	if ok {
		delete(e.chats, chatID)
	}
	e.mu.Unlock()
	if !ok {
		return ErrChatNotFound
	}
	return e.vec.DeleteChat(ctx, chatID)
}

// AddMessage appends a message to a chat, assigning a strictly increasing
// ID and a non-decreasing timestamp. Importance is scored from lexical
// cues when unset; token count is estimated when unset. Vectorization runs
// asynchronously and its failures are logged, never surfaced. Crossing the
// summarization threshold folds the oldest un-summarized messages into a
// running summary.
func (e *Engine) AddMessage(ctx context.Context, chatID string, msg *models.Message) (*models.Message, error) {
	e.mu.Lock()
	conv, ok := e.chats[chatID]
	if !ok {
		e.mu.Unlock()
		return nil, ErrChatNotFound
	}

	msg.ChatID = chatID
	msg.ID = conv.nextID
	conv.nextID++

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Timestamp.Before(conv.lastTimestamp) {
		msg.Timestamp = conv.lastTimestamp
	}
	conv.lastTimestamp = msg.Timestamp
	conv.info.LastActive = msg.Timestamp

	if msg.TokenCount <= 0 {
		msg.TokenCount = EstimateTokens(msg.Text())
	}
	if msg.Importance <= 0 {
		msg.Importance = scoreImportance(msg)
	}
	conv.messages = append(conv.messages, msg)

	newSummary := e.maybeSummarizeLocked(conv)
	e.mu.Unlock()

	go func() {
		vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if _, err := e.vec.VectorizeMessage(vctx, msg); err != nil {
			e.logger.Warn(vctx, "async vectorization failed",
				"chat_id", chatID, "message_id", msg.ID, "error", err)
		}
		if newSummary != nil {
			if err := e.vec.IndexSummary(vctx, newSummary); err != nil {
				e.logger.Warn(vctx, "async summary indexing failed",
					"chat_id", chatID, "summary_id", newSummary.ID, "error", err)
			}
		}
	}()

	return msg, nil
}

// maybeSummarizeLocked folds un-summarized messages older than the recent
// window into a new summary once their count crosses the threshold. The new
// summary, if any, is returned for vector indexing outside the lock.
func (e *Engine) maybeSummarizeLocked(conv *conversation) *models.Summary {
	var unsummarized []*models.Message
	for _, m := range conv.messages {
		if m.ID > conv.summarizedThrough {
			unsummarized = append(unsummarized, m)
		}
	}
	if len(unsummarized) < e.cfg.SummarizationThreshold {
		return nil
	}

	// Keep the recent window out of the summary.
	cutoff := len(unsummarized) - e.cfg.MaxRecentMessages
	if cutoff <= 0 {
		return nil
	}
	segment := unsummarized[:cutoff]

	summary := summarizeSegment(conv.info.ChatID, segment)
	conv.summaries = append(conv.summaries, summary)
	conv.summarizedThrough = segment[len(segment)-1].ID
	return &summary
}

// Message implements bayes.MessageSource.
func (e *Engine) Message(chatID string, id int64) (*models.Message, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	conv, ok := e.chats[chatID]
	if !ok {
		return nil, false
	}
	for _, m := range conv.messages {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

// MarkMessageImportant raises a message's importance to at least 0.8, or
// halves it when unmarking. The vectorizer metadata is kept in sync.
func (e *Engine) MarkMessageImportant(chatID string, id int64, important bool) error {
	e.mu.Lock()
	conv, ok := e.chats[chatID]
	if !ok {
		e.mu.Unlock()
		return ErrChatNotFound
	}
	var msg *models.Message
	for _, m := range conv.messages {
		if m.ID == id {
			msg = m
			break
		}
	}
	if msg == nil {
		e.mu.Unlock()
		return fmt.Errorf("message %d: %w", id, ErrChatNotFound)
	}

	if important {
		if msg.Importance < 0.8 {
			msg.Importance = 0.8
		}
	} else {
		msg.Importance *= 0.5
	}
	importance := msg.Importance
	e.mu.Unlock()

	e.vec.SetUserMarked(chatID, id, important)
	e.vec.SetImportance(chatID, id, importance)
	return nil
}

// AddKeyFact attaches a durable fact to a chat and indexes it for
// similarity search.
func (e *Engine) AddKeyFact(chatID, text string, kind models.KeyFactKind, sourceIDs ...int64) (*models.KeyFact, error) {
	e.mu.Lock()
	conv, ok := e.chats[chatID]
	if !ok {
		e.mu.Unlock()
		return nil, ErrChatNotFound
	}

	fact := models.KeyFact{
		ID:         uuid.New().String(),
		ChatID:     chatID,
		Text:       text,
		Kind:       kind,
		Confidence: 1,
		SourceIDs:  sourceIDs,
		CreatedAt:  time.Now(),
	}
	conv.facts = append(conv.facts, fact)
	e.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.vec.IndexKeyFact(ctx, &fact); err != nil {
			e.logger.Warn(ctx, "async fact indexing failed",
				"chat_id", chatID, "fact_id", fact.ID, "error", err)
		}
	}()

	return &fact, nil
}

// GetOptimizedContext assembles the context window for a turn. Recent
// messages are always present; when a query is given, the Bayesian manager
// contributes relevant history. Summaries and key facts fill the preamble.
// When the budget would be exceeded, the oldest summary is shed first,
// then the lowest-probability Bayesian pick, then the oldest key fact;
// recent messages are never shed.
func (e *Engine) GetOptimizedContext(ctx context.Context, chatID, query string) (*models.ContextWindow, error) {
	start := time.Now()

	e.mu.RLock()
	conv, ok := e.chats[chatID]
	if !ok {
		e.mu.RUnlock()
		return nil, ErrChatNotFound
	}
	messages := make([]*models.Message, len(conv.messages))
	copy(messages, conv.messages)
	summaries := make([]models.Summary, len(conv.summaries))
	copy(summaries, conv.summaries)
	facts := make([]models.KeyFact, len(conv.facts))
	copy(facts, conv.facts)
	e.mu.RUnlock()

	recentStart := len(messages) - e.cfg.MaxRecentMessages
	if recentStart < 0 {
		recentStart = 0
	}
	recent := messages[recentStart:]
	exclude := make(map[int64]bool, len(recent))
	for _, m := range recent {
		exclude[m.ID] = true
	}

	var fullTokens int
	for _, m := range messages {
		fullTokens += m.TokenCount
	}

	strategy := "recent_only"
	explanation := "Recent messages only; no query for relevance selection."
	var selected []models.ScoredMessage
	if query != "" {
		sel, err := e.memory.SelectRelevant(ctx, chatID, query, exclude)
		switch {
		case err != nil:
			strategy = "degraded"
			explanation = "Historical context unavailable; returning recent messages only."
			e.logger.Warn(ctx, "bayesian selection failed", "chat_id", chatID, "error", err)
		default:
			strategy = "bayesian"
			selected = sel.Messages
			explanation = sel.Note
		}
	}

	window := e.fitBudget(recent, selected, summaries, facts)
	window.ChatID = chatID
	window.Explanation = explanation

	window.Stats.FullHistoryTokens = fullTokens
	if fullTokens > 0 {
		window.Stats.CompressionRatio = float64(window.Stats.TotalTokens) / float64(fullTokens)
	} else {
		window.Stats.CompressionRatio = 1
	}

	if e.metrics != nil {
		e.metrics.ContextBuildDuration.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
		e.metrics.ContextCompressionRatio.Observe(window.Stats.CompressionRatio)
	}
	return window, nil
}

// fitBudget drops preamble items until the window fits MaxContextTokens.
func (e *Engine) fitBudget(recent []*models.Message, selected []models.ScoredMessage, summaries []models.Summary, facts []models.KeyFact) *models.ContextWindow {
	var recentTokens int
	for _, m := range recent {
		recentTokens += m.TokenCount
	}

	selectedTokens := func() int {
		var n int
		for _, sm := range selected {
			n += sm.Message.TokenCount
		}
		return n
	}
	summaryTokens := func() int {
		var n int
		for _, s := range summaries {
			n += s.TokenCount
		}
		return n
	}
	factTokens := func() int {
		var n int
		for _, f := range facts {
			n += EstimateTokens(f.Text)
		}
		return n
	}

	total := func() int {
		return recentTokens + selectedTokens() + summaryTokens() + factTokens()
	}

	for total() > e.cfg.MaxContextTokens {
		if len(summaries) > 0 {
			summaries = summaries[1:] // oldest summary first
			continue
		}
		if len(selected) > 0 {
			selected = selected[:len(selected)-1] // lowest probability is last
			continue
		}
		if len(facts) > 0 {
			facts = facts[1:] // oldest fact
			continue
		}
		break // only recent messages remain; they are never shed
	}

	totalTokens := total()
	var bayesianShare float64
	if totalTokens > 0 {
		bayesianShare = float64(selectedTokens()) / float64(totalTokens)
	}

	return &models.ContextWindow{
		Recent:    recent,
		Selected:  selected,
		Summaries: summaries,
		KeyFacts:  facts,
		Stats: models.ContextStats{
			TotalTokens:   totalTokens,
			RecentCount:   len(recent),
			SelectedCount: len(selected),
			SummaryCount:  len(summaries),
			FactCount:     len(facts),
			BayesianShare: bayesianShare,
		},
	}
}
