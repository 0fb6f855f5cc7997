// Package vectorizer enriches conversation messages with embeddings,
// entities, and topics, and answers similarity queries against the vector
// store.
package vectorizer

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/tranvh/contextgate/internal/observability"
	"github.com/tranvh/contextgate/internal/vectorstore"
	"github.com/tranvh/contextgate/pkg/models"
)

// QueryAnalysis is the structured view of a query used for memory
// selection.
type QueryAnalysis struct {
	Text      string           `json:"text"`
	Embedding []float32        `json:"-"`
	Entities  []string         `json:"entities,omitempty"`
	Topics    []string         `json:"topics,omitempty"`
	Intent    Intent           `json:"intent"`
	Temporal  *TemporalContext `json:"temporal,omitempty"`
}

// Match pairs a stored message with its similarity to a query.
type Match struct {
	MessageID int64
	ChatID    string
	Content   string
	Score     float32
	Metadata  *models.MessageMetadata
}

// Config configures a Vectorizer.
type Config struct {
	// CacheSize bounds the embedding LRU cache (default 256).
	CacheSize int
	// Metrics records search latency when set.
	Metrics *observability.Metrics
}

// Vectorizer computes and indexes message enrichments. It owns the
// per-message metadata registry; the memory manager reads and updates it
// through MetadataFor and MarkReferenced.
type Vectorizer struct {
	embedder Embedder
	fallback *FallbackEmbedder
	store    vectorstore.Store
	cache    *embeddingCache
	logger   *observability.Logger
	metrics  *observability.Metrics

	mu   sync.RWMutex
	meta map[string]map[int64]*models.MessageMetadata
}

// New creates a Vectorizer. The fallback embedder matches the primary
// embedder's dimension so degraded-mode vectors stay searchable.
func New(embedder Embedder, store vectorstore.Store, logger *observability.Logger, cfg Config) *Vectorizer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Vectorizer{
		embedder: embedder,
		fallback: NewFallbackEmbedder(embedder.Dimension()),
		store:    store,
		cache:    newEmbeddingCache(cfg.CacheSize),
		logger:   logger,
		metrics:  cfg.Metrics,
		meta:     make(map[string]map[int64]*models.MessageMetadata),
	}
}

// VectorizeMessage embeds a message, extracts entities and topics, upserts
// the vector, and records the metadata. Embedding failures degrade to the
// deterministic fallback vector rather than dropping the message.
func (v *Vectorizer) VectorizeMessage(ctx context.Context, msg *models.Message) (*models.MessageMetadata, error) {
	text := msg.Text()
	embedding, err := v.embed(ctx, text)
	if err != nil {
		v.logger.Warn(ctx, "embedding failed, using fallback vector",
			"chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
		embedding, _ = v.fallback.Embed(ctx, text)
	}

	meta := &models.MessageMetadata{
		MessageID:         msg.ID,
		ChatID:            msg.ChatID,
		Entities:          ExtractEntities(text),
		Topics:            ExtractTopics(text),
		Fingerprint:       fingerprint(text),
		CurrentImportance: msg.Importance,
		IndexedAt:         time.Now(),
	}

	entry := &vectorstore.Entry{
		ChatID:    msg.ChatID,
		Kind:      vectorstore.KindMessage,
		RefID:     strconv.FormatInt(msg.ID, 10),
		MessageID: msg.ID,
		Content:   text,
		Embedding: embedding,
		Metadata: map[string]any{
			"role":     string(msg.Role),
			"tokens":   msg.TokenCount,
			"entities": meta.Entities,
			"topics":   meta.Topics,
		},
		CreatedAt: msg.Timestamp,
	}
	if err := v.store.Index(ctx, []*vectorstore.Entry{entry}); err != nil {
		return nil, fmt.Errorf("failed to index message %d: %w", msg.ID, err)
	}

	v.mu.Lock()
	chat := v.meta[msg.ChatID]
	if chat == nil {
		chat = make(map[int64]*models.MessageMetadata)
		v.meta[msg.ChatID] = chat
	}
	if prev, ok := chat[msg.ID]; ok {
		meta.TimesReferenced = prev.TimesReferenced
		meta.UserMarked = prev.UserMarked
	}
	chat[msg.ID] = meta
	v.mu.Unlock()

	return meta, nil
}

// IndexSummary embeds and indexes a running summary. The summary UUID
// doubles as the entry ID, so re-indexing upserts.
func (v *Vectorizer) IndexSummary(ctx context.Context, s *models.Summary) error {
	embedding, err := v.embed(ctx, s.Text)
	if err != nil {
		v.logger.Warn(ctx, "summary embedding failed, using fallback vector",
			"chat_id", s.ChatID, "summary_id", s.ID, "error", err)
		embedding, _ = v.fallback.Embed(ctx, s.Text)
	}

	entry := &vectorstore.Entry{
		ID:        s.ID,
		ChatID:    s.ChatID,
		Kind:      vectorstore.KindSummary,
		RefID:     s.ID,
		Content:   s.Text,
		Embedding: embedding,
		Metadata: map[string]any{
			"from_id":       s.FromID,
			"to_id":         s.ToID,
			"message_count": s.MessageCount,
		},
		CreatedAt: s.ToTime,
	}
	if err := v.store.Index(ctx, []*vectorstore.Entry{entry}); err != nil {
		return fmt.Errorf("failed to index summary %s: %w", s.ID, err)
	}
	return nil
}

// IndexKeyFact embeds and indexes a key fact, keyed by the fact UUID.
func (v *Vectorizer) IndexKeyFact(ctx context.Context, f *models.KeyFact) error {
	embedding, err := v.embed(ctx, f.Text)
	if err != nil {
		v.logger.Warn(ctx, "fact embedding failed, using fallback vector",
			"chat_id", f.ChatID, "fact_id", f.ID, "error", err)
		embedding, _ = v.fallback.Embed(ctx, f.Text)
	}

	entry := &vectorstore.Entry{
		ID:        f.ID,
		ChatID:    f.ChatID,
		Kind:      vectorstore.KindFact,
		RefID:     f.ID,
		Content:   f.Text,
		Embedding: embedding,
		Metadata: map[string]any{
			"fact_kind":  string(f.Kind),
			"confidence": f.Confidence,
		},
		CreatedAt: f.CreatedAt,
	}
	if err := v.store.Index(ctx, []*vectorstore.Entry{entry}); err != nil {
		return fmt.Errorf("failed to index fact %s: %w", f.ID, err)
	}
	return nil
}

// AnalyzeQuery embeds a query and extracts its entities, topics, intent,
// and temporal context.
func (v *Vectorizer) AnalyzeQuery(ctx context.Context, text string) (*QueryAnalysis, error) {
	embedding, err := v.embed(ctx, text)
	if err != nil {
		v.logger.Warn(ctx, "query embedding failed, using fallback vector", "error", err)
		embedding, _ = v.fallback.Embed(ctx, text)
	}

	return &QueryAnalysis{
		Text:      text,
		Embedding: embedding,
		Entities:  ExtractEntities(text),
		Topics:    ExtractTopics(text),
		Intent:    ClassifyIntent(text),
		Temporal:  ExtractTemporalContext(text),
	}, nil
}

// FindSimilarMessages searches the vector store for the messages in a chat
// most similar to an analyzed query, with metadata reattached. Similarity
// is clamped to [0, 1].
func (v *Vectorizer) FindSimilarMessages(ctx context.Context, chatID string, analysis *QueryAnalysis, limit int) ([]*Match, error) {
	if limit <= 0 {
		limit = 10
	}
	start := time.Now()
	results, err := v.store.Search(ctx, analysis.Embedding, &vectorstore.SearchOptions{
		ChatID: chatID,
		Kind:   vectorstore.KindMessage,
		Limit:  limit,
	})
	if v.metrics != nil {
		v.metrics.VectorSearchDuration.WithLabelValues(v.store.Backend()).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	matches := make([]*Match, 0, len(results))
	for _, r := range results {
		score := r.Score
		if score < 0 {
			score = 0
		} else if score > 1 {
			score = 1
		}
		matches = append(matches, &Match{
			MessageID: r.Entry.MessageID,
			ChatID:    r.Entry.ChatID,
			Content:   r.Entry.Content,
			Score:     score,
			Metadata:  v.MetadataFor(r.Entry.ChatID, r.Entry.MessageID),
		})
	}
	return matches, nil
}

// MetadataFor returns the recorded metadata for a message, or nil when the
// message was never vectorized.
func (v *Vectorizer) MetadataFor(chatID string, messageID int64) *models.MessageMetadata {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if chat, ok := v.meta[chatID]; ok {
		return chat[messageID]
	}
	return nil
}

// MarkReferenced increments a message's times-referenced counter. The
// counter never decrements.
func (v *Vectorizer) MarkReferenced(chatID string, messageID int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if chat, ok := v.meta[chatID]; ok {
		if m, ok := chat[messageID]; ok {
			m.TimesReferenced++
		}
	}
}

// SetUserMarked flags or unflags a message as user-marked.
func (v *Vectorizer) SetUserMarked(chatID string, messageID int64, marked bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if chat, ok := v.meta[chatID]; ok {
		if m, ok := chat[messageID]; ok {
			m.UserMarked = marked
		}
	}
}

// SetImportance records a message's current importance in its metadata.
func (v *Vectorizer) SetImportance(chatID string, messageID int64, importance float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if chat, ok := v.meta[chatID]; ok {
		if m, ok := chat[messageID]; ok {
			m.CurrentImportance = importance
		}
	}
}

// DeleteChat drops a chat's vectors and metadata.
func (v *Vectorizer) DeleteChat(ctx context.Context, chatID string) error {
	if err := v.store.DeleteChat(ctx, chatID); err != nil {
		return err
	}
	v.mu.Lock()
	delete(v.meta, chatID)
	v.mu.Unlock()
	return nil
}

// embed returns a cached embedding or computes one through the configured
// embedder.
func (v *Vectorizer) embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := v.cache.get(text); ok {
		return vec, nil
	}
	vec, err := v.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	v.cache.set(text, vec)
	return vec, nil
}

func fingerprint(text string) string {
	h := fnv.New64a()
	h.Write([]byte(text))
	return fmt.Sprintf("%016x", h.Sum64())
}
