package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store. It is the default backend and the one used
// in tests; search is a linear scan with cosine similarity, which is fine at
// conversation scale.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*Entry)}
}

// Index upserts entries by ID, assigning UUIDs to new ones.
func (m *Memory) Index(ctx context.Context, entries []*Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		if entry.Kind == "" {
			entry.Kind = KindMessage
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		entry.UpdatedAt = now
		m.entries[entry.ID] = entry
	}
	return nil
}

// Get returns one entry by ID.
func (m *Memory) Get(ctx context.Context, id string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return entry, nil
}

// Search returns entries ranked by cosine similarity to the query.
func (m *Memory) Search(ctx context.Context, embedding []float32, opts *SearchOptions) ([]*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &SearchOptions{}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Result, 0, limit)
	for _, entry := range m.entries {
		if opts.ChatID != "" && entry.ChatID != opts.ChatID {
			continue
		}
		if opts.Kind != "" && entry.Kind != opts.Kind {
			continue
		}
		score := CosineSimilarity(embedding, entry.Embedding)
		if score < opts.Threshold {
			continue
		}
		results = append(results, &Result{Entry: entry, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		// Stable order for equal scores.
		return results[i].Entry.MessageID > results[j].Entry.MessageID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes entries by ID. Unknown IDs are ignored.
func (m *Memory) Delete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

// DeleteChat removes every entry belonging to a conversation.
func (m *Memory) DeleteChat(ctx context.Context, chatID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.entries {
		if entry.ChatID == chatID {
			delete(m.entries, id)
		}
	}
	return nil
}

// Count returns the entry count, scoped to a chat when chatID is non-empty.
func (m *Memory) Count(ctx context.Context, chatID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if chatID == "" {
		return int64(len(m.entries)), nil
	}
	var n int64
	for _, entry := range m.entries {
		if entry.ChatID == chatID {
			n++
		}
	}
	return n, nil
}

// Backend names the implementation for metric labels.
func (m *Memory) Backend() string { return "memory" }

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or zero vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
