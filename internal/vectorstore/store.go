// Package vectorstore provides vector storage for message embeddings, with
// an in-memory implementation and a PostgreSQL/pgvector implementation.
package vectorstore

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the backing store cannot be reached. Callers
// treat this as a degraded-mode signal rather than a request failure.
var ErrUnavailable = errors.New("vector store unavailable")

// ErrNotFound is returned by Get for an unknown entry ID.
var ErrNotFound = errors.New("vector entry not found")

// Kind discriminates what an entry indexes.
type Kind string

const (
	KindMessage Kind = "message"
	KindSummary Kind = "summary"
	KindFact    Kind = "fact"
)

// Entry is one indexed embedding: a message, a running summary, or a key
// fact.
type Entry struct {
	// ID is the entry's unique identifier (UUID).
	ID string
	// ChatID scopes the entry to a conversation.
	ChatID string
	// Kind says what the entry indexes. Empty defaults to KindMessage.
	Kind Kind
	// RefID links back to the source record: the message ID in decimal for
	// messages, the summary or fact UUID otherwise.
	RefID string
	// MessageID links back to the source message. Zero for non-message
	// entries.
	MessageID int64
	// Content is the indexed text.
	Content string
	// Embedding is the vector representation.
	Embedding []float32
	// Metadata carries vectorizer enrichment (entities, topics, intent).
	Metadata map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SearchOptions narrows a similarity search.
type SearchOptions struct {
	// ChatID restricts results to one conversation. Empty searches all.
	ChatID string
	// Kind restricts results to one entry kind. Empty searches all.
	Kind Kind
	// Limit caps the result count (default 10).
	Limit int
	// Threshold drops results below this cosine similarity.
	Threshold float32
}

// Result pairs an entry with its similarity to the query.
type Result struct {
	Entry *Entry
	Score float32
}

// Store is a vector storage backend.
type Store interface {
	// Index stores entries with their embeddings, upserting by ID.
	Index(ctx context.Context, entries []*Entry) error

	// Get returns one entry by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Entry, error)

	// Search finds the most similar entries to the query embedding.
	Search(ctx context.Context, embedding []float32, opts *SearchOptions) ([]*Result, error)

	// Delete removes entries by ID.
	Delete(ctx context.Context, ids []string) error

	// DeleteChat removes every entry belonging to a conversation.
	DeleteChat(ctx context.Context, chatID string) error

	// Count returns the number of entries, scoped to a chat when chatID
	// is non-empty.
	Count(ctx context.Context, chatID string) (int64, error)

	// Backend names the implementation for metric labels.
	Backend() string

	// Close releases resources.
	Close() error
}

// Config contains common store configuration.
type Config struct {
	// Dimension is the embedding dimension (1536 for
	// text-embedding-3-small).
	Dimension int
}
