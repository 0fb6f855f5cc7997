// Package storage persists the client-side conversation schema: topics,
// their messages, and a per-topic word index for lookup.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
)

var (
	ErrNotFound = errors.New("not found")
)

// Topic groups a conversation thread.
type Topic struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// StoredMessage is one persisted turn within a topic.
type StoredMessage struct {
	ID        int64     `json:"id"`
	TopicID   int64     `json:"topic_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationStore is the persistence contract. The core only reads and
// writes through these operations and does not mandate a storage engine.
type ConversationStore interface {
	CreateTopic(ctx context.Context, title string) (*Topic, error)
	GetTopic(ctx context.Context, id int64) (*Topic, error)
	ListTopics(ctx context.Context) ([]*Topic, error)
	// DeleteTopic removes the topic, its messages, and its word index
	// atomically.
	DeleteTopic(ctx context.Context, id int64) error

	SaveMessage(ctx context.Context, msg *StoredMessage) (int64, error)
	// ListMessages returns a topic's messages in chronological order.
	ListMessages(ctx context.Context, topicID int64, limit int) ([]*StoredMessage, error)
	// SearchByWord returns the topic's messages containing an indexed
	// word, newest first.
	SearchByWord(ctx context.Context, topicID int64, word string) ([]*StoredMessage, error)

	Close() error
}

// stopWords are excluded from the word index. The list is fixed.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"to": {}, "was": {}, "were": {}, "will": {}, "with": {}, "you": {},
	"i": {}, "we": {}, "they": {}, "this": {}, "but": {}, "not": {},
}

// indexableWords extracts the lowercase words of a text worth indexing:
// letters and digits only, stop words removed, duplicates dropped.
func indexableWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, w := range fields {
		if len(w) < 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}
