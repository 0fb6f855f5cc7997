package service

import (
	"context"
	"fmt"

	"github.com/tranvh/contextgate/internal/storage"
	"github.com/tranvh/contextgate/pkg/models"
)

// ListTopics returns the persisted topics, most recently active first.
func (s *Service) ListTopics(ctx context.Context) ([]*storage.Topic, error) {
	if s.store == nil {
		return nil, fmt.Errorf("no conversation store configured")
	}
	topics, err := s.store.ListTopics(ctx)
	if err != nil {
		s.countError("storage", "list_topics")
		return nil, err
	}
	return topics, nil
}

// TopicHistory returns a topic's persisted messages in chronological order.
func (s *Service) TopicHistory(ctx context.Context, topicID int64, limit int) ([]*storage.StoredMessage, error) {
	if s.store == nil {
		return nil, fmt.Errorf("no conversation store configured")
	}
	return s.store.ListMessages(ctx, topicID, limit)
}

// SearchTopic finds a topic's persisted messages containing a word.
func (s *Service) SearchTopic(ctx context.Context, topicID int64, word string) ([]*storage.StoredMessage, error) {
	if s.store == nil {
		return nil, fmt.Errorf("no conversation store configured")
	}
	return s.store.SearchByWord(ctx, topicID, word)
}

// MarkImportant adjusts a message's stored importance and keeps the vector
// metadata in sync.
func (s *Service) MarkImportant(chatID string, messageID int64, important bool) error {
	return s.engine.MarkMessageImportant(chatID, messageID, important)
}

// AddKeyFact attaches a durable fact to a conversation.
func (s *Service) AddKeyFact(chatID, text string, kind models.KeyFactKind, sourceIDs ...int64) (*models.KeyFact, error) {
	return s.engine.AddKeyFact(chatID, text, kind, sourceIDs...)
}
