package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite("")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTopicCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	topic, err := s.CreateTopic(ctx, "Deployment planning")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	if topic.ID == 0 {
		t.Error("topic ID should be assigned")
	}

	got, err := s.GetTopic(ctx, topic.ID)
	if err != nil {
		t.Fatalf("GetTopic: %v", err)
	}
	if got.Title != "Deployment planning" {
		t.Errorf("Title = %q", got.Title)
	}

	if _, err := s.GetTopic(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	second, _ := s.CreateTopic(ctx, "Second")
	topics, err := s.ListTopics(ctx)
	if err != nil {
		t.Fatalf("ListTopics: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("len(topics) = %d, want 2", len(topics))
	}
	_ = second
}

func TestDeleteTopicCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	topic, _ := s.CreateTopic(ctx, "t")
	_, err := s.SaveMessage(ctx, &StoredMessage{TopicID: topic.ID, Role: "user", Content: "deploy the service tonight"})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteTopic(ctx, topic.ID); err != nil {
		t.Fatalf("DeleteTopic: %v", err)
	}
	if _, err := s.GetTopic(ctx, topic.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("topic should be gone, err = %v", err)
	}
	msgs, err := s.ListMessages(ctx, topic.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Error("messages should cascade on topic delete")
	}
	hits, err := s.SearchByWord(ctx, topic.ID, "deploy")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Error("word index should cascade on topic delete")
	}

	if err := s.DeleteTopic(ctx, topic.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete err = %v, want ErrNotFound", err)
	}
}

func TestMessagesChronological(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	topic, _ := s.CreateTopic(ctx, "t")

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		_, err := s.SaveMessage(ctx, &StoredMessage{
			TopicID:   topic.ID,
			Role:      "user",
			Content:   "step",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.ListMessages(ctx, topic.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 5 {
		t.Fatalf("len = %d, want 5", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp.Before(msgs[i-1].Timestamp) {
			t.Error("messages must be chronological")
		}
		if msgs[i].ID <= msgs[i-1].ID {
			t.Error("IDs must be increasing")
		}
	}

	limited, _ := s.ListMessages(ctx, topic.ID, 2)
	if len(limited) != 2 {
		t.Errorf("limited len = %d, want 2", len(limited))
	}
}

func TestSearchByWord(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	topicA, _ := s.CreateTopic(ctx, "a")
	topicB, _ := s.CreateTopic(ctx, "b")

	_, _ = s.SaveMessage(ctx, &StoredMessage{TopicID: topicA.ID, Role: "user", Content: "We should deploy the gateway tomorrow."})
	_, _ = s.SaveMessage(ctx, &StoredMessage{TopicID: topicA.ID, Role: "assistant", Content: "Lunch plans are unrelated."})
	_, _ = s.SaveMessage(ctx, &StoredMessage{TopicID: topicB.ID, Role: "user", Content: "Deploy everything in topic b."})

	hits, err := s.SearchByWord(ctx, topicA.ID, "Deploy")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("len(hits) = %d, want 1 (scoped to topic)", len(hits))
	}
	if hits[0].Content != "We should deploy the gateway tomorrow." {
		t.Errorf("hit = %q", hits[0].Content)
	}

	// Stop words are not indexed.
	if hits, _ := s.SearchByWord(ctx, topicA.ID, "the"); len(hits) != 0 {
		t.Error("stop words must not be indexed")
	}
}

func TestIndexableWords(t *testing.T) {
	words := indexableWords("The quick DEPLOY, deploy! and a 2nd run")
	want := map[string]bool{"quick": true, "deploy": true, "2nd": true, "run": true, "nd": false}
	got := make(map[string]bool, len(words))
	for _, w := range words {
		got[w] = true
	}
	for w, expect := range want {
		if expect && !got[w] {
			t.Errorf("missing word %q in %v", w, words)
		}
	}
	// Deduplicated and lowercased.
	count := 0
	for _, w := range words {
		if w == "deploy" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("deploy indexed %d times, want 1", count)
	}
}
