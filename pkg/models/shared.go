package models

import "time"

// SharedMessage is one turn of a published conversation. The shape is
// intentionally flat so shared payloads survive schema drift in Message.
type SharedMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	PersonaID string    `json:"persona_id,omitempty"`
}

// SharedConversation is a published, read-only snapshot of a chat.
// ViewCount only ever increases; once ExpiresAt passes, lookups fail.
type SharedConversation struct {
	ShareID   string          `json:"share_id"`
	Title     string          `json:"title"`
	Messages  []SharedMessage `json:"messages"`
	CreatedAt time.Time       `json:"created_at"`
	ViewCount int64           `json:"view_count"`
	ExpiresAt time.Time       `json:"expires_at,omitempty"`
	OwnerID   string          `json:"owner_id,omitempty"`
}

// Expired reports whether the conversation's TTL has passed at now.
// A zero ExpiresAt means the share never expires.
func (s *SharedConversation) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
