package models

import "time"

// ScoredMessage is a historical message selected by the memory manager,
// annotated with its relevance probability and evidence breakdown.
type ScoredMessage struct {
	Message     *Message           `json:"message"`
	Probability float64            `json:"probability"`
	Confidence  float64            `json:"confidence"`
	Rank        int                `json:"rank"` // 1-based
	Evidence    map[string]float64 `json:"evidence,omitempty"`
	Priors      map[string]float64 `json:"priors,omitempty"`
}

// Summary covers a contiguous range of messages that were compressed out of
// the live window.
type Summary struct {
	ID           string    `json:"id"`
	ChatID       string    `json:"chat_id"`
	Text         string    `json:"text"`
	FromID       int64     `json:"from_id"`
	ToID         int64     `json:"to_id"`
	FromTime     time.Time `json:"from_time"`
	ToTime       time.Time `json:"to_time"`
	TokenCount   int       `json:"token_count"`
	MessageCount int       `json:"message_count"`
}

// KeyFactKind classifies a key fact.
type KeyFactKind string

const (
	FactDecision   KeyFactKind = "decision"
	FactPreference KeyFactKind = "preference"
	FactPlain      KeyFactKind = "fact"
	FactGoal       KeyFactKind = "goal"
)

// KeyFact is a durable statement extracted from or attached to a chat.
type KeyFact struct {
	ID         string      `json:"id"`
	ChatID     string      `json:"chat_id"`
	Text       string      `json:"text"`
	Kind       KeyFactKind `json:"kind"`
	Confidence float64     `json:"confidence"`
	SourceIDs  []int64     `json:"source_ids,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// ContextStats describes how a context window was assembled.
type ContextStats struct {
	TotalTokens       int     `json:"total_tokens"`
	FullHistoryTokens int     `json:"full_history_tokens"`
	CompressionRatio  float64 `json:"compression_ratio"`
	RecentCount       int     `json:"recent_count"`
	SelectedCount     int     `json:"selected_count"`
	SummaryCount      int     `json:"summary_count"`
	FactCount         int     `json:"fact_count"`
	BayesianShare     float64 `json:"bayesian_share"`
}

// ContextWindow is the optimized view of a conversation handed to a
// provider. Summaries and key facts are system preamble; recent messages
// read chronologically. Windows are ephemeral and never persisted.
type ContextWindow struct {
	ChatID      string          `json:"chat_id"`
	Recent      []*Message      `json:"recent"`
	Selected    []ScoredMessage `json:"selected,omitempty"`
	Summaries   []Summary       `json:"summaries,omitempty"`
	KeyFacts    []KeyFact       `json:"key_facts,omitempty"`
	Stats       ContextStats    `json:"stats"`
	Explanation string          `json:"explanation,omitempty"`
}
