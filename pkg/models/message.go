// Package models defines the core data types for contextgate.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// BlockType identifies the kind of a content block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is a typed segment of message content. Text blocks carry
// Text; tool-use blocks carry ToolCall; tool-result blocks carry ToolResult.
type ContentBlock struct {
	Type       BlockType   `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// Message is a single conversation turn. ID is unique and strictly
// increasing within a chat; Timestamp is non-decreasing.
type Message struct {
	ID           int64          `json:"id"`
	ChatID       string         `json:"chat_id"`
	Role         Role           `json:"role"`
	Content      string         `json:"content"`
	Blocks       []ContentBlock `json:"blocks,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	TokenCount   int            `json:"token_count"`
	Importance   float64        `json:"importance"`
	ModelVersion string         `json:"model_version,omitempty"`
}

// Text returns the plain-text content of the message, concatenating text
// blocks when Content is empty.
func (m *Message) Text() string {
	if m.Content != "" {
		return m.Content
	}
	out := ""
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// MessageMetadata is the per-message enrichment written by the vectorizer
// and updated by the memory manager on selection.
type MessageMetadata struct {
	MessageID         int64     `json:"message_id"`
	ChatID            string    `json:"chat_id"`
	Entities          []string  `json:"entities,omitempty"`
	Topics            []string  `json:"topics,omitempty"`
	Fingerprint       string    `json:"fingerprint,omitempty"`
	TimesReferenced   int       `json:"times_referenced"`
	UserMarked        bool      `json:"user_marked"`
	CurrentImportance float64   `json:"current_importance"`
	IndexedAt         time.Time `json:"indexed_at,omitempty"`
}

// Conversation groups the messages of one chat.
type Conversation struct {
	ChatID     string    `json:"chat_id"`
	OwnerID    string    `json:"owner_id"`
	Title      string    `json:"title"`
	PersonaID  string    `json:"persona_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}
