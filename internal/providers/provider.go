// Package providers abstracts LLM backends behind a single streaming
// interface. Each adapter translates the gateway's neutral message model to
// its SDK's wire shapes and normalizes errors into the shared taxonomy.
package providers

import (
	"context"

	"github.com/tranvh/contextgate/pkg/models"
)

// Kind identifies a provider family.
type Kind string

const (
	KindAnthropic Kind = "anthropic"
	KindOpenAI    Kind = "openai"
	KindGoogle    Kind = "google"
)

// StopReason explains why a completion ended.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopToolUse   StopReason = "tool_use"
)

// ChunkType identifies a streaming event.
type ChunkType string

const (
	// ChunkText carries an incremental piece of assistant text.
	ChunkText ChunkType = "text"
	// ChunkToolCall carries a fully-accumulated tool call.
	ChunkToolCall ChunkType = "tool_call"
	// ChunkDone terminates a successful stream.
	ChunkDone ChunkType = "done"
	// ChunkError terminates a failed stream.
	ChunkError ChunkType = "error"
)

// Chunk is one event on a completion stream. Exactly one of the payload
// fields is meaningful for a given type; a stream ends with Done or Error,
// never both.
type Chunk struct {
	Type       ChunkType
	Text       string
	ToolCall   *models.ToolCall
	StopReason StopReason
	Usage      *Usage
	Err        error
}

// Usage is the token accounting a backend reports for a completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Request is a provider-neutral completion request.
type Request struct {
	Model       string
	System      string
	Messages    []models.Message
	Tools       []models.ToolSchema
	MaxTokens   int
	Temperature float64
}

// Response is a fully-assembled completion.
type Response struct {
	Text       string
	ToolCalls  []models.ToolCall
	StopReason StopReason
	Usage      Usage
}

// Config carries the per-provider defaults applied when a request leaves
// fields zero.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Provider is a conversational LLM backend.
//
// Stream returns a channel the adapter feeds from a goroutine. The channel
// is always closed after a terminal chunk (Done or Error); callers must
// drain it or cancel ctx.
type Provider interface {
	// Name returns the provider kind as a stable string.
	Name() string

	// Stream starts a completion and returns its event channel.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)

	// Generate runs a full completion and returns the assembled response.
	// Implemented by draining Stream.
	Generate(ctx context.Context, req Request) (*Response, error)

	// AddToolResults appends tool results to a message history in the
	// shape the next Stream call expects.
	AddToolResults(history []models.Message, call models.ToolCall, results []models.ToolResult) []models.Message

	// IsConfigured reports whether the provider has credentials.
	IsConfigured() bool

	// SupportedModels lists the models this adapter accepts.
	SupportedModels() []string

	// DefaultConfig returns the adapter's built-in defaults.
	DefaultConfig() Config
}

// collect drains a chunk channel into a Response. Shared by every adapter's
// Generate.
func collect(ch <-chan Chunk) (*Response, error) {
	resp := &Response{}
	for chunk := range ch {
		switch chunk.Type {
		case ChunkText:
			resp.Text += chunk.Text
		case ChunkToolCall:
			if chunk.ToolCall != nil {
				resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
			}
		case ChunkDone:
			resp.StopReason = chunk.StopReason
			if chunk.Usage != nil {
				resp.Usage = *chunk.Usage
			}
		case ChunkError:
			return nil, chunk.Err
		}
	}
	if resp.StopReason == "" {
		resp.StopReason = StopEndTurn
	}
	return resp, nil
}

// appendToolResults is the shared AddToolResults implementation: the
// assistant turn replays the tool call, then a tool turn carries each
// result. Adapters map these to their wire shapes in convertMessages.
func appendToolResults(history []models.Message, call models.ToolCall, results []models.ToolResult) []models.Message {
	out := make([]models.Message, len(history), len(history)+2)
	copy(out, history)

	out = append(out, models.Message{
		Role: models.RoleAssistant,
		Blocks: []models.ContentBlock{
			{Type: models.BlockToolUse, ToolCall: &call},
		},
	})

	blocks := make([]models.ContentBlock, 0, len(results))
	for i := range results {
		blocks = append(blocks, models.ContentBlock{
			Type:       models.BlockToolResult,
			ToolResult: &results[i],
		})
	}
	out = append(out, models.Message{
		Role:   models.RoleTool,
		Blocks: blocks,
	})
	return out
}
