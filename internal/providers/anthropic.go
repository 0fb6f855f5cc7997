package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/tranvh/contextgate/internal/backoff"
	"github.com/tranvh/contextgate/pkg/models"
)

const anthropicDefaultModel = "claude-sonnet-4-20250514"

// Anthropic adapts the Claude Messages API to the Provider interface.
//
// Each Stream call creates an independent SSE stream and goroutine, so the
// adapter is safe for concurrent use.
type Anthropic struct {
	client anthropic.Client
	cfg    Config
	policy backoff.Policy
}

// NewAnthropic creates a Claude-backed provider. The API key is required;
// other Config fields default from DefaultConfig.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = anthropicDefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Anthropic{
		client: client,
		cfg:    cfg,
		policy: backoff.DefaultPolicy(),
	}, nil
}

func (p *Anthropic) Name() string { return string(KindAnthropic) }

func (p *Anthropic) IsConfigured() bool { return p.cfg.APIKey != "" }

func (p *Anthropic) SupportedModels() []string {
	return []string{
		"claude-sonnet-4-20250514",
		"claude-opus-4-20250514",
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-3-haiku-20240307",
	}
}

func (p *Anthropic) DefaultConfig() Config {
	return Config{
		Model:       anthropicDefaultModel,
		MaxTokens:   4096,
		Temperature: 1.0,
	}
}

// Stream starts a Claude completion and returns its event channel. The
// channel closes after a terminal chunk; cancel ctx to abandon the stream.
func (p *Anthropic) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)

		stream, err := retryStart(ctx, p.policy, defaultStartAttempts, func() (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
			s := p.client.Messages.NewStreaming(ctx, params)
			if err := s.Err(); err != nil {
				return nil, p.wrapError(err, string(params.Model))
			}
			return s, nil
		})
		if err != nil {
			chunks <- Chunk{Type: ChunkError, Err: err}
			return
		}
		p.processStream(stream, chunks, string(params.Model))
	}()

	return chunks, nil
}

// Generate runs a completion to its end and assembles the response.
func (p *Anthropic) Generate(ctx context.Context, req Request) (*Response, error) {
	ch, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return collect(ch)
}

// AddToolResults appends an assistant tool-use turn and a tool-result turn.
// convertMessages maps them onto Claude content blocks.
func (p *Anthropic) AddToolResults(history []models.Message, call models.ToolCall, results []models.ToolResult) []models.Message {
	return appendToolResults(history, call, results)
}

func (p *Anthropic) buildParams(req Request) (anthropic.MessageNewParams, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: req.System},
		}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	return params, nil
}

// processStream converts Claude SSE events into chunks. Tool calls arrive
// split across events: content_block_start carries the ID and name,
// input_json_delta events stream the argument JSON, content_block_stop
// finalizes the call.
func (p *Anthropic) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- Chunk, model string) {
	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	emptyEventCount := 0

	usage := &Usage{}
	stopReason := StopEndTurn

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				usage.InputTokens = int(messageStart.Message.Usage.InputTokens)
			}
			eventProcessed = true

		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				currentToolCall = &models.ToolCall{
					ID:   toolUse.ID,
					Name: toolUse.Name,
				}
				currentToolInput.Reset()
				eventProcessed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- Chunk{Type: ChunkText, Text: delta.Text}
					eventProcessed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					eventProcessed = true
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				input := currentToolInput.String()
				if input == "" {
					input = "{}"
				}
				currentToolCall.Input = json.RawMessage(input)
				chunks <- Chunk{Type: ChunkToolCall, ToolCall: currentToolCall}
				currentToolCall = nil
				eventProcessed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(messageDelta.Usage.OutputTokens)
			}
			switch messageDelta.Delta.StopReason {
			case "tool_use":
				stopReason = StopToolUse
			case "max_tokens":
				stopReason = StopMaxTokens
			}
			eventProcessed = true

		case "message_stop":
			chunks <- Chunk{Type: ChunkDone, StopReason: stopReason, Usage: usage}
			return

		case "error":
			chunks <- Chunk{
				Type: ChunkError,
				Err:  p.wrapError(errors.New("anthropic stream error"), model),
			}
			return
		}

		if eventProcessed {
			emptyEventCount = 0
		} else {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				chunks <- Chunk{
					Type: ChunkError,
					Err: p.wrapError(
						fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyEventCount),
						model,
					),
				}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- Chunk{Type: ChunkError, Err: p.wrapError(err, model)}
		return
	}
	// Stream ended without message_stop: treat as a normal end of turn.
	chunks <- Chunk{Type: ChunkDone, StopReason: stopReason, Usage: usage}
}

// convertMessages maps neutral messages onto Claude's content-block format.
// System turns are skipped (carried in params.System); tool turns become
// user messages holding tool_result blocks.
func (p *Anthropic) convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		for _, block := range msg.Blocks {
			switch block.Type {
			case models.BlockText:
				if block.Text != "" {
					content = append(content, anthropic.NewTextBlock(block.Text))
				}
			case models.BlockToolResult:
				if block.ToolResult != nil {
					content = append(content, anthropic.NewToolResultBlock(
						block.ToolResult.ToolCallID,
						block.ToolResult.Content,
						block.ToolResult.IsError,
					))
				}
			case models.BlockToolUse:
				if block.ToolCall != nil {
					var input map[string]interface{}
					if err := json.Unmarshal(block.ToolCall.Input, &input); err != nil {
						return nil, fmt.Errorf("invalid tool call input: %w", err)
					}
					content = append(content, anthropic.NewToolUseBlock(
						block.ToolCall.ID,
						input,
						block.ToolCall.Name,
					))
				}
			}
		}

		if len(content) == 0 {
			continue
		}

		var message anthropic.MessageParam
		if msg.Role == models.RoleAssistant {
			message = anthropic.NewAssistantMessage(content...)
		} else {
			// User and tool roles both map to user messages.
			message = anthropic.NewUserMessage(content...)
		}
		result = append(result, message)
	}

	return result, nil
}

func (p *Anthropic) convertTools(tools []models.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for i := range tools {
		tool := &tools[i]
		raw, err := json.Marshal(tool.InputSchema())
		if err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}

	return result, nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Anthropic) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsProviderError(err); ok {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := NewProviderError(string(KindAnthropic), model, err).
			WithStatus(apiErr.StatusCode)

		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil && payload.Error.Message != "" {
				providerErr.Message = payload.Error.Message
			}
		}
		if apiErr.Response != nil {
			if d, ok := parseRetryAfter(apiErr.Response.Header.Get("Retry-After")); ok {
				providerErr = providerErr.WithRetryAfter(d)
			}
		}
		return providerErr
	}

	return NewProviderError(string(KindAnthropic), model, err)
}

// parseRetryAfter reads a Retry-After header value in delta-seconds form.
func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}
