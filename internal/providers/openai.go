package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tranvh/contextgate/internal/backoff"
	"github.com/tranvh/contextgate/pkg/models"
)

const openAIDefaultModel = "gpt-4o"

// OpenAI adapts the chat-completions API to the Provider interface.
//
// Unlike Claude, GPT streams tool calls incrementally: the ID and name
// arrive first, then the argument JSON in fragments, keyed by index. The
// adapter accumulates fragments and emits complete calls only when the
// finish reason signals the calls are done.
type OpenAI struct {
	client *openai.Client
	cfg    Config
	policy backoff.Policy
}

// NewOpenAI creates a GPT-backed provider.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	return &OpenAI{
		client: openai.NewClient(cfg.APIKey),
		cfg:    cfg,
		policy: backoff.DefaultPolicy(),
	}, nil
}

func (p *OpenAI) Name() string { return string(KindOpenAI) }

func (p *OpenAI) IsConfigured() bool { return p.cfg.APIKey != "" }

func (p *OpenAI) SupportedModels() []string {
	return []string{
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-4-turbo",
		"gpt-4",
		"gpt-3.5-turbo",
	}
}

func (p *OpenAI) DefaultConfig() Config {
	return Config{
		Model:       openAIDefaultModel,
		MaxTokens:   4096,
		Temperature: 1.0,
	}
}

// Stream starts a GPT completion and returns its event channel.
func (p *OpenAI) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)

		stream, err := retryStart(ctx, p.policy, defaultStartAttempts, func() (*openai.ChatCompletionStream, error) {
			s, err := p.client.CreateChatCompletionStream(ctx, chatReq)
			if err != nil {
				return nil, p.wrapError(err, chatReq.Model)
			}
			return s, nil
		})
		if err != nil {
			chunks <- Chunk{Type: ChunkError, Err: err}
			return
		}
		p.processStream(ctx, stream, chunks, chatReq.Model)
	}()

	return chunks, nil
}

// Generate runs a completion to its end and assembles the response.
func (p *OpenAI) Generate(ctx context.Context, req Request) (*Response, error) {
	ch, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return collect(ch)
}

// AddToolResults appends the tool exchange; convertMessages splits the tool
// turn into one role=tool message per result, as the API requires.
func (p *OpenAI) AddToolResults(history []models.Message, call models.ToolCall, results []models.ToolResult) []models.Message {
	return appendToolResults(history, call, results)
}

func (p *OpenAI) buildRequest(req Request) (openai.ChatCompletionRequest, error) {
	messages, err := p.convertMessages(req.Messages, req.System)
	if err != nil {
		return openai.ChatCompletionRequest{}, fmt.Errorf("openai: failed to convert messages: %w", err)
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxTokens
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
		Stream:    true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}
	return chatReq, nil
}

// emitToolCalls flushes accumulated tool calls in ascending index order.
// The API does not promise contiguous or zero-based indices, so the keys
// are sorted rather than counted up to the map length. Calls that never
// received an ID or name are dropped; empty arguments become "{}".
func emitToolCalls(chunks chan<- Chunk, toolCalls map[int]*models.ToolCall) {
	indices := make([]int, 0, len(toolCalls))
	for i := range toolCalls {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		tc := toolCalls[i]
		if tc.ID == "" || tc.Name == "" {
			continue
		}
		if len(tc.Input) == 0 {
			tc.Input = json.RawMessage("{}")
		}
		chunks <- Chunk{Type: ChunkToolCall, ToolCall: tc}
	}
}

func (p *OpenAI) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- Chunk, model string) {
	defer stream.Close()

	// Tool calls accumulate across deltas, keyed by index.
	toolCalls := make(map[int]*models.ToolCall)
	stopReason := StopEndTurn
	usage := &Usage{}

	flushToolCalls := func() {
		emitToolCalls(chunks, toolCalls)
		toolCalls = make(map[int]*models.ToolCall)
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- Chunk{Type: ChunkError, Err: ctx.Err()}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flushToolCalls()
				chunks <- Chunk{Type: ChunkDone, StopReason: stopReason, Usage: usage}
				return
			}
			chunks <- Chunk{Type: ChunkError, Err: p.wrapError(err, model)}
			return
		}

		// The usage-only frame arrives after the last choice frame.
		if response.Usage != nil {
			usage.InputTokens = response.Usage.PromptTokens
			usage.OutputTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			chunks <- Chunk{Type: ChunkText, Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				args := string(toolCalls[index].Input) + tc.Function.Arguments
				toolCalls[index].Input = json.RawMessage(args)
			}
		}

		switch choice.FinishReason {
		case openai.FinishReasonToolCalls:
			stopReason = StopToolUse
			flushToolCalls()
		case openai.FinishReasonLength:
			stopReason = StopMaxTokens
		case openai.FinishReasonStop:
			stopReason = StopEndTurn
		}
	}
}

// convertMessages maps neutral messages onto the chat-completions format.
// The system prompt is injected as the leading message; each tool result
// becomes its own role=tool message linked by tool_call_id.
func (p *OpenAI) convertMessages(messages []models.Message, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser, models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{
				Role:    string(msg.Role),
				Content: msg.Text(),
			})

		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, block := range msg.Blocks {
				if block.Type != models.BlockToolUse || block.ToolCall == nil {
					continue
				}
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   block.ToolCall.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      block.ToolCall.Name,
						Arguments: string(block.ToolCall.Input),
					},
				})
			}
			result = append(result, oaiMsg)

		case models.RoleTool:
			for _, block := range msg.Blocks {
				if block.Type != models.BlockToolResult || block.ToolResult == nil {
					continue
				}
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    block.ToolResult.Content,
					ToolCallID: block.ToolResult.ToolCallID,
				})
			}
		}
	}

	return result, nil
}

func (p *OpenAI) convertTools(tools []models.ToolSchema) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i := range tools {
		tool := &tools[i]
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema(),
			},
		}
	}
	return result
}

func (p *OpenAI) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsProviderError(err); ok {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := NewProviderError(string(KindOpenAI), model, err).
			WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			providerErr.Message = apiErr.Message
		}
		return providerErr
	}

	return NewProviderError(string(KindOpenAI), model, err)
}
