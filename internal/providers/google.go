package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/tranvh/contextgate/internal/backoff"
	"github.com/tranvh/contextgate/pkg/models"
)

const googleDefaultModel = "gemini-2.0-flash"

// Google adapts the Gemini API to the Provider interface.
//
// Gemini has no tool-call IDs on the wire, so the adapter synthesizes one
// per function call and recovers the function name from it when a result is
// sent back.
type Google struct {
	client *genai.Client
	cfg    Config
	policy backoff.Policy
}

// NewGoogle creates a Gemini-backed provider.
func NewGoogle(cfg Config) (*Google, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = googleDefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &Google{
		client: client,
		cfg:    cfg,
		policy: backoff.DefaultPolicy(),
	}, nil
}

func (p *Google) Name() string { return string(KindGoogle) }

func (p *Google) IsConfigured() bool { return p.cfg.APIKey != "" }

func (p *Google) SupportedModels() []string {
	return []string{
		"gemini-2.0-flash",
		"gemini-2.0-flash-lite",
		"gemini-1.5-pro",
		"gemini-1.5-flash",
	}
}

func (p *Google) DefaultConfig() Config {
	return Config{
		Model:       googleDefaultModel,
		MaxTokens:   4096,
		Temperature: 1.0,
	}
}

// Stream starts a Gemini completion and returns its event channel.
//
// The genai SDK surfaces stream-open failures on the first iteration of its
// response sequence, so retry wraps the whole first read rather than a
// separate open call.
func (p *Google) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	contents, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("google: failed to convert messages: %w", err)
	}
	config := p.buildConfig(req)

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)

		streamIter, err := retryStart(ctx, p.policy, defaultStartAttempts, func() (iter.Seq2[*genai.GenerateContentResponse, error], error) {
			s := p.client.Models.GenerateContentStream(ctx, model, contents, config)
			next, stop := iter.Pull2(s)
			resp, ferr, ok := next()
			if ferr != nil {
				stop()
				return nil, p.wrapError(ferr, model)
			}
			// Re-yield the first response ahead of the remaining sequence.
			return func(yield func(*genai.GenerateContentResponse, error) bool) {
				defer stop()
				if ok && !yield(resp, nil) {
					return
				}
				for {
					r, e, more := next()
					if !more {
						return
					}
					if !yield(r, e) {
						return
					}
				}
			}, nil
		})
		if err != nil {
			chunks <- Chunk{Type: ChunkError, Err: err}
			return
		}
		p.processStream(ctx, streamIter, chunks, model)
	}()

	return chunks, nil
}

// Generate runs a completion to its end and assembles the response.
func (p *Google) Generate(ctx context.Context, req Request) (*Response, error) {
	ch, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return collect(ch)
}

// AddToolResults appends the tool exchange; convertMessages turns results
// into FunctionResponse parts, resolving names from the synthesized IDs.
func (p *Google) AddToolResults(history []models.Message, call models.ToolCall, results []models.ToolResult) []models.Message {
	return appendToolResults(history, call, results)
}

func (p *Google) processStream(ctx context.Context, streamIter iter.Seq2[*genai.GenerateContentResponse, error], chunks chan<- Chunk, model string) {
	stopReason := StopEndTurn
	usage := &Usage{}

	for resp, err := range streamIter {
		select {
		case <-ctx.Done():
			chunks <- Chunk{Type: ChunkError, Err: ctx.Err()}
			return
		default:
		}

		if err != nil {
			chunks <- Chunk{Type: ChunkError, Err: p.wrapError(err, model)}
			return
		}
		if resp == nil {
			continue
		}

		if resp.UsageMetadata != nil {
			usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
			usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			if candidate.FinishReason == genai.FinishReasonMaxTokens {
				stopReason = StopMaxTokens
			}

			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					chunks <- Chunk{Type: ChunkText, Text: part.Text}
				}
				if part.FunctionCall != nil {
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}
					stopReason = StopToolUse
					chunks <- Chunk{
						Type: ChunkToolCall,
						ToolCall: &models.ToolCall{
							ID:    generateToolCallID(part.FunctionCall.Name),
							Name:  part.FunctionCall.Name,
							Input: argsJSON,
						},
					}
				}
			}
		}
	}

	chunks <- Chunk{Type: ChunkDone, StopReason: stopReason, Usage: usage}
}

// convertMessages maps neutral messages onto Gemini contents. System turns
// are skipped (carried in SystemInstruction); tool results ride on the user
// role as FunctionResponse parts.
func (p *Google) convertMessages(messages []models.Message) ([]*genai.Content, error) {
	var result []*genai.Content

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		content := &genai.Content{}
		switch msg.Role {
		case models.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}

		for _, block := range msg.Blocks {
			switch block.Type {
			case models.BlockText:
				if block.Text != "" {
					content.Parts = append(content.Parts, &genai.Part{Text: block.Text})
				}
			case models.BlockToolUse:
				if block.ToolCall == nil {
					continue
				}
				var args map[string]any
				if err := json.Unmarshal(block.ToolCall.Input, &args); err != nil {
					args = make(map[string]any)
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						Name: block.ToolCall.Name,
						Args: args,
					},
				})
			case models.BlockToolResult:
				if block.ToolResult == nil {
					continue
				}
				var response map[string]any
				if err := json.Unmarshal([]byte(block.ToolResult.Content), &response); err != nil {
					response = map[string]any{
						"result": block.ToolResult.Content,
						"error":  block.ToolResult.IsError,
					}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						Name:     toolNameFromID(block.ToolResult.ToolCallID, messages),
						Response: response,
					},
				})
			}
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}

	return result, nil
}

func (p *Google) buildConfig(req Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxTokens
	}
	config.MaxOutputTokens = int32(min(maxTokens, math.MaxInt32))

	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}

	if len(req.Tools) > 0 {
		config.Tools = p.convertTools(req.Tools)
	}

	return config
}

func (p *Google) convertTools(tools []models.ToolSchema) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}

	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for i := range tools {
		tool := &tools[i]
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  toGeminiSchema(tool.InputSchema()),
		})
	}

	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toGeminiSchema converts a JSON-schema object into Gemini's typed schema.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}

	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}

	return schema
}

func (p *Google) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsProviderError(err); ok {
		return err
	}

	providerErr := NewProviderError(string(KindGoogle), model, err)

	// The genai SDK reports failures as text; map the common ones to
	// statuses so the taxonomy classification is stable.
	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "401") || strings.Contains(errMsg, "unauthenticated"):
		providerErr = providerErr.WithStatus(http.StatusUnauthorized)
	case strings.Contains(errMsg, "403") || strings.Contains(errMsg, "permission denied"):
		providerErr = providerErr.WithStatus(http.StatusForbidden)
	case strings.Contains(errMsg, "429") || strings.Contains(errMsg, "resource exhausted"):
		providerErr = providerErr.WithStatus(http.StatusTooManyRequests)
	case strings.Contains(errMsg, "500"):
		providerErr = providerErr.WithStatus(http.StatusInternalServerError)
	case strings.Contains(errMsg, "503"):
		providerErr = providerErr.WithStatus(http.StatusServiceUnavailable)
	}

	return providerErr
}

// generateToolCallID synthesizes a stable-format call ID for Gemini, which
// does not assign one.
func generateToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}

// toolNameFromID resolves a function name for a tool result, first from the
// call recorded in history, then from the synthesized ID format.
func toolNameFromID(toolCallID string, messages []models.Message) string {
	for _, msg := range messages {
		for _, block := range msg.Blocks {
			if block.Type == models.BlockToolUse && block.ToolCall != nil && block.ToolCall.ID == toolCallID {
				return block.ToolCall.Name
			}
		}
	}
	parts := strings.Split(toolCallID, "_")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
