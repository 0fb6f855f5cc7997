// Package service orchestrates the gateway's chat flow: safety in, context
// assembly, provider completion with tool execution, safety out, then
// storage and indexing. It also owns conversation sharing and topic
// persistence.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tranvh/contextgate/internal/backoff"
	"github.com/tranvh/contextgate/internal/contextengine"
	"github.com/tranvh/contextgate/internal/observability"
	"github.com/tranvh/contextgate/internal/providers"
	"github.com/tranvh/contextgate/internal/safety"
	"github.com/tranvh/contextgate/internal/sharecache"
	"github.com/tranvh/contextgate/internal/storage"
	"github.com/tranvh/contextgate/internal/tools"
	"github.com/tranvh/contextgate/pkg/models"
)

// ToolHandler executes one tool call. The arguments have already been
// validated and enriched with schema defaults.
type ToolHandler func(ctx context.Context, args json.RawMessage) (string, error)

// Config tunes the chat service.
type Config struct {
	// Model overrides the provider's default model when set.
	Model string
	// System is the base system prompt prepended to every request.
	System string
	// MaxTokens and Temperature are passed through to the provider.
	MaxTokens   int
	Temperature float64
	// MaxToolIterations bounds consecutive tool rounds per turn (default 5).
	MaxToolIterations int
	// Locale picks the language for safety rejection messages.
	Locale string
	// ShareBaseURL prefixes generated share URLs (default "/shared").
	ShareBaseURL string
	// MaxSharePayloadBytes rejects oversized share payloads (default 256 KiB).
	MaxSharePayloadBytes int
	// ShareTTL is the default lifetime of a published conversation.
	ShareTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = 5
	}
	if c.ShareBaseURL == "" {
		c.ShareBaseURL = "/shared"
	}
	if c.MaxSharePayloadBytes <= 0 {
		c.MaxSharePayloadBytes = 256 * 1024
	}
	if c.ShareTTL <= 0 {
		c.ShareTTL = 24 * time.Hour
	}
}

// TurnResult is the outcome of one completed user turn.
type TurnResult struct {
	UserMessageID      int64
	AssistantMessageID int64
	Text               string
	ToolBlocks         []string
	StopReason         providers.StopReason
	Usage              providers.Usage
	Explanation        string
}

// Service wires the gateway components behind the chat API.
type Service struct {
	provider providers.Provider
	engine   *contextengine.Engine
	registry *tools.Registry
	guard    *safety.Pipeline
	shares   *sharecache.Cache
	store    storage.ConversationStore

	cfg     Config
	logger  *observability.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	handlers map[string]ToolHandler
	topics   map[string]int64 // chat id -> persisted topic id
}

// New creates the service. store and metrics may be nil; without a store
// turns are kept in memory only.
func New(provider providers.Provider, engine *contextengine.Engine, registry *tools.Registry,
	guard *safety.Pipeline, shares *sharecache.Cache, store storage.ConversationStore,
	cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Service {
	cfg.applyDefaults()
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		provider: provider,
		engine:   engine,
		registry: registry,
		guard:    guard,
		shares:   shares,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		handlers: make(map[string]ToolHandler),
		topics:   make(map[string]int64),
	}
}

// RegisterTool registers a tool schema together with its handler. The
// schema is validated once here; calls against it are validated per turn.
func (s *Service) RegisterTool(schema models.ToolSchema, handler ToolHandler) error {
	if handler == nil {
		return fmt.Errorf("tool %s: handler is required", schema.Name)
	}
	if err := s.registry.Register(schema); err != nil {
		return err
	}
	s.mu.Lock()
	s.handlers[schema.Name] = handler
	s.mu.Unlock()
	return nil
}

// NewChat creates a conversation and, when a store is configured, its
// persisted topic.
func (s *Service) NewChat(ctx context.Context, ownerID, title string) (string, error) {
	conv, err := s.engine.CreateConversation("", ownerID, title)
	if err != nil {
		return "", err
	}
	if s.store != nil {
		topic, err := s.store.CreateTopic(ctx, title)
		if err != nil {
			s.countError("storage", "create_topic")
			s.logger.Warn(ctx, "failed to persist topic", "chat_id", conv.ChatID, "error", err)
		} else {
			s.mu.Lock()
			s.topics[conv.ChatID] = topic.ID
			s.mu.Unlock()
		}
	}
	return conv.ChatID, nil
}

// DeleteChat removes a conversation, its vectors, and its persisted topic.
func (s *Service) DeleteChat(ctx context.Context, chatID string) error {
	if err := s.engine.DeleteConversation(ctx, chatID); err != nil {
		return err
	}
	s.mu.Lock()
	topicID, hasTopic := s.topics[chatID]
	delete(s.topics, chatID)
	s.mu.Unlock()
	if s.store != nil && hasTopic {
		if err := s.store.DeleteTopic(ctx, topicID); err != nil {
			s.countError("storage", "delete_topic")
			return fmt.Errorf("failed to delete topic: %w", err)
		}
	}
	return nil
}

// SendMessage runs one complete user turn: sanitize and validate the input,
// assemble the optimized context, complete against the provider (executing
// tool calls as they come back, bounded by MaxToolIterations), validate the
// response, then record both turns.
func (s *Service) SendMessage(ctx context.Context, chatID, text string) (*TurnResult, error) {
	userMsg, req, err := s.prepareTurn(ctx, chatID, text)
	if err != nil {
		return nil, err
	}

	result := &TurnResult{UserMessageID: userMsg.ID, Explanation: req.explanation}

	resp, err := s.generate(ctx, req.request)
	if err != nil {
		return nil, err
	}

	history := req.request.Messages
	for iter := 0; resp.StopReason == providers.StopToolUse && len(resp.ToolCalls) > 0; iter++ {
		if iter >= s.cfg.MaxToolIterations {
			s.logger.Warn(ctx, "tool iteration limit reached", "chat_id", chatID)
			break
		}
		for _, call := range resp.ToolCalls {
			toolRes, block := s.runTool(ctx, call)
			result.ToolBlocks = append(result.ToolBlocks, block)
			history = s.provider.AddToolResults(history, call, []models.ToolResult{toolRes})
		}
		req.request.Messages = history
		resp, err = s.generate(ctx, req.request)
		if err != nil {
			return nil, err
		}
	}

	asstMsg, err := s.finishTurn(ctx, chatID, userMsg, resp.Text)
	if err != nil {
		return nil, err
	}

	result.AssistantMessageID = asstMsg.ID
	result.Text = resp.Text
	result.StopReason = resp.StopReason
	result.Usage = resp.Usage
	return result, nil
}

// StreamMessage is SendMessage with incremental delivery: every chunk from
// the provider is forwarded to emit in order. Tool rounds restart the
// stream; the assembled text still passes response safety before the turn
// is recorded, so a rejected response errors after its chunks were emitted.
func (s *Service) StreamMessage(ctx context.Context, chatID, text string, emit func(providers.Chunk)) (*TurnResult, error) {
	userMsg, req, err := s.prepareTurn(ctx, chatID, text)
	if err != nil {
		return nil, err
	}

	result := &TurnResult{UserMessageID: userMsg.ID, Explanation: req.explanation}
	history := req.request.Messages

	var full strings.Builder
	for iter := 0; ; iter++ {
		start := time.Now()
		ch, err := s.provider.Stream(ctx, req.request)
		if err != nil {
			s.recordLLM(req.request.Model, start, nil, err)
			return nil, err
		}

		var calls []models.ToolCall
		var stop providers.StopReason
		var usage providers.Usage
		for chunk := range ch {
			switch chunk.Type {
			case providers.ChunkText:
				full.WriteString(chunk.Text)
				emit(chunk)
			case providers.ChunkToolCall:
				if chunk.ToolCall != nil {
					calls = append(calls, *chunk.ToolCall)
				}
				emit(chunk)
			case providers.ChunkDone:
				stop = chunk.StopReason
				if chunk.Usage != nil {
					usage = *chunk.Usage
				}
			case providers.ChunkError:
				s.recordLLM(req.request.Model, start, nil, chunk.Err)
				emit(chunk)
				return nil, chunk.Err
			}
		}
		s.recordLLM(req.request.Model, start, &usage, nil)
		result.StopReason = stop
		result.Usage.InputTokens += usage.InputTokens
		result.Usage.OutputTokens += usage.OutputTokens

		if stop != providers.StopToolUse || len(calls) == 0 {
			break
		}
		if iter >= s.cfg.MaxToolIterations {
			s.logger.Warn(ctx, "tool iteration limit reached", "chat_id", chatID)
			break
		}
		for _, call := range calls {
			toolRes, block := s.runTool(ctx, call)
			result.ToolBlocks = append(result.ToolBlocks, block)
			history = s.provider.AddToolResults(history, call, []models.ToolResult{toolRes})
		}
		req.request.Messages = history
	}

	asstMsg, err := s.finishTurn(ctx, chatID, userMsg, full.String())
	if err != nil {
		return nil, err
	}
	result.AssistantMessageID = asstMsg.ID
	result.Text = full.String()
	emit(providers.Chunk{Type: providers.ChunkDone, StopReason: result.StopReason})
	return result, nil
}

// preparedTurn carries the provider request plus the context explanation.
type preparedTurn struct {
	request     providers.Request
	explanation string
}

func (s *Service) prepareTurn(ctx context.Context, chatID, text string) (*models.Message, preparedTurn, error) {
	clean := safety.SanitizeContent(text)
	if err := s.guard.ValidateContent(ctx, clean); err != nil {
		return nil, preparedTurn{}, err
	}

	userMsg, err := s.engine.AddMessage(ctx, chatID, &models.Message{
		Role:    models.RoleUser,
		Content: clean,
	})
	if err != nil {
		return nil, preparedTurn{}, err
	}

	window, err := s.engine.GetOptimizedContext(ctx, chatID, clean)
	if err != nil {
		return nil, preparedTurn{}, err
	}

	return userMsg, preparedTurn{
		request:     s.buildRequest(window),
		explanation: window.Explanation,
	}, nil
}

// finishTurn validates the assistant text, records it in the engine, and
// persists both turns when a store is configured.
func (s *Service) finishTurn(ctx context.Context, chatID string, userMsg *models.Message, text string) (*models.Message, error) {
	if err := s.guard.ValidateResponse(ctx, text, s.cfg.Locale); err != nil {
		return nil, err
	}

	asstMsg, err := s.engine.AddMessage(ctx, chatID, &models.Message{
		Role:    models.RoleAssistant,
		Content: text,
	})
	if err != nil {
		return nil, err
	}

	s.persistTurn(ctx, chatID, userMsg, asstMsg)
	return asstMsg, nil
}

func (s *Service) persistTurn(ctx context.Context, chatID string, msgs ...*models.Message) {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	topicID, ok := s.topics[chatID]
	s.mu.Unlock()
	if !ok {
		return
	}
	for _, m := range msgs {
		stored := &storage.StoredMessage{
			TopicID:   topicID,
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp,
		}
		// SQLite write contention is transient; retry before giving up.
		err := backoff.RetrySimple(ctx, 3, func() error {
			_, err := s.store.SaveMessage(ctx, stored)
			return err
		})
		if err != nil {
			s.countError("storage", "save_message")
			s.logger.Warn(ctx, "failed to persist message", "chat_id", chatID, "message_id", m.ID, "error", err)
		}
	}
}

// buildRequest turns a context window into a provider request. Summaries
// and key facts become system preamble; selected history precedes the
// recent window in chronological order.
func (s *Service) buildRequest(window *models.ContextWindow) providers.Request {
	var sys strings.Builder
	if s.cfg.System != "" {
		sys.WriteString(s.cfg.System)
		sys.WriteString("\n\n")
	}
	if len(window.KeyFacts) > 0 {
		sys.WriteString("Known facts about this conversation:\n")
		for _, f := range window.KeyFacts {
			fmt.Fprintf(&sys, "- [%s] %s\n", f.Kind, f.Text)
		}
		sys.WriteString("\n")
	}
	for _, sum := range window.Summaries {
		sys.WriteString(sum.Text)
		sys.WriteString("\n")
	}

	selected := make([]models.ScoredMessage, len(window.Selected))
	copy(selected, window.Selected)
	sort.Slice(selected, func(i, j int) bool {
		return selected[i].Message.ID < selected[j].Message.ID
	})

	msgs := make([]models.Message, 0, len(selected)+len(window.Recent))
	for _, sm := range selected {
		msgs = append(msgs, *sm.Message)
	}
	for _, m := range window.Recent {
		msgs = append(msgs, *m)
	}

	return providers.Request{
		Model:       s.cfg.Model,
		System:      strings.TrimSpace(sys.String()),
		Messages:    msgs,
		Tools:       s.registry.List(),
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	}
}

// generateAttempts bounds the provider retry loop per request.
const generateAttempts = 2

// generate calls the provider through the shared retry loop, giving
// retryable failures one extra attempt. A rate-limit hint from the backend
// is waited out on top of the policy delay before the retry fires.
func (s *Service) generate(ctx context.Context, req providers.Request) (*providers.Response, error) {
	start := time.Now()
	var lastErr error
	res, err := backoff.Retry(ctx, backoff.QuickPolicy(), generateAttempts, providers.IsRetryable,
		func(attempt int) (*providers.Response, error) {
			if attempt > 1 {
				if hint, ok := providers.RetryAfterHint(lastErr); ok {
					if serr := backoff.Sleep(ctx, hint); serr != nil {
						return nil, serr
					}
				}
			}
			resp, err := s.provider.Generate(ctx, req)
			lastErr = err
			return resp, err
		})
	if err != nil {
		s.recordLLM(req.Model, start, nil, err)
		s.countError("provider", string(providers.KindOf(err)))
		return nil, err
	}
	s.recordLLM(req.Model, start, &res.Value.Usage, nil)
	return res.Value, nil
}

// runTool validates, executes, and formats one tool call. Failures become
// error results handed back to the model, never turn failures.
func (s *Service) runTool(ctx context.Context, call models.ToolCall) (models.ToolResult, string) {
	start := time.Now()
	res := models.ToolResult{ToolCallID: call.ID}
	displayArgs := call.Input

	args, err := s.registry.ApplyDefaults(call.Name, call.Input)
	if err == nil {
		displayArgs = args
		s.mu.Lock()
		handler := s.handlers[call.Name]
		s.mu.Unlock()
		if handler == nil {
			err = fmt.Errorf("tool %s has no handler", call.Name)
		} else {
			res.Content, err = handler(ctx, args)
		}
	}

	status := "success"
	if err != nil {
		status = "error"
		res.Content = err.Error()
		res.IsError = true
		s.countError("tools", "execution")
	}
	if s.metrics != nil {
		s.metrics.ToolExecutionCounter.WithLabelValues(call.Name, status).Inc()
		s.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	}

	block := tools.DisplayBlock{
		Name:    call.Name,
		Args:    displayArgs,
		Result:  res.Content,
		IsError: res.IsError,
	}
	return res, block.Format()
}

func (s *Service) recordLLM(model string, start time.Time, usage *providers.Usage, err error) {
	if s.metrics == nil {
		return
	}
	provider := s.provider.Name()
	if model == "" {
		model = s.provider.DefaultConfig().Model
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.LLMRequestDuration.WithLabelValues(provider, model).Observe(time.Since(start).Seconds())
	s.metrics.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	if usage != nil {
		s.metrics.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(usage.InputTokens))
		s.metrics.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(usage.OutputTokens))
	}
}

func (s *Service) countError(component, kind string) {
	if s.metrics != nil {
		s.metrics.ErrorCounter.WithLabelValues(component, kind).Inc()
	}
}
