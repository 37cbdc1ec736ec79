// Package agent runs conversational turns: it persists the user message,
// asks a model provider for a completion, resolves at most one round of tool
// calls through the tool registry and persists the final answer.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Protocol-Lattice/chat-agent/internal/logging"
	"github.com/Protocol-Lattice/chat-agent/internal/metrics"
	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
	"github.com/Protocol-Lattice/chat-agent/pkg/models"
	"github.com/Protocol-Lattice/chat-agent/pkg/tools"
)

// ErrEmptyMessage is returned when SendMessage receives blank text.
var ErrEmptyMessage = errors.New("message is empty")

const defaultToolConcurrency = 4

// Agent orchestrates model calls, conversation storage and tools.
type Agent struct {
	store    *conversation.Store
	registry *tools.Registry
	router   *models.Router
	logger   *slog.Logger
	metrics  *metrics.Recorder
	// turns serializes SendMessage per conversation. It is separate from
	// the store's lock so tools never run while a store lock is held.
	turns *conversation.Locker

	toolConcurrency int
}

// Options configure a new Agent.
type Options struct {
	Store    *conversation.Store
	Registry *tools.Registry
	Router   *models.Router
	Logger   *slog.Logger
	// Metrics may be nil.
	Metrics *metrics.Recorder
	// ToolConcurrency bounds how many tool calls of one turn run at once.
	// 1 runs them sequentially. Results keep the requested order either way.
	ToolConcurrency int
}

// New creates an Agent with the provided options.
func New(opts Options) (*Agent, error) {
	if opts.Store == nil {
		return nil, errors.New("agent requires a conversation store")
	}
	if opts.Router == nil {
		return nil, errors.New("agent requires a model router")
	}
	registry := opts.Registry
	if registry == nil {
		registry = tools.NewRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	concurrency := opts.ToolConcurrency
	if concurrency <= 0 {
		concurrency = defaultToolConcurrency
	}
	return &Agent{
		store:           opts.Store,
		registry:        registry,
		router:          opts.Router,
		logger:          logger,
		metrics:         opts.Metrics,
		turns:           conversation.NewLocker(nil, logger),
		toolConcurrency: concurrency,
	}, nil
}

// TurnResult summarises one SendMessage call.
type TurnResult struct {
	ConversationID string                  `json:"conversation_id"`
	Text           string                  `json:"response"`
	ToolCalls      []conversation.ToolCall `json:"tool_calls"`
	Model          string                  `json:"model"`
	// Degraded is set when the turn completed but could not be stored
	// durably; the error returned with it wraps conversation.ErrStorage.
	Degraded bool `json:"degraded,omitempty"`
}

// turn carries the per-call state of SendMessage.
type turn struct {
	a          *Agent
	id         string
	storageErr error
}

// keep swallows storage failures, which leave the conversation usable from
// memory, and remembers the first one so the caller still sees it.
func (t *turn) keep(err error) error {
	if err == nil || !errors.Is(err, conversation.ErrStorage) {
		return err
	}
	t.a.metrics.StorageFailure()
	t.a.logger.Warn("conversation store degraded", "conversation_id", t.id, "error", err)
	if t.storageErr == nil {
		t.storageErr = err
	}
	return nil
}

func (t *turn) append(ctx context.Context, msg conversation.Message) error {
	_, err := t.a.store.Append(ctx, t.id, msg)
	return t.keep(err)
}

// SendMessage runs one turn. An empty conversationID starts a new
// conversation; an empty model uses the router's default.
//
// Turns on the same conversation run one at a time, from the user message to
// the final answer. Turns on different conversations run in parallel.
//
// At most one round of tools is executed: if the completion that follows the
// tool results asks for tools again, its text is returned as the answer
// without running them.
//
// A provider failure aborts the turn with a *models.ProviderError and the
// user message stays stored. When the durable store fails the turn still
// completes from memory and the returned error wraps conversation.ErrStorage
// alongside a complete TurnResult.
func (a *Agent) SendMessage(ctx context.Context, conversationID, text, model string) (TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return TurnResult{}, ErrEmptyMessage
	}

	start := time.Now()
	outcome := "error"
	defer func() { a.metrics.Turn(outcome, time.Since(start)) }()

	t := &turn{a: a, id: conversationID}
	if t.id == "" {
		conv, err := a.store.Create(ctx, "")
		t.id = conv.ID
		if err := t.keep(err); err != nil {
			return TurnResult{}, err
		}
	}
	result := TurnResult{ConversationID: t.id, ToolCalls: []conversation.ToolCall{}}

	err := a.turns.WithLock(ctx, t.id, func(ctx context.Context) error {
		var err error
		outcome, err = t.run(ctx, &result, text, model)
		return err
	})
	if err != nil {
		return result, err
	}
	result.Degraded = t.storageErr != nil
	return result, t.storageErr
}

// run executes the turn body while the conversation's turn lock is held.
func (t *turn) run(ctx context.Context, result *TurnResult, text, model string) (string, error) {
	a := t.a
	if err := t.append(ctx, conversation.Message{Role: conversation.RoleUser, Content: text}); err != nil {
		return "error", err
	}

	provider, modelID, err := a.router.Route(model)
	if err != nil {
		return "error", err
	}
	result.Model = modelID
	catalog := tools.Catalog(a.registry)

	history, err := a.store.Read(ctx, t.id)
	if err != nil {
		return "error", err
	}
	first, err := a.complete(ctx, provider, models.Request{
		Model:   modelID,
		History: history,
		Tools:   catalog,
	})
	if err != nil {
		return "error", err
	}
	if first.Model != "" {
		result.Model = first.Model
	}

	if !first.IsToolRequest() {
		if err := t.append(ctx, conversation.Message{Role: conversation.RoleAssistant, Content: first.Text}); err != nil {
			return "error", err
		}
		result.Text = first.Text
		return "answer", nil
	}

	calls := a.executeCalls(ctx, first.Calls)
	if err := t.append(ctx, conversation.Message{
		Role:      conversation.RoleAssistant,
		Content:   first.Text,
		ToolCalls: calls,
	}); err != nil {
		return "error", err
	}
	for _, call := range calls {
		if err := t.append(ctx, toolMessage(call)); err != nil {
			return "error", err
		}
	}
	result.ToolCalls = calls

	history, err = a.store.Read(ctx, t.id)
	if err != nil {
		return "error", err
	}
	// The catalogue goes out again because providers such as Anthropic reject
	// tool results in a request that defines no tools. Any calls in the reply
	// are not executed.
	second, err := a.complete(ctx, provider, models.Request{
		Model:   modelID,
		History: history,
		Tools:   catalog,
	})
	if err != nil {
		return "error", err
	}
	if second.IsToolRequest() {
		a.logger.Debug("ignoring tool calls after tool round", "conversation_id", t.id, "calls", len(second.Calls))
	}
	if err := t.append(ctx, conversation.Message{Role: conversation.RoleAssistant, Content: second.Text}); err != nil {
		return "error", err
	}
	result.Text = second.Text
	return "tools", nil
}

// complete calls the provider and makes sure every failure surfaces as a
// *models.ProviderError.
func (a *Agent) complete(ctx context.Context, p models.Provider, req models.Request) (models.Completion, error) {
	start := time.Now()
	out, err := p.Complete(ctx, req)
	a.metrics.Provider(p.Name(), req.Model, err, time.Since(start))
	if err != nil {
		var pe *models.ProviderError
		if !errors.As(err, &pe) {
			err = &models.ProviderError{Provider: p.Name(), Model: req.Model, Err: err}
		}
		a.logger.Error("completion failed", "provider", p.Name(), "model", req.Model, "error", err)
		return models.Completion{}, err
	}
	a.logger.Debug("completion",
		"provider", p.Name(),
		"model", req.Model,
		"tool_calls", len(out.Calls),
		"duration", time.Since(start),
	)
	return out, nil
}

func toolMessage(call conversation.ToolCall) conversation.Message {
	content := tools.Fail("tool %s produced no result", call.Name).JSON()
	if call.Result != nil {
		content = call.Result.JSON()
	}
	return conversation.Message{
		Role:       conversation.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
}
