// Package models adapts LLM vendors to a single Provider contract.
package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
	"github.com/Protocol-Lattice/chat-agent/pkg/tools"
)

const (
	DefaultMaxTokens   = 4096
	DefaultTemperature = 0.7
	DefaultAgentName   = "AI Assistant"
)

// ErrNoProvider is returned when no provider is configured for a request.
var ErrNoProvider = errors.New("no model provider available")

// Request is one completion round-trip.
type Request struct {
	Model   string
	History []conversation.Message
	Tools   []tools.FunctionSchema
}

// CallRequest is a tool invocation requested by the model.
type CallRequest struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Completion is either a final answer or a request to run tools first.
type Completion struct {
	Text  string
	Calls []CallRequest
	Model string
}

// IsToolRequest reports whether the model asked for tools.
func (c Completion) IsToolRequest() bool { return len(c.Calls) > 0 }

// Provider wraps one LLM vendor.
type Provider interface {
	Name() string
	DefaultModel() string
	Complete(ctx context.Context, req Request) (Completion, error)
}

// ProviderError marks a transport or API failure of a provider. It is never
// retried.
type ProviderError struct {
	Provider string
	Model    string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Provider, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Settings are the generation parameters shared by every adapter.
type Settings struct {
	AgentName   string
	MaxTokens   int
	Temperature float64
	// Timeout bounds a single Complete call. Zero means no limit beyond ctx.
	Timeout time.Duration
}

// DefaultSettings returns the stock generation parameters.
func DefaultSettings() Settings {
	return Settings{
		AgentName:   DefaultAgentName,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
}

func (s Settings) normalized() Settings {
	if s.AgentName == "" {
		s.AgentName = DefaultAgentName
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = DefaultMaxTokens
	}
	if s.Temperature < 0 {
		s.Temperature = DefaultTemperature
	}
	return s
}

func (s Settings) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout > 0 {
		return context.WithTimeout(ctx, s.Timeout)
	}
	return context.WithCancel(ctx)
}

// SystemPrompt is the identity turn injected when a history has none.
func SystemPrompt(agentName string) string {
	if agentName == "" {
		agentName = DefaultAgentName
	}
	return "You are " + agentName + ", a helpful AI assistant with access to various tools. " +
		"Use tools when necessary to help users with their requests."
}

// WithSystemPrompt prepends the default system turn unless history already
// starts with, or contains, a system message.
func WithSystemPrompt(history []conversation.Message, agentName string) []conversation.Message {
	for _, m := range history {
		if m.Role == conversation.RoleSystem {
			return history
		}
	}
	out := make([]conversation.Message, 0, len(history)+1)
	out = append(out, conversation.Message{Role: conversation.RoleSystem, Content: SystemPrompt(agentName)})
	return append(out, history...)
}

// decodeArguments parses a JSON argument string. Malformed input yields an
// empty map so that registry validation reports the missing parameters.
func decodeArguments(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

func encodeArguments(args map[string]any) string {
	if args == nil {
		return "{}"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// toolOutcome decodes the serialised tools.Result carried by a tool message.
func toolOutcome(content string) (map[string]any, bool) {
	var out map[string]any
	if err := json.Unmarshal([]byte(content), &out); err != nil || out == nil {
		return map[string]any{"success": true, "data": content}, false
	}
	failed := false
	if ok, isBool := out["success"].(bool); isBool && !ok {
		failed = true
	}
	return out, failed
}
