package models

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/google/uuid"
	ollama "github.com/ollama/ollama/api"

	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
	"github.com/Protocol-Lattice/chat-agent/pkg/tools"
)

// OllamaProvider talks to a local Ollama server. Ollama supports the tool
// role but does not issue call ids, so ids are generated.
type OllamaProvider struct {
	Client   *ollama.Client
	Model    string
	Settings Settings
}

// NewOllama builds a provider. An empty host falls back to OLLAMA_HOST and
// then http://localhost:11434.
func NewOllama(host, model string, s Settings) (*OllamaProvider, error) {
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid OLLAMA_HOST %q: %w", host, err)
	}
	if model == "" {
		model = "llama3.1"
	}
	s = s.normalized()
	c := ollama.NewClient(u, &http.Client{})
	return &OllamaProvider{Client: c, Model: model, Settings: s}, nil
}

func (o *OllamaProvider) Name() string         { return "ollama" }
func (o *OllamaProvider) DefaultModel() string { return o.Model }

func (o *OllamaProvider) Complete(ctx context.Context, req Request) (Completion, error) {
	model := req.Model
	if model == "" {
		model = o.Model
	}
	ctx, cancel := o.Settings.withTimeout(ctx)
	defer cancel()

	msgs, err := ollamaMessages(WithSystemPrompt(req.History, o.Settings.AgentName))
	if err != nil {
		return Completion{}, &ProviderError{Provider: o.Name(), Model: model, Err: err}
	}
	toolDefs, err := ollamaTools(req.Tools)
	if err != nil {
		return Completion{}, &ProviderError{Provider: o.Name(), Model: model, Err: err}
	}

	stream := false
	chatReq := &ollama.ChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   &stream,
		Tools:    toolDefs,
		Options: map[string]any{
			"temperature": o.Settings.Temperature,
			"num_predict": o.Settings.MaxTokens,
		},
	}

	var last ollama.ChatResponse
	if err := o.Client.Chat(ctx, chatReq, func(cr ollama.ChatResponse) error {
		last = cr
		return nil
	}); err != nil {
		return Completion{}, &ProviderError{Provider: o.Name(), Model: model, Err: err}
	}

	out, err := fromOllamaMessage(last.Message)
	if err != nil {
		return Completion{}, &ProviderError{Provider: o.Name(), Model: model, Err: err}
	}
	out.Model = model
	return out, nil
}

// The wire types below mirror Ollama's JSON so conversion does not depend on
// how the api package names its Go fields.
type ollamaWireCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaWireMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaWireCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

func ollamaMessages(history []conversation.Message) ([]ollama.Message, error) {
	wire := make([]ollamaWireMessage, 0, len(history))
	for _, m := range history {
		w := ollamaWireMessage{Role: string(m.Role), Content: m.Content}
		if m.Role == conversation.RoleTool {
			w.ToolName = m.ToolName
		}
		for _, tc := range m.ToolCalls {
			var call ollamaWireCall
			call.Function.Name = tc.Name
			call.Function.Arguments = tc.Arguments
			if call.Function.Arguments == nil {
				call.Function.Arguments = map[string]any{}
			}
			w.ToolCalls = append(w.ToolCalls, call)
		}
		wire = append(wire, w)
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	var out []ollama.Message
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return out, nil
}

func ollamaTools(schemas []tools.FunctionSchema) (ollama.Tools, error) {
	if len(schemas) == 0 {
		return nil, nil
	}
	defs := make([]map[string]any, 0, len(schemas))
	for _, s := range schemas {
		defs = append(defs, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        s.Name,
				"description": s.Description,
				"parameters":  s.Parameters,
			},
		})
	}
	raw, err := json.Marshal(defs)
	if err != nil {
		return nil, fmt.Errorf("encode tools: %w", err)
	}
	var out ollama.Tools
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode tools: %w", err)
	}
	return out, nil
}

func fromOllamaMessage(msg ollama.Message) (Completion, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return Completion{}, fmt.Errorf("encode response: %w", err)
	}
	var wire ollamaWireMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Completion{}, fmt.Errorf("decode response: %w", err)
	}
	out := Completion{Text: wire.Content}
	for _, tc := range wire.ToolCalls {
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		out.Calls = append(out.Calls, CallRequest{ID: "call_" + uuid.NewString(), Name: tc.Function.Name, Arguments: args})
	}
	return out, nil
}
