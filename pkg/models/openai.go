package models

import (
	"context"
	"errors"
	"os"

	"github.com/sashabaranov/go-openai"

	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
	"github.com/Protocol-Lattice/chat-agent/pkg/tools"
)

// OpenAIProvider talks to the Chat Completions API. Tool results use the
// native tool role.
type OpenAIProvider struct {
	Client   *openai.Client
	Model    string
	Settings Settings
}

// NewOpenAI builds a provider. An empty apiKey falls back to OPENAI_API_KEY.
// baseURL may point at any OpenAI-compatible endpoint.
func NewOpenAI(apiKey, baseURL, model string, s Settings) *OpenAIProvider {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = "gpt-4"
	}
	return &OpenAIProvider{Client: openai.NewClientWithConfig(cfg), Model: model, Settings: s.normalized()}
}

func (o *OpenAIProvider) Name() string         { return "openai" }
func (o *OpenAIProvider) DefaultModel() string { return o.Model }

func (o *OpenAIProvider) Complete(ctx context.Context, req Request) (Completion, error) {
	model := req.Model
	if model == "" {
		model = o.Model
	}
	ctx, cancel := o.Settings.withTimeout(ctx)
	defer cancel()

	resp, err := o.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    openAIMessages(WithSystemPrompt(req.History, o.Settings.AgentName)),
		Tools:       openAITools(req.Tools),
		MaxTokens:   o.Settings.MaxTokens,
		Temperature: float32(o.Settings.Temperature),
	})
	if err != nil {
		return Completion{}, &ProviderError{Provider: o.Name(), Model: model, Err: err}
	}
	if len(resp.Choices) == 0 {
		return Completion{}, &ProviderError{Provider: o.Name(), Model: model, Err: errors.New("no response from OpenAI")}
	}

	msg := resp.Choices[0].Message
	out := Completion{Text: msg.Content, Model: model}
	for _, tc := range msg.ToolCalls {
		out.Calls = append(out.Calls, CallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: decodeArguments(tc.Function.Arguments),
		})
	}
	return out, nil
}

func openAIMessages(history []conversation.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case conversation.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		case conversation.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case conversation.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: encodeArguments(tc.Arguments),
					},
				})
			}
			out = append(out, msg)
		case conversation.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		}
	}
	return out
}

func openAITools(schemas []tools.FunctionSchema) []openai.Tool {
	if len(schemas) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		})
	}
	return out
}
