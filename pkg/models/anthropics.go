package models

import (
	"context"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
	"github.com/Protocol-Lattice/chat-agent/pkg/tools"
)

// AnthropicProvider uses the Messages API. System turns become the system
// parameter and tool results are folded into user turns.
type AnthropicProvider struct {
	Client   *anthropic.Client
	Model    string
	Settings Settings
}

// NewAnthropic builds a provider. An empty apiKey falls back to
// ANTHROPIC_API_KEY.
func NewAnthropic(apiKey, baseURL, model string, s Settings) *AnthropicProvider {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	opts := []anthropicopt.RequestOption{anthropicopt.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, anthropicopt.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "claude-3-sonnet-20240229"
	}
	cl := anthropic.NewClient(opts...)
	return &AnthropicProvider{Client: &cl, Model: model, Settings: s.normalized()}
}

func (a *AnthropicProvider) Name() string         { return "anthropic" }
func (a *AnthropicProvider) DefaultModel() string { return a.Model }

func (a *AnthropicProvider) Complete(ctx context.Context, req Request) (Completion, error) {
	model := req.Model
	if model == "" {
		model = a.Model
	}
	ctx, cancel := a.Settings.withTimeout(ctx)
	defer cancel()

	system, messages := anthropicMessages(WithSystemPrompt(req.History, a.Settings.AgentName))
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(a.Settings.MaxTokens),
		Messages:    messages,
		System:      system,
		Temperature: anthropic.Float(a.Settings.Temperature),
	}
	schemas := req.Tools
	if len(schemas) == 0 {
		// tool_use and tool_result blocks are rejected unless tools are defined.
		schemas = historyTools(req.History)
	}
	if len(schemas) > 0 {
		params.Tools = anthropicTools(schemas)
	}

	msg, err := a.Client.Messages.New(ctx, params)
	if err != nil {
		return Completion{}, &ProviderError{Provider: a.Name(), Model: model, Err: err}
	}

	out := fromAnthropicMessage(msg)
	out.Model = model
	return out, nil
}

func fromAnthropicMessage(msg *anthropic.Message) Completion {
	var (
		out   Completion
		texts []string
	)
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			texts = append(texts, block.AsText().Text)
		case "tool_use":
			tu := block.AsToolUse()
			out.Calls = append(out.Calls, CallRequest{
				ID:        tu.ID,
				Name:      tu.Name,
				Arguments: decodeArguments(string(tu.Input)),
			})
		}
	}
	out.Text = strings.Join(texts, "\n")
	return out
}

// anthropicMessages splits off system turns and merges consecutive turns of
// the same role, which the API requires to alternate.
func anthropicMessages(history []conversation.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var (
		system []anthropic.TextBlockParam
		out    []anthropic.MessageParam
	)
	push := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, m := range history {
		switch m.Role {
		case conversation.RoleSystem:
			if m.Content != "" {
				system = append(system, anthropic.TextBlockParam{Text: m.Content})
			}
		case conversation.RoleUser:
			if m.Content != "" {
				push(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(m.Content))
			}
		case conversation.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input := tc.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{ID: tc.ID, Name: tc.Name, Input: input},
				})
			}
			push(anthropic.MessageParamRoleAssistant, blocks...)
		case conversation.RoleTool:
			_, failed := toolOutcome(m.Content)
			push(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, failed))
		}
	}
	return system, out
}

func anthropicTools(schemas []tools.FunctionSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        s.Name,
				Description: anthropic.String(s.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: s.Properties(),
					Required:   s.RequiredNames(),
				},
			},
		})
	}
	return out
}

// historyTools declares the tools named by earlier tool calls, with an open
// input schema, for requests that carry no catalogue of their own.
func historyTools(history []conversation.Message) []tools.FunctionSchema {
	var (
		out  []tools.FunctionSchema
		seen = map[string]bool{}
	)
	for _, m := range history {
		for _, tc := range m.ToolCalls {
			if tc.Name == "" || seen[tc.Name] {
				continue
			}
			seen[tc.Name] = true
			out = append(out, tools.FunctionSchema{Name: tc.Name, Description: "Tool used earlier in this conversation."})
		}
	}
	return out
}
