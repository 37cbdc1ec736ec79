package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	genai "github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
	"github.com/Protocol-Lattice/chat-agent/pkg/tools"
)

// GeminiProvider uses the Gemini chat API. System turns become the system
// instruction, tool results are sent back as function responses in user
// turns and call ids, which Gemini does not issue, are generated.
type GeminiProvider struct {
	Client   *genai.Client
	Model    string
	Settings Settings
}

// NewGemini builds a provider. An empty apiKey falls back to GOOGLE_API_KEY
// and then GEMINI_API_KEY.
func NewGemini(ctx context.Context, apiKey, model string, s Settings) (*GeminiProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("missing GOOGLE_API_KEY or GEMINI_API_KEY")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini init: %w", err)
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiProvider{Client: client, Model: model, Settings: s.normalized()}, nil
}

func (g *GeminiProvider) Name() string         { return "gemini" }
func (g *GeminiProvider) DefaultModel() string { return g.Model }

func (g *GeminiProvider) Complete(ctx context.Context, req Request) (Completion, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = g.Model
	}
	ctx, cancel := g.Settings.withTimeout(ctx)
	defer cancel()

	system, contents := geminiContents(WithSystemPrompt(req.History, g.Settings.AgentName))
	if len(contents) == 0 {
		return Completion{}, &ProviderError{Provider: g.Name(), Model: modelName, Err: errors.New("empty history")}
	}

	model := g.Client.GenerativeModel(modelName)
	model.SetTemperature(float32(g.Settings.Temperature))
	model.SetMaxOutputTokens(int32(g.Settings.MaxTokens))
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if len(req.Tools) > 0 {
		model.Tools = geminiTools(req.Tools)
	}

	cs := model.StartChat()
	cs.History = contents[:len(contents)-1]
	last := contents[len(contents)-1]
	resp, err := cs.SendMessage(ctx, last.Parts...)
	if err != nil {
		return Completion{}, &ProviderError{Provider: g.Name(), Model: modelName, Err: fmt.Errorf("gemini generate: %w", err)}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Completion{}, &ProviderError{Provider: g.Name(), Model: modelName, Err: errors.New("gemini: empty response")}
	}

	out := fromGeminiContent(resp.Candidates[0].Content)
	out.Model = modelName
	return out, nil
}

func fromGeminiContent(content *genai.Content) Completion {
	var (
		out   Completion
		texts []string
	)
	for _, part := range content.Parts {
		switch p := part.(type) {
		case genai.Text:
			texts = append(texts, string(p))
		case genai.FunctionCall:
			args := p.Args
			if args == nil {
				args = map[string]any{}
			}
			out.Calls = append(out.Calls, CallRequest{ID: "call_" + uuid.NewString(), Name: p.Name, Arguments: args})
		}
	}
	out.Text = strings.Join(texts, "")
	return out
}

// geminiContents returns the joined system text and the remaining turns with
// consecutive same-role turns merged.
func geminiContents(history []conversation.Message) (string, []*genai.Content) {
	var (
		system []string
		out    []*genai.Content
	)
	push := func(role string, parts ...genai.Part) {
		if len(parts) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, parts...)
			return
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}

	for _, m := range history {
		switch m.Role {
		case conversation.RoleSystem:
			if m.Content != "" {
				system = append(system, m.Content)
			}
		case conversation.RoleUser:
			if m.Content != "" {
				push("user", genai.Text(m.Content))
			}
		case conversation.RoleAssistant:
			var parts []genai.Part
			if m.Content != "" {
				parts = append(parts, genai.Text(m.Content))
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: tc.Arguments})
			}
			push("model", parts...)
		case conversation.RoleTool:
			response, _ := toolOutcome(m.Content)
			push("user", genai.FunctionResponse{Name: m.ToolName, Response: response})
		}
	}
	return strings.Join(system, "\n\n"), out
}

func geminiTools(schemas []tools.FunctionSchema) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(schemas))
	for _, s := range schemas {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  geminiSchema(s),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func geminiSchema(s tools.FunctionSchema) *genai.Schema {
	props := s.Properties()
	out := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(props)),
		Required:   s.RequiredNames(),
	}
	for name, raw := range props {
		prop, _ := raw.(map[string]any)
		out.Properties[name] = geminiProperty(prop)
	}
	return out
}

func geminiProperty(prop map[string]any) *genai.Schema {
	typ, _ := prop["type"].(string)
	desc, _ := prop["description"].(string)
	out := &genai.Schema{Type: geminiType(typ), Description: desc}
	if enum, ok := prop["enum"].([]string); ok {
		out.Enum = enum
	}
	if out.Type == genai.TypeArray {
		items, _ := prop["items"].(map[string]any)
		itemType, _ := items["type"].(string)
		out.Items = &genai.Schema{Type: geminiType(itemType)}
	}
	return out
}

func geminiType(t string) genai.Type {
	switch t {
	case tools.TypeNumber:
		return genai.TypeNumber
	case tools.TypeInteger:
		return genai.TypeInteger
	case tools.TypeBoolean:
		return genai.TypeBoolean
	case tools.TypeArray:
		return genai.TypeArray
	case tools.TypeObject:
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}
