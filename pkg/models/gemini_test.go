package models

import (
	"strings"
	"testing"

	genai "github.com/google/generative-ai-go/genai"

	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
	"github.com/Protocol-Lattice/chat-agent/pkg/tools"
)

func TestGeminiContentsRoles(t *testing.T) {
	history := WithSystemPrompt([]conversation.Message{
		{Role: conversation.RoleUser, Content: "weather and time?"},
		{Role: conversation.RoleAssistant, Content: "checking", ToolCalls: []conversation.ToolCall{
			{ID: "call_1", Name: "get_current_time", Arguments: map[string]any{}},
			{ID: "call_2", Name: "foo"},
		}},
		{Role: conversation.RoleTool, Content: tools.OK("12:00").JSON(), ToolCallID: "call_1", ToolName: "get_current_time"},
		{Role: conversation.RoleTool, Content: tools.Fail("tool not found: foo").JSON(), ToolCallID: "call_2", ToolName: "foo"},
	}, "Gem")

	system, contents := geminiContents(history)
	if !strings.Contains(system, "You are Gem") {
		t.Fatalf("system instruction missing: %q", system)
	}
	if len(contents) != 3 {
		t.Fatalf("expected user/model/user, got %d contents", len(contents))
	}
	if contents[0].Role != "user" || contents[1].Role != "model" || contents[2].Role != "user" {
		t.Fatalf("unexpected roles %s %s %s", contents[0].Role, contents[1].Role, contents[2].Role)
	}
	if len(contents[1].Parts) != 3 {
		t.Fatalf("expected text plus two calls, got %d parts", len(contents[1].Parts))
	}
	if _, ok := contents[1].Parts[1].(genai.FunctionCall); !ok {
		t.Fatalf("expected function call part, got %T", contents[1].Parts[1])
	}

	responses := contents[2].Parts
	if len(responses) != 2 {
		t.Fatalf("expected two function responses, got %d", len(responses))
	}
	second, ok := responses[1].(genai.FunctionResponse)
	if !ok || second.Name != "foo" || second.Response["success"] != false {
		t.Fatalf("unexpected function response %#v", responses[1])
	}
}

func TestFromGeminiContentGeneratesIDs(t *testing.T) {
	out := fromGeminiContent(&genai.Content{Role: "model", Parts: []genai.Part{
		genai.Text("sure"),
		genai.FunctionCall{Name: "calculator", Args: map[string]any{"expression": "1+1"}},
		genai.FunctionCall{Name: "get_current_time"},
	}})
	if out.Text != "sure" || len(out.Calls) != 2 {
		t.Fatalf("unexpected completion %+v", out)
	}
	if out.Calls[0].ID == "" || out.Calls[0].ID == out.Calls[1].ID {
		t.Fatalf("call ids must be unique and non-empty: %q %q", out.Calls[0].ID, out.Calls[1].ID)
	}
	if out.Calls[1].Arguments == nil {
		t.Fatalf("nil args should become an empty map")
	}
}

func TestGeminiToolsSchema(t *testing.T) {
	schema := tools.Schema(tools.NewStatisticsTool().Descriptor())
	got := geminiTools([]tools.FunctionSchema{schema})
	if len(got) != 1 || len(got[0].FunctionDeclarations) != 1 {
		t.Fatalf("expected one declaration")
	}
	decl := got[0].FunctionDeclarations[0]
	if decl.Name != "statistics" || decl.Parameters.Type != genai.TypeObject {
		t.Fatalf("unexpected declaration %+v", decl)
	}
	numbers := decl.Parameters.Properties["numbers"]
	if numbers == nil || numbers.Type != genai.TypeArray || numbers.Items == nil || numbers.Items.Type != genai.TypeNumber {
		t.Fatalf("array items not mapped: %+v", numbers)
	}
	if len(decl.Parameters.Required) != 1 || decl.Parameters.Required[0] != "numbers" {
		t.Fatalf("unexpected required %v", decl.Parameters.Required)
	}
}
