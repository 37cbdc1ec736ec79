package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	agent "github.com/Protocol-Lattice/chat-agent"
	"github.com/Protocol-Lattice/chat-agent/internal/config"
	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
	"github.com/Protocol-Lattice/chat-agent/pkg/conversation/store"
	"github.com/Protocol-Lattice/chat-agent/pkg/models"
	"github.com/Protocol-Lattice/chat-agent/pkg/tools"
)

func newTestREPL(t *testing.T, input string, steps ...models.ScriptStep) (*repl, *bytes.Buffer) {
	t.Helper()
	router := models.NewRouter("")
	router.Register(models.NewScripted("", "", steps...))
	a, err := agent.New(agent.Options{
		Store:    conversation.NewStore(store.NewMemory()),
		Registry: tools.NewRegistry(tools.NewCalculatorTool(), tools.NewStatisticsTool()),
		Router:   router,
	})
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}
	var out bytes.Buffer
	return newREPL(a, "Test Agent", strings.NewReader(input), &out), &out
}

func TestREPLSession(t *testing.T) {
	input := strings.Join([]string{
		"/help",
		"what is 2 + 3 * 4?",
		"/history",
		"/stats",
		"/bogus",
		"/quit",
		"never read",
	}, "\n")
	r, out := newTestREPL(t, input,
		models.Calls(models.CallRequest{ID: "c1", Name: "calculator", Arguments: map[string]any{"expression": "2 + 3 * 4"}}),
		models.Answer("The answer is 14."),
	)

	if err := r.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"/tool <name>",
		"Used 1 tool(s)",
		"[ok] calculator",
		"The answer is 14.",
		"Conversation history (4 messages)",
		"Total conversations: 1",
		"Unknown command: /bogus",
		"Goodbye!",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if r.conversationID == "" {
		t.Fatalf("expected the session to remember its conversation")
	}
}

func TestREPLNewConversation(t *testing.T) {
	r, out := newTestREPL(t, "/history\n/new\n/history\n")
	if err := r.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "No active conversation.") {
		t.Fatalf("expected no active conversation first:\n%s", got)
	}
	if !strings.Contains(got, "Started new conversation "+r.conversationID) {
		t.Fatalf("expected new conversation id in output:\n%s", got)
	}
	if !strings.Contains(got, "No messages in current conversation.") {
		t.Fatalf("expected empty history:\n%s", got)
	}
}

func TestREPLToolCommandPromptsForParameters(t *testing.T) {
	// statistics takes numbers (required) and calculations (optional, left empty).
	r, out := newTestREPL(t, "/tool statistics\n1, 2, 3, 4\n\n/tool nope\n")
	if err := r.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "Enter numbers") || !strings.Contains(got, "Tool executed successfully.") {
		t.Fatalf("unexpected output:\n%s", got)
	}
	if !strings.Contains(got, `"mean": 2.5`) {
		t.Fatalf("expected mean in output:\n%s", got)
	}
	if !strings.Contains(got, "Tool 'nope' not found.") {
		t.Fatalf("expected unknown tool message:\n%s", got)
	}
}

func TestREPLProviderFailureIsReported(t *testing.T) {
	r, out := newTestREPL(t, "hello\n")
	if err := r.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Error: ") {
		t.Fatalf("expected error line:\n%s", out.String())
	}
}

func TestParseValue(t *testing.T) {
	if v := parseValue(tools.TypeString, "42"); v != "42" {
		t.Fatalf("string kept as is, got %#v", v)
	}
	if v := parseValue(tools.TypeNumber, "42"); v != 42.0 {
		t.Fatalf("number decoded, got %#v", v)
	}
	v, ok := parseValue(tools.TypeArray, "1, 2, x").([]any)
	if !ok || len(v) != 3 || v[0] != 1.0 || v[2] != "x" {
		t.Fatalf("unexpected array %#v", v)
	}
}

func TestToolsRunCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "OLLAMA_HOST", "LOG_FILE", "UTCP_PROVIDERS", "REDIS_LOCK_URL"} {
		t.Setenv(key, "")
	}
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("LOG_LEVEL", "ERROR")
	t.Setenv("ENABLE_WEB_SEARCH", "false")
	t.Setenv("FILE_ROOT", t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"tools", "run", "calculator", `{"expression": "2 + 3 * 4"}`})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	var res tools.Result
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	data, _ := res.Data.(map[string]any)
	if !res.Success || data["result"] != 14.0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestProviderSettingsOverlayDefaults(t *testing.T) {
	got := providerSettings(config.AgentConfig{Temperature: models.DefaultTemperature})
	if got != models.DefaultSettings() {
		t.Fatalf("unset name and max tokens should keep defaults, got %+v", got)
	}
	if got := providerSettings(config.AgentConfig{}); got.Temperature != 0 {
		t.Fatalf("zero temperature is a valid setting, got %g", got.Temperature)
	}

	got = providerSettings(config.AgentConfig{
		Name:           "Helper",
		MaxTokens:      512,
		Temperature:    0.2,
		RequestTimeout: 3 * time.Second,
	})
	want := models.Settings{AgentName: "Helper", MaxTokens: 512, Temperature: 0.2, Timeout: 3 * time.Second}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
