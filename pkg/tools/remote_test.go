package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	utcptools "github.com/universal-tool-calling-protocol/go-utcp/src/tools"
)

type stubUTCPClient struct {
	tools    []utcptools.Tool
	lastName string
	lastArgs map[string]any
	err      error
}

func (c *stubUTCPClient) SearchTools(query string, limit int) ([]utcptools.Tool, error) {
	return c.tools, nil
}

func (c *stubUTCPClient) CallTool(ctx context.Context, toolName string, args map[string]any) (any, error) {
	c.lastName = toolName
	c.lastArgs = args
	if c.err != nil {
		return nil, c.err
	}
	return "utcp says " + toolName, nil
}

func TestLoadUTCPTools(t *testing.T) {
	client := &stubUTCPClient{tools: []utcptools.Tool{{
		Name:        "weather.lookup",
		Description: "Looks up weather",
		Inputs: utcptools.ToolInputOutputSchema{
			Type: "object",
			Properties: map[string]any{
				"city":  map[string]any{"type": "string", "description": "City name"},
				"units": map[string]any{"type": "string", "enum": []any{"metric", "imperial"}},
			},
			Required: []string{"city"},
		},
	}}}
	r := NewRegistry()
	n, err := LoadUTCPTools(client, r, "", 0)
	if err != nil || n != 1 {
		t.Fatalf("LoadUTCPTools = %d, %v", n, err)
	}

	desc := r.Descriptors()[0]
	if len(desc.Parameters) != 2 || desc.Parameters[0].Name != "city" || !desc.Parameters[0].Required {
		t.Fatalf("unexpected parameters: %+v", desc.Parameters)
	}
	if got := desc.Parameters[1].Enum; len(got) != 2 || got[0] != "metric" {
		t.Fatalf("unexpected enum: %v", got)
	}

	if res := r.Execute(context.Background(), "weather.lookup", map[string]any{}); res.Success {
		t.Fatalf("missing city should fail validation")
	}
	res := r.Execute(context.Background(), "weather.lookup", map[string]any{"city": "Oslo"})
	if !res.Success || res.Data != "utcp says weather.lookup" || client.lastArgs["city"] != "Oslo" {
		t.Fatalf("unexpected result: %+v", res)
	}

	client.err = errors.New("offline")
	if res := r.Execute(context.Background(), "weather.lookup", map[string]any{"city": "Oslo"}); res.Success {
		t.Fatalf("expected remote error to surface as failure")
	}
}

type stubMCPCaller struct {
	listed  []mcp.Tool
	result  *mcp.CallToolResult
	lastReq mcp.CallToolRequest
}

func (c *stubMCPCaller) ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return &mcp.ListToolsResult{Tools: c.listed}, nil
}

func (c *stubMCPCaller) CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c.lastReq = request
	return c.result, nil
}

func TestLoadMCPTools(t *testing.T) {
	caller := &stubMCPCaller{
		listed: []mcp.Tool{mcp.NewTool("echo",
			mcp.WithDescription("Echoes input"),
			mcp.WithString("input", mcp.Required(), mcp.Description("text to echo")),
		)},
		result: mcp.NewToolResultText("hello"),
	}
	r := NewRegistry()
	n, err := LoadMCPTools(context.Background(), caller, r, WithMCPPrefix("remote."))
	if err != nil || n != 1 {
		t.Fatalf("LoadMCPTools = %d, %v", n, err)
	}
	if _, ok := r.Get("remote.echo"); !ok {
		t.Fatalf("expected prefixed tool to be registered")
	}

	res := r.Execute(context.Background(), "remote.echo", map[string]any{"input": "hello"})
	if !res.Success || res.Data != "hello" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if caller.lastReq.Params.Name != "echo" {
		t.Fatalf("expected remote name to be used, got %q", caller.lastReq.Params.Name)
	}

	caller.result = mcp.NewToolResultError("broken")
	res = r.Execute(context.Background(), "remote.echo", map[string]any{"input": "x"})
	if res.Success {
		t.Fatalf("expected remote error result to fail")
	}
}
