package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPCaller is the subset of the MCP client used by the tool wrapper.
type MCPCaller interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// MCPTool adapts a tool served by an external MCP server.
type MCPTool struct {
	client     MCPCaller
	remoteName string
	desc       Descriptor
}

// MCPToolOption customises the MCP tool wrapper.
type MCPToolOption func(*MCPTool)

// WithMCPPrefix prefixes the registered name, e.g. "github." + "search".
func WithMCPPrefix(prefix string) MCPToolOption {
	return func(t *MCPTool) {
		if p := strings.TrimSpace(prefix); p != "" {
			t.desc.Name = p + t.desc.Name
		}
	}
}

// NewMCPTool constructs a wrapper for the provided MCP tool definition.
func NewMCPTool(c MCPCaller, def mcp.Tool, opts ...MCPToolOption) *MCPTool {
	props, required := def.InputSchema.Properties, def.InputSchema.Required
	if len(def.RawInputSchema) > 0 {
		props, required = schemaProperties(def.RawInputSchema)
	}
	tool := &MCPTool{
		client:     c,
		remoteName: def.Name,
		desc: Descriptor{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  parametersFromSchema(props, required),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(tool)
		}
	}
	return tool
}

func (t *MCPTool) Descriptor() Descriptor { return t.desc }

// Execute calls the remote tool. Text content blocks are concatenated into
// the result data.
func (t *MCPTool) Execute(ctx context.Context, args map[string]any) Result {
	if t == nil || t.client == nil {
		return Fail("mcp tool is not initialised")
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = t.remoteName
	req.Params.Arguments = args

	res, err := t.client.CallTool(ctx, req)
	if err != nil {
		return Fail("mcp tool %s failed: %v", t.remoteName, err)
	}
	text := strings.TrimSpace(mcpText(res))
	if res.IsError {
		if text == "" {
			text = "remote tool reported an error"
		}
		return Fail("mcp tool %s: %s", t.remoteName, text)
	}
	out := OK(text)
	out.Metadata = map[string]any{"source": "mcp"}
	return out
}

func mcpText(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range res.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			b.WriteString(v.Text)
		case *mcp.TextContent:
			b.WriteString(v.Text)
		}
	}
	return b.String()
}

// LoadMCPTools lists the tools of an MCP server and registers each one.
func LoadMCPTools(ctx context.Context, c MCPCaller, registry *Registry, opts ...MCPToolOption) (int, error) {
	if c == nil || registry == nil {
		return 0, nil
	}
	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return 0, fmt.Errorf("list mcp tools: %w", err)
	}
	n := 0
	for _, def := range listed.Tools {
		if err := registry.Register(NewMCPTool(c, def, opts...)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// MCPServer describes an external MCP server reached over stdio.
type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
}

// ConnectMCP spawns the server and performs the initialize handshake. The
// caller closes the returned client.
func ConnectMCP(ctx context.Context, srv MCPServer, clientName, clientVersion string) (*client.Client, error) {
	if strings.TrimSpace(srv.Command) == "" {
		return nil, fmt.Errorf("mcp server %q: command is required", srv.Name)
	}
	c, err := client.NewStdioMCPClient(srv.Command, srv.Env, srv.Args...)
	if err != nil {
		return nil, fmt.Errorf("start mcp server %q: %w", srv.Name, err)
	}
	init := mcp.InitializeRequest{}
	init.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	init.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	if _, err := c.Initialize(ctx, init); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize mcp server %q: %w", srv.Name, err)
	}
	return c, nil
}
