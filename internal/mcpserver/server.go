// Package mcpserver exposes the agent's tools and chat turn as an MCP server.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	agent "github.com/Protocol-Lattice/chat-agent"
	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
	"github.com/Protocol-Lattice/chat-agent/pkg/tools"
)

// ChatToolName is the MCP tool that runs one agent turn.
const ChatToolName = "chat"

// ConversationsURI lists the stored conversations.
const ConversationsURI = "chat-agent://conversations"

// Agent is the subset of *agent.Agent exposed over MCP.
type Agent interface {
	ListTools() []tools.FunctionSchema
	RunTool(ctx context.Context, name string, args map[string]any) tools.Result
	SendMessage(ctx context.Context, conversationID, text, model string) (agent.TurnResult, error)
	ListConversations(ctx context.Context) ([]conversation.Conversation, error)
}

var _ Agent = (*agent.Agent)(nil)

// Server wraps an MCP server whose tools are the agent's registry plus chat.
type Server struct {
	agent     Agent
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// New creates a server named name. The tool list is taken from a once, so
// tools registered later are not served.
func New(a Agent, name, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		agent:  a,
		logger: logger,
		mcpServer: server.NewMCPServer(name, version,
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server, e.g. for in-process clients.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// ServeStdio serves on stdin and stdout until the input is closed.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	for _, schema := range s.agent.ListTools() {
		if schema.Name == ChatToolName {
			s.logger.Warn("tool shadowed by chat tool", "tool_name", schema.Name)
			continue
		}
		raw, err := json.Marshal(schema.Parameters)
		if err != nil {
			s.logger.Warn("skipping tool with invalid schema", "tool_name", schema.Name, "error", err)
			continue
		}
		name := schema.Name
		s.mcpServer.AddTool(mcp.NewToolWithRawSchema(name, schema.Description, raw),
			func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return s.runTool(ctx, name, request.GetArguments()), nil
			})
	}

	chat := mcp.NewTool(ChatToolName,
		mcp.WithDescription("Send a message to the agent and return its answer."),
		mcp.WithString("message", mcp.Required(), mcp.Description("The user message")),
		mcp.WithString("conversation_id", mcp.Description("Conversation to continue; omit to start a new one")),
		mcp.WithString("model", mcp.Description("Model id; omit for the default model")),
	)
	s.mcpServer.AddTool(chat, s.handleChat)
}

func (s *Server) runTool(ctx context.Context, name string, args map[string]any) *mcp.CallToolResult {
	res := s.agent.RunTool(ctx, name, args)
	if !res.Success {
		return mcp.NewToolResultError(res.Error)
	}
	return mcp.NewToolResultText(res.JSON())
}

func (s *Server) handleChat(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	message, _ := args["message"].(string)
	id, _ := args["conversation_id"].(string)
	model, _ := args["model"].(string)

	res, err := s.agent.SendMessage(ctx, id, message, model)
	if err != nil && !res.Degraded {
		return mcp.NewToolResultError(fmt.Sprintf("chat failed: %v", err)), nil
	}
	if err != nil {
		s.logger.Warn("chat turn not stored durably", "conversation_id", res.ConversationID, "error", err)
	}
	out, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode turn: %w", err)
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(ConversationsURI, "Conversations",
		mcp.WithResourceDescription("Stored conversations, most recently updated first"),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		convs, err := s.agent.ListConversations(ctx)
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		raw, err := json.Marshal(convs)
		if err != nil {
			return nil, fmt.Errorf("encode conversations: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      ConversationsURI,
				MIMEType: "application/json",
				Text:     string(raw),
			},
		}, nil
	})
}
