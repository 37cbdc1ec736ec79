package agent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Protocol-Lattice/chat-agent/pkg/concurrent"
	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
	"github.com/Protocol-Lattice/chat-agent/pkg/models"
	"github.com/Protocol-Lattice/chat-agent/pkg/tools"
)

// executeCalls runs the requested tools with bounded parallelism. The result
// slice follows the order of calls whatever order the tools finish in, and a
// failing tool never stops the others.
func (a *Agent) executeCalls(ctx context.Context, calls []models.CallRequest) []conversation.ToolCall {
	return concurrent.OrderedMap(ctx, calls, a.toolConcurrency,
		func(ctx context.Context, _ int, call models.CallRequest) conversation.ToolCall {
			tc := pendingCall(call)
			start := time.Now()
			res := a.registry.Execute(ctx, tc.Name, tc.Arguments)
			a.metrics.Tool(tc.Name, res.Success, time.Since(start))
			if res.Success {
				a.logger.Debug("tool executed", "tool", tc.Name, "call_id", tc.ID, "duration", time.Since(start))
			} else {
				a.logger.Warn("tool failed", "tool", tc.Name, "call_id", tc.ID, "error", res.Error)
			}
			tc.Result = &res
			return tc
		},
		func(_ int, call models.CallRequest, err error) conversation.ToolCall {
			tc := pendingCall(call)
			res := tools.FromError(err)
			tc.Result = &res
			return tc
		},
	)
}

func pendingCall(call models.CallRequest) conversation.ToolCall {
	id := call.ID
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return conversation.ToolCall{ID: id, Name: call.Name, Arguments: args}
}

// ListTools returns the tool catalogue in registration order.
func (a *Agent) ListTools() []tools.FunctionSchema {
	return tools.Catalog(a.registry)
}

// RunTool executes one tool directly, outside any conversation.
func (a *Agent) RunTool(ctx context.Context, name string, args map[string]any) tools.Result {
	start := time.Now()
	res := a.registry.Execute(ctx, name, args)
	a.metrics.Tool(name, res.Success, time.Since(start))
	return res
}

// Registry exposes the tool registry, for example to serve it over MCP.
func (a *Agent) Registry() *tools.Registry { return a.registry }
