package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	agent "github.com/Protocol-Lattice/chat-agent"
	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
	"github.com/Protocol-Lattice/chat-agent/pkg/tools"
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the agent",
	Long: `Without arguments, starts an interactive session; type /help for the
available commands. With a message, runs a single turn and prints the answer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			conversationID, _ := cmd.Flags().GetString("conversation")
			r := newREPL(a.agent, a.cfg.Agent.Name, cmd.InOrStdin(), cmd.OutOrStdout())
			r.conversationID = conversationID
			if len(args) > 0 {
				return r.send(cmd.Context(), strings.Join(args, " "))
			}
			return r.run(cmd.Context())
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringP("conversation", "c", "", "Conversation id to continue")
}

// repl is the interactive chat session.
type repl struct {
	agent          *agent.Agent
	name           string
	in             *bufio.Scanner
	out            io.Writer
	conversationID string
}

func newREPL(a *agent.Agent, name string, in io.Reader, out io.Writer) *repl {
	if in == nil {
		in = os.Stdin
	}
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &repl{agent: a, name: name, in: sc, out: out}
}

func (r *repl) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *repl) run(ctx context.Context) error {
	r.printf("%s\nType /help for commands, /quit to exit.\n", r.name)
	for {
		r.printf("\nYou: ")
		if !r.in.Scan() {
			r.printf("\n")
			return r.in.Err()
		}
		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				r.printf("Error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}
		if err := r.send(ctx, line); err != nil {
			r.printf("Error: %v\n", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// send runs one turn. A turn that completed but could not be stored is
// printed with a warning and is not an error.
func (r *repl) send(ctx context.Context, text string) error {
	res, err := r.agent.SendMessage(ctx, r.conversationID, text, "")
	if res.ConversationID != "" {
		r.conversationID = res.ConversationID
	}
	if err != nil && !res.Degraded {
		return err
	}

	r.printf("\n%s:\n", r.name)
	if len(res.ToolCalls) > 0 {
		r.printf("Used %d tool(s)\n", len(res.ToolCalls))
		for _, call := range res.ToolCalls {
			status := "ok"
			if call.Result == nil || !call.Result.Success {
				status = "failed"
			}
			r.printf("  [%s] %s\n", status, call.Name)
		}
	}
	if res.Text == "" {
		r.printf("No response generated.\n")
	} else {
		r.printf("%s\n", res.Text)
	}
	if err != nil {
		r.printf("Warning: %v\n", err)
	}
	return nil
}

func (r *repl) command(ctx context.Context, line string) (bool, error) {
	cmd, rest, _ := strings.Cut(line, " ")
	switch strings.ToLower(cmd) {
	case "/quit", "/exit":
		r.printf("Goodbye!\n")
		return true, nil
	case "/help":
		r.help()
	case "/tools":
		r.listTools()
	case "/history":
		return false, r.history(ctx)
	case "/new":
		conv, err := r.agent.StartConversation(ctx, "CLI Session")
		if err != nil && !errors.Is(err, conversation.ErrStorage) {
			return false, err
		}
		r.conversationID = conv.ID
		r.printf("Started new conversation %s\n", conv.ID)
	case "/stats":
		return false, r.stats(ctx)
	case "/tool":
		name := strings.TrimSpace(rest)
		if name == "" {
			r.printf("Usage: /tool <tool_name>\n")
			return false, nil
		}
		return false, r.runTool(ctx, name)
	default:
		r.printf("Unknown command: %s\nType /help for available commands.\n", line)
	}
	return false, nil
}

func (r *repl) help() {
	r.printf(`Available commands:
  /help             Show this help message
  /tools            List the available tools
  /history          Show the current conversation
  /new              Start a new conversation
  /stats            Show agent and conversation statistics
  /tool <name>      Run a tool directly, prompting for its parameters
  /quit, /exit      Leave the session
`)
}

func (r *repl) listTools() {
	for _, schema := range r.agent.ListTools() {
		r.printf("  %-18s %s\n", schema.Name, schema.Description)
		if props := schema.Properties(); len(props) > 0 {
			names := make([]string, 0, len(props))
			for _, p := range r.descriptor(schema.Name).Parameters {
				names = append(names, p.Name)
			}
			r.printf("  %-18s parameters: %s\n", "", strings.Join(names, ", "))
		}
	}
}

func (r *repl) descriptor(name string) tools.Descriptor {
	if t, ok := r.agent.Registry().Get(name); ok {
		return t.Descriptor()
	}
	return tools.Descriptor{}
}

func (r *repl) history(ctx context.Context) error {
	if r.conversationID == "" {
		r.printf("No active conversation.\n")
		return nil
	}
	msgs, err := r.agent.History(ctx, r.conversationID)
	if errors.Is(err, conversation.ErrConversationNotFound) {
		r.printf("No messages in current conversation.\n")
		return nil
	}
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		r.printf("No messages in current conversation.\n")
		return nil
	}
	r.printf("Conversation history (%d messages):\n", len(msgs))
	for _, m := range msgs {
		r.printf("\n%s (%s):\n%s\n", m.Role, m.Timestamp.Format("2006-01-02 15:04:05"), m.Content)
		if len(m.ToolCalls) > 0 {
			r.printf("Used %d tool(s)\n", len(m.ToolCalls))
		}
	}
	return nil
}

func (r *repl) stats(ctx context.Context) error {
	st, err := r.agent.Stats(ctx)
	if err != nil {
		return err
	}
	r.printf("Agent name:          %s\n", r.name)
	r.printf("Available tools:     %d\n", len(r.agent.ListTools()))
	r.printf("Providers:           %s\n", strings.Join(r.agent.Providers(), ", "))
	r.printf("Default model:       %s\n", r.agent.DefaultModel())
	r.printf("Total conversations: %d\n", st.TotalConversations)
	r.printf("Total messages:      %d\n", st.TotalMessages)
	return nil
}

// runTool prompts for each parameter. Empty optional values are skipped and
// values that parse as JSON, such as numbers or arrays, are passed decoded.
func (r *repl) runTool(ctx context.Context, name string) error {
	desc := r.descriptor(name)
	if desc.Name == "" {
		r.printf("Tool '%s' not found.\n", name)
		r.listTools()
		return nil
	}
	args := make(map[string]any, len(desc.Parameters))
	for _, p := range desc.Parameters {
		if p.Required {
			r.printf("Enter %s (%s): ", p.Name, p.Description)
		} else {
			r.printf("Enter %s (%s) [optional]: ", p.Name, p.Description)
		}
		if !r.in.Scan() {
			return io.ErrUnexpectedEOF
		}
		value := strings.TrimSpace(r.in.Text())
		if value == "" {
			continue
		}
		args[p.Name] = parseValue(p.Type, value)
	}

	res := r.agent.RunTool(ctx, name, args)
	if !res.Success {
		r.printf("Tool execution failed: %s\n", res.Error)
		return nil
	}
	r.printf("Tool executed successfully.\n")
	if res.Data != nil {
		out, err := json.MarshalIndent(res.Data, "", "  ")
		if err != nil {
			return err
		}
		r.printf("%s\n", out)
	}
	return nil
}

func parseValue(typ, value string) any {
	if typ == tools.TypeString || typ == "" {
		return value
	}
	var v any
	if err := json.Unmarshal([]byte(value), &v); err == nil {
		return v
	}
	if typ == tools.TypeArray {
		parts := strings.Split(value, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			var n any
			if err := json.Unmarshal([]byte(p), &n); err == nil {
				out = append(out, n)
			} else {
				out = append(out, p)
			}
		}
		return out
	}
	return value
}
