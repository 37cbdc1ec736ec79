package main

import (
	"github.com/spf13/cobra"

	"github.com/Protocol-Lattice/chat-agent/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run as a Model Context Protocol server on stdio",
	Long: `Serves the agent's tools, a chat tool that runs a full turn and the
conversation list as MCP tools and resources over standard input and output.
Logs go to stderr and the log file only.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			srv := mcpserver.New(a.agent, "chat-agent", version, a.logger)
			a.logger.Info("starting mcp server", "transport", "stdio")
			return srv.ServeStdio()
		})
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
