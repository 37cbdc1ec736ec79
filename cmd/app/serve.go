package main

import (
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Protocol-Lattice/chat-agent/internal/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  `Serves the chat, conversation and tool endpoints as JSON over HTTP until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			host := a.cfg.HTTP.Host
			if cmd.Flags().Changed("host") {
				host, _ = cmd.Flags().GetString("host")
			}
			port := a.cfg.HTTP.Port
			if cmd.Flags().Changed("port") {
				port, _ = cmd.Flags().GetInt("port")
			}

			opts := httpapi.Options{AgentName: a.cfg.Agent.Name, Logger: a.logger}
			if a.cfg.HTTP.Metrics {
				opts.Metrics = a.metrics.Handler()
			}
			srv := &http.Server{
				Addr:    net.JoinHostPort(host, strconv.Itoa(port)),
				Handler: httpapi.NewHandler(a.agent, opts),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return httpapi.Serve(ctx, srv, a.cfg.HTTP.ShutdownTimeout, a.logger)
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "Interface to listen on; overrides HTTP_HOST")
	serveCmd.Flags().Int("port", 0, "Port to listen on; overrides HTTP_PORT")
}
