package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:          "chat-agent",
	Short:        "Conversational agent with tools and persistent memory",
	Long:         `chat-agent answers messages with a language model, lets the model call local and remote tools and keeps every conversation in a durable store.`,
	Version:      version,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().String("model", "", "Default model; overrides DEFAULT_MODEL")
}
