package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the available tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(cmd, a.agent.ListTools())
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tREQUIRED\tDESCRIPTION")
			for _, s := range a.agent.ListTools() {
				fmt.Fprintf(w, "%s\t%v\t%s\n", s.Name, s.RequiredNames(), s.Description)
			}
			return w.Flush()
		})
	},
}

var toolRunCmd = &cobra.Command{
	Use:   "run <name> [json-arguments]",
	Short: "Execute one tool and print its result",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]any{}
		if len(args) == 2 {
			if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
				return fmt.Errorf("arguments must be a JSON object: %w", err)
			}
		}
		return withApp(cmd, func(a *app) error {
			res := a.agent.RunTool(cmd.Context(), args[0], params)
			if err := writeJSON(cmd, res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("tool %s failed", args[0])
			}
			return nil
		})
	},
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.AddCommand(toolRunCmd)
	toolsCmd.Flags().Bool("json", false, "Print the function schemas as JSON")
}
