package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Inspect and manage stored conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			convs, err := a.agent.ListConversations(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tUPDATED")
			for _, c := range convs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.ID, c.Title, c.MessageCount, c.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			return w.Flush()
		})
	},
}

var conversationShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the messages of a conversation as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			history, err := a.agent.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd, history)
		})
	},
}

var conversationSummaryCmd = &cobra.Command{
	Use:   "summary <id>",
	Short: "Print message counts of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			summary, err := a.agent.Summary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd, summary)
		})
	},
}

var conversationDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			ok, err := a.agent.DeleteConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("conversation %s not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		})
	},
}

var conversationClearCmd = &cobra.Command{
	Use:   "clear <id>",
	Short: "Remove all messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			if err := a.agent.ClearConversation(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", args[0])
			return nil
		})
	},
}

var conversationSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find conversations by title or message content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, func(a *app) error {
			hits, err := a.agent.SearchConversations(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd, hits)
		})
	},
}

func init() {
	rootCmd.AddCommand(conversationsCmd)
	conversationsCmd.AddCommand(conversationShowCmd, conversationSummaryCmd, conversationDeleteCmd, conversationClearCmd, conversationSearchCmd)
	conversationSearchCmd.Flags().Int("limit", 10, "Maximum number of results")
}
