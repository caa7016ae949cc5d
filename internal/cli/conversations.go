package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	conversationsCmd := &cobra.Command{
		Use:   "conversations",
		Short: "Manage conversation state",
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Close conversations whose activity window has expired",
		Run:   runConversationsCleanup,
	}

	conversationsCmd.AddCommand(cleanupCmd)
	RootCmd.AddCommand(conversationsCmd)
}

func runConversationsCleanup(cmd *cobra.Command, args []string) {
	var response map[string]int
	if err := postJSON("/v1/conversations/cleanup", nil, &response); err != nil {
		exitErr("conversations cleanup", err)
	}
	printJSON(response)
}
