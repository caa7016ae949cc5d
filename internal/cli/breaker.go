package cli

import (
	"net/url"

	"github.com/spf13/cobra"

	"github.com/conciergestack/schedmate/internal/models"
)

func init() {
	breakerCmd := &cobra.Command{
		Use:   "breaker",
		Short: "Inspect and override per-principal circuit breakers",
	}

	stateCmd := &cobra.Command{
		Use:   "state <principal-id>",
		Short: "Show the breaker state for a principal",
		Args:  cobra.ExactArgs(1),
		Run:   runBreakerState,
	}

	openCmd := &cobra.Command{
		Use:   "open <principal-id>",
		Short: "Force the breaker open, suspending autonomous sending",
		Args:  cobra.ExactArgs(1),
		Run:   runBreakerOverride(false),
	}

	closeCmd := &cobra.Command{
		Use:   "close <principal-id>",
		Short: "Force the breaker closed, resuming autonomous sending",
		Args:  cobra.ExactArgs(1),
		Run:   runBreakerOverride(true),
	}

	breakerCmd.AddCommand(stateCmd, openCmd, closeCmd)
	RootCmd.AddCommand(breakerCmd)
}

func runBreakerState(cmd *cobra.Command, args []string) {
	var state models.BreakerState
	if err := getJSON("/v1/breaker/"+url.PathEscape(args[0]), &state); err != nil {
		exitErr("breaker state", err)
	}
	printJSON(state)
}

func runBreakerOverride(forceClose bool) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		payload := map[string]bool{"force_close": forceClose}
		var state models.BreakerState
		if err := postJSON("/v1/breaker/"+url.PathEscape(args[0])+"/override", payload, &state); err != nil {
			exitErr("breaker override", err)
		}
		printJSON(state)
	}
}
