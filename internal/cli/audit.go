package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/conciergestack/schedmate/internal/models"
)

var (
	auditPrincipal  string
	auditAction     string
	auditLimit      int
	auditOffset     int
	auditWindowDays int
	overrideReason  string
)

func init() {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the decision audit ledger",
	}
	auditCmd.PersistentFlags().StringVarP(&auditPrincipal, "principal", "p", "", "Principal id (required)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		Run:   runAuditList,
	}
	listCmd.Flags().StringVar(&auditAction, "action", "", "Filter by action (sent_email, declined_request, requested_clarification, escalated)")
	listCmd.Flags().IntVar(&auditLimit, "limit", 0, "Maximum entries to return")
	listCmd.Flags().IntVar(&auditOffset, "offset", 0, "Entries to skip")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate decision statistics over a trailing window",
		Run:   runAuditStats,
	}
	statsCmd.Flags().IntVar(&auditWindowDays, "window", 30, "Window size in days")

	overrideCmd := &cobra.Command{
		Use:   "override <entry-id> <approved|retracted|marked_incorrect>",
		Short: "Attach a human correction to an audit entry",
		Args:  cobra.ExactArgs(2),
		Run:   runAuditOverride,
	}
	overrideCmd.Flags().StringVar(&overrideReason, "reason", "", "Why the decision was overridden")

	auditCmd.AddCommand(listCmd, statsCmd, overrideCmd)
	RootCmd.AddCommand(auditCmd)
}

func requirePrincipal() {
	if auditPrincipal == "" {
		exitErr("audit", fmt.Errorf("--principal is required"))
	}
}

func runAuditList(cmd *cobra.Command, args []string) {
	requirePrincipal()

	query := url.Values{}
	query.Set("principal_id", auditPrincipal)
	if auditAction != "" {
		query.Set("action", auditAction)
	}
	if auditLimit > 0 {
		query.Set("limit", fmt.Sprint(auditLimit))
	}
	if auditOffset > 0 {
		query.Set("offset", fmt.Sprint(auditOffset))
	}

	var response struct {
		Entries []*models.AuditEntry `json:"entries"`
	}
	if err := getJSON("/v1/audit?"+query.Encode(), &response); err != nil {
		exitErr("audit list", err)
	}
	printJSON(response.Entries)
}

func runAuditStats(cmd *cobra.Command, args []string) {
	requirePrincipal()

	query := url.Values{}
	query.Set("principal_id", auditPrincipal)
	query.Set("window_days", fmt.Sprint(auditWindowDays))

	var stats models.AuditStats
	if err := getJSON("/v1/audit/stats?"+query.Encode(), &stats); err != nil {
		exitErr("audit stats", err)
	}
	printJSON(stats)
}

func runAuditOverride(cmd *cobra.Command, args []string) {
	payload := map[string]string{
		"decision": args[1],
		"reason":   overrideReason,
	}
	var response map[string]string
	if err := postJSON("/v1/audit/"+url.PathEscape(args[0])+"/override", payload, &response); err != nil {
		exitErr("audit override", err)
	}
	printJSON(response)
}
