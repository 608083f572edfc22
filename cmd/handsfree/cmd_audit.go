package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rahul/handsfree/internal/governance"
	"github.com/spf13/cobra"
)

var (
	auditLast  int
	auditClear bool
)

// auditCmd prints the persisted audit trail
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the persisted audit trail",
	RunE:  runAudit,
}

func init() {
	auditCmd.Flags().IntVarP(&auditLast, "last", "n", 20, "Number of most recent records")
	auditCmd.Flags().BoolVar(&auditClear, "clear", false, "Delete every record")
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	if auditClear {
		if err := st.ClearActionLogs(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "audit trail cleared")
		return nil
	}

	logs, err := st.RecentActionLogs(ctx, auditLast)
	if err != nil {
		return err
	}
	return printAudit(cmd.OutOrStdout(), logs)
}

func printAudit(w io.Writer, logs []governance.ActionLog) error {
	if len(logs) == 0 {
		_, err := fmt.Fprintln(w, "no audit records")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tDECISION\tACTION")
	for _, l := range logs {
		decision := "allow"
		if !l.Approved {
			decision = "deny"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", l.Timestamp.Format(time.DateTime), decision, l.Action)
	}
	return tw.Flush()
}
