package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	auditLogsOrder string
	auditLogsLimit int
)

var auditLogsCmd = &cobra.Command{
	Use:   "audit-logs",
	Short: "List recent audit log entries, optionally filtered by order",
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditLogsLimit < 1 || auditLogsLimit > 200 {
			return fmt.Errorf("--limit must be between 1 and 200, got %d", auditLogsLimit)
		}

		a, err := bootstrap()
		if err != nil {
			return err
		}
		if err := a.requireAdminEnabled(); err != nil {
			return err
		}

		ctx := cmd.Context()
		var entries interface{}
		if auditLogsOrder != "" {
			entries, err = a.auditRepo.ListByOrder(ctx, auditLogsOrder, auditLogsLimit)
		} else {
			entries, err = a.auditRepo.List(ctx, auditLogsLimit)
		}
		if err != nil {
			return fmt.Errorf("audit-logs failed: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	},
}

func init() {
	auditLogsCmd.Flags().StringVar(&auditLogsOrder, "order", "", "restrict to a single order id")
	auditLogsCmd.Flags().IntVar(&auditLogsLimit, "limit", 50, "maximum entries to return (1-200)")
}
