package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Queue inspection commands",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show aggregate queue item counts per state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		if err := a.requireAdminEnabled(); err != nil {
			return err
		}

		counts, err := a.queueRepo.StatusCounts(cmd.Context())
		if err != nil {
			return fmt.Errorf("queue status failed: %w", err)
		}

		out := make(map[string]int64, len(counts))
		for status, count := range counts {
			out[string(status)] = count
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	queueCmd.AddCommand(queueStatusCmd)
}
