package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var consumeLimit int

var consumeOnceCmd = &cobra.Command{
	Use:   "consume-once",
	Short: "Claim and process up to --limit pending queue items once",
	RunE: func(cmd *cobra.Command, args []string) error {
		if consumeLimit < 1 || consumeLimit > 100 {
			return fmt.Errorf("--limit must be between 1 and 100, got %d", consumeLimit)
		}

		a, err := bootstrap()
		if err != nil {
			return err
		}
		if err := a.requireAdminEnabled(); err != nil {
			return err
		}

		result, err := a.worker.ConsumeOnce(cmd.Context(), consumeLimit)
		if err != nil {
			return fmt.Errorf("consume-once failed: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}

		if result.Failed > 0 {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	consumeOnceCmd.Flags().IntVar(&consumeLimit, "limit", 20, "maximum items to claim (1-100)")
}
