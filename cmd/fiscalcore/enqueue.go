package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var enqueueTenant string

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <order_id>",
	Short: "Enqueue an order for submission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		if err := a.requireAdminEnabled(); err != nil {
			return err
		}

		orderID := args[0]
		ctx := cmd.Context()

		item, err := a.queueRepo.EnqueueOrder(ctx, enqueueTenant, orderID)
		result := map[string]interface{}{}
		if err != nil {
			result["success"] = false
			result["message"] = err.Error()
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(result)
			return fmt.Errorf("enqueue failed: %w", err)
		}

		result["success"] = true
		result["queueId"] = item.ID
		result["message"] = "enqueued"
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueTenant, "tenant", "", "tenant id")
	_ = enqueueCmd.MarkFlagRequired("tenant")
}
