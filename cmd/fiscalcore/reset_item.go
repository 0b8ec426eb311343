package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var resetItemCmd = &cobra.Command{
	Use:   "reset-item <queue_id>",
	Short: "Force a stuck processing queue item back to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid queue id %q: %w", args[0], err)
		}

		a, err := bootstrap()
		if err != nil {
			return err
		}
		if err := a.requireAdminEnabled(); err != nil {
			return err
		}

		result := map[string]interface{}{}
		if err := a.queueRepo.ResetToPending(cmd.Context(), uint(id)); err != nil {
			result["success"] = false
			result["message"] = err.Error()
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(result)
			return fmt.Errorf("reset-item failed: %w", err)
		}

		result["success"] = true
		result["queueId"] = id
		result["message"] = "reset to pending"
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}
