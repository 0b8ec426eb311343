package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"fiscalcore/canon"
)

var (
	inspectChainTenant string
	inspectChainDevice string
)

var inspectChainCmd = &cobra.Command{
	Use:   "inspect-chain",
	Short: "Look up the latest signature in a device's receipt chain directly via the raw connection pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		if err := a.requireAdminEnabled(); err != nil {
			return err
		}

		sig, err := a.rawDB.PreviousSignatureLookback(cmd.Context(), inspectChainTenant, inspectChainDevice)
		if errors.Is(err, pgx.ErrNoRows) {
			sig = canon.PreviousSentinel
		} else if err != nil {
			return fmt.Errorf("inspect-chain failed: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{
			"tenantId":        inspectChainTenant,
			"deviceId":        inspectChainDevice,
			"latestSignature": sig,
		})
	},
}

func init() {
	inspectChainCmd.Flags().StringVar(&inspectChainTenant, "tenant", "", "tenant id")
	inspectChainCmd.Flags().StringVar(&inspectChainDevice, "device", "", "device id")
	_ = inspectChainCmd.MarkFlagRequired("tenant")
	_ = inspectChainCmd.MarkFlagRequired("device")
}
