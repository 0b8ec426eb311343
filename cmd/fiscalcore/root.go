package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fiscalcore/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fiscalcore",
	Short: "Administrative CLI for the fiscal transaction submission core",
	Long: `fiscalcore is the administrative surface for the fiscal transaction
submission core: enqueueing orders, running the queue worker
once, inspecting queue status, and reading back audit log entries.

The surface is gated off entirely when the core is running in production.`,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file read into viper (settings are taken from FISCALCORE_* environment variables only; values in this file are not applied)")

	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(consumeOnceCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(auditLogsCmd)
	rootCmd.AddCommand(resetItemCmd)
	rootCmd.AddCommand(inspectChainCmd)
	rootCmd.AddCommand(enrollCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		_ = viper.ReadInConfig()
	}
	viper.SetEnvPrefix("FISCALCORE")
	viper.AutomaticEnv()
}

func bootstrap() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("fiscalcore: load config: %w", err)
	}
	return newApp(cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
