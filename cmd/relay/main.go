package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/poemonsense/cloudcode-relay/internal/utils"
)

var (
	configPath string
	debugMode  bool
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Cloud Code relay with an Anthropic-compatible API",
	Long: `relay exposes an Anthropic-compatible /v1/messages API and dispatches
requests across a pool of Google Cloud Code accounts with automatic
failover, rate-limit tracking and model fallback.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debugMode {
			utils.SetDebug(true)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
