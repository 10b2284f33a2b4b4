package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/replypost-io/replypost/internal/config"
)

var (
	version = "dev"
	commit  = "none"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "replypost",
	Short: "replypost - turn inbound email replies into post actions",
	Long: `replypost receives email replies (by polling a mailbox or through
provider webhooks), authenticates the sender, decodes the routing token
embedded in the reply address, and dispatches the written reply to a
content handler.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(migrateCmd)
}

// loadConfig loads and validates the configuration for commands that need
// a working pipeline.
func loadConfig() (*config.Config, error) {
	if err := config.Load(configPath); err != nil {
		return nil, err
	}
	cfg := config.Get()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
