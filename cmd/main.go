package main

import (
	"fmt"
	"os"

	"github.com/imyashkale/hera/internal/config"
	"github.com/imyashkale/hera/internal/logger"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "hera",
	Short:         "White-label deployment orchestrator",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(serveCmd, migrateCmd, sweepCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and configures the global logger. With
// strict set the whole configuration must be valid.
func loadConfig(strict bool) (*config.Config, error) {
	cfg := config.LoadEnv()
	logger.Configure(logger.Options{Level: cfg.GetLogLevel(), Format: cfg.LogFormat, Service: "hera"})
	if strict {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
