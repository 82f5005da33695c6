// Command billingd runs the subscription reconciliation service.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/billsync/internal/config"
	"github.com/dmitrymomot/billsync/pkg/logger"
	"github.com/dmitrymomot/billsync/pkg/requestid"
)

// Set at build time with -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:           "billingd",
	Short:         "Multi-provider subscription reconciliation service",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "billingd %s (%s)\n", Version, GitCommit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load before reading the environment (default .env)")
	rootCmd.AddCommand(serveCmd, migrateCmd, plansCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and installs the process logger.
func bootstrap() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, nil, err
	}
	opts := []logger.Option{
		logger.WithEnvironment(cfg.App.Env, cfg.App.Name),
		logger.WithLevel(cfg.App.LogLevel),
		logger.WithContextExtractors(requestid.LogExtractor()),
		logger.WithAttr(slog.String("version", Version)),
	}
	switch logger.Format(cfg.App.LogFormat) {
	case logger.FormatJSON:
		opts = append(opts, logger.WithJSONFormatter())
	case logger.FormatText:
		opts = append(opts, logger.WithTextFormatter())
	}
	log := logger.New(opts...)
	logger.SetAsDefault(log)
	return cfg, log, nil
}
