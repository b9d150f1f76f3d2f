package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	serverrun "github.com/edgepulse/pulse/internal/cmd/server"
	cfgpkg "github.com/edgepulse/pulse/internal/config"
	logpkg "github.com/edgepulse/pulse/pkg/log"
	"github.com/spf13/cobra"
)

func main() {
	// Respect PULSE_LOG_LEVEL for both CLI and server start output
	level := os.Getenv("PULSE_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(logpkg.WithLevel(parsed))

	rootCmd := &cobra.Command{
		Use:   "pulse",
		Short: "Pulse event batching and observability runtime",
		Long:  "Pulse is a single-binary runtime that batches events per target and tracks metrics, traces and alerts. This CLI manages the server and basic operations.",
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start pulse server (HTTP API + metrics)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			httpAddr, _ := cmd.Flags().GetString("http")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if logLevel != "" {
				_ = os.Setenv("PULSE_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				_ = os.Setenv("PULSE_LOG_FORMAT", logFormat)
			}
			if err := serverrun.Run(ctx, serverrun.Options{
				ConfigPath: configPath,
				HTTPAddr:   httpAddr,
				Config:     cfgpkg.Default(),
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("config", os.Getenv("PULSE_CONFIG"), "Path to config file (.json or .yaml)")
	serverStartCmd.Flags().String("http", "", "HTTP listen address (overrides config; default :8080)")
	serverStartCmd.Flags().String("log-level", os.Getenv("PULSE_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("PULSE_LOG_FORMAT"), "Log format: text|json (default text)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	// config validate
	configCmd := &cobra.Command{Use: "config", Short: "Config operations"}
	configValidateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			if path == "" {
				return fmt.Errorf("--file is required")
			}
			cfg, err := cfgpkg.Load(path)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger.Info("config ok", logpkg.Str("file", path), logpkg.Str("strategy", string(cfg.Batch.Strategy)))
			return nil
		},
	}
	configValidateCmd.Flags().String("file", "", "Path to config file")
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
