package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imedwei/offsite-vault/internal/app"
	"github.com/imedwei/offsite-vault/internal/config"
	"github.com/imedwei/offsite-vault/internal/telemetry"
)

var (
	cfgFile string

	cfg            *config.Config
	logger         *slog.Logger
	shutdownTracer func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:           "vault",
	Short:         "Offsite Vault - replicated archive storage",
	Long:          `Offsite Vault uploads backup archives to several S3-compatible or GCS targets, tracks which copies exist and prunes old archives.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))
		slog.SetDefault(logger)

		if cmd.Name() == versionCmd.Name() {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		logger.Info("Configuration loaded",
			"primary", cfg.Vault.Primary,
			"replicas", cfg.Vault.Replicas,
			"expected_copies", cfg.Vault.ExpectedCopies,
			"settings_driver", cfg.Settings.Driver,
			"respawn_protection_hours", cfg.RespawnProtectionHours,
			"force_upload", cfg.ForceUpload,
			"retention_count", cfg.Retention.KeepCount,
			"retention_days", cfg.Retention.KeepDays,
		)

		shutdownTracer, err = telemetry.InitTracer(cmd.Context(), cfg.Tracing)
		if err != nil {
			logger.Warn("Tracing disabled", "error", err)
			shutdownTracer = nil
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if shutdownTracer != nil {
			if err := shutdownTracer(context.Background()); err != nil {
				logger.Warn("Failed to flush traces", "error", err)
			}
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error("Command failed", "error", err)
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("VAULT_CONFIG"), "config file (default: environment variables)")
}

// newLogger builds the process logger. format is "json" or "text"; level is
// one of debug, info, warn, error.
func newLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// openApp wires the vault for a command.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vault: %w", err)
	}
	return a, nil
}
