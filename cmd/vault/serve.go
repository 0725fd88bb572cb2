package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/imedwei/offsite-vault/internal/health"
	"github.com/imedwei/offsite-vault/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve metrics, health and delivery status over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		serverConfig := server.DefaultConfig()
		serverConfig.Port = cfg.Server.Port

		checker := health.NewChecker(nil, logger)
		checker.RegisterCheck("delivery", checker.DeliveryCheck(a.Orchestrator(), cfg.Server.StaleAfter))
		srv := server.New(serverConfig, checker, a.Orchestrator(), logger)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			logger.Info("Shutdown signal received")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
