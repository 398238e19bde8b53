package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/asanchezmanas/tactics/internal/api"
	"github.com/asanchezmanas/tactics/internal/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts the query API. Exposes published predictions, allocations and
model snapshots per tenant, and accepts on-demand run triggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		d, err := openDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()
		if d.db == nil {
			return fmt.Errorf("serve requires a database (set database.url or DATABASE_URL)")
		}

		handlers := api.NewHandlers(d.registry, d.predictions, d.allocations, d.pipeline)
		server := api.NewServer(d.cfg.Server, handlers)

		done := make(chan os.Signal, 1)
		signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

		errCh := make(chan error, 1)
		go func() {
			addr := fmt.Sprintf("%s:%d", d.cfg.Server.GetHost(), d.cfg.Server.Port)
			logger.Info("server starting", "addr", addr)
			if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return err
		case <-done:
		}
		logger.Info("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("server stopped")
		return nil
	},
}
