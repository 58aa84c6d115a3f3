package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/studentutu/shipyard/internal/server"
	"github.com/studentutu/shipyard/internal/task"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the shipyard control API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, logger, "")
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = cfg.Addr
			}

			// Runs started over HTTP are advanced by the tick driver.
			driver := task.NewDriver(a.controller, cfg.TickInterval(), logger)
			go func() {
				if err := driver.Start(ctx); err != nil && err != context.Canceled {
					logger.Error("driver stopped", "error", err)
				}
			}()

			srv := server.New(addr, a.controller, a.store, logger)
			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			a.controller.ForceCancel()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to the configured addr)")
	return cmd
}
