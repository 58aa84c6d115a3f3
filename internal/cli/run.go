package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		forceBuild   bool
		strategyName string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build missing artifacts and distribute them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, logger, strategyName)
			if err != nil {
				return err
			}
			defer a.Close()

			if ok := a.controller.DistributeAndWait(ctx, forceBuild); !ok {
				return fmt.Errorf("run did not complete successfully")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&forceBuild, "force-build", false, "Rebuild every target even when an artifact exists")
	cmd.Flags().StringVar(&strategyName, "strategy", "", "Override the configured distribution strategy (archive, s3, command)")
	return cmd
}
