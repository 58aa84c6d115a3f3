package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newBuildCmd() *cobra.Command {
	var forceBuild bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build targets without distributing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, logger, "")
			if err != nil {
				return err
			}
			defer a.Close()

			artifacts, err := a.controller.EnsureBuilds(ctx, forceBuild)
			if err != nil {
				return err
			}

			for _, art := range artifacts {
				fmt.Printf("%-20s %s\n", art.Target.ID, art.Path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&forceBuild, "force-build", false, "Rebuild every target even when an artifact exists")
	return cmd
}
