package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/studentutu/shipyard/internal/store"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.NewSQLiteStore(cfg.DBPath, logger)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer st.Close()
			if err := st.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}

			runs, err := st.ListRuns(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}

			fmt.Printf("%-14s %-10s %-18s %-8s %-10s %-22s %s\n",
				"ID", "STRATEGY", "STATE", "TARGETS", "OUTCOME", "STARTED", "DURATION")
			for _, run := range runs {
				outcome := "failed"
				if run.Succeeded {
					outcome = "ok"
				} else if !run.State.IsTerminal() {
					outcome = "-"
				}

				duration := "-"
				if run.CompletedAt != nil {
					duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
				}

				fmt.Printf("%-14s %-10s %-18s %-8d %-10s %-22s %s\n",
					run.ID, run.Strategy, run.State, run.TargetCount, outcome,
					run.StartedAt.Local().Format("2006-01-02 15:04:05"), duration)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show")
	return cmd
}
