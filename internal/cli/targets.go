package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newTargetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List the configured build targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(cfg.Targets) == 0 {
				fmt.Println("No targets configured.")
				return nil
			}

			fmt.Printf("%-20s %-24s %-32s %s\n", "ID", "NAME", "ARTIFACT", "WHEN")
			for _, t := range cfg.Targets {
				when := t.When
				if when == "" {
					when = "-"
				}
				fmt.Printf("%-20s %-24s %-32s %s\n", t.ID, t.Name, t.Artifact, when)
			}
			fmt.Printf("\n%d target(s), strategy: %s\n", len(cfg.Targets), strings.ToLower(cfg.Strategy))
			return nil
		},
	}
}
