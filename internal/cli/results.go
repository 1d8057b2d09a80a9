package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/variantstore/variantstore/internal/stats"
	"github.com/variantstore/variantstore/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results <experiment-id>",
	Short: "Show detailed results for an experiment",
	Long:  `Show per-variant totals, conversion rates, confidence intervals, and the bucketed series span.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	experimentID := args[0]

	return withStore(func(backend *store.SQLiteBackend, events *store.EventStore) error {
		ctx := context.Background()

		exp, err := backend.GetExperiment(ctx, experimentID)
		if err != nil {
			if err == store.ErrNotFound {
				return fmt.Errorf("experiment '%s' not found", experimentID)
			}
			return fmt.Errorf("failed to get experiment: %w", err)
		}

		results, err := events.FindVariantResults(ctx, exp)
		if err != nil {
			return fmt.Errorf("failed to compute results: %w", err)
		}

		analysis := stats.Analyze(results)

		fmt.Printf("EXPERIMENT: %s\n", exp.ID)
		if exp.Name != exp.ID {
			fmt.Printf("NAME: %s\n", exp.Name)
		}
		fmt.Printf("CREATED: %s\n", exp.CreatedAt.Format("2006-01-02"))
		fmt.Println()

		fmt.Println("VARIANT           DISPLAYED  WON      RATE     95% CI           BUCKETS")
		fmt.Println(strings.Repeat("─", 72))

		for i, v := range analysis.Variants {
			indicator := ""
			if i == analysis.Leading && len(analysis.Variants) > 1 {
				indicator = " ← LEADING"
			}

			ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", v.CILower*100, v.CIUpper*100)
			if v.Result.Displayed == 0 {
				ciStr = "N/A"
			}

			name := v.Result.Variant.ID
			if len(name) > 16 {
				name = name[:13] + "..."
			}

			fmt.Printf("%-17s %-10d %-8d %-8s %-16s %d%s\n",
				name, v.Result.Displayed, v.Result.Won,
				fmt.Sprintf("%.2f%%", v.Result.Transformation),
				ciStr, len(v.Result.Events), indicator)
		}

		return nil
	})
}
