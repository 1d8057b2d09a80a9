package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/variantstore/variantstore/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all experiments",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(func(backend *store.SQLiteBackend, _ *store.EventStore) error {
		experiments, err := backend.ListExperiments(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list experiments: %w", err)
		}

		if len(experiments) == 0 {
			fmt.Println("No experiments yet. Create one with 'vst create'.")
			return nil
		}

		fmt.Println("ID                NAME              VARIANTS  CREATED")
		fmt.Println(strings.Repeat("─", 60))
		for _, exp := range experiments {
			fmt.Printf("%-17s %-17s %-9d %s\n",
				exp.ID, exp.Name, len(exp.Variants), exp.CreatedAt.Format("2006-01-02"))
		}
		return nil
	})
}
