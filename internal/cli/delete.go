package cli

import (
	"context"
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/variantstore/variantstore/internal/store"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <experiment-id>",
	Short: "Delete all events for an experiment",
	Long: `Delete every stored event for an experiment and reset its counters.
The experiment itself is kept. Safe to re-run.`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "skip confirmation prompt")
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	experimentID := args[0]

	if !deleteForce {
		prompt := promptui.Select{
			Label: fmt.Sprintf("Delete all events for '%s'? This cannot be undone", experimentID),
			Items: []string{"No", "Yes"},
		}
		_, choice, err := prompt.Run()
		if err != nil {
			if err == promptui.ErrInterrupt {
				return nil
			}
			return fmt.Errorf("prompt failed: %w", err)
		}
		if choice != "Yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	return withStore(func(backend *store.SQLiteBackend, events *store.EventStore) error {
		ctx := context.Background()

		exp, err := backend.GetExperiment(ctx, experimentID)
		if err != nil {
			if err == store.ErrNotFound {
				return fmt.Errorf("experiment '%s' not found", experimentID)
			}
			return fmt.Errorf("failed to get experiment: %w", err)
		}

		if err := events.DeleteEventsForExperiment(ctx, exp); err != nil {
			return fmt.Errorf("failed to delete events: %w", err)
		}

		fmt.Printf("Deleted all events for '%s'.\n", experimentID)
		return nil
	})
}
