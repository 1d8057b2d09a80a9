package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/variantstore/variantstore/internal/store"
)

func init() {
	rootCmd.AddCommand(newRecordCmd())
}

func newRecordCmd() *cobra.Command {
	var (
		nature   string
		clientID string
	)

	cmd := &cobra.Command{
		Use:   "record <experiment-id> <variant-id>",
		Short: "Record a displayed or won event",
		Long: `Record one event for a variant.

Examples:
  vst record checkout A --nature displayed --client visitor-42
  vst record checkout A --nature won --client visitor-42`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			experimentID, variantID := args[0], args[1]

			eventNature, err := store.ParseNature(nature)
			if err != nil {
				return err
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

				var variant store.Variant
				found := false
				for _, v := range exp.Variants {
					if v.ID == variantID {
						variant = v
						found = true
						break
					}
				}
				if !found {
					return fmt.Errorf("variant '%s' not found in experiment '%s'", variantID, experimentID)
				}

				key := store.NewEventKey(experimentID, variantID, clientID, eventNature)
				stored, err := events.Create(ctx, key, store.Event{Variant: variant})
				if err != nil {
					return fmt.Errorf("failed to record event: %w", err)
				}

				fmt.Printf("Recorded %s event for %s/%s (transformation: %.2f%%)\n",
					eventNature, experimentID, variantID, stored.Transformation)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&nature, "nature", "n", string(store.NatureDisplayed), "event nature (displayed or won)")
	cmd.Flags().StringVarP(&clientID, "client", "c", "cli", "reporting client id")

	return cmd
}
