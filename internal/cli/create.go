package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/variantstore/variantstore/internal/store"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		name        string
		description string
		variants    string
		traffic     string
	)

	cmd := &cobra.Command{
		Use:   "create <experiment-id>",
		Short: "Create a new experiment",
		Long: `Create a new experiment with the specified id and variants.

Variants are comma-separated; each entry is an id or "id:display name".

Examples:
  vst create checkout --variants "A,B"
  vst create hero --variants "A:Ship Faster,B:Build Better" --traffic "0.5,0.5"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			experimentID := args[0]

			variantList, err := parseVariants(variants, traffic)
			if err != nil {
				return err
			}
			if len(variantList) < 2 {
				return fmt.Errorf("need at least 2 variants. Example: --variants \"A,B\"")
			}

			if name == "" {
				name = experimentID
			}

			return withStore(func(backend *store.SQLiteBackend, _ *store.EventStore) error {
				exp, err := backend.CreateExperiment(context.Background(), store.Experiment{
					ID:          experimentID,
					Name:        name,
					Description: description,
					Variants:    variantList,
				})
				if err != nil {
					return fmt.Errorf("failed to create experiment: %w", err)
				}

				fmt.Printf("Created experiment '%s' with %d variants:\n", exp.ID, len(exp.Variants))
				for _, v := range exp.Variants {
					fmt.Printf("  %s: %s\n", v.ID, v.Name)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variants, "variants", "v", "", "comma-separated variants, id or id:name (required)")
	cmd.Flags().StringVar(&traffic, "traffic", "", "comma-separated traffic split, one weight per variant (optional)")
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the id)")
	cmd.Flags().StringVar(&description, "description", "", "description (optional)")
	cmd.MarkFlagRequired("variants")

	return cmd
}

func parseVariants(variants, traffic string) ([]store.Variant, error) {
	entries := strings.Split(variants, ",")

	var weights []float64
	if traffic != "" {
		for _, w := range strings.Split(traffic, ",") {
			weight, err := strconv.ParseFloat(strings.TrimSpace(w), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid traffic weight %q", w)
			}
			weights = append(weights, weight)
		}
		if len(weights) != len(entries) {
			return nil, fmt.Errorf("traffic needs one weight per variant (%d variants, %d weights)", len(entries), len(weights))
		}
	}

	result := make([]store.Variant, 0, len(entries))
	for i, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		id, name, found := strings.Cut(entry, ":")
		if !found {
			name = id
		}
		v := store.Variant{ID: strings.TrimSpace(id), Name: strings.TrimSpace(name)}
		if weights != nil {
			v.Traffic = weights[i]
		}
		result = append(result, v)
	}
	return result, nil
}
