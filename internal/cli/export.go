package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/variantstore/variantstore/internal/store"
)

var (
	exportFormat   string
	exportPatterns []string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export raw event data",
	Long: `Export raw event data in CSV or JSON format, optionally filtered by
glob patterns against the composed event key
(experimentId:variantId:clientId:nature:id).

Examples:
  vst export --format csv > events.csv
  vst export --pattern "checkout*" --format json > checkout-events.json`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "output format (csv or json)")
	exportCmd.Flags().StringArrayVarP(&exportPatterns, "pattern", "p", nil, "key glob pattern (repeatable)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportFormat != "csv" && exportFormat != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	return withStore(func(_ *store.SQLiteBackend, events *store.EventStore) error {
		it := events.ListAll(context.Background(), exportPatterns...)
		defer it.Close()

		if exportFormat == "csv" {
			return exportCSV(it)
		}
		return exportJSON(it)
	})
}

func exportCSV(it *store.EventIterator) error {
	w := csv.NewWriter(os.Stdout)
	defer w.Flush()

	if err := w.Write([]string{"key", "experiment_id", "variant_id", "client_id", "nature", "timestamp", "transformation"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for it.Next() {
		e := it.Event()
		row := []string{
			e.Key.String(),
			e.ExperimentID,
			e.VariantID,
			e.ClientID,
			string(e.Key.Nature),
			strconv.FormatInt(e.Timestamp.Unix(), 10),
			strconv.FormatFloat(e.Transformation, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	return it.Err()
}

type jsonEvent struct {
	Key            string  `json:"key"`
	ExperimentID   string  `json:"experiment_id"`
	VariantID      string  `json:"variant_id"`
	ClientID       string  `json:"client_id"`
	Nature         string  `json:"nature"`
	Timestamp      int64   `json:"timestamp"`
	Transformation float64 `json:"transformation"`
}

func exportJSON(it *store.EventIterator) error {
	var events []jsonEvent
	for it.Next() {
		e := it.Event()
		events = append(events, jsonEvent{
			Key:            e.Key.String(),
			ExperimentID:   e.ExperimentID,
			VariantID:      e.VariantID,
			ClientID:       e.ClientID,
			Nature:         string(e.Key.Nature),
			Timestamp:      e.Timestamp.Unix(),
			Transformation: e.Transformation,
		})
	}
	if err := it.Err(); err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(map[string]any{"events": events})
}
