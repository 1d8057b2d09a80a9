package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	dbPath     string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "vst",
	Short: "variantstore - event store for experiment variant events",
	Long: `variantstore records displayed/won events per experiment variant,
keeps live counters and conversion rates, and serves adaptively bucketed
aggregate series. Single Go binary, embedded SQLite.

Running without a subcommand starts the server (same as 'vst serve').`,
	RunE: runServe,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", getEnvOrDefault("VST_DB_PATH", "./variantstore.db"), "database path")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("VST_CONFIG"), "config file path (YAML)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
