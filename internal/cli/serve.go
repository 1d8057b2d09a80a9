package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/variantstore/variantstore/internal/bus"
	"github.com/variantstore/variantstore/internal/config"
	"github.com/variantstore/variantstore/internal/logging"
	"github.com/variantstore/variantstore/internal/server"
	"github.com/variantstore/variantstore/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the event store server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath = dbPath
	}

	logging.Init(logging.ParseLevel(cfg.LogLevel), cfg.LogJSON)
	log := logging.Component("serve")

	backend, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	publisher := bus.NewLocalBus(bus.Config{
		BufferSize: cfg.BusBufferSize,
		OnDrop: func(n bus.Notification) {
			log.Warn("dropped notification for lagging subscriber", "type", n.Type, "id", n.ID)
		},
	})
	defer publisher.Close()

	// Downstream consumers attach here; by default the created stream is
	// surfaced at debug level.
	publisher.Subscribe(func(n bus.Notification) {
		log.Debug("notification", "type", n.Type, "id", n.ID)
	})

	events := store.New(backend, publisher, logging.Component("store"))

	srv := server.New(backend, events, cfg.Addr)
	log.Info("variantstore starting", "db", cfg.DBPath, "addr", cfg.Addr)
	return srv.Start()
}
