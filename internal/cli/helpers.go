package cli

import (
	"fmt"

	"github.com/variantstore/variantstore/internal/logging"
	"github.com/variantstore/variantstore/internal/store"
)

// withStore opens the database, builds the facade, executes the function,
// and handles cleanup. CLI commands run without a publisher.
func withStore(fn func(*store.SQLiteBackend, *store.EventStore) error) error {
	backend, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	events := store.New(backend, nil, logging.Component("store"))
	return fn(backend, events)
}
