// Package badger provides embedded, durable persistence backed by BadgerDB through badgerhold.
package badger

import (
	"fmt"
	"os"

	"github.com/timshannon/badgerhold/v4"
)

// Open opens (or creates) a badgerhold store rooted at path. The returned store is shared by
// the run state store and the badger job queue; callers close it once.
func Open(path string) (*badgerhold.Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store.badger_path is required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create badger directory: %w", err)
	}
	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return store, nil
}
