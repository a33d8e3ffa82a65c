package core

import (
	"fmt"

	"deadline/internal/config"
	"deadline/internal/infra/persistence/badger"
	"deadline/internal/infra/persistence/memory"
	"deadline/internal/infra/persistence/sqlite"
	"deadline/pkg/domain"
)

// StorageDriver identifies a concrete key-value backend.
type StorageDriver string

const (
	StorageMemory StorageDriver = "memory" // in-memory only (tests / ephemeral)
	StorageSQLite StorageDriver = "sqlite" // embedded sqlite file
	StorageBadger StorageDriver = "badger" // embedded badger directory
)

// OpenBackend selects a backend from cfg. An empty driver means sqlite.
func OpenBackend(cfg config.Storage) (domain.KeyValueBackend, error) {
	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StorageBadger:
		store, err := badger.NewStore(cfg.BadgerDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
