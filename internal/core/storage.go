package core

import (
	"bayplanner/internal/infra/persistence/memory"
	"bayplanner/internal/infra/persistence/postgres"
	"bayplanner/internal/infra/persistence/sqlite"
	"fmt"
	"os"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	BAYPLANNER_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	BAYPLANNER_SQLITE_PATH: path to sqlite file (default ./bayplanner.db)
//	BAYPLANNER_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(engine *RulesEngine) (PersistentStore, error) {
	driver := StorageDriver(os.Getenv("BAYPLANNER_STORAGE_DRIVER"))
	target := ""
	switch driver {
	case StorageSQLite, "":
		target = os.Getenv("BAYPLANNER_SQLITE_PATH")
	case StoragePostgres:
		target = os.Getenv("BAYPLANNER_POSTGRES_DSN")
	}
	return OpenStorage(driver, target, engine)
}

// OpenStorage opens the named backend. target is the sqlite path or postgres
// DSN; empty selects the backend default.
func OpenStorage(driver StorageDriver, target string, engine *RulesEngine) (PersistentStore, error) {
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		return sqlite.NewStore(target, engine)
	case StoragePostgres:
		return postgres.NewStore(target, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
