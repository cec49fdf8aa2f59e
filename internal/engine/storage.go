package engine

import (
	"fmt"
	"os"

	archivecore "graphstack/internal/infra/archive/core"
	"graphstack/internal/infra/storage/memory"
	"graphstack/internal/infra/storage/postgres"
	"graphstack/internal/infra/storage/sqlite"
	"graphstack/pkg/graph"
)

// StorageDriver identifies a concrete storage engine implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenStorageEngine selects a backend using environment variables. Defaults
// to sqlite when unset. The optional archive store receives a JSON snapshot
// after every successful commit.
//
//	GRAPHSTACK_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	GRAPHSTACK_SQLITE_PATH: path to sqlite file (default ./graphstack.db)
//	GRAPHSTACK_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenStorageEngine(archive archivecore.Store) (graph.StorageEngine, error) {
	driver := os.Getenv("GRAPHSTACK_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	var opts []memory.Option
	if archive != nil {
		opts = append(opts, memory.WithArchive(archive))
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(opts...), nil
	case StorageSQLite:
		path := os.Getenv("GRAPHSTACK_SQLITE_PATH")
		return sqlite.NewStore(path, opts...)
	case StoragePostgres:
		dsn := os.Getenv("GRAPHSTACK_POSTGRES_DSN")
		return postgres.NewStore(dsn, opts...)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
