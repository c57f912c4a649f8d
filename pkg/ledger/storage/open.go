package storage

import (
	"fmt"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/monitor"
)

// Backend names accepted by config.StorageConfig.Backend.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Open builds the ledger repository and alert store selected by cfg.
// Closing the repository also releases the alert store.
func Open(cfg config.StorageConfig) (ledger.Repository, monitor.AlertStore, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryRepository(), monitor.NewMemoryStore(), nil
	case BackendSQLite:
		repo, err := NewSQLiteRepository(SQLiteConfig{
			Path:        cfg.SQLite.Path,
			Driver:      cfg.SQLite.Driver,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Alerts(), nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
