// Package storage provides ledger.Repository and monitor.AlertStore
// implementations.
//
// MemoryRepository keeps everything in process memory and suits tests and
// single-process deployments that can lose spend history on restart.
//
// SQLiteRepository persists budgets, usage records and alerts in one SQLite
// database. Either the pure-Go driver (modernc.org/sqlite, "sqlite") or the
// cgo driver (github.com/mattn/go-sqlite3, "sqlite3") can be selected:
//
//	repo, err := storage.NewSQLiteRepository(storage.SQLiteConfig{
//		Path:   "data/tollgate.db",
//		Driver: storage.DriverModernc,
//	})
//	if err != nil {
//		return err
//	}
//	defer repo.Close()
//
//	alerts := repo.Alerts()
//
// Both implementations enforce record idempotency on (budget id, record id)
// and update the running total atomically with the insert.
package storage
