package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // driver "sqlite3"
	_ "modernc.org/sqlite"          // driver "sqlite"

	"mercator-hq/tollgate/pkg/faults"
	"mercator-hq/tollgate/pkg/ledger"
)

// Driver names accepted by SQLiteConfig.Driver.
const (
	DriverModernc = "sqlite"
	DriverCgo     = "sqlite3"
)

// SQLiteConfig configures a SQLiteRepository.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// Driver is DriverModernc (default) or DriverCgo.
	Driver string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// SQLiteRepository implements ledger.Repository on SQLite. The running
// total lives on the budget row and is updated in the same transaction
// that inserts a usage record; the (budget_id, id) primary key makes
// re-sent records no-ops.
type SQLiteRepository struct {
	db        *sql.DB
	path      string
	closeOnce sync.Once

	loadStmt      *sql.Stmt
	listStmt      *sql.Stmt
	listUsageStmt *sql.Stmt
}

// NewSQLiteRepository opens (creating if needed) the database at cfg.Path.
func NewSQLiteRepository(cfg SQLiteConfig) (*SQLiteRepository, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverModernc
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	repo := &SQLiteRepository{db: db, path: cfg.Path}

	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := repo.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return repo, nil
}

func buildDSN(cfg SQLiteConfig) (string, error) {
	ms := cfg.BusyTimeout.Milliseconds()
	switch cfg.Driver {
	case DriverModernc:
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
			cfg.Path, ms), nil
	case DriverCgo:
		return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL&_txlock=immediate",
			cfg.Path, ms), nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", cfg.Driver)
	}
}

func (s *SQLiteRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS budgets (
		id TEXT PRIMARY KEY,
		scope_kind TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		limit_amount REAL NOT NULL,
		currency TEXT NOT NULL,
		period TEXT NOT NULL,
		period_start INTEGER NOT NULL,
		period_end INTEGER NOT NULL,
		recurring INTEGER NOT NULL,
		thresholds TEXT NOT NULL,
		parent_id TEXT NOT NULL,
		current_amount REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_budgets_scope ON budgets(scope_kind, scope_id);
	CREATE INDEX IF NOT EXISTS idx_budgets_parent ON budgets(parent_id);

	CREATE TABLE IF NOT EXISTS usage_records (
		budget_id TEXT NOT NULL,
		id TEXT NOT NULL,
		amount REAL NOT NULL,
		currency TEXT NOT NULL,
		ts INTEGER NOT NULL,
		source TEXT NOT NULL,
		attribution TEXT NOT NULL,
		PRIMARY KEY (budget_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_usage_budget_ts ON usage_records(budget_id, ts);

	CREATE TABLE IF NOT EXISTS alerts (
		budget_id TEXT NOT NULL,
		percentage REAL NOT NULL,
		period_start INTEGER NOT NULL,
		id TEXT NOT NULL,
		triggered_at INTEGER NOT NULL,
		actions TEXT NOT NULL,
		targets TEXT NOT NULL,
		acknowledged INTEGER NOT NULL DEFAULT 0,
		acknowledged_by TEXT NOT NULL DEFAULT '',
		acknowledged_at INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (budget_id, percentage, period_start)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

const budgetColumns = `id, scope_kind, scope_id, limit_amount, currency, period, period_start, period_end,
	recurring, thresholds, parent_id, current_amount, created_at, updated_at`

func (s *SQLiteRepository) prepareStatements() error {
	var err error

	s.loadStmt, err = s.db.Prepare(`SELECT ` + budgetColumns + ` FROM budgets WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare load statement: %w", err)
	}

	s.listStmt, err = s.db.Prepare(`
		SELECT ` + budgetColumns + ` FROM budgets
		WHERE (? = '' OR scope_kind = ?) AND (? = '' OR scope_id = ?) AND (? = '' OR parent_id = ?)
		ORDER BY id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list statement: %w", err)
	}

	s.listUsageStmt, err = s.db.Prepare(`
		SELECT id, amount, currency, ts, source, attribution FROM usage_records
		WHERE budget_id = ? AND (? = 0 OR ts >= ?) AND (? = 0 OR ts < ?)
		ORDER BY ts, id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list usage statement: %w", err)
	}

	return nil
}

// CreateBudget implements ledger.Repository.
func (s *SQLiteRepository) CreateBudget(ctx context.Context, b ledger.Budget) error {
	thresholds, err := json.Marshal(b.Thresholds)
	if err != nil {
		return fmt.Errorf("failed to marshal thresholds: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO budgets (`+budgetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`,
		b.ID, string(b.ScopeKind), b.ScopeID, b.Limit, b.Currency, string(b.Period),
		toNanos(b.Start), toNanos(b.End), boolInt(b.Recurring), string(thresholds), b.ParentID,
		toNanos(b.CreatedAt), toNanos(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create budget: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return faults.Invalid("id", "budget %q already exists", b.ID)
	}
	return nil
}

// Load implements ledger.Repository.
func (s *SQLiteRepository) Load(ctx context.Context, id string) (ledger.Budget, float64, error) {
	b, current, err := scanBudget(s.loadStmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Budget{}, 0, faults.NotFound("budget", id)
	}
	if err != nil {
		return ledger.Budget{}, 0, fmt.Errorf("failed to load budget: %w", err)
	}
	return b, current, nil
}

// UpdateBudget implements ledger.Repository.
func (s *SQLiteRepository) UpdateBudget(ctx context.Context, b ledger.Budget) error {
	thresholds, err := json.Marshal(b.Thresholds)
	if err != nil {
		return fmt.Errorf("failed to marshal thresholds: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE budgets SET limit_amount = ?, period_end = ?, recurring = ?, thresholds = ?,
			parent_id = ?, updated_at = ?
		WHERE id = ?
	`, b.Limit, toNanos(b.End), boolInt(b.Recurring), string(thresholds), b.ParentID, toNanos(b.UpdatedAt), b.ID)
	if err != nil {
		return fmt.Errorf("failed to update budget: %w", err)
	}
	return requireRow(res, b.ID)
}

// DeleteBudget implements ledger.Repository.
func (s *SQLiteRepository) DeleteBudget(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM budgets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete budget: %w", err)
	}
	if err := requireRow(res, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM usage_records WHERE budget_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete usage records: %w", err)
	}
	return tx.Commit()
}

// ListBudgets implements ledger.Repository.
func (s *SQLiteRepository) ListBudgets(ctx context.Context, filter ledger.ListFilter) ([]ledger.Budget, error) {
	kind := string(filter.ScopeKind)
	rows, err := s.listStmt.QueryContext(ctx,
		kind, kind, filter.ScopeID, filter.ScopeID, filter.ParentID, filter.ParentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list budgets: %w", err)
	}
	defer rows.Close()

	var out []ledger.Budget
	for rows.Next() {
		b, _, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// AppendUsage implements ledger.Repository.
func (s *SQLiteRepository) AppendUsage(ctx context.Context, rec ledger.UsageRecord) (float64, bool, error) {
	attribution, err := json.Marshal(rec.Attribution)
	if err != nil {
		return 0, false, fmt.Errorf("failed to marshal attribution: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var total float64
	err = tx.QueryRowContext(ctx, `SELECT current_amount FROM budgets WHERE id = ?`, rec.BudgetID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, faults.NotFound("budget", rec.BudgetID)
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read running total: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO usage_records (budget_id, id, amount, currency, ts, source, attribution)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (budget_id, id) DO NOTHING
	`, rec.BudgetID, rec.ID, rec.Amount, rec.Currency, toNanos(rec.Timestamp), rec.Source, string(attribution))
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert usage record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return total, false, tx.Commit()
	}

	total += rec.Amount
	if _, err := tx.ExecContext(ctx, `UPDATE budgets SET current_amount = ? WHERE id = ?`, total, rec.BudgetID); err != nil {
		return 0, false, fmt.Errorf("failed to update running total: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit usage record: %w", err)
	}
	return total, true, nil
}

// Rollover implements ledger.Repository.
func (s *SQLiteRepository) Rollover(ctx context.Context, id string, start, end time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE budgets SET period_start = ?, period_end = ?, current_amount = 0 WHERE id = ?`,
		toNanos(start), toNanos(end), id)
	if err != nil {
		return fmt.Errorf("failed to roll over budget: %w", err)
	}
	return requireRow(res, id)
}

// ListUsage implements ledger.Repository.
func (s *SQLiteRepository) ListUsage(ctx context.Context, budgetID string, from, to time.Time) ([]ledger.UsageRecord, error) {
	if _, _, err := s.Load(ctx, budgetID); err != nil {
		return nil, err
	}

	lo, hi := toNanos(from), toNanos(to)
	rows, err := s.listUsageStmt.QueryContext(ctx, budgetID, lo, lo, hi, hi)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	var out []ledger.UsageRecord
	for rows.Next() {
		rec := ledger.UsageRecord{BudgetID: budgetID}
		var (
			ts          int64
			attribution string
		)
		if err := rows.Scan(&rec.ID, &rec.Amount, &rec.Currency, &ts, &rec.Source, &attribution); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rec.Timestamp = fromNanos(ts)
		if err := json.Unmarshal([]byte(attribution), &rec.Attribution); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attribution: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// Alerts returns an alert store sharing this repository's database.
func (s *SQLiteRepository) Alerts() *SQLiteAlertStore {
	return &SQLiteAlertStore{db: s.db}
}

// Close is idempotent and safe to call multiple times.
func (s *SQLiteRepository) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{s.loadStmt, s.listStmt, s.listUsageStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBudget(row rowScanner) (ledger.Budget, float64, error) {
	var (
		b          ledger.Budget
		scopeKind  string
		period     string
		thresholds string
		start      int64
		end        int64
		createdAt  int64
		updatedAt  int64
		recurring  int
		current    float64
	)
	err := row.Scan(&b.ID, &scopeKind, &b.ScopeID, &b.Limit, &b.Currency, &period, &start, &end,
		&recurring, &thresholds, &b.ParentID, &current, &createdAt, &updatedAt)
	if err != nil {
		return ledger.Budget{}, 0, err
	}

	b.ScopeKind = ledger.ScopeKind(scopeKind)
	b.Period = ledger.PeriodKind(period)
	b.Start = fromNanos(start)
	b.End = fromNanos(end)
	b.Recurring = recurring != 0
	b.CreatedAt = fromNanos(createdAt)
	b.UpdatedAt = fromNanos(updatedAt)
	if err := json.Unmarshal([]byte(thresholds), &b.Thresholds); err != nil {
		return ledger.Budget{}, 0, fmt.Errorf("failed to unmarshal thresholds: %w", err)
	}
	return b, current, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return faults.NotFound("budget", id)
	}
	return nil
}

// toNanos stores the zero time as 0.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
