package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"mercator-hq/tollgate/pkg/faults"
	"mercator-hq/tollgate/pkg/monitor"
)

// SQLiteAlertStore implements monitor.AlertStore on the alerts table of a
// SQLiteRepository database.
type SQLiteAlertStore struct {
	db *sql.DB
}

const alertColumns = `id, budget_id, percentage, period_start, triggered_at, actions, targets,
	acknowledged, acknowledged_by, acknowledged_at`

// CreateIfAbsent implements monitor.AlertStore.
func (s *SQLiteAlertStore) CreateIfAbsent(ctx context.Context, a monitor.Alert) (monitor.Alert, bool, error) {
	actions, err := json.Marshal(a.Actions)
	if err != nil {
		return monitor.Alert{}, false, fmt.Errorf("failed to marshal actions: %w", err)
	}
	targets, err := json.Marshal(a.Targets)
	if err != nil {
		return monitor.Alert{}, false, fmt.Errorf("failed to marshal targets: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (budget_id, percentage, period_start) DO NOTHING
	`,
		a.ID, a.BudgetID, a.Percentage, toNanos(a.PeriodStart), toNanos(a.TriggeredAt),
		string(actions), string(targets), boolInt(a.Acknowledged), a.AcknowledgedBy, toNanos(a.AcknowledgedAt),
	)
	if err != nil {
		return monitor.Alert{}, false, fmt.Errorf("failed to insert alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return monitor.Alert{}, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return a, true, nil
	}

	existing, err := s.get(ctx, a.BudgetID, a.Percentage, a.PeriodStart)
	if err != nil {
		return monitor.Alert{}, false, err
	}
	return existing, false, nil
}

func (s *SQLiteAlertStore) get(ctx context.Context, budgetID string, percentage float64, periodStart time.Time) (monitor.Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE budget_id = ? AND percentage = ? AND period_start = ?
	`, budgetID, percentage, toNanos(periodStart))

	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return monitor.Alert{}, faults.NotFound("alert", budgetID+"/"+strconv.FormatFloat(percentage, 'f', -1, 64))
	}
	if err != nil {
		return monitor.Alert{}, fmt.Errorf("failed to load alert: %w", err)
	}
	return a, nil
}

// List implements monitor.AlertStore.
func (s *SQLiteAlertStore) List(ctx context.Context, budgetID string, periodStart time.Time) ([]monitor.Alert, error) {
	start := toNanos(periodStart)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE budget_id = ? AND (? = 0 OR period_start = ?)
		ORDER BY period_start, percentage
	`, budgetID, start, start)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var out []monitor.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// Acknowledge implements monitor.AlertStore.
func (s *SQLiteAlertStore) Acknowledge(ctx context.Context, budgetID string, percentage float64, periodStart time.Time, actor string, at time.Time) (monitor.Alert, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET acknowledged = 1, acknowledged_by = ?, acknowledged_at = ?
		WHERE budget_id = ? AND percentage = ? AND period_start = ?
	`, actor, toNanos(at), budgetID, percentage, toNanos(periodStart))
	if err != nil {
		return monitor.Alert{}, fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	return s.get(ctx, budgetID, percentage, periodStart)
}

// Prune implements monitor.AlertStore.
func (s *SQLiteAlertStore) Prune(ctx context.Context, budgetID string, before time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM alerts WHERE budget_id = ? AND period_start < ?`, budgetID, toNanos(before))
	if err != nil {
		return fmt.Errorf("failed to prune alerts: %w", err)
	}
	return nil
}

// DeleteBudget implements monitor.AlertStore.
func (s *SQLiteAlertStore) DeleteBudget(ctx context.Context, budgetID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE budget_id = ?`, budgetID); err != nil {
		return fmt.Errorf("failed to delete alerts: %w", err)
	}
	return nil
}

func scanAlert(row rowScanner) (monitor.Alert, error) {
	var (
		a              monitor.Alert
		periodStart    int64
		triggeredAt    int64
		acknowledgedAt int64
		acknowledged   int
		actions        string
		targets        string
	)
	err := row.Scan(&a.ID, &a.BudgetID, &a.Percentage, &periodStart, &triggeredAt, &actions, &targets,
		&acknowledged, &a.AcknowledgedBy, &acknowledgedAt)
	if err != nil {
		return monitor.Alert{}, err
	}

	a.PeriodStart = fromNanos(periodStart)
	a.TriggeredAt = fromNanos(triggeredAt)
	a.AcknowledgedAt = fromNanos(acknowledgedAt)
	a.Acknowledged = acknowledged != 0
	if err := json.Unmarshal([]byte(actions), &a.Actions); err != nil {
		return monitor.Alert{}, fmt.Errorf("failed to unmarshal actions: %w", err)
	}
	if err := json.Unmarshal([]byte(targets), &a.Targets); err != nil {
		return monitor.Alert{}, fmt.Errorf("failed to unmarshal targets: %w", err)
	}
	return a, nil
}
