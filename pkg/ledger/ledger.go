package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/tollgate/pkg/audit"
	"mercator-hq/tollgate/pkg/faults"
	"mercator-hq/tollgate/pkg/telemetry/logging"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
	"mercator-hq/tollgate/pkg/telemetry/tracing"

	"go.opentelemetry.io/otel/attribute"
)

// maxHierarchyDepth bounds ancestor walks.
const maxHierarchyDepth = 32

// Ledger is the budget ledger. It is safe for concurrent use.
type Ledger struct {
	repo    Repository
	locks   *keyedMutex
	now     func() time.Time
	audit   audit.Sink
	metrics *metrics.Collector
	logger  *slog.Logger

	obsMu     sync.RWMutex
	observers []Observer
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithAudit sets the audit sink.
func WithAudit(sink audit.Sink) Option {
	return func(l *Ledger) { l.audit = audit.OrDiscard(sink) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(l *Ledger) { l.metrics = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logging.Component(logger, "ledger") }
}

// New creates a Ledger backed by repo.
func New(repo Repository, opts ...Option) *Ledger {
	l := &Ledger{
		repo:   repo,
		locks:  newKeyedMutex(),
		now:    time.Now,
		audit:  audit.Discard,
		logger: logging.Component(nil, "ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddObserver registers o for every committed change.
func (l *Ledger) AddObserver(o Observer) {
	l.obsMu.Lock()
	defer l.obsMu.Unlock()
	l.observers = append(l.observers, o)
}

func (l *Ledger) notify(ctx context.Context, changes ...Change) {
	l.obsMu.RLock()
	observers := append([]Observer(nil), l.observers...)
	l.obsMu.RUnlock()

	for _, c := range changes {
		l.metrics.SetBudgetPercent(c.Budget.ID, c.Status.PercentUsed)
		for _, o := range observers {
			o.BudgetChanged(ctx, c)
		}
	}
}

// Create validates and stores a new budget. A zero Start defaults to the
// beginning of the current UTC day.
func (l *Ledger) Create(ctx context.Context, b Budget) (Budget, error) {
	now := l.now()

	b.Currency = normalizeCurrency(b.Currency)
	if b.Start.IsZero() {
		b.Start = now.UTC().Truncate(day)
	}
	b = withDerivedEnd(b)

	if err := validateBudget(b); err != nil {
		return Budget{}, err
	}
	if err := l.validateParent(ctx, b); err != nil {
		return Budget{}, err
	}

	b.CreatedAt = now
	b.UpdatedAt = now
	if err := l.repo.CreateBudget(ctx, b); err != nil {
		return Budget{}, err
	}

	l.logger.InfoContext(ctx, "budget created", "budget_id", b.ID, "scope", string(b.ScopeKind)+"/"+b.ScopeID, "limit", b.Limit, "currency", b.Currency)
	l.audit.Record(ctx, audit.Event{Type: audit.TypeBudgetCreated, Component: "ledger", BudgetID: b.ID})
	l.notify(ctx, Change{Kind: ChangeCreated, Budget: b, Status: ComputeStatus(b, 0, now)})

	return b.Clone(), nil
}

// Get returns a budget definition.
func (l *Ledger) Get(ctx context.Context, id string) (Budget, error) {
	b, _, err := l.repo.Load(ctx, id)
	if err != nil {
		return Budget{}, err
	}
	return b, nil
}

// Update applies a patch to a budget. Currency, scope and period kind are
// immutable.
func (l *Ledger) Update(ctx context.Context, id string, p Patch) (Budget, error) {
	b, status, err := l.update(ctx, id, p)
	if err != nil {
		return Budget{}, err
	}

	l.audit.Record(ctx, audit.Event{Type: audit.TypeBudgetUpdated, Component: "ledger", BudgetID: id})
	l.notify(ctx, Change{Kind: ChangeUpdated, Budget: b, Status: status})
	return b.Clone(), nil
}

func (l *Ledger) update(ctx context.Context, id string, p Patch) (Budget, BudgetStatus, error) {
	unlock := l.locks.Lock(id)
	defer unlock()

	b, current, err := l.repo.Load(ctx, id)
	if err != nil {
		return Budget{}, BudgetStatus{}, err
	}

	if p.Limit != nil {
		b.Limit = *p.Limit
	}
	if p.Recurring != nil {
		b.Recurring = *p.Recurring
	}
	if p.Thresholds != nil {
		b.Thresholds = *p.Thresholds
	}
	if p.ParentID != nil {
		b.ParentID = *p.ParentID
	}
	if p.End != nil {
		b.End = *p.End
		b = withDerivedEnd(b)
	}

	if err := validateBudget(b); err != nil {
		return Budget{}, BudgetStatus{}, err
	}
	if err := l.validateParent(ctx, b); err != nil {
		return Budget{}, BudgetStatus{}, err
	}

	now := l.now()
	b.UpdatedAt = now
	if err := l.repo.UpdateBudget(ctx, b); err != nil {
		return Budget{}, BudgetStatus{}, err
	}
	return b, ComputeStatus(b, current, now), nil
}

// validateParent checks that the parent exists, shares the currency and
// that linking does not form a cycle.
func (l *Ledger) validateParent(ctx context.Context, b Budget) error {
	if b.ParentID == "" {
		return nil
	}

	parentID := b.ParentID
	for depth := 0; parentID != ""; depth++ {
		if depth >= maxHierarchyDepth {
			return faults.Invalid("parent_id", "budget hierarchy deeper than %d levels", maxHierarchyDepth)
		}
		if parentID == b.ID {
			return faults.Invalid("parent_id", "parent %q would form a cycle", b.ParentID)
		}

		parent, _, err := l.repo.Load(ctx, parentID)
		if errors.Is(err, faults.ErrNotFound) {
			return faults.Invalid("parent_id", "unknown budget %q", parentID)
		}
		if err != nil {
			return err
		}
		if depth == 0 && parent.Currency != b.Currency {
			return faults.Invalid("parent_id", "parent currency %s differs from %s", parent.Currency, b.Currency)
		}
		parentID = parent.ParentID
	}
	return nil
}

// Delete removes a budget with its usage records. Budgets that still have
// children cannot be deleted.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	children, err := l.repo.ListBudgets(ctx, ListFilter{ParentID: id})
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return faults.Invalid("id", "budget %q has %d child budgets", id, len(children))
	}

	unlock := l.locks.Lock(id)
	b, _, err := l.repo.Load(ctx, id)
	if err == nil {
		err = l.repo.DeleteBudget(ctx, id)
	}
	unlock()
	if err != nil {
		return err
	}

	l.logger.InfoContext(ctx, "budget deleted", "budget_id", id)
	l.audit.Record(ctx, audit.Event{Type: audit.TypeBudgetDeleted, Component: "ledger", BudgetID: id})
	l.notify(ctx, Change{Kind: ChangeDeleted, Budget: b})
	return nil
}

// ListByScope returns the budgets of a scope ordered by id. An empty kind
// lists every budget.
func (l *Ledger) ListByScope(ctx context.Context, kind ScopeKind, scopeID string) ([]Budget, error) {
	if kind != "" && !kind.Valid() {
		return nil, faults.Invalid("scope_kind", "unknown scope kind %q", kind)
	}
	return l.repo.ListBudgets(ctx, ListFilter{ScopeKind: kind, ScopeID: scopeID})
}

// RecordUsage applies a usage record to budgetID and its ancestors.
// A record id already accepted for the budget is a no-op reported as
// Duplicate. Propagation is retried by re-sending the same record.
func (l *Ledger) RecordUsage(ctx context.Context, budgetID string, rec UsageRecord) (result RecordResult, err error) {
	ctx, span := tracing.Start(ctx, "ledger.RecordUsage",
		attribute.String("budget.id", budgetID),
		attribute.String("usage.id", rec.ID),
	)
	defer func() { tracing.End(span, err) }()

	rec.BudgetID = budgetID
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}

	result, b, changes, err := l.apply(ctx, rec)
	if err != nil {
		return RecordResult{}, err
	}
	l.afterApply(ctx, rec, result, changes)

	origin := rec.ID
	parentID := b.ParentID
	for depth := 0; parentID != "" && depth < maxHierarchyDepth; depth++ {
		derived := rec
		derived.ID = origin + "@" + parentID
		derived.BudgetID = parentID

		pres, parent, pchanges, perr := l.apply(ctx, derived)
		if perr != nil {
			l.logger.ErrorContext(ctx, "usage propagation failed", "budget_id", budgetID, "ancestor_id", parentID, "error", perr)
			return result, fmt.Errorf("propagate usage to %q: %w", parentID, perr)
		}
		l.afterApply(ctx, derived, pres, pchanges)
		parentID = parent.ParentID
	}

	return result, nil
}

// apply records rec against its own budget under the budget's lock.
func (l *Ledger) apply(ctx context.Context, rec UsageRecord) (RecordResult, Budget, []Change, error) {
	unlock := l.locks.Lock(rec.BudgetID)
	defer unlock()

	b, _, err := l.repo.Load(ctx, rec.BudgetID)
	if err != nil {
		return RecordResult{}, Budget{}, nil, err
	}
	if err := validateUsage(rec, b); err != nil {
		return RecordResult{}, Budget{}, nil, err
	}
	rec.Currency = b.Currency

	now := l.now()
	var changes []Change

	if start, end, ok := rolloverWindow(b, now); ok {
		if err := l.repo.Rollover(ctx, b.ID, start, end); err != nil {
			return RecordResult{}, Budget{}, nil, err
		}
		b.Start, b.End = start, end
		changes = append(changes, Change{Kind: ChangeRollover, Budget: b, Status: ComputeStatus(b, 0, now)})
	}

	total, inserted, err := l.repo.AppendUsage(ctx, rec)
	if err != nil {
		return RecordResult{}, Budget{}, nil, err
	}

	status := ComputeStatus(b, total, now)
	if inserted {
		changes = append(changes, Change{Kind: ChangeUsage, Budget: b, Status: status})
	}

	return RecordResult{Status: status, Duplicate: !inserted}, b, changes, nil
}

func (l *Ledger) afterApply(ctx context.Context, rec UsageRecord, result RecordResult, changes []Change) {
	l.metrics.RecordUsage(rec.BudgetID, rec.Amount, result.Duplicate)

	event := audit.Event{
		Type:      audit.TypeUsageRecorded,
		Component: "ledger",
		BudgetID:  rec.BudgetID,
		ModelID:   rec.Attribution.ModelID,
		RequestID: rec.Attribution.RequestID,
		Fields: map[string]any{
			"usage_id":     rec.ID,
			"amount":       rec.Amount,
			"percent_used": result.Status.PercentUsed,
		},
	}
	if result.Duplicate {
		event.Type = audit.TypeUsageDuplicate
	}
	l.audit.Record(ctx, event)

	for _, c := range changes {
		if c.Kind == ChangeRollover {
			l.recordRollover(ctx, c.Budget)
		}
	}
	l.notify(ctx, changes...)
}

func (l *Ledger) recordRollover(ctx context.Context, b Budget) {
	l.logger.InfoContext(ctx, "budget period rolled over", "budget_id", b.ID, "period_start", b.Start, "period_end", b.End)
	l.audit.Record(ctx, audit.Event{
		Type:      audit.TypeBudgetRollover,
		Component: "ledger",
		BudgetID:  b.ID,
		Fields:    map[string]any{"period_start": b.Start, "period_end": b.End},
	})
}

// Status returns the derived status of a budget. A recurring budget whose
// period has ended is rolled over first.
func (l *Ledger) Status(ctx context.Context, id string) (BudgetStatus, error) {
	b, current, err := l.repo.Load(ctx, id)
	if err != nil {
		return BudgetStatus{}, err
	}

	now := l.now()
	if _, _, due := rolloverWindow(b, now); due {
		rolled, rerr := l.rollover(ctx, id)
		if rerr != nil {
			return BudgetStatus{}, rerr
		}
		if rolled {
			b, current, err = l.repo.Load(ctx, id)
			if err != nil {
				return BudgetStatus{}, err
			}
		}
	}

	return ComputeStatus(b, current, now), nil
}

// rollover advances one budget if its period has ended.
func (l *Ledger) rollover(ctx context.Context, id string) (bool, error) {
	unlock := l.locks.Lock(id)
	b, _, err := l.repo.Load(ctx, id)
	if err != nil {
		unlock()
		return false, err
	}

	now := l.now()
	start, end, ok := rolloverWindow(b, now)
	if ok {
		err = l.repo.Rollover(ctx, id, start, end)
	}
	unlock()
	if err != nil || !ok {
		return false, err
	}

	b.Start, b.End = start, end
	l.recordRollover(ctx, b)
	l.notify(ctx, Change{Kind: ChangeRollover, Budget: b, Status: ComputeStatus(b, 0, now)})
	return true, nil
}

// RolloverDue rolls over every recurring budget whose period has ended and
// returns how many were advanced.
func (l *Ledger) RolloverDue(ctx context.Context) (int, error) {
	budgets, err := l.repo.ListBudgets(ctx, ListFilter{})
	if err != nil {
		return 0, err
	}

	rolled := 0
	var errs []error
	for _, b := range budgets {
		if !b.Recurring {
			continue
		}
		ok, err := l.rollover(ctx, b.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("budget %q: %w", b.ID, err))
			continue
		}
		if ok {
			rolled++
		}
	}
	return rolled, errors.Join(errs...)
}

// MostConstrained returns the status with the highest percent used among
// the budgets of a scope. Ties go to the smaller budget id.
func (l *Ledger) MostConstrained(ctx context.Context, kind ScopeKind, scopeID string) (BudgetStatus, error) {
	budgets, err := l.ListByScope(ctx, kind, scopeID)
	if err != nil {
		return BudgetStatus{}, err
	}
	if len(budgets) == 0 {
		return BudgetStatus{}, faults.NotFound("budget for scope", string(kind)+"/"+scopeID)
	}

	var best BudgetStatus
	found := false
	for _, b := range budgets {
		st, err := l.Status(ctx, b.ID)
		if err != nil {
			return BudgetStatus{}, err
		}
		if !found || st.PercentUsed > best.PercentUsed {
			best, found = st, true
		}
	}
	return best, nil
}
