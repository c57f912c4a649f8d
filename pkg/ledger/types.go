package ledger

import (
	"context"
	"time"
)

// ScopeKind identifies what a budget caps spend for.
type ScopeKind string

const (
	ScopeOrganization ScopeKind = "organization"
	ScopeTeam         ScopeKind = "team"
	ScopeUser         ScopeKind = "user"
	ScopeProject      ScopeKind = "project"
)

// Valid reports whether k is a known scope kind.
func (k ScopeKind) Valid() bool {
	switch k {
	case ScopeOrganization, ScopeTeam, ScopeUser, ScopeProject:
		return true
	}
	return false
}

// PeriodKind identifies a budget's accounting window.
type PeriodKind string

const (
	PeriodDaily     PeriodKind = "daily"
	PeriodWeekly    PeriodKind = "weekly"
	PeriodMonthly   PeriodKind = "monthly"
	PeriodQuarterly PeriodKind = "quarterly"
	PeriodAnnual    PeriodKind = "annual"
	PeriodCustom    PeriodKind = "custom"
)

// Valid reports whether k is a known period kind.
func (k PeriodKind) Valid() bool {
	switch k {
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodQuarterly, PeriodAnnual, PeriodCustom:
		return true
	}
	return false
}

// Level is the derived severity band of a budget.
type Level string

const (
	LevelNormal   Level = "normal"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
	LevelExceeded Level = "exceeded"
)

// Threshold is an alert threshold on percent used.
type Threshold struct {
	// Percentage is in [0, 100]; thresholds are strictly increasing.
	Percentage float64 `json:"percentage"`

	// Actions apply when the threshold is crossed.
	Actions []Action `json:"actions"`

	// Targets receive notifications (e-mail addresses, webhook names).
	Targets []string `json:"targets,omitempty"`
}

// Budget is a spending cap for one scope over a period.
type Budget struct {
	ID         string      `json:"id"`
	ScopeKind  ScopeKind   `json:"scope_kind"`
	ScopeID    string      `json:"scope_id"`
	Limit      float64     `json:"limit"`
	Currency   string      `json:"currency"`
	Period     PeriodKind  `json:"period"`
	Start      time.Time   `json:"start"`
	End        time.Time   `json:"end,omitzero"`
	Recurring  bool        `json:"recurring"`
	Thresholds []Threshold `json:"thresholds,omitempty"`
	ParentID   string      `json:"parent_id,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Clone returns a deep copy of b.
func (b Budget) Clone() Budget {
	out := b
	if b.Thresholds != nil {
		out.Thresholds = make([]Threshold, len(b.Thresholds))
		for i, t := range b.Thresholds {
			out.Thresholds[i] = Threshold{
				Percentage: t.Percentage,
				Actions:    append([]Action(nil), t.Actions...),
				Targets:    append([]string(nil), t.Targets...),
			}
		}
	}
	return out
}

// Attribution links a usage record to who and what incurred it.
type Attribution struct {
	RequestID string `json:"request_id,omitempty"`
	ModelID   string `json:"model_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	TaskType  string `json:"task_type,omitempty"`
}

// UsageRecord reports spend against a budget. ID is the idempotency key.
type UsageRecord struct {
	ID          string      `json:"id"`
	BudgetID    string      `json:"budget_id"`
	Amount      float64     `json:"amount"`
	Currency    string      `json:"currency"`
	Timestamp   time.Time   `json:"timestamp"`
	Source      string      `json:"source,omitempty"`
	Attribution Attribution `json:"attribution"`
}

// BudgetStatus is derived from a budget and its running total.
type BudgetStatus struct {
	BudgetID       string    `json:"budget_id"`
	Currency       string    `json:"currency"`
	CurrentAmount  float64   `json:"current_amount"`
	Limit          float64   `json:"limit"`
	PercentUsed    float64   `json:"percent_used"`
	Remaining      float64   `json:"remaining"`
	DaysRemaining  int       `json:"days_remaining"`
	BurnRate       float64   `json:"burn_rate"`
	ProjectedTotal float64   `json:"projected_total"`
	Level          Level     `json:"status"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end,omitzero"`
	ComputedAt     time.Time `json:"computed_at"`
}

// RecordResult is returned by RecordUsage.
type RecordResult struct {
	// Status is the budget status after the record was applied.
	Status BudgetStatus `json:"status"`

	// Duplicate is true when the record id was already accepted.
	Duplicate bool `json:"duplicate"`
}

// Patch is a partial budget update. Nil fields are left unchanged.
type Patch struct {
	Limit      *float64     `json:"limit,omitempty"`
	End        *time.Time   `json:"end,omitempty"`
	Recurring  *bool        `json:"recurring,omitempty"`
	Thresholds *[]Threshold `json:"thresholds,omitempty"`
	ParentID   *string      `json:"parent_id,omitempty"`
}

// ChangeKind classifies a notification sent to observers.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeUpdated  ChangeKind = "updated"
	ChangeUsage    ChangeKind = "usage"
	ChangeRollover ChangeKind = "rollover"
	ChangeDeleted  ChangeKind = "deleted"
)

// Change describes a budget status change.
type Change struct {
	Kind   ChangeKind
	Budget Budget
	Status BudgetStatus
}

// Observer is notified after every committed budget change.
type Observer interface {
	BudgetChanged(ctx context.Context, change Change)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, change Change)

// BudgetChanged implements Observer.
func (f ObserverFunc) BudgetChanged(ctx context.Context, change Change) {
	f(ctx, change)
}
