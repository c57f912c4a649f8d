package ledger

import (
	"fmt"
	"math"
	"strings"

	"mercator-hq/tollgate/pkg/faults"
)

// normalizeCurrency upper-cases a currency code.
func normalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

func validCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// validateBudget checks a budget definition in isolation. Parent checks need
// the repository and live in the Ledger.
func validateBudget(b Budget) error {
	if strings.TrimSpace(b.ID) == "" {
		return faults.Invalid("id", "must not be empty")
	}
	if strings.Contains(b.ID, "@") {
		return faults.Invalid("id", "must not contain '@'")
	}
	if !b.ScopeKind.Valid() {
		return faults.Invalid("scope_kind", "unknown scope kind %q", b.ScopeKind)
	}
	if strings.TrimSpace(b.ScopeID) == "" {
		return faults.Invalid("scope_id", "must not be empty")
	}
	if b.Limit <= 0 || math.IsNaN(b.Limit) || math.IsInf(b.Limit, 0) {
		return faults.Invalid("limit", "must be a positive number")
	}
	if !validCurrency(b.Currency) {
		return faults.Invalid("currency", "must be a three-letter ISO 4217 code, got %q", b.Currency)
	}
	if !b.Period.Valid() {
		return faults.Invalid("period", "unknown period kind %q", b.Period)
	}
	if b.Start.IsZero() {
		return faults.Invalid("start", "must be set")
	}
	if !b.End.IsZero() && b.End.Before(b.Start) {
		return faults.Invalid("end", "must not be before start")
	}
	if b.Recurring && b.Period == PeriodCustom && (b.End.IsZero() || !b.End.After(b.Start)) {
		return faults.Invalid("end", "recurring custom periods need an end after start")
	}
	if b.ParentID == b.ID {
		return faults.Invalid("parent_id", "budget cannot be its own parent")
	}

	prev := -1.0
	for i, t := range b.Thresholds {
		field := fmt.Sprintf("thresholds[%d]", i)
		if t.Percentage < 0 || t.Percentage > 100 || math.IsNaN(t.Percentage) {
			return faults.Invalid(field+".percentage", "must be between 0 and 100")
		}
		if t.Percentage <= prev {
			return faults.Invalid(field+".percentage", "thresholds must be strictly increasing")
		}
		prev = t.Percentage
		if len(t.Actions) == 0 {
			return faults.Invalid(field+".actions", "must list at least one action")
		}
		for j, a := range t.Actions {
			if !a.Valid() {
				return faults.Invalid(fmt.Sprintf("%s.actions[%d]", field, j), "unknown action")
			}
		}
	}

	return nil
}

// validateUsage checks a usage record against its budget.
func validateUsage(rec UsageRecord, b Budget) error {
	if strings.TrimSpace(rec.ID) == "" {
		return faults.Invalid("id", "must not be empty")
	}
	if rec.Amount < 0 || math.IsNaN(rec.Amount) || math.IsInf(rec.Amount, 0) {
		return faults.Invalid("amount", "must be a non-negative number")
	}
	if normalizeCurrency(rec.Currency) != b.Currency {
		return faults.Invalid("currency", "usage currency %q does not match budget currency %q", rec.Currency, b.Currency)
	}
	return nil
}
