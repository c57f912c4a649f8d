package ledger

import (
	"math"
	"time"
)

const day = 24 * time.Hour

// Level thresholds on percent used.
const (
	WarningPercent  = 70.0
	CriticalPercent = 90.0
	ExceededPercent = 100.0
)

// LevelFor maps percent used to a severity band.
func LevelFor(percent float64) Level {
	switch {
	case percent >= ExceededPercent:
		return LevelExceeded
	case percent >= CriticalPercent:
		return LevelCritical
	case percent >= WarningPercent:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// ComputeStatus derives the status of b with running total current at now.
// It is a pure function; only the time-dependent fields depend on now.
func ComputeStatus(b Budget, current float64, now time.Time) BudgetStatus {
	b = withDerivedEnd(b)

	percent := 0.0
	if b.Limit > 0 {
		percent = current * 100 / b.Limit
	}

	daysRemaining := 0
	if !b.End.IsZero() && b.End.After(now) {
		daysRemaining = int(math.Ceil(float64(b.End.Sub(now)) / float64(day)))
	}

	elapsedDays := float64(now.Sub(b.Start)) / float64(day)
	burnRate := current / math.Max(1, elapsedDays)
	if burnRate < 0 {
		burnRate = 0
	}

	return BudgetStatus{
		BudgetID:       b.ID,
		Currency:       b.Currency,
		CurrentAmount:  current,
		Limit:          b.Limit,
		PercentUsed:    percent,
		Remaining:      b.Limit - current,
		DaysRemaining:  daysRemaining,
		BurnRate:       burnRate,
		ProjectedTotal: current + burnRate*float64(daysRemaining),
		Level:          LevelFor(percent),
		PeriodStart:    b.Start,
		PeriodEnd:      b.End,
		ComputedAt:     now,
	}
}
