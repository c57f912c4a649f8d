package ledger

import "time"

// nextEnd returns the end of the period of kind that starts at start.
// Custom periods have no derived end.
func nextEnd(kind PeriodKind, start time.Time) time.Time {
	switch kind {
	case PeriodDaily:
		return start.AddDate(0, 0, 1)
	case PeriodWeekly:
		return start.AddDate(0, 0, 7)
	case PeriodMonthly:
		return start.AddDate(0, 1, 0)
	case PeriodQuarterly:
		return start.AddDate(0, 3, 0)
	case PeriodAnnual:
		return start.AddDate(1, 0, 0)
	default:
		return time.Time{}
	}
}

// withDerivedEnd fills End for non-custom kinds when it is unset.
func withDerivedEnd(b Budget) Budget {
	if b.End.IsZero() && b.Period != PeriodCustom {
		b.End = nextEnd(b.Period, b.Start)
	}
	return b
}

// rolloverWindow returns the window containing now for a recurring budget
// whose current window has ended. ok is false when no rollover is due.
func rolloverWindow(b Budget, now time.Time) (start, end time.Time, ok bool) {
	if !b.Recurring || b.End.IsZero() || now.Before(b.End) {
		return time.Time{}, time.Time{}, false
	}

	start, end = b.Start, b.End
	length := end.Sub(start)
	if length <= 0 {
		return time.Time{}, time.Time{}, false
	}

	for !now.Before(end) {
		start = end
		if b.Period == PeriodCustom {
			end = start.Add(length)
		} else {
			end = nextEnd(b.Period, start)
		}
	}
	return start, end, true
}
