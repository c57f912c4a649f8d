package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"mercator-hq/tollgate/pkg/faults"
)

// GroupBy selects how a usage report is bucketed.
type GroupBy string

const (
	GroupByDay     GroupBy = "day"
	GroupByWeek    GroupBy = "week"
	GroupByMonth   GroupBy = "month"
	GroupByModel   GroupBy = "model"
	GroupByUser    GroupBy = "user"
	GroupByTeam    GroupBy = "team"
	GroupByProject GroupBy = "project"
	GroupByTask    GroupBy = "task"
)

// unattributed is the group key for records missing the grouped field.
const unattributed = "unknown"

// Report summarizes usage of one budget over a time range.
type Report struct {
	BudgetID string        `json:"budget_id"`
	Currency string        `json:"currency"`
	From     time.Time     `json:"from"`
	To       time.Time     `json:"to"`
	GroupBy  GroupBy       `json:"group_by"`
	Total    float64       `json:"total"`
	Count    int           `json:"count"`
	Groups   []ReportGroup `json:"groups"`
}

// ReportGroup is one bucket of a Report.
type ReportGroup struct {
	Key        string  `json:"key"`
	Amount     float64 `json:"amount"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Report aggregates usage of a budget with from <= timestamp < to. A zero
// from defaults to the current period start, a zero to defaults to now.
func (l *Ledger) Report(ctx context.Context, budgetID string, from, to time.Time, groupBy GroupBy) (Report, error) {
	if groupBy == "" {
		groupBy = GroupByDay
	}
	keyFn, err := groupKey(groupBy)
	if err != nil {
		return Report{}, err
	}

	b, _, err := l.repo.Load(ctx, budgetID)
	if err != nil {
		return Report{}, err
	}
	if from.IsZero() {
		from = b.Start
	}
	if to.IsZero() {
		to = l.now()
	}
	if to.Before(from) {
		return Report{}, faults.Invalid("to", "must not be before from")
	}

	records, err := l.repo.ListUsage(ctx, budgetID, from, to)
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		BudgetID: budgetID,
		Currency: b.Currency,
		From:     from,
		To:       to,
		GroupBy:  groupBy,
		Groups:   []ReportGroup{},
	}

	index := make(map[string]int)
	for _, rec := range records {
		key := keyFn(rec)
		if key == "" {
			key = unattributed
		}
		i, ok := index[key]
		if !ok {
			i = len(rep.Groups)
			index[key] = i
			rep.Groups = append(rep.Groups, ReportGroup{Key: key})
		}
		rep.Groups[i].Amount += rec.Amount
		rep.Groups[i].Count++
		rep.Total += rec.Amount
		rep.Count++
	}

	for i := range rep.Groups {
		if rep.Total > 0 {
			rep.Groups[i].Percentage = rep.Groups[i].Amount * 100 / rep.Total
		}
	}
	sort.Slice(rep.Groups, func(i, j int) bool { return rep.Groups[i].Key < rep.Groups[j].Key })

	return rep, nil
}

func groupKey(g GroupBy) (func(UsageRecord) string, error) {
	switch g {
	case GroupByDay:
		return func(r UsageRecord) string { return r.Timestamp.UTC().Format("2006-01-02") }, nil
	case GroupByWeek:
		return func(r UsageRecord) string {
			year, week := r.Timestamp.UTC().ISOWeek()
			return fmt.Sprintf("%04d-W%02d", year, week)
		}, nil
	case GroupByMonth:
		return func(r UsageRecord) string { return r.Timestamp.UTC().Format("2006-01") }, nil
	case GroupByModel:
		return func(r UsageRecord) string { return r.Attribution.ModelID }, nil
	case GroupByUser:
		return func(r UsageRecord) string { return r.Attribution.UserID }, nil
	case GroupByTeam:
		return func(r UsageRecord) string { return r.Attribution.TeamID }, nil
	case GroupByProject:
		return func(r UsageRecord) string { return r.Attribution.ProjectID }, nil
	case GroupByTask:
		return func(r UsageRecord) string { return r.Attribution.TaskType }, nil
	default:
		return nil, faults.Invalid("group_by", "unknown grouping %q", g)
	}
}
