// Package monitor implements the threshold monitor.
//
// A Monitor observes the budget ledger. After every committed change it
// walks the budget's thresholds in ascending order and creates an Alert for
// each crossed threshold that has none yet in the current period. Creating
// the alert applies its enforcement actions through Handlers, one field per
// action. Alerts stay active until the period rolls over or they are
// acknowledged; the union of actions of unacknowledged alerts is the
// budget's enforcement mode, read by selection through Enforcement.
//
// Basic usage:
//
//	l := ledger.New(repo)
//	mon := monitor.New(monitor.NewMemoryStore(), l, monitor.WithAudit(sink))
//	l.AddObserver(mon)
//
//	actions, err := mon.Enforcement(ctx, status)
//	if actions.Has(ledger.ActionBlockAll) {
//		// refuse the request
//	}
package monitor
