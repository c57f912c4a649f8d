// Package ledger tracks spend against hierarchical budgets.
//
// A Budget caps spend for one scope (organization, team, user or project)
// over a period. Usage is reported as UsageRecords; the ledger keeps a running
// total per budget and derives a BudgetStatus on read.
//
// # Consistency
//
// RecordUsage is serialized per budget id: a keyed mutex inside the Ledger
// plus an atomic insert-and-increment in the Repository. Concurrent reports
// against one budget never lose updates; different budgets never contend.
//
// Usage records are idempotent by (budget id, record id). Reporting the same
// record twice leaves the total unchanged and returns Duplicate=true, so
// reconciliation keyed by request id never double counts.
//
// # Hierarchy
//
// A budget may name a parent in the same currency. Accepted usage is
// propagated to every ancestor under the derived id "<recordID>@<ancestorID>",
// which keeps propagation itself idempotent.
//
// # Periods
//
// Non-custom periods derive their end from the kind (daily, weekly, monthly,
// quarterly, annual). Recurring budgets roll over to the window containing
// "now" on the next write or status read, or when a scheduler calls
// RolloverDue. Rollover resets the running total; usage history is kept for
// reports.
//
// # Observers
//
// Observers registered with AddObserver receive every status change. The
// threshold monitor uses this hook to fire alerts.
package ledger
