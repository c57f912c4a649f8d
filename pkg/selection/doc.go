// Package selection picks the model for a generation request.
//
// The Engine is a pure function of the request, the caller's budget status,
// the enforcement actions in effect and the candidate models:
//
//  1. Hard filters drop excluded, inactive, wrong-currency, incapable,
//     over-cost and under-quality models. Enforcement restrict-models then
//     keeps the cheaper half. An empty set is a SelectionFailure.
//  2. Each survivor is scored as
//     Wb·budgetScore + Wq·qualityScore + Wt·taskScore + Wh·historyScore,
//     with weights adjusted per request by a WeightConfig breakpoint table
//     and normalized to sum to 1.
//  3. The highest score wins. Scores within 1e-9 tie and are broken by lower
//     estimated cost, then by the lexically smaller model id. A preferred
//     model that survives the filters wins outright.
//
// The Service wraps the Engine with the lookups a live request needs. Budget
// status and enforcement are read under a short deadline; if the deadline
// expires or the ledger is unavailable the selection still runs, without
// cost awareness, and the response is marked Degraded.
//
// Basic usage:
//
//	engine := selection.NewEngineFromConfig(cfg.Selection, selection.NewHistory())
//	svc := selection.NewService(engine, cat, ledger, monitor,
//	    selection.WithAudit(sink),
//	    selection.WithStatusTimeout(cfg.Selection.StatusTimeout),
//	)
//	resp, err := svc.Select(ctx, selection.Request{BudgetID: "team-a", Prompt: prompt})
package selection
