// Package handlers implements the JSON API: budget management, budget
// status and reports, alerts, model selection and estimates, the catalog
// view and usage reconciliation.
//
// Errors are written with faults.WriteHTTP, so every endpoint shares one
// error body and one status mapping: validation 400, not found 404,
// selection failure 422, budget blocked 403, unavailable dependency 503.
package handlers
