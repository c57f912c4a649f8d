// Package health serves the liveness and readiness probes.
//
// /health reports whether the process is up and, with ?ready=1 or on
// /ready, runs every registered component check concurrently. A failing
// check turns readiness into "degraded" (503) but never affects liveness:
// Tollgate keeps forwarding traffic in fail-open mode while the catalog or
// ledger is unavailable.
//
// Component checks for the catalog, the ledger and the status circuit
// breaker are in checks.go.
package health
