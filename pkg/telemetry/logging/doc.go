// Package logging configures structured logging for Tollgate.
//
// The package wraps log/slog:
//   - JSON or text output with a configurable minimum level
//   - A context-aware handler that copies request, budget, scope and model
//     identifiers from the context into every record
//
// # Usage
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json"})
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger)
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	ctx = logging.WithBudgetID(ctx, "team-ml")
//	logger.InfoContext(ctx, "model selected", "model", "gpt-4o-mini")
//	// {"level":"INFO","msg":"model selected","model":"gpt-4o-mini","request_id":"req-123","budget_id":"team-ml"}
package logging
