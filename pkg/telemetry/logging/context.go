package logging

import (
	"context"
	"log/slog"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// BudgetIDKey is the context key for the budget a request is charged to.
	BudgetIDKey contextKey = "budget_id"

	// ScopeKey is the context key for the resolved scope identifier.
	ScopeKey contextKey = "scope"

	// ModelKey is the context key for model identifiers.
	ModelKey contextKey = "model"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithBudgetID adds a budget ID to the context.
func WithBudgetID(ctx context.Context, budgetID string) context.Context {
	return context.WithValue(ctx, BudgetIDKey, budgetID)
}

// GetBudgetID retrieves the budget ID from the context.
func GetBudgetID(ctx context.Context) string {
	if budgetID, ok := ctx.Value(BudgetIDKey).(string); ok {
		return budgetID
	}
	return ""
}

// WithScope adds a scope identifier to the context.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, ScopeKey, scope)
}

// GetScope retrieves the scope identifier from the context.
func GetScope(ctx context.Context) string {
	if scope, ok := ctx.Value(ScopeKey).(string); ok {
		return scope
	}
	return ""
}

// WithModel adds a model identifier to the context.
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, ModelKey, model)
}

// GetModel retrieves the model identifier from the context.
func GetModel(ctx context.Context) string {
	if model, ok := ctx.Value(ModelKey).(string); ok {
		return model
	}
	return ""
}

// contextAttrs extracts the known fields present in ctx.
func contextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr

	if v := GetRequestID(ctx); v != "" {
		attrs = append(attrs, slog.String(string(RequestIDKey), v))
	}
	if v := GetBudgetID(ctx); v != "" {
		attrs = append(attrs, slog.String(string(BudgetIDKey), v))
	}
	if v := GetScope(ctx); v != "" {
		attrs = append(attrs, slog.String(string(ScopeKey), v))
	}
	if v := GetModel(ctx); v != "" {
		attrs = append(attrs, slog.String(string(ModelKey), v))
	}

	return attrs
}
