// Package fallback advances a request through a model's static fallback
// chain when the provider call fails.
//
// The Resolver answers "which model next": the first model in the primary's
// chain that has not been tried and still passes the request's hard filters.
// When none is left it returns a terminal SelectionFailure; it never walks
// past the primary's own chain, so resolution takes at most len(chain)
// steps.
//
// The Executor drives the provider calls. Timeouts, rate limits and
// provider errors advance to the next model after an exponential backoff
// with jitter. A budget block advances immediately and is never retried on
// the same model. Each model has its own circuit breaker; a model whose
// breaker is open is skipped without spending an attempt.
package fallback
