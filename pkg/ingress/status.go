package ingress

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/faults"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/telemetry/logging"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
)

const statusCacheName = "ingress_status"

// ScopeResolver finds the most constrained budget of a scope.
type ScopeResolver interface {
	MostConstrained(ctx context.Context, kind ledger.ScopeKind, scopeID string) (ledger.BudgetStatus, error)
}

// StatusSource serves scope status from a short-lived cache. Concurrent
// misses for one scope share a single lookup, each lookup is bounded by a
// timeout, and a circuit breaker stops hammering a failing ledger.
//
// Cached entries may be stale by at most the TTL. Registering the source
// as a ledger observer evicts a scope as soon as one of its budgets
// changes.
type StatusSource struct {
	resolver ScopeResolver
	cache    *expirable.LRU[string, ledger.BudgetStatus]
	group    singleflight.Group
	breaker  *gobreaker.CircuitBreaker
	timeout  time.Duration

	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewStatusSource creates a StatusSource from the ingress config section.
// Zero fields take their defaults.
func NewStatusSource(resolver ScopeResolver, cfg config.IngressConfig, m *metrics.Collector, logger *slog.Logger) *StatusSource {
	size := cfg.CacheSize
	if size <= 0 {
		size = config.DefaultIngressCacheSize
	}
	ttl := cfg.StatusTTL
	if ttl <= 0 {
		ttl = config.DefaultIngressStatusTTL
	}
	timeout := cfg.StatusTimeout
	if timeout <= 0 {
		timeout = config.DefaultIngressStatusTimeout
	}

	s := &StatusSource{
		resolver: resolver,
		cache:    expirable.NewLRU[string, ledger.BudgetStatus](size, nil, ttl),
		timeout:  timeout,
		metrics:  m,
		logger:   logging.Component(logger, "ingress.status"),
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ingress-status",
		MaxRequests: 1,
		Timeout:     config.DefaultFallbackBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.DefaultFallbackBreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// A scope without budgets is an answer, not an outage.
			return err == nil || errors.Is(err, faults.ErrNotFound) || errors.Is(err, faults.ErrValidation)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("status breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	return s
}

func scopeKey(kind ledger.ScopeKind, scopeID string) string {
	return string(kind) + "/" + scopeID
}

// Status returns the most constrained budget status of a scope. Timeouts,
// ledger failures and an open breaker are reported as ExternalUnavailable;
// a scope without budgets is NotFound.
func (s *StatusSource) Status(ctx context.Context, kind ledger.ScopeKind, scopeID string) (ledger.BudgetStatus, error) {
	key := scopeKey(kind, scopeID)
	if st, ok := s.cache.Get(key); ok {
		s.metrics.RecordCacheHit(statusCacheName)
		return st, nil
	}
	s.metrics.RecordCacheMiss(statusCacheName)

	ch := s.group.DoChan(key, func() (interface{}, error) {
		// The lookup outlives any single caller; its own timeout bounds it.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		v, err := s.breaker.Execute(func() (interface{}, error) {
			return s.resolver.MostConstrained(lctx, kind, scopeID)
		})
		if err != nil {
			return nil, err
		}
		st := v.(ledger.BudgetStatus)
		s.cache.Add(key, st)
		return st, nil
	})

	select {
	case <-ctx.Done():
		return ledger.BudgetStatus{}, faults.Unavailable("ledger", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return ledger.BudgetStatus{}, classify(res.Err)
		}
		return res.Val.(ledger.BudgetStatus), nil
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, faults.ErrNotFound), errors.Is(err, faults.ErrValidation), errors.Is(err, faults.ErrExternalUnavailable):
		return err
	}
	// Timeouts, storage errors and an open breaker.
	return faults.Unavailable("ledger", err)
}

// Invalidate drops the cached status of a scope.
func (s *StatusSource) Invalidate(kind ledger.ScopeKind, scopeID string) {
	s.cache.Remove(scopeKey(kind, scopeID))
}

// BudgetChanged evicts the changed budget's scope.
func (s *StatusSource) BudgetChanged(_ context.Context, change ledger.Change) {
	s.Invalidate(change.Budget.ScopeKind, change.Budget.ScopeID)
}

// BreakerState returns the status breaker state.
func (s *StatusSource) BreakerState() string {
	return s.breaker.State().String()
}
