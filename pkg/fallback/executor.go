package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"mercator-hq/tollgate/pkg/catalog"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/faults"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/selection"
	"mercator-hq/tollgate/pkg/telemetry/logging"
)

// Call invokes the provider with one model.
type Call func(ctx context.Context, m catalog.Model) error

// Attempt records one model tried by Run.
type Attempt struct {
	Model  string `json:"model"`
	Reason Reason `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Outcome is the result of Run.
type Outcome struct {
	// Model is the model whose call succeeded, or "" on failure.
	Model    string    `json:"model,omitempty"`
	Attempts []Attempt `json:"attempts"`
}

// Executor runs provider calls through the fallback chain.
type Executor struct {
	resolver    *Resolver
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	breakerFailures uint32
	breakerTimeout  time.Duration
	mu              sync.Mutex
	breakers        map[string]*gobreaker.CircuitBreaker

	jitter func() float64
	logger *slog.Logger
}

// NewExecutor creates an Executor from the fallback config section. Zero
// fields take their defaults.
func NewExecutor(resolver *Resolver, cfg config.FallbackConfig, logger *slog.Logger) *Executor {
	e := &Executor{
		resolver:        resolver,
		maxAttempts:     cfg.MaxAttempts,
		baseDelay:       cfg.BaseDelay,
		maxDelay:        cfg.MaxDelay,
		breakerFailures: uint32(max(cfg.BreakerFailures, 0)),
		breakerTimeout:  cfg.BreakerTimeout,
		breakers:        make(map[string]*gobreaker.CircuitBreaker),
		jitter:          rand.Float64,
		logger:          logging.Component(logger, "fallback.executor"),
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = config.DefaultFallbackMaxAttempts
	}
	if e.baseDelay <= 0 {
		e.baseDelay = config.DefaultFallbackBaseDelay
	}
	if e.maxDelay <= 0 {
		e.maxDelay = config.DefaultFallbackMaxDelay
	}
	if e.breakerFailures == 0 {
		e.breakerFailures = config.DefaultFallbackBreakerFailures
	}
	if e.breakerTimeout <= 0 {
		e.breakerTimeout = config.DefaultFallbackBreakerTimeout
	}
	return e
}

// Run calls primary and, on failure, the models the Resolver yields, until
// a call succeeds, maxAttempts calls have failed, or the chain is
// exhausted. Models with an open circuit are skipped without using an
// attempt. Failures are recorded into the engine's history. enforcement is
// the action set primary was selected under.
func (e *Executor) Run(ctx context.Context, req selection.Request, status *ledger.BudgetStatus, enforcement ledger.ActionSet, primary string, call Call) (Outcome, error) {
	var out Outcome

	snap, err := e.resolver.catalog.Snapshot(ctx)
	if err != nil {
		return out, err
	}
	current, err := snap.Get(primary)
	if err != nil {
		return out, err
	}

	history := e.resolver.engine.History()
	task := req.TaskType
	var tried []string
	rejected := make(map[string]string)

	for attempts := 0; ; {
		tried = append(tried, current.ID)

		err := e.invoke(ctx, current, call)
		if err == nil {
			out.Model = current.ID
			out.Attempts = append(out.Attempts, Attempt{Model: current.ID})
			return out, nil
		}

		reason := Classify(err)
		out.Attempts = append(out.Attempts, Attempt{Model: current.ID, Reason: reason, Error: err.Error()})
		rejected[current.ID] = string(reason)
		if reason != ReasonCircuitOpen {
			attempts++
		}
		if reason != ReasonBudgetBlock && reason != ReasonCircuitOpen {
			history.Record(current.ID, task, false)
		}
		e.logger.WarnContext(ctx, "provider call failed",
			"request_id", req.ID, "model", current.ID, "reason", reason, "attempt", attempts, "error", err)

		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if attempts >= e.maxAttempts {
			return out, &faults.SelectionFailureError{
				Reason:   fmt.Sprintf("gave up after %d attempts", attempts),
				Rejected: rejected,
			}
		}

		next, err := e.resolver.Next(ctx, req, status, enforcement, primary, tried, reason)
		if err != nil {
			return out, err
		}

		if reason != ReasonBudgetBlock && reason != ReasonCircuitOpen {
			if err := sleep(ctx, e.backoff(attempts-1)); err != nil {
				return out, err
			}
		}
		current = next
	}
}

func (e *Executor) invoke(ctx context.Context, m catalog.Model, call Call) error {
	_, err := e.breaker(m.ID).Execute(func() (interface{}, error) {
		return nil, call(ctx, m)
	})
	return err
}

// BreakerState returns the circuit state of a model ("closed", "open",
// "half-open").
func (e *Executor) BreakerState(modelID string) string {
	return e.breaker(modelID).State().String()
}

func (e *Executor) breaker(modelID string) *gobreaker.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[modelID]; ok {
		return cb
	}
	failures := e.breakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        modelID,
		MaxRequests: 1,
		Timeout:     e.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Policy refusals and caller cancellation say nothing about the
		// provider's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, faults.ErrBudgetBlocked) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("circuit breaker state changed", "model", name, "from", from.String(), "to", to.String())
		},
	})
	e.breakers[modelID] = cb
	return cb
}

// backoff returns baseDelay·2^n capped at maxDelay, with ±25% jitter.
func (e *Executor) backoff(n int) time.Duration {
	d := float64(e.baseDelay) * math.Pow(2, float64(n))
	if d > float64(e.maxDelay) {
		d = float64(e.maxDelay)
	}
	d *= 1 + (e.jitter()*0.5 - 0.25)
	return time.Duration(d)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
