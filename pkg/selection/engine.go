package selection

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"mercator-hq/tollgate/pkg/catalog"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/faults"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/tokens"
)

// scoreEpsilon is the tolerance under which two scores tie.
const scoreEpsilon = 1e-9

// Engine scores catalog models for a request. It holds no per-request
// state and is safe for concurrent use.
type Engine struct {
	weights         WeightConfig
	history         *History
	estimator       *tokens.Estimator
	maxAlternatives int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithWeights sets the weight adjustment breakpoints.
func WithWeights(wc WeightConfig) EngineOption {
	return func(e *Engine) { e.weights = wc }
}

// WithHistory sets the outcome history feeding historyScore.
func WithHistory(h *History) EngineOption {
	return func(e *Engine) { e.history = h }
}

// WithEstimator sets the token estimator.
func WithEstimator(est *tokens.Estimator) EngineOption {
	return func(e *Engine) { e.estimator = est }
}

// WithMaxAlternatives caps the alternatives in a response.
func WithMaxAlternatives(n int) EngineOption {
	return func(e *Engine) {
		if n >= 0 {
			e.maxAlternatives = n
		}
	}
}

// NewEngine creates an Engine with default weights, an empty history and a
// 4 chars/token estimator.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		weights:         DefaultWeightConfig(),
		history:         NewHistory(),
		estimator:       tokens.New(0),
		maxAlternatives: config.DefaultMaxAlternatives,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewEngineFromConfig creates an Engine from the selection config section.
func NewEngineFromConfig(cfg config.SelectionConfig, history *History) *Engine {
	return NewEngine(
		WithWeights(WeightConfigFrom(cfg.Weights)),
		WithHistory(history),
		WithEstimator(tokens.New(cfg.CharsPerToken)),
		WithMaxAlternatives(cfg.MaxAlternatives),
	)
}

// History returns the engine's outcome history.
func (e *Engine) History() *History {
	return e.history
}

// Estimate returns the token estimate for a request. Explicit token counts
// on the request take precedence.
func (e *Engine) Estimate(req Request) tokens.Estimate {
	est := e.estimator.EstimateRequest(req.Messages, req.Prompt, req.MaxTokens)
	if req.InputTokens > 0 {
		est.PromptTokens = req.InputTokens
		est.CompletionTokens = e.estimator.EstimateCompletion(req.InputTokens, req.MaxTokens)
	}
	if req.OutputTokens > 0 {
		est.CompletionTokens = req.OutputTokens
	}
	est.TotalTokens = est.PromptTokens + est.CompletionTokens
	return est
}

func breakdown(m catalog.Model, est tokens.Estimate) CostBreakdown {
	in := float64(est.PromptTokens) * m.InputCostPerToken
	out := float64(est.CompletionTokens) * m.OutputCostPerToken
	return CostBreakdown{
		InputTokens:  est.PromptTokens,
		OutputTokens: est.CompletionTokens,
		InputCost:    in,
		OutputCost:   out,
		Total:        in + out,
		Currency:     m.Currency,
	}
}

// EstimateCosts prices a request on each model without selecting. Results
// are ordered by total cost, then id.
func (e *Engine) EstimateCosts(req Request, models []catalog.Model) []CostEstimate {
	est := e.Estimate(req)
	out := make([]CostEstimate, 0, len(models))
	for _, m := range models {
		out = append(out, CostEstimate{Model: m.ID, Provider: m.Provider, CostBreakdown: breakdown(m, est)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total < out[j].Total
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// Admit applies the hard filters to one model and returns the rejection
// reason, or "" when the model is admissible for the request. A nil status
// skips the currency check.
func (e *Engine) Admit(req Request, status *ledger.BudgetStatus, m catalog.Model) Reason {
	return e.admit(req, status, m, breakdown(m, e.Estimate(req)).Total)
}

func (e *Engine) admit(req Request, status *ledger.BudgetStatus, m catalog.Model, cost float64) Reason {
	c := req.Constraints
	switch {
	case containsID(c.ExcludedModels, m.ID):
		return ReasonExcluded
	case m.Status != catalog.StatusActive && m.ID != c.PreferredModel:
		return ReasonInactive
	case status != nil && status.Currency != "" && !strings.EqualFold(m.Currency, status.Currency):
		return ReasonCurrencyMismatch
	case !m.HasCapabilities(c.RequiredCapabilities...):
		return ReasonMissingCapability
	case c.MaxCost > 0 && cost > c.MaxCost:
		return ReasonBudgetExceeded
	case TaskQuality(m, req.task()) < c.MinQuality:
		return ReasonQualityBelowThreshold
	}
	return ""
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// Permitted returns the ids of the candidates that may serve req: those
// passing the hard filters and, under restrict-models, in the cheaper half
// of them.
func (e *Engine) Permitted(req Request, status *ledger.BudgetStatus, enforcement ledger.ActionSet, candidates []catalog.Model) map[string]bool {
	est := e.Estimate(req)
	var survivors []*candidate
	for _, m := range candidates {
		c := &candidate{model: m, cost: breakdown(m, est)}
		if e.admit(req, status, m, c.cost.Total) == "" {
			survivors = append(survivors, c)
		}
	}
	if enforcement.Has(ledger.ActionRestrictModels) && len(survivors) > 1 {
		survivors, _ = cheaperHalf(survivors)
	}

	out := make(map[string]bool, len(survivors))
	for _, c := range survivors {
		out[c.model.ID] = true
	}
	return out
}

// cheaperHalf orders survivors by cost, then id, and splits off the more
// expensive half. An odd count keeps the middle candidate.
func cheaperHalf(survivors []*candidate) (keep, drop []*candidate) {
	sort.SliceStable(survivors, func(i, j int) bool {
		if survivors[i].cost.Total != survivors[j].cost.Total {
			return survivors[i].cost.Total < survivors[j].cost.Total
		}
		return survivors[i].model.ID < survivors[j].model.ID
	})
	n := (len(survivors) + 1) / 2
	return survivors[:n], survivors[n:]
}

type candidate struct {
	model   catalog.Model
	cost    CostBreakdown
	quality float64
	score   float64
	reason  Reason
}

// ranked orders by score, then lower cost, then smaller id.
func ranked(a, b *candidate) bool {
	if math.Abs(a.score-b.score) > scoreEpsilon {
		return a.score > b.score
	}
	if a.cost.Total != b.cost.Total {
		return a.cost.Total < b.cost.Total
	}
	return a.model.ID < b.model.ID
}

// Select picks a model for req among candidates. A nil status selects
// without budget awareness. Enforcement block-all, and require-approval for
// unapproved requests, fail with BudgetBlocked.
func (e *Engine) Select(req Request, status *ledger.BudgetStatus, enforcement ledger.ActionSet, candidates []catalog.Model) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, err
	}

	budgetID := req.BudgetID
	if status != nil {
		budgetID = status.BudgetID
	}
	if enforcement.Has(ledger.ActionBlockAll) {
		return Response{}, &faults.BudgetBlockedError{BudgetID: budgetID, Action: ledger.ActionBlockAll.String()}
	}
	if enforcement.Has(ledger.ActionRequireApproval) && !req.Approved {
		return Response{}, &faults.BudgetBlockedError{BudgetID: budgetID, Action: ledger.ActionRequireApproval.String()}
	}

	task := req.task()
	est := e.Estimate(req)

	models := append([]catalog.Model(nil), candidates...)
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })

	var survivors, rejected []*candidate
	admitted := make(map[string]bool, len(models))
	for _, m := range models {
		c := &candidate{model: m, cost: breakdown(m, est), quality: TaskQuality(m, task)}
		if c.reason = e.admit(req, status, m, c.cost.Total); c.reason != "" {
			rejected = append(rejected, c)
			continue
		}
		admitted[m.ID] = true
		survivors = append(survivors, c)
	}

	if enforcement.Has(ledger.ActionRestrictModels) && len(survivors) > 1 {
		var dropped []*candidate
		survivors, dropped = cheaperHalf(survivors)
		for _, c := range dropped {
			c.reason = ReasonRestricted
			delete(admitted, c.model.ID)
			rejected = append(rejected, c)
		}
	}

	if len(survivors) == 0 {
		fail := &faults.SelectionFailureError{
			Reason:   "no model satisfies the request constraints",
			Rejected: make(map[string]string, len(rejected)),
		}
		for _, c := range rejected {
			fail.Rejected[c.model.ID] = string(c.reason)
		}
		if len(models) == 0 {
			fail.Reason = "no candidate models"
		}
		return Response{}, fail
	}

	costAware := status != nil
	level := ledger.LevelNormal
	if costAware {
		level = status.Level
	}
	weights := e.weights.Adjust(WeightContext{
		CostAware:      costAware,
		Level:          level,
		Quality:        req.quality(),
		Task:           task,
		HistorySamples: e.history.Samples(task),
	})
	blend := tradeoff(req.quality(), level, req.Priority, enforcement.Has(ledger.ActionAutoDowngrade))

	minCost := survivors[0].cost.Total
	for _, c := range survivors[1:] {
		minCost = math.Min(minCost, c.cost.Total)
	}
	for _, c := range survivors {
		eff := costEfficiency(c.cost.Total, minCost)
		budget := eff
		if costAware {
			budget = eff / budgetPenalty(c.cost.Total, status.Remaining)
		}
		quality := blend*c.quality + (1-blend)*eff
		c.score = weights.Budget*budget +
			weights.Quality*quality +
			weights.Task*taskScore(c.model, task) +
			weights.History*e.history.Score(c.model.ID, task)
	}
	sort.SliceStable(survivors, func(i, j int) bool { return ranked(survivors[i], survivors[j]) })

	preferred := false
	if id := req.Constraints.PreferredModel; id != "" {
		for i, c := range survivors {
			if c.model.ID == id {
				copy(survivors[1:i+1], survivors[:i])
				survivors[0] = c
				preferred = true
				break
			}
		}
	}
	winner := survivors[0]

	resp := Response{
		RequestID:       req.ID,
		Model:           winner.model.ID,
		Provider:        winner.model.Provider,
		Cost:            winner.cost,
		ExpectedQuality: winner.quality,
		Weights:         weights,
		Score:           winner.score,
		Preferred:       preferred,
		Impact:          Impact{BudgetID: budgetID},
		FallbackChain:   []string{},
		Alternatives:    []Alternative{},
		Enforcement:     enforcement,
	}
	if costAware {
		pct := 100.0
		if status.Remaining > 0 {
			pct = winner.cost.Total / status.Remaining * 100
		}
		resp.Impact.PercentOfRemaining = pct
		resp.Impact.Tier = impactTier(pct)
	}
	for _, id := range winner.model.Fallbacks {
		if admitted[id] {
			resp.FallbackChain = append(resp.FallbackChain, id)
		}
	}

	passedOver := make([]*candidate, 0, len(survivors)-1+len(rejected))
	for _, c := range survivors[1:] {
		c.reason = ReasonLowerScore
		passedOver = append(passedOver, c)
	}
	passedOver = append(passedOver, rejected...)
	for _, c := range passedOver {
		if len(resp.Alternatives) >= e.maxAlternatives {
			break
		}
		alt := Alternative{
			Model:         c.model.ID,
			Reason:        c.reason,
			EstimatedCost: c.cost.Total,
			CostDelta:     c.cost.Total - winner.cost.Total,
			QualityDelta:  c.quality - winner.quality,
		}
		if c.reason == ReasonLowerScore {
			alt.Score = c.score
		}
		resp.Alternatives = append(resp.Alternatives, alt)
	}

	resp.Rationale = rationale(resp, status, len(survivors), len(models), blend)
	return resp, nil
}

func rationale(resp Response, status *ledger.BudgetStatus, survived, total int, blend float64) string {
	parts := make([]string, 0, 4)
	if resp.Preferred {
		parts = append(parts, fmt.Sprintf("preferred model %s honored", resp.Model))
	} else {
		parts = append(parts, fmt.Sprintf("%s scored highest (%.2f)", resp.Model, resp.Score))
	}
	parts = append(parts, fmt.Sprintf("task quality %.1f at estimated cost %.6f %s (quality/cost tradeoff %.2f)",
		resp.ExpectedQuality, resp.Cost.Total, resp.Cost.Currency, blend))
	if status != nil {
		parts = append(parts, fmt.Sprintf("budget %s is %s at %.1f%% used, impact %s",
			status.BudgetID, status.Level, status.PercentUsed, resp.Impact.Tier))
	} else {
		parts = append(parts, "budget status unavailable, selected without cost awareness")
	}
	parts = append(parts, fmt.Sprintf("%d of %d candidates passed filters", survived, total))
	return strings.Join(parts, "; ")
}
