package selection

import (
	"mercator-hq/tollgate/pkg/faults"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/tokens"
)

// QualityRequirement states how much the caller cares about output quality.
type QualityRequirement string

const (
	QualityStandard QualityRequirement = "standard"
	QualityHigh     QualityRequirement = "high"
	QualityMaximum  QualityRequirement = "maximum"
)

// Valid reports whether q is a known requirement. Empty means standard.
func (q QualityRequirement) Valid() bool {
	switch q {
	case "", QualityStandard, QualityHigh, QualityMaximum:
		return true
	}
	return false
}

// Priority is the caller's budget priority hint.
type Priority string

const (
	PriorityCostSaving   Priority = "cost-saving"
	PriorityBalanced     Priority = "balanced"
	PriorityQualityFirst Priority = "quality-first"
)

// Valid reports whether p is a known priority. Empty means balanced.
func (p Priority) Valid() bool {
	switch p {
	case "", PriorityCostSaving, PriorityBalanced, PriorityQualityFirst:
		return true
	}
	return false
}

// TaskType classifies what a request asks the model to do.
type TaskType string

const (
	TaskGeneral   TaskType = "general"
	TaskCode      TaskType = "code"
	TaskMath      TaskType = "math"
	TaskSummarize TaskType = "summarize"
	TaskTranslate TaskType = "translate"
	TaskAnalyze   TaskType = "analyze"
	TaskCreative  TaskType = "creative"
	TaskReasoning TaskType = "reasoning"
	TaskQuestion  TaskType = "question"
)

// Valid reports whether t is a known task type. Empty means general.
func (t TaskType) Valid() bool {
	if t == "" {
		return true
	}
	_, ok := taskProfiles[t]
	return ok
}

// Specialized reports whether t is anything other than general.
func (t TaskType) Specialized() bool {
	return t != "" && t != TaskGeneral
}

// Reason explains why a model was passed over.
type Reason string

const (
	ReasonLowerScore            Reason = "lower-score"
	ReasonExcluded              Reason = "excluded"
	ReasonMissingCapability     Reason = "missing-capability"
	ReasonBudgetExceeded        Reason = "budget-exceeded"
	ReasonQualityBelowThreshold Reason = "quality-below-threshold"
	ReasonInactive              Reason = "inactive"
	ReasonCurrencyMismatch      Reason = "currency-mismatch"
	ReasonRestricted            Reason = "restricted-by-policy"
)

// ImpactTier buckets a selection's share of the remaining budget.
type ImpactTier string

const (
	ImpactLow    ImpactTier = "low"
	ImpactMedium ImpactTier = "medium"
	ImpactHigh   ImpactTier = "high"
)

// Constraints are the caller's hard requirements.
type Constraints struct {
	// PreferredModel wins outright when it survives the hard filters.
	PreferredModel string `json:"preferred_model,omitempty"`

	// ExcludedModels are never selected.
	ExcludedModels []string `json:"excluded_models,omitempty"`

	// MaxCost caps the estimated request cost. Zero means no cap.
	MaxCost float64 `json:"max_cost,omitempty"`

	// MinQuality is the minimum task quality score (0-100).
	MinQuality float64 `json:"min_quality,omitempty"`

	// RequiredCapabilities must all be present on the model.
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
}

// Request is a selection request.
type Request struct {
	ID       string             `json:"request_id,omitempty"`
	BudgetID string             `json:"budget_id,omitempty"`
	Messages []tokens.Message   `json:"messages,omitempty"`
	Prompt   string             `json:"prompt,omitempty"`
	TaskType TaskType           `json:"task_type,omitempty"`
	Quality  QualityRequirement `json:"quality,omitempty"`
	Priority Priority           `json:"priority,omitempty"`

	Constraints Constraints `json:"constraints"`

	// InputTokens and OutputTokens override the estimator when positive.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	// MaxTokens bounds the completion estimate when OutputTokens is unset.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Approved lets the request through require-approval enforcement.
	Approved bool `json:"approved,omitempty"`
}

// Validate checks request fields.
func (r Request) Validate() error {
	switch {
	case !r.TaskType.Valid():
		return faults.Invalid("task_type", "unknown task type %q", r.TaskType)
	case !r.Quality.Valid():
		return faults.Invalid("quality", "unknown quality requirement %q", r.Quality)
	case !r.Priority.Valid():
		return faults.Invalid("priority", "unknown priority %q", r.Priority)
	case r.Constraints.MaxCost < 0:
		return faults.Invalid("constraints.max_cost", "must not be negative")
	case r.Constraints.MinQuality < 0 || r.Constraints.MinQuality > 100:
		return faults.Invalid("constraints.min_quality", "must be between 0 and 100")
	case r.InputTokens < 0 || r.OutputTokens < 0 || r.MaxTokens < 0:
		return faults.Invalid("tokens", "token counts must not be negative")
	}
	return nil
}

func (r Request) task() TaskType {
	if r.TaskType == "" {
		return TaskGeneral
	}
	return r.TaskType
}

func (r Request) quality() QualityRequirement {
	if r.Quality == "" {
		return QualityStandard
	}
	return r.Quality
}

// CostBreakdown is the estimated cost of a request on one model.
type CostBreakdown struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	InputCost    float64 `json:"input_cost"`
	OutputCost   float64 `json:"output_cost"`
	Total        float64 `json:"total"`
	Currency     string  `json:"currency"`
}

// CostEstimate pairs a model with its cost breakdown.
type CostEstimate struct {
	Model    string `json:"model"`
	Provider string `json:"provider"`
	CostBreakdown
}

// Impact describes how much of the remaining budget a selection consumes.
type Impact struct {
	BudgetID           string     `json:"budget_id,omitempty"`
	PercentOfRemaining float64    `json:"percent_of_remaining"`
	Tier               ImpactTier `json:"tier,omitempty"`
}

// Alternative is a model that was not chosen.
type Alternative struct {
	Model         string  `json:"model"`
	Reason        Reason  `json:"reason"`
	Score         float64 `json:"score,omitempty"`
	EstimatedCost float64 `json:"estimated_cost"`
	CostDelta     float64 `json:"cost_delta"`
	QualityDelta  float64 `json:"quality_delta"`
}

// Response is the outcome of a selection.
type Response struct {
	RequestID       string        `json:"request_id,omitempty"`
	Model           string        `json:"model"`
	Provider        string        `json:"provider"`
	Alternatives    []Alternative `json:"alternatives"`
	Rationale       string        `json:"rationale"`
	Cost            CostBreakdown `json:"cost"`
	Impact          Impact        `json:"impact"`
	ExpectedQuality float64       `json:"expected_quality"`
	FallbackChain   []string      `json:"fallback_chain"`
	Weights         Weights       `json:"weights"`
	Score           float64       `json:"score"`
	Preferred       bool          `json:"preferred,omitempty"`

	// Degraded is set when selection ran without budget awareness.
	Degraded bool `json:"degraded,omitempty"`

	// Enforcement is the action set the selection ran under.
	Enforcement ledger.ActionSet `json:"-"`
}
