package selection

import (
	"sort"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/ledger"
)

// Weights are the factor weights of the selection score. Applied weights
// always sum to 1.
type Weights struct {
	Budget  float64 `json:"budget"`
	Quality float64 `json:"quality"`
	Task    float64 `json:"task"`
	History float64 `json:"history"`
}

func (w Weights) sum() float64 {
	return w.Budget + w.Quality + w.Task + w.History
}

func (w Weights) normalize() Weights {
	s := w.sum()
	if s <= 0 {
		return Weights{Budget: 0.25, Quality: 0.25, Task: 0.25, History: 0.25}
	}
	return Weights{
		Budget:  w.Budget / s,
		Quality: w.Quality / s,
		Task:    w.Task / s,
		History: w.History / s,
	}
}

// HistoryBoost raises the history weight once a task type has at least
// MinSamples recorded outcomes.
type HistoryBoost struct {
	MinSamples int
	Boost      float64
}

// WeightConfig is the breakpoint table driving weight adjustment.
type WeightConfig struct {
	BudgetLevelBoost     map[ledger.Level]float64
	QualityBoost         map[QualityRequirement]float64
	SpecializedTaskBoost float64
	HistoryBoosts        []HistoryBoost
}

// DefaultWeightConfig returns the built-in breakpoints.
func DefaultWeightConfig() WeightConfig {
	return WeightConfigFrom(config.WeightsConfig{})
}

// WeightConfigFrom converts the configuration section, filling empty fields
// with defaults.
func WeightConfigFrom(c config.WeightsConfig) WeightConfig {
	if c.BudgetLevelBoost == nil {
		c.BudgetLevelBoost = config.DefaultBudgetLevelBoost()
	}
	if c.QualityBoost == nil {
		c.QualityBoost = config.DefaultQualityBoost()
	}
	if c.SpecializedTaskBoost == 0 {
		c.SpecializedTaskBoost = config.DefaultSpecializedTaskBoost
	}
	if c.HistoryBoosts == nil {
		c.HistoryBoosts = config.DefaultHistoryBoosts()
	}

	wc := WeightConfig{
		BudgetLevelBoost:     make(map[ledger.Level]float64, len(c.BudgetLevelBoost)),
		QualityBoost:         make(map[QualityRequirement]float64, len(c.QualityBoost)),
		SpecializedTaskBoost: c.SpecializedTaskBoost,
	}
	for level, boost := range c.BudgetLevelBoost {
		wc.BudgetLevelBoost[ledger.Level(level)] = boost
	}
	for q, boost := range c.QualityBoost {
		wc.QualityBoost[QualityRequirement(q)] = boost
	}
	for _, hb := range c.HistoryBoosts {
		wc.HistoryBoosts = append(wc.HistoryBoosts, HistoryBoost{MinSamples: hb.MinSamples, Boost: hb.Boost})
	}
	sort.Slice(wc.HistoryBoosts, func(i, j int) bool {
		return wc.HistoryBoosts[i].MinSamples < wc.HistoryBoosts[j].MinSamples
	})
	return wc
}

// WeightContext is the per-request input to weight adjustment.
type WeightContext struct {
	// CostAware is false when no budget status is available; the budget
	// weight is then zero.
	CostAware      bool
	Level          ledger.Level
	Quality        QualityRequirement
	Task           TaskType
	HistorySamples int
}

// Adjust starts from equal weights, applies the boosts for the context and
// normalizes.
func (c WeightConfig) Adjust(ctx WeightContext) Weights {
	w := Weights{Budget: 0.25, Quality: 0.25, Task: 0.25, History: 0.25}

	if ctx.CostAware {
		w.Budget += c.BudgetLevelBoost[ctx.Level]
	} else {
		w.Budget = 0
	}
	w.Quality += c.QualityBoost[ctx.Quality]
	if ctx.Task.Specialized() {
		w.Task += c.SpecializedTaskBoost
	}

	// Breakpoints are sorted; the highest one reached applies.
	var historyBoost float64
	for _, hb := range c.HistoryBoosts {
		if ctx.HistorySamples >= hb.MinSamples {
			historyBoost = hb.Boost
		}
	}
	w.History += historyBoost

	return w.normalize()
}
