package selection

import (
	"math"

	"mercator-hq/tollgate/pkg/catalog"
	"mercator-hq/tollgate/pkg/ledger"
)

// taskProfile names the quality dimensions and capability tags that matter
// for a task type.
type taskProfile struct {
	dims []string
	tags []string
}

var taskProfiles = map[TaskType]taskProfile{
	TaskGeneral:   {dims: catalog.RequiredDimensions},
	TaskCode:      {dims: []string{catalog.DimCoding}, tags: []string{"code"}},
	TaskMath:      {dims: []string{catalog.DimMath}, tags: []string{"math"}},
	TaskSummarize: {dims: []string{catalog.DimKnowledge}, tags: []string{"summarize", "long-context"}},
	TaskTranslate: {dims: []string{catalog.DimKnowledge}, tags: []string{"translate", "multilingual"}},
	TaskAnalyze:   {dims: []string{catalog.DimReasoning, catalog.DimKnowledge}, tags: []string{"analysis"}},
	TaskCreative:  {dims: []string{catalog.DimCreativity}, tags: []string{"creative"}},
	TaskReasoning: {dims: []string{catalog.DimReasoning}, tags: []string{"reasoning"}},
	TaskQuestion:  {dims: []string{catalog.DimKnowledge}, tags: []string{"chat"}},
}

// TaskQuality is the model's quality score for a task type: the mean of the
// dimensions relevant to the task.
func TaskQuality(m catalog.Model, task TaskType) float64 {
	p, ok := taskProfiles[task]
	if !ok {
		p = taskProfiles[TaskGeneral]
	}
	var sum float64
	for _, d := range p.dims {
		sum += m.Score(d)
	}
	return sum / float64(len(p.dims))
}

// taskScore blends task quality with how many of the task's capability
// tags the model carries. General requests get full tag credit.
func taskScore(m catalog.Model, task TaskType) float64 {
	p := taskProfiles[task]
	match := 1.0
	if len(p.tags) > 0 {
		hits := 0
		for _, tag := range p.tags {
			if m.HasCapability(tag) {
				hits++
			}
		}
		match = float64(hits) / float64(len(p.tags))
	}
	return 0.5*TaskQuality(m, task) + 50*match
}

// costEfficiency is 100 for the cheapest survivor and falls in proportion
// to cost.
func costEfficiency(cost, minCost float64) float64 {
	if cost <= 0 {
		return 100
	}
	return 100 * minCost / cost
}

// budgetPenalty maps the share of remaining budget a request would consume
// to a de-rating factor.
func budgetPenalty(cost, remaining float64) float64 {
	if remaining <= 0 {
		return 3.0
	}
	pct := cost / remaining * 100
	switch {
	case pct < 1:
		return 1.0
	case pct < 5:
		return 1.2
	case pct < 10:
		return 1.5
	case pct < 20:
		return 2.0
	default:
		return 3.0
	}
}

var baseTradeoff = map[QualityRequirement]float64{
	QualityStandard: 0.3,
	QualityHigh:     0.6,
	QualityMaximum:  0.9,
}

var levelTradeoffShift = map[ledger.Level]float64{
	ledger.LevelNormal:   0,
	ledger.LevelWarning:  -0.1,
	ledger.LevelCritical: -0.2,
	ledger.LevelExceeded: -0.3,
}

// tradeoff returns the quality/cost blend in [0, 1], where 0 is cost only.
func tradeoff(q QualityRequirement, level ledger.Level, p Priority, downgrade bool) float64 {
	if downgrade {
		return 0
	}
	t := baseTradeoff[q] + levelTradeoffShift[level]
	switch p {
	case PriorityQualityFirst:
		t += 0.1
	case PriorityCostSaving:
		t -= 0.1
	}
	return math.Max(0, math.Min(1, t))
}

// impactTier buckets a percentage of remaining budget.
func impactTier(pct float64) ImpactTier {
	switch {
	case pct < 1:
		return ImpactLow
	case pct <= 10:
		return ImpactMedium
	default:
		return ImpactHigh
	}
}
