package selection

import (
	"sync"
	"testing"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/ledger"
)

func TestWeightConfig_Adjust(t *testing.T) {
	wc := DefaultWeightConfig()

	base := wc.Adjust(WeightContext{CostAware: true, Level: ledger.LevelNormal, Quality: QualityStandard, Task: TaskGeneral})
	if !approx(base.Budget, 0.25) || !approx(base.Quality, 0.25) || !approx(base.Task, 0.25) || !approx(base.History, 0.25) {
		t.Errorf("base weights = %+v, want equal shares", base)
	}

	tests := []struct {
		name  string
		ctx   WeightContext
		check func(Weights) bool
	}{
		{
			name:  "worse budget raises budget weight",
			ctx:   WeightContext{CostAware: true, Level: ledger.LevelCritical, Quality: QualityStandard, Task: TaskGeneral},
			check: func(w Weights) bool { return w.Budget > base.Budget },
		},
		{
			name:  "cost-unaware drops budget weight",
			ctx:   WeightContext{Level: ledger.LevelExceeded, Quality: QualityStandard, Task: TaskGeneral},
			check: func(w Weights) bool { return w.Budget == 0 && approx(w.Quality, 1.0/3) },
		},
		{
			name:  "maximum quality raises quality weight",
			ctx:   WeightContext{CostAware: true, Level: ledger.LevelNormal, Quality: QualityMaximum, Task: TaskGeneral},
			check: func(w Weights) bool { return w.Quality > base.Quality },
		},
		{
			name:  "specialized task raises task weight",
			ctx:   WeightContext{CostAware: true, Level: ledger.LevelNormal, Quality: QualityStandard, Task: TaskMath},
			check: func(w Weights) bool { return w.Task > base.Task },
		},
		{
			name: "history samples raise history weight stepwise",
			ctx:  WeightContext{CostAware: true, Level: ledger.LevelNormal, Quality: QualityStandard, Task: TaskGeneral, HistorySamples: 60},
			check: func(w Weights) bool {
				below := wc.Adjust(WeightContext{CostAware: true, Level: ledger.LevelNormal, Quality: QualityStandard, Task: TaskGeneral, HistorySamples: 9})
				top := wc.Adjust(WeightContext{CostAware: true, Level: ledger.LevelNormal, Quality: QualityStandard, Task: TaskGeneral, HistorySamples: 500})
				return approx(below.History, base.History) && w.History > below.History && top.History > w.History
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := wc.Adjust(tt.ctx)
			if !approx(w.sum(), 1) {
				t.Errorf("weights sum = %v, want 1", w.sum())
			}
			if !tt.check(w) {
				t.Errorf("weights = %+v", w)
			}
		})
	}
}

func TestWeightConfigFrom(t *testing.T) {
	wc := WeightConfigFrom(config.WeightsConfig{
		BudgetLevelBoost: map[string]float64{"critical": 1},
		HistoryBoosts: []config.HistoryBoost{
			{MinSamples: 100, Boost: 0.3},
			{MinSamples: 5, Boost: 0.1},
		},
	})

	if wc.BudgetLevelBoost[ledger.LevelCritical] != 1 {
		t.Errorf("BudgetLevelBoost[critical] = %v, want 1", wc.BudgetLevelBoost[ledger.LevelCritical])
	}
	if wc.QualityBoost[QualityMaximum] != config.DefaultQualityBoost()["maximum"] {
		t.Errorf("QualityBoost not defaulted: %v", wc.QualityBoost)
	}
	if wc.SpecializedTaskBoost != config.DefaultSpecializedTaskBoost {
		t.Errorf("SpecializedTaskBoost = %v", wc.SpecializedTaskBoost)
	}
	if len(wc.HistoryBoosts) != 2 || wc.HistoryBoosts[0].MinSamples != 5 {
		t.Errorf("HistoryBoosts not sorted: %+v", wc.HistoryBoosts)
	}
}

func TestHistory(t *testing.T) {
	h := NewHistory()
	if got := h.Score("m1", TaskCode); got != 50 {
		t.Errorf("Score() without samples = %v, want 50", got)
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.Record("m1", TaskCode, i%4 != 0)
		}(i)
	}
	wg.Wait()
	h.Record("m2", "", true)

	if got := h.Score("m1", TaskCode); got != 75 {
		t.Errorf("Score() = %v, want 75", got)
	}
	if s, total := h.Stats("m1", TaskCode); s != 30 || total != 40 {
		t.Errorf("Stats() = %d/%d, want 30/40", s, total)
	}
	if got := h.Samples(TaskCode); got != 40 {
		t.Errorf("Samples(code) = %d, want 40", got)
	}
	if got := h.Samples(TaskGeneral); got != 1 {
		t.Errorf("Samples(general) = %d, want 1", got)
	}

	var nilHistory *History
	nilHistory.Record("m1", TaskCode, true)
	if nilHistory.Score("m1", TaskCode) != 50 || nilHistory.Samples(TaskCode) != 0 {
		t.Error("nil History should score neutrally")
	}
}
