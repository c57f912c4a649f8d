package selection

import "sync"

type historyKey struct {
	model string
	task  TaskType
}

type outcome struct {
	successes int
	failures  int
}

// History records provider outcomes per model and task type. It is safe for
// concurrent use; a nil History scores every model neutrally.
type History struct {
	mu     sync.RWMutex
	stats  map[historyKey]*outcome
	byTask map[TaskType]int
}

// NewHistory creates an empty History.
func NewHistory() *History {
	return &History{
		stats:  make(map[historyKey]*outcome),
		byTask: make(map[TaskType]int),
	}
}

// Record adds one outcome.
func (h *History) Record(model string, task TaskType, success bool) {
	if h == nil {
		return
	}
	if task == "" {
		task = TaskGeneral
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	k := historyKey{model: model, task: task}
	o, ok := h.stats[k]
	if !ok {
		o = &outcome{}
		h.stats[k] = o
	}
	if success {
		o.successes++
	} else {
		o.failures++
	}
	h.byTask[task]++
}

// Stats returns the recorded successes and total samples for a model and
// task type.
func (h *History) Stats(model string, task TaskType) (successes, total int) {
	if h == nil {
		return 0, 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	o, ok := h.stats[historyKey{model: model, task: task}]
	if !ok {
		return 0, 0
	}
	return o.successes, o.successes + o.failures
}

// Samples returns the number of outcomes recorded for a task type across
// all models.
func (h *History) Samples(task TaskType) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.byTask[task]
}

// Score is the success rate times 100, or 50 without samples.
func (h *History) Score(model string, task TaskType) float64 {
	successes, total := h.Stats(model, task)
	if total == 0 {
		return 50
	}
	return float64(successes) / float64(total) * 100
}
