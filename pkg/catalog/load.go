package catalog

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"mercator-hq/tollgate/pkg/faults"
)

// File is the on-disk catalog format.
//
//	models:
//	  - id: gpt-4o-mini
//	    provider: openai
//	    input_cost_per_token: 0.00000015
//	    output_cost_per_token: 0.0000006
//	    currency: USD
//	    quality: {reasoning: 70, creativity: 70, knowledge: 72, coding: 70, math: 68}
//	    context_window: 128000
//	    max_output_tokens: 16384
//	    capabilities: [chat, code, tools]
//	    status: active
//	    fallbacks: [claude-3-haiku]
type File struct {
	Models []Model `yaml:"models"`
}

// LoadFile reads and validates a catalog file.
func LoadFile(path string) ([]Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates catalog YAML. Missing status defaults to
// active; currencies are upper-cased.
func Parse(data []byte) ([]Model, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}

	for i := range f.Models {
		m := &f.Models[i]
		if m.Status == "" {
			m.Status = StatusActive
		}
		m.Currency = strings.ToUpper(strings.TrimSpace(m.Currency))
	}

	if err := Validate(f.Models); err != nil {
		return nil, err
	}
	return f.Models, nil
}

// Validate checks a model set. All problems are reported; each matches
// faults.ErrValidation.
func Validate(models []Model) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, faults.Invalid(field, format, args...))
	}

	if len(models) == 0 {
		add("models", "catalog is empty")
	}

	ids := make(map[string]int, len(models))
	for i, m := range models {
		prefix := fmt.Sprintf("models[%d]", i)
		if m.ID == "" {
			add(prefix+".id", "must not be empty")
			continue
		}
		if prev, dup := ids[m.ID]; dup {
			add(prefix+".id", "duplicate id %q (also models[%d])", m.ID, prev)
		}
		ids[m.ID] = i

		prefix = fmt.Sprintf("models[%s]", m.ID)
		if m.Provider == "" {
			add(prefix+".provider", "must not be empty")
		}
		if invalidCost(m.InputCostPerToken) {
			add(prefix+".input_cost_per_token", "must be a non-negative number")
		}
		if invalidCost(m.OutputCostPerToken) {
			add(prefix+".output_cost_per_token", "must be a non-negative number")
		}
		if len(m.Currency) != 3 {
			add(prefix+".currency", "must be a three-letter code, got %q", m.Currency)
		}
		for _, dim := range RequiredDimensions {
			if _, ok := m.Quality[dim]; !ok {
				add(prefix+".quality."+dim, "missing score")
			}
		}
		for dim, score := range m.Quality {
			if score < 0 || score > 100 || math.IsNaN(score) {
				add(prefix+".quality."+dim, "must be between 0 and 100")
			}
		}
		if m.ContextWindow < 0 {
			add(prefix+".context_window", "must not be negative")
		}
		if m.MaxOutputTokens < 0 {
			add(prefix+".max_output_tokens", "must not be negative")
		}
		if !m.Status.Valid() {
			add(prefix+".status", "unknown status %q", m.Status)
		}
	}

	for _, m := range models {
		seen := make(map[string]bool, len(m.Fallbacks))
		for j, ref := range m.Fallbacks {
			field := fmt.Sprintf("models[%s].fallbacks[%d]", m.ID, j)
			if _, ok := ids[ref]; !ok {
				add(field, "unknown model %q", ref)
			}
			if ref == m.ID {
				add(field, "model cannot fall back to itself")
			}
			if seen[ref] {
				add(field, "duplicate fallback %q", ref)
			}
			seen[ref] = true
		}
	}

	if cycle := findCycle(models); cycle != nil {
		add("fallbacks", "fallback cycle %s", strings.Join(cycle, " -> "))
	}

	return errors.Join(errs...)
}

func invalidCost(c float64) bool {
	return c < 0 || math.IsNaN(c) || math.IsInf(c, 0)
}

// findCycle returns the first fallback cycle found by following chains
// transitively, or nil when the graph is acyclic.
func findCycle(models []Model) []string {
	edges := make(map[string][]string, len(models))
	for _, m := range models {
		edges[m.ID] = m.Fallbacks
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(models))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case visiting:
			for i, p := range path {
				if p == id {
					cycle = append(append([]string(nil), path[i:]...), id)
					break
				}
			}
			return true
		case done:
			return false
		}
		state[id] = visiting
		path = append(path, id)
		for _, next := range edges[id] {
			if _, known := edges[next]; !known || next == id {
				continue
			}
			if visit(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		state[id] = done
		return false
	}

	for _, m := range models {
		if state[m.ID] == unvisited && visit(m.ID) {
			return cycle
		}
	}
	return nil
}
