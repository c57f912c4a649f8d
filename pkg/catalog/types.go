package catalog

import "strings"

// Status is the lifecycle state of a model.
type Status string

const (
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
	StatusPreview    Status = "preview"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusDeprecated, StatusPreview:
		return true
	}
	return false
}

// Quality dimensions every model must score.
const (
	DimReasoning  = "reasoning"
	DimCreativity = "creativity"
	DimKnowledge  = "knowledge"
	DimCoding     = "coding"
	DimMath       = "math"
)

// RequiredDimensions lists the quality dimensions validated at load.
var RequiredDimensions = []string{DimReasoning, DimCreativity, DimKnowledge, DimCoding, DimMath}

// Model is the cost and capability profile of one model.
type Model struct {
	ID                 string             `yaml:"id" json:"id"`
	Provider           string             `yaml:"provider" json:"provider"`
	InputCostPerToken  float64            `yaml:"input_cost_per_token" json:"input_cost_per_token"`
	OutputCostPerToken float64            `yaml:"output_cost_per_token" json:"output_cost_per_token"`
	Currency           string             `yaml:"currency" json:"currency"`
	Quality            map[string]float64 `yaml:"quality" json:"quality"`
	ContextWindow      int                `yaml:"context_window" json:"context_window"`
	MaxOutputTokens    int                `yaml:"max_output_tokens" json:"max_output_tokens"`
	Capabilities       []string           `yaml:"capabilities" json:"capabilities"`
	Status             Status             `yaml:"status" json:"status"`
	Fallbacks          []string           `yaml:"fallbacks" json:"fallbacks,omitempty"`
}

// Cost returns the price of a call with the given token counts.
func (m Model) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*m.InputCostPerToken + float64(outputTokens)*m.OutputCostPerToken
}

// HasCapability reports whether the model carries tag (case-insensitive).
func (m Model) HasCapability(tag string) bool {
	for _, c := range m.Capabilities {
		if strings.EqualFold(c, tag) {
			return true
		}
	}
	return false
}

// HasCapabilities reports whether the model carries every tag.
func (m Model) HasCapabilities(tags ...string) bool {
	for _, t := range tags {
		if !m.HasCapability(t) {
			return false
		}
	}
	return true
}

// Score returns the quality score for a dimension, or 0 when unscored.
func (m Model) Score(dimension string) float64 {
	return m.Quality[dimension]
}

// Clone returns a deep copy of m.
func (m Model) Clone() Model {
	out := m
	if m.Quality != nil {
		out.Quality = make(map[string]float64, len(m.Quality))
		for k, v := range m.Quality {
			out.Quality[k] = v
		}
	}
	out.Capabilities = append([]string(nil), m.Capabilities...)
	out.Fallbacks = append([]string(nil), m.Fallbacks...)
	return out
}
