package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateSelection(&cfg.Selection)...)
	errs = append(errs, validateFallback(&cfg.Fallback)...)
	errs = append(errs, validateMonitor(&cfg.Monitor)...)
	errs = append(errs, validateIngress(&cfg.Ingress)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateBudgets(cfg.Budgets)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(s *ServerConfig) []FieldError {
	var errs []FieldError

	if s.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "must not be empty"})
	}
	if s.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "must not be negative"})
	}
	if s.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "must not be negative"})
	}

	return errs
}

func validateStorage(s *StorageConfig) []FieldError {
	var errs []FieldError

	switch s.Backend {
	case "memory":
	case "sqlite":
		if s.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "storage.sqlite.path", Message: "must not be empty when backend is sqlite"})
		}
		if s.SQLite.Driver != "sqlite" && s.SQLite.Driver != "sqlite3" {
			errs = append(errs, FieldError{Field: "storage.sqlite.driver", Message: "must be one of: sqlite, sqlite3"})
		}
	default:
		errs = append(errs, FieldError{Field: "storage.backend", Message: "must be one of: memory, sqlite"})
	}

	return errs
}

func validateSelection(s *SelectionConfig) []FieldError {
	var errs []FieldError

	if s.MaxAlternatives < 0 {
		errs = append(errs, FieldError{Field: "selection.max_alternatives", Message: "must not be negative"})
	}
	if s.CharsPerToken <= 0 {
		errs = append(errs, FieldError{Field: "selection.chars_per_token", Message: "must be positive"})
	}
	for level, boost := range s.Weights.BudgetLevelBoost {
		if boost < 0 {
			errs = append(errs, FieldError{Field: "selection.weights.budget_level_boost." + level, Message: "must not be negative"})
		}
	}
	for quality, boost := range s.Weights.QualityBoost {
		if boost < 0 {
			errs = append(errs, FieldError{Field: "selection.weights.quality_boost." + quality, Message: "must not be negative"})
		}
	}
	for i, hb := range s.Weights.HistoryBoosts {
		if hb.MinSamples <= 0 || hb.Boost < 0 {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("selection.weights.history_boosts[%d]", i),
				Message: "min_samples must be positive and boost non-negative",
			})
		}
		if i > 0 && hb.MinSamples <= s.Weights.HistoryBoosts[i-1].MinSamples {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("selection.weights.history_boosts[%d].min_samples", i),
				Message: "must be strictly increasing",
			})
		}
	}

	return errs
}

func validateFallback(f *FallbackConfig) []FieldError {
	var errs []FieldError

	if f.MaxAttempts < 1 {
		errs = append(errs, FieldError{Field: "fallback.max_attempts", Message: "must be at least 1"})
	}
	if f.MaxDelay < f.BaseDelay {
		errs = append(errs, FieldError{Field: "fallback.max_delay", Message: "must not be less than base_delay"})
	}

	return errs
}

func validateMonitor(m *MonitorConfig) []FieldError {
	var errs []FieldError

	if _, err := cron.ParseStandard(m.RolloverSchedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "monitor.rollover_schedule",
			Message: fmt.Sprintf("invalid cron expression: %v", err),
		})
	}

	return errs
}

func validateIngress(i *IngressConfig) []FieldError {
	var errs []FieldError

	if i.FailMode != "open" && i.FailMode != "closed" {
		errs = append(errs, FieldError{Field: "ingress.fail_mode", Message: "must be one of: open, closed"})
	}

	if !validFieldPath(i.ScopeField) {
		errs = append(errs, FieldError{
			Field:   "ingress.scope_field",
			Message: "must be header.<name>, query.<name>, body.<path> or context.<key>",
		})
	}
	if i.TaskField != "" && !validFieldPath(i.TaskField) {
		errs = append(errs, FieldError{
			Field:   "ingress.task_field",
			Message: "must be header.<name>, query.<name>, body.<path> or context.<key>",
		})
	}

	if i.Enabled {
		if i.Upstream == "" {
			errs = append(errs, FieldError{Field: "ingress.upstream", Message: "must be set when ingress is enabled"})
		} else if u, err := url.Parse(i.Upstream); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, FieldError{Field: "ingress.upstream", Message: "must be an absolute URL"})
		}
	}

	return errs
}

func validFieldPath(path string) bool {
	source, rest, ok := strings.Cut(path, ".")
	if !ok || rest == "" {
		return false
	}
	switch source {
	case "header", "query", "body", "context":
		return true
	default:
		return false
	}
}

func validateTelemetry(t *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(t.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.level", Message: "must be one of: debug, info, warn, error"})
	}

	switch strings.ToLower(t.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.format", Message: "must be one of: json, text"})
	}

	if t.Metrics.Enabled && !strings.HasPrefix(t.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "must start with /"})
	}

	if t.Tracing.Enabled {
		switch t.Tracing.Sampler {
		case "always", "never":
		case "ratio":
			if t.Tracing.SampleRatio < 0 || t.Tracing.SampleRatio > 1 {
				errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "must be between 0 and 1"})
			}
		default:
			errs = append(errs, FieldError{Field: "telemetry.tracing.sampler", Message: "must be one of: always, never, ratio"})
		}
		if t.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "must be set when tracing is enabled"})
		}
	}

	return errs
}

// validateBudgets checks seed budgets for obvious mistakes. Full semantic
// validation happens when the ledger creates them.
func validateBudgets(budgets []BudgetSeed) []FieldError {
	var errs []FieldError
	seen := make(map[string]bool, len(budgets))

	for i, b := range budgets {
		field := fmt.Sprintf("budgets[%d]", i)
		if b.ID == "" {
			errs = append(errs, FieldError{Field: field + ".id", Message: "must not be empty"})
		} else if seen[b.ID] {
			errs = append(errs, FieldError{Field: field + ".id", Message: fmt.Sprintf("duplicate budget id %q", b.ID)})
		}
		seen[b.ID] = true

		if b.Limit <= 0 {
			errs = append(errs, FieldError{Field: field + ".limit", Message: "must be positive"})
		}
		if len(b.Currency) != 3 {
			errs = append(errs, FieldError{Field: field + ".currency", Message: "must be a three-letter ISO 4217 code"})
		}
	}

	return errs
}
