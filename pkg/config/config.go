package config

import "time"

// Config is the root configuration structure for Tollgate.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `yaml:"server" envconfig:"SERVER"`

	// Storage selects and configures the ledger and alert repositories.
	Storage StorageConfig `yaml:"storage" envconfig:"STORAGE"`

	// Catalog configures the model catalog source.
	Catalog CatalogConfig `yaml:"catalog" envconfig:"CATALOG"`

	// Selection configures the selection engine.
	Selection SelectionConfig `yaml:"selection" envconfig:"SELECTION"`

	// Fallback configures provider retries through the fallback chain.
	Fallback FallbackConfig `yaml:"fallback" envconfig:"FALLBACK"`

	// Monitor configures the threshold monitor.
	Monitor MonitorConfig `yaml:"monitor" envconfig:"MONITOR"`

	// Ingress configures the request-path adapter.
	Ingress IngressConfig `yaml:"ingress" envconfig:"INGRESS"`

	// Telemetry contains logging, metrics and tracing settings.
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`

	// Budgets are created at startup when they do not exist yet.
	Budgets []BudgetSeed `yaml:"budgets" ignored:"true"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// ListenAddress is the address the API listens on.
	// Default: "127.0.0.1:8090"
	ListenAddress string `yaml:"listen_address" split_words:"true"`

	// ReadTimeout is the maximum duration for reading a request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout" split_words:"true"`

	// WriteTimeout is the maximum duration for writing a response.
	// Default: 60s
	WriteTimeout time.Duration `yaml:"write_timeout" split_words:"true"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout" split_words:"true"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`

	// RequestTimeout bounds a single API request.
	// Default: 30s
	RequestTimeout time.Duration `yaml:"request_timeout" split_words:"true"`
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	// Default: "memory"
	Backend string `yaml:"backend" split_words:"true"`

	// SQLite configures the SQLite backend.
	SQLite SQLiteConfig `yaml:"sqlite" envconfig:"SQLITE"`
}

// SQLiteConfig configures the SQLite repository.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/tollgate.db"
	Path string `yaml:"path" split_words:"true"`

	// Driver is the database/sql driver name: "sqlite" (modernc) or "sqlite3" (cgo).
	// Default: "sqlite"
	Driver string `yaml:"driver" split_words:"true"`

	// BusyTimeout is how long SQLite waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout" split_words:"true"`
}

// CatalogConfig configures the model catalog.
type CatalogConfig struct {
	// Path is the YAML catalog file.
	// Default: "models.yaml"
	Path string `yaml:"path" split_words:"true"`

	// Watch reloads the catalog when the file changes.
	// Default: false
	Watch bool `yaml:"watch" split_words:"true"`

	// Debounce coalesces bursts of file events.
	// Default: 100ms
	Debounce time.Duration `yaml:"debounce" split_words:"true"`
}

// SelectionConfig configures the selection engine.
type SelectionConfig struct {
	// MaxAlternatives caps alternatives returned with a selection.
	// Default: 5
	MaxAlternatives int `yaml:"max_alternatives" split_words:"true"`

	// StatusTimeout bounds budget status and enforcement lookups.
	// Default: 250ms
	StatusTimeout time.Duration `yaml:"status_timeout" split_words:"true"`

	// CharsPerToken drives prompt token estimation.
	// Default: 4.0
	CharsPerToken float64 `yaml:"chars_per_token" split_words:"true"`

	// Weights tunes the dynamic weight adjustment.
	Weights WeightsConfig `yaml:"weights" ignored:"true"`
}

// WeightsConfig holds the weight adjustment breakpoints.
// Zero-valued fields are replaced by defaults.
type WeightsConfig struct {
	// BudgetLevelBoost raises the budget weight per budget level
	// (normal, warning, critical, exceeded).
	BudgetLevelBoost map[string]float64 `yaml:"budget_level_boost"`

	// QualityBoost raises the quality weight per quality requirement
	// (standard, high, maximum).
	QualityBoost map[string]float64 `yaml:"quality_boost"`

	// SpecializedTaskBoost raises the task weight for non-general tasks.
	SpecializedTaskBoost float64 `yaml:"specialized_task_boost"`

	// HistoryBoosts raise the history weight once enough samples exist.
	HistoryBoosts []HistoryBoost `yaml:"history_boosts"`
}

// HistoryBoost is a single history-sample breakpoint.
type HistoryBoost struct {
	MinSamples int     `yaml:"min_samples"`
	Boost      float64 `yaml:"boost"`
}

// FallbackConfig configures the fallback executor.
type FallbackConfig struct {
	// MaxAttempts bounds provider attempts across the chain.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts" split_words:"true"`

	// BaseDelay is the initial backoff delay.
	// Default: 200ms
	BaseDelay time.Duration `yaml:"base_delay" split_words:"true"`

	// MaxDelay caps backoff delays.
	// Default: 5s
	MaxDelay time.Duration `yaml:"max_delay" split_words:"true"`

	// BreakerFailures opens a model's circuit after this many consecutive failures.
	// Default: 5
	BreakerFailures int `yaml:"breaker_failures" split_words:"true"`

	// BreakerTimeout is how long an open circuit stays open.
	// Default: 30s
	BreakerTimeout time.Duration `yaml:"breaker_timeout" split_words:"true"`
}

// MonitorConfig configures the threshold monitor.
type MonitorConfig struct {
	// RolloverSchedule is a cron expression for period rollover sweeps.
	// Default: "*/5 * * * *"
	RolloverSchedule string `yaml:"rollover_schedule" split_words:"true"`
}

// IngressConfig configures the request-path adapter.
type IngressConfig struct {
	// Enabled mounts the proxy route.
	// Default: false
	Enabled bool `yaml:"enabled" split_words:"true"`

	// Upstream is the provider base URL requests are forwarded to.
	Upstream string `yaml:"upstream" split_words:"true"`

	// ScopeKind is the budget scope kind the scope field resolves to.
	// Default: "team"
	ScopeKind string `yaml:"scope_kind" split_words:"true"`

	// ScopeField locates the scope id: header.<Name>, query.<name>,
	// body.<dotted.path> or context.<key>.
	// Default: "header.X-Tollgate-Scope"
	ScopeField string `yaml:"scope_field" split_words:"true"`

	// TaskField optionally locates explicit task type metadata.
	// Default: "header.X-Tollgate-Task"
	TaskField string `yaml:"task_field" split_words:"true"`

	// FailMode is "open" (forward unmodified) or "closed" (reject) on errors.
	// Default: "open"
	FailMode string `yaml:"fail_mode" split_words:"true"`

	// StatusTTL is how long a fetched budget status is cached.
	// Default: 2s
	StatusTTL time.Duration `yaml:"status_ttl" split_words:"true"`

	// StatusTimeout bounds a single status fetch.
	// Default: 250ms
	StatusTimeout time.Duration `yaml:"status_timeout" split_words:"true"`

	// CacheSize bounds cached statuses and pending selections.
	// Default: 1024
	CacheSize int `yaml:"cache_size" split_words:"true"`

	// PendingTTL is how long a selection waits for its completion.
	// Default: 10m
	PendingTTL time.Duration `yaml:"pending_ttl" split_words:"true"`
}

// TelemetryConfig contains observability settings.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`

	// Metrics contains metrics configuration.
	Metrics MetricsConfig `yaml:"metrics" envconfig:"METRICS"`

	// Tracing contains tracing configuration.
	Tracing TracingConfig `yaml:"tracing" envconfig:"TRACING"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level" split_words:"true"`

	// Format is "json" or "text".
	// Default: "json"
	Format string `yaml:"format" split_words:"true"`

	// AddSource includes file and line number in log entries.
	AddSource bool `yaml:"add_source" split_words:"true"`

	// Audit writes audit events to the log.
	// Default: true
	Audit bool `yaml:"audit" split_words:"true"`
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	// Enabled exposes the Prometheus endpoint.
	// Default: true
	Enabled bool `yaml:"enabled" split_words:"true"`

	// Path is the HTTP path for the metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path" split_words:"true"`

	// Namespace prefixes metric names.
	// Default: "tollgate"
	Namespace string `yaml:"namespace" split_words:"true"`
}

// TracingConfig contains tracing configuration.
type TracingConfig struct {
	// Enabled turns on span export.
	// Default: false
	Enabled bool `yaml:"enabled" split_words:"true"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint" split_words:"true"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure" split_words:"true"`

	// Sampler is "always", "never" or "ratio".
	// Default: "ratio"
	Sampler string `yaml:"sampler" split_words:"true"`

	// SampleRatio is used when Sampler is "ratio".
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio" split_words:"true"`

	// ServiceName identifies this service in traces.
	// Default: "tollgate"
	ServiceName string `yaml:"service_name" split_words:"true"`
}

// BudgetSeed is a budget definition created at startup.
type BudgetSeed struct {
	ID         string          `yaml:"id"`
	ScopeKind  string          `yaml:"scope_kind"`
	ScopeID    string          `yaml:"scope_id"`
	Limit      float64         `yaml:"limit"`
	Currency   string          `yaml:"currency"`
	Period     string          `yaml:"period"`
	Start      time.Time       `yaml:"start"`
	End        time.Time       `yaml:"end"`
	Recurring  bool            `yaml:"recurring"`
	ParentID   string          `yaml:"parent_id"`
	Thresholds []ThresholdSeed `yaml:"thresholds"`
}

// ThresholdSeed is an alert threshold within a BudgetSeed.
type ThresholdSeed struct {
	Percentage float64  `yaml:"percentage"`
	Actions    []string `yaml:"actions"`
	Targets    []string `yaml:"targets"`
}
