package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8090"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultRequestTimeout  = 30 * time.Second

	// Storage defaults
	DefaultStorageBackend    = "memory"
	DefaultSQLitePath        = "data/tollgate.db"
	DefaultSQLiteDriver      = "sqlite"
	DefaultSQLiteBusyTimeout = 5 * time.Second

	// Catalog defaults
	DefaultCatalogPath     = "models.yaml"
	DefaultCatalogDebounce = 100 * time.Millisecond

	// Selection defaults
	DefaultMaxAlternatives        = 5
	DefaultSelectionStatusTimeout = 250 * time.Millisecond
	DefaultCharsPerToken          = 4.0
	DefaultSpecializedTaskBoost   = 0.1

	// Fallback defaults
	DefaultFallbackMaxAttempts     = 3
	DefaultFallbackBaseDelay       = 200 * time.Millisecond
	DefaultFallbackMaxDelay        = 5 * time.Second
	DefaultFallbackBreakerFailures = 5
	DefaultFallbackBreakerTimeout  = 30 * time.Second

	// Monitor defaults
	DefaultRolloverSchedule = "*/5 * * * *"

	// Ingress defaults
	DefaultIngressScopeKind     = "team"
	DefaultIngressScopeField    = "header.X-Tollgate-Scope"
	DefaultIngressTaskField     = "header.X-Tollgate-Task"
	DefaultIngressFailMode      = "open"
	DefaultIngressStatusTTL     = 2 * time.Second
	DefaultIngressStatusTimeout = 250 * time.Millisecond
	DefaultIngressCacheSize     = 1024
	DefaultIngressPendingTTL    = 10 * time.Minute

	// Telemetry defaults
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "tollgate"
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingServiceName = "tollgate"
)

// DefaultBudgetLevelBoost returns the default budget weight boosts per level.
func DefaultBudgetLevelBoost() map[string]float64 {
	return map[string]float64{
		"normal":   0,
		"warning":  0.1,
		"critical": 0.25,
		"exceeded": 0.4,
	}
}

// DefaultQualityBoost returns the default quality weight boosts per requirement.
func DefaultQualityBoost() map[string]float64 {
	return map[string]float64{
		"standard": 0,
		"high":     0.1,
		"maximum":  0.2,
	}
}

// DefaultHistoryBoosts returns the default history sample breakpoints.
func DefaultHistoryBoosts() []HistoryBoost {
	return []HistoryBoost{
		{MinSamples: 10, Boost: 0.05},
		{MinSamples: 50, Boost: 0.1},
		{MinSamples: 200, Boost: 0.15},
	}
}

// NewDefaultConfig returns a configuration with every default applied,
// including boolean defaults that ApplyDefaults cannot infer from zero values.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	cfg.Telemetry.Metrics.Enabled = true
	cfg.Telemetry.Logging.Audit = true
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	applyCatalogDefaults(&cfg.Catalog)
	applySelectionDefaults(&cfg.Selection)
	applyFallbackDefaults(&cfg.Fallback)

	if cfg.Monitor.RolloverSchedule == "" {
		cfg.Monitor.RolloverSchedule = DefaultRolloverSchedule
	}

	applyIngressDefaults(&cfg.Ingress)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyServerDefaults(s *ServerConfig) {
	if s.ListenAddress == "" {
		s.ListenAddress = DefaultListenAddress
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = DefaultRequestTimeout
	}
}

func applyStorageDefaults(s *StorageConfig) {
	if s.Backend == "" {
		s.Backend = DefaultStorageBackend
	}
	if s.SQLite.Path == "" {
		s.SQLite.Path = DefaultSQLitePath
	}
	if s.SQLite.Driver == "" {
		s.SQLite.Driver = DefaultSQLiteDriver
	}
	if s.SQLite.BusyTimeout == 0 {
		s.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
}

func applyCatalogDefaults(c *CatalogConfig) {
	if c.Path == "" {
		c.Path = DefaultCatalogPath
	}
	if c.Debounce == 0 {
		c.Debounce = DefaultCatalogDebounce
	}
}

func applySelectionDefaults(s *SelectionConfig) {
	if s.MaxAlternatives == 0 {
		s.MaxAlternatives = DefaultMaxAlternatives
	}
	if s.StatusTimeout == 0 {
		s.StatusTimeout = DefaultSelectionStatusTimeout
	}
	if s.CharsPerToken == 0 {
		s.CharsPerToken = DefaultCharsPerToken
	}
	if s.Weights.BudgetLevelBoost == nil {
		s.Weights.BudgetLevelBoost = DefaultBudgetLevelBoost()
	}
	if s.Weights.QualityBoost == nil {
		s.Weights.QualityBoost = DefaultQualityBoost()
	}
	if s.Weights.SpecializedTaskBoost == 0 {
		s.Weights.SpecializedTaskBoost = DefaultSpecializedTaskBoost
	}
	if s.Weights.HistoryBoosts == nil {
		s.Weights.HistoryBoosts = DefaultHistoryBoosts()
	}
}

func applyFallbackDefaults(f *FallbackConfig) {
	if f.MaxAttempts == 0 {
		f.MaxAttempts = DefaultFallbackMaxAttempts
	}
	if f.BaseDelay == 0 {
		f.BaseDelay = DefaultFallbackBaseDelay
	}
	if f.MaxDelay == 0 {
		f.MaxDelay = DefaultFallbackMaxDelay
	}
	if f.BreakerFailures == 0 {
		f.BreakerFailures = DefaultFallbackBreakerFailures
	}
	if f.BreakerTimeout == 0 {
		f.BreakerTimeout = DefaultFallbackBreakerTimeout
	}
}

func applyIngressDefaults(i *IngressConfig) {
	if i.ScopeKind == "" {
		i.ScopeKind = DefaultIngressScopeKind
	}
	if i.ScopeField == "" {
		i.ScopeField = DefaultIngressScopeField
	}
	if i.TaskField == "" {
		i.TaskField = DefaultIngressTaskField
	}
	if i.FailMode == "" {
		i.FailMode = DefaultIngressFailMode
	}
	if i.StatusTTL == 0 {
		i.StatusTTL = DefaultIngressStatusTTL
	}
	if i.StatusTimeout == 0 {
		i.StatusTimeout = DefaultIngressStatusTimeout
	}
	if i.CacheSize == 0 {
		i.CacheSize = DefaultIngressCacheSize
	}
	if i.PendingTTL == 0 {
		i.PendingTTL = DefaultIngressPendingTTL
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLogLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLogFormat
	}
	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultMetricsPath
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}
	if t.Tracing.Endpoint == "" {
		t.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = DefaultTracingSampler
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultTracingServiceName
	}
}
