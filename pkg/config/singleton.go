package config

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// current holds the process-wide configuration.
	current atomic.Pointer[Config]

	// initOnce ensures Initialize loads only once.
	initOnce sync.Once

	// reloadMu serializes reloads and listener registration.
	reloadMu  sync.Mutex
	listeners []func(old, updated *Config)
)

// Initialize loads configuration from path with environment overrides and
// stores it as the global configuration. Subsequent calls are ignored.
func Initialize(path string) error {
	var initErr error

	initOnce.Do(func() {
		cfg, err := LoadConfigWithEnvOverrides(path)
		if err != nil {
			initErr = err
			return
		}
		current.Store(cfg)
	})

	return initErr
}

// GetConfig returns the global configuration, or nil before Initialize.
//
// For testing, prefer passing explicit *Config values.
func GetConfig() *Config {
	return current.Load()
}

// SetConfig replaces the global configuration. Intended for tests.
func SetConfig(cfg *Config) {
	current.Store(cfg)
}

// OnReload registers fn to run after every successful ReloadConfig.
func OnReload(fn func(old, updated *Config)) {
	reloadMu.Lock()
	defer reloadMu.Unlock()
	listeners = append(listeners, fn)
}

// ReloadConfig reloads the configuration from path. The global configuration
// is replaced only if loading and validation succeed; otherwise the existing
// configuration remains in effect.
func ReloadConfig(path string) error {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	reloadMu.Lock()
	defer reloadMu.Unlock()

	old := current.Swap(cfg)
	for _, fn := range listeners {
		fn(old, cfg)
	}

	return nil
}

// MustGetConfig returns the global configuration and panics if it has not
// been initialized.
func MustGetConfig() *Config {
	cfg := GetConfig()
	if cfg == nil {
		panic("configuration not initialized: call Initialize first")
	}
	return cfg
}
