package config

import (
	"fmt"
	"sync"
)

var (
	globalMu     sync.RWMutex
	globalConfig *Config
	initOnce     sync.Once
	initErr      error
)

// Initialize loads configuration from path with environment overrides and
// stores it as the process configuration. Only the first call loads; later
// calls return the first call's error.
func Initialize(path string) error {
	initOnce.Do(func() {
		cfg, err := LoadConfigWithEnvOverrides(path)
		if err != nil {
			initErr = err
			return
		}
		SetConfig(cfg)
	})
	return initErr
}

// GetConfig returns the process configuration, or nil before a successful
// Initialize or SetConfig.
func GetConfig() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalConfig
}

// SetConfig replaces the process configuration. Intended for tests and for
// commands that build their configuration from flags.
func SetConfig(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = cfg
}

// ReloadConfig reloads the configuration from path. The previous
// configuration stays in place when loading or validation fails. Components
// built from the previous configuration keep it; only callers of GetConfig
// see the change.
func ReloadConfig(path string) error {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	SetConfig(cfg)
	return nil
}

// MustGetConfig returns the process configuration and panics if there is
// none.
func MustGetConfig() *Config {
	cfg := GetConfig()
	if cfg == nil {
		panic("configuration not initialized: call Initialize first")
	}
	return cfg
}
