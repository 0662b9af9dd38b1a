// Package config is a convenience constructor for RouterConfig from the
// host process's environment. router.New never reads the environment
// itself; only callers who want the envconfig-populated defaults use
// this package, keeping the core router embeddable without any ambient
// process-global state.
package config

import "github.com/kelseyhightower/envconfig"

// RouterConfig holds the values a host application typically wants to
// vary per deployment: the capability namespace/token, and the
// resident-key ceilings for the built-in limiter engines (see
// SPEC_FULL.md §4.G's key-flooding guard).
type RouterConfig struct {
	Namespace          string `envconfig:"RPC_NAMESPACE"`
	Capability         string `envconfig:"RPC_CAPABILITY"`
	RateLimitMaxKeys   int    `envconfig:"RPC_RATE_LIMIT_MAX_KEYS" default:"0"`
	ConcurrencyMaxKeys int    `envconfig:"RPC_CONCURRENCY_MAX_KEYS" default:"0"`
}

// FromEnv populates a RouterConfig from environment variables prefixed
// implicitly by their own envconfig tags (e.g. RPC_NAMESPACE).
func FromEnv() (*RouterConfig, error) {
	var cfg RouterConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
