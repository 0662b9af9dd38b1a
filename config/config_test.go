package config

import (
	"os"
	"testing"
)

func TestFromEnvAppliesDefaultsWhenUnset(t *testing.T) {
	t.Setenv("RPC_NAMESPACE", "")
	t.Setenv("RPC_CAPABILITY", "")
	t.Setenv("RPC_RATE_LIMIT_MAX_KEYS", "")
	t.Setenv("RPC_CONCURRENCY_MAX_KEYS", "")
	// t.Setenv restores the previous values after the test; unsetting
	// them here makes envconfig see the variables as absent, not empty.
	for _, key := range []string{"RPC_NAMESPACE", "RPC_CAPABILITY", "RPC_RATE_LIMIT_MAX_KEYS", "RPC_CONCURRENCY_MAX_KEYS"} {
		os.Unsetenv(key)
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Namespace != "" || cfg.Capability != "" {
		t.Fatalf("expected empty namespace/capability when unset, got %+v", cfg)
	}
	if cfg.RateLimitMaxKeys != 0 || cfg.ConcurrencyMaxKeys != 0 {
		t.Fatalf("expected the documented 0 (unbounded) default for both ceilings, got %+v", cfg)
	}
}

func TestFromEnvReadsConfiguredValues(t *testing.T) {
	t.Setenv("RPC_NAMESPACE", "acme-rpc")
	t.Setenv("RPC_CAPABILITY", "s3cr3t")
	t.Setenv("RPC_RATE_LIMIT_MAX_KEYS", "10000")
	t.Setenv("RPC_CONCURRENCY_MAX_KEYS", "5000")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Namespace != "acme-rpc" {
		t.Fatalf("expected namespace acme-rpc, got %q", cfg.Namespace)
	}
	if cfg.Capability != "s3cr3t" {
		t.Fatalf("expected capability s3cr3t, got %q", cfg.Capability)
	}
	if cfg.RateLimitMaxKeys != 10000 {
		t.Fatalf("expected rate limit ceiling 10000, got %d", cfg.RateLimitMaxKeys)
	}
	if cfg.ConcurrencyMaxKeys != 5000 {
		t.Fatalf("expected concurrency ceiling 5000, got %d", cfg.ConcurrencyMaxKeys)
	}
}

func TestFromEnvRejectsMalformedInteger(t *testing.T) {
	t.Setenv("RPC_RATE_LIMIT_MAX_KEYS", "not-a-number")

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected a malformed RPC_RATE_LIMIT_MAX_KEYS to produce an error")
	}
}
