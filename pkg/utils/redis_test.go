package utils

import (
	"testing"
	"time"
)

func TestCooldownScriptCompiles(t *testing.T) {
	// Compile-time smoke test: the script should be initialized.
	if cooldownScript == nil {
		t.Fatalf("expected script to be initialized")
	}
}

func TestRedisConfigDefaults(t *testing.T) {
	cfg := RedisConfig{Addr: "localhost:6379"}.withDefaults()

	if cfg.DialTimeout <= 0 || cfg.ReadTimeout <= 0 || cfg.WriteTimeout <= 0 {
		t.Fatalf("timeouts not defaulted: %+v", cfg)
	}
	if cfg.PoolSize <= 0 {
		t.Fatalf("pool size not defaulted: %d", cfg.PoolSize)
	}

	// Explicit values survive.
	cfg = RedisConfig{Addr: "localhost:6379", DialTimeout: 7 * time.Second}.withDefaults()
	if cfg.DialTimeout != 7*time.Second {
		t.Fatalf("explicit dial timeout overridden: %v", cfg.DialTimeout)
	}
}
