package cache

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if opts.InstanceID == "" {
		t.Fatal("InstanceID should not be empty")
	}
	if opts.RedisAddr == "" {
		t.Fatal("RedisAddr should not be empty")
	}
	if opts.PoolTimeout <= 0 || opts.OperationTimeout <= 0 {
		t.Fatal("Timeouts should be bounded")
	}
	if opts.LocalCacheConfig.Enabled {
		t.Fatal("Near-cache should be disabled by default")
	}
	if err := opts.Validate(); err != nil {
		t.Fatalf("Default options should validate: %v", err)
	}

	other := DefaultOptions()
	if other.InstanceID == opts.InstanceID {
		t.Fatal("Each default InstanceID should be unique")
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"empty instance id", func(o *Options) { o.InstanceID = "" }},
		{"empty addr", func(o *Options) { o.RedisAddr = "" }},
		{"zero pool", func(o *Options) { o.PoolMaxTotal = 0 }},
		{"idle above total", func(o *Options) { o.PoolMaxIdle = o.PoolMaxTotal + 1 }},
		{"min idle above total", func(o *Options) { o.PoolMinIdle = o.PoolMaxTotal + 1 }},
		{"unbounded pool wait", func(o *Options) { o.PoolTimeout = 0 }},
		{"unbounded operation", func(o *Options) { o.OperationTimeout = -time.Second }},
		{"bad format", func(o *Options) { o.SerializationFormat = "xml" }},
		{"near-cache without channel", func(o *Options) {
			o.LocalCacheConfig.Enabled = true
			o.InvalidationChannel = ""
		}},
		{"near-cache without counters", func(o *Options) {
			o.LocalCacheConfig.Enabled = true
			o.LocalCacheConfig.NumCounters = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.modify(&opts)
			if err := opts.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestOptionsValidateNearCacheWithFactory(t *testing.T) {
	opts := DefaultOptions()
	opts.LocalCacheConfig.Enabled = true
	opts.LocalCacheConfig.NumCounters = 0
	opts.LocalCacheFactory = NewLRUCacheFactory(10)

	if err := opts.Validate(); err != nil {
		t.Fatalf("Custom factory should bypass Ristretto sizing checks: %v", err)
	}
}
