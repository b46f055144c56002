package code

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConfig_ValidateMissingFields(t *testing.T) {
	err := (&Config{}).Validate()
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	for _, field := range []string{"Engine", "Discovery", "Workspace"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q should name %s", err, field)
		}
	}
}

func TestConfig_ValidateRejectsBadLimits(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"negative concurrency", func(c *Config) { c.MaxConcurrent = -1 }},
		{"negative tool calls", func(c *Config) { c.MaxToolCalls = -1 }},
		{"negative timeout", func(c *Config) { c.DefaultTimeout = -time.Second }},
		{"default above max", func(c *Config) { c.DefaultTimeout = time.Minute; c.MaxTimeout = time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(t, printEngine)
			tt.mod(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := newTestConfig(t, printEngine)
	cfg.applyDefaults()
	if cfg.DefaultTimeout != DefaultTimeout {
		t.Errorf("DefaultTimeout = %v", cfg.DefaultTimeout)
	}
	if cfg.MaxTimeout != DefaultMaxTimeout {
		t.Errorf("MaxTimeout = %v", cfg.MaxTimeout)
	}
	if cfg.MaxConcurrent != DefaultMaxConcurrent {
		t.Errorf("MaxConcurrent = %d", cfg.MaxConcurrent)
	}
	if cfg.Logger == nil {
		t.Error("Logger should default to a no-op logger")
	}

	small := newTestConfig(t, printEngine)
	small.MaxTimeout = 10 * time.Second
	small.applyDefaults()
	if small.DefaultTimeout != 10*time.Second {
		t.Errorf("DefaultTimeout should be capped by MaxTimeout, got %v", small.DefaultTimeout)
	}
}
