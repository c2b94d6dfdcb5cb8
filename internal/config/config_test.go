package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, e := range os.Environ() {
		if !strings.HasPrefix(e, "EVOCREW_") {
			continue
		}
		key := strings.SplitN(e, "=", 2)[0]
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Transport != TransportStdio {
		t.Errorf("Transport = %q, want %q", cfg.Transport, TransportStdio)
	}
	if cfg.WorkerPoolSize != 4 {
		t.Errorf("WorkerPoolSize = %d, want 4", cfg.WorkerPoolSize)
	}
	if cfg.ToolDeadlineDefault != 30*time.Second {
		t.Errorf("ToolDeadlineDefault = %s, want 30s", cfg.ToolDeadlineDefault)
	}
	if cfg.RateLimitHourly != 100 || cfg.RateLimitBurst != 10 {
		t.Errorf("rate limits = (%d, %d), want (100, 10)", cfg.RateLimitHourly, cfg.RateLimitBurst)
	}
	if cfg.RateLimitBlockDuration != time.Hour {
		t.Errorf("RateLimitBlockDuration = %s, want 1h", cfg.RateLimitBlockDuration)
	}
	if cfg.MinEvolutionInterval != 6*time.Hour {
		t.Errorf("MinEvolutionInterval = %s, want 6h", cfg.MinEvolutionInterval)
	}
	if cfg.EmergencyStopDeadline != 15*time.Second {
		t.Errorf("EmergencyStopDeadline = %s, want 15s", cfg.EmergencyStopDeadline)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() failed Validate(): %v", err)
	}
}

func TestLoadOverridesDefaultsFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("EVOCREW_PORT", "9191")
	t.Setenv("EVOCREW_TRANSPORT", "http")
	t.Setenv("EVOCREW_WORKER_POOL_SIZE", "8")
	t.Setenv("EVOCREW_RATE_LIMIT_HOURLY", "250")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9191 {
		t.Errorf("Port = %d, want 9191", cfg.Port)
	}
	if cfg.Transport != TransportHTTP {
		t.Errorf("Transport = %q, want %q", cfg.Transport, TransportHTTP)
	}
	if cfg.WorkerPoolSize != 8 {
		t.Errorf("WorkerPoolSize = %d, want 8", cfg.WorkerPoolSize)
	}
	if cfg.RateLimitHourly != 250 {
		t.Errorf("RateLimitHourly = %d, want 250", cfg.RateLimitHourly)
	}
	// Untouched fields keep their documented default.
	if cfg.RateLimitBurst != 10 {
		t.Errorf("RateLimitBurst = %d, want unchanged default 10", cfg.RateLimitBurst)
	}
}

func TestValidateRejectsUnknownTransport(t *testing.T) {
	cfg := Default()
	cfg.Transport = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted an unknown transport, want error")
	}
}

func TestValidateRejectsInvalidHTTPPort(t *testing.T) {
	cfg := Default()
	cfg.Transport = TransportHTTP
	cfg.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted port 0 for http transport, want error")
	}
}

func TestValidateAllowsZeroPortOnStdioTransport(t *testing.T) {
	cfg := Default()
	cfg.Transport = TransportStdio
	cfg.Port = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() rejected port 0 on stdio transport: %v", err)
	}
}

func TestValidateRejectsNonPositivePoolSizes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero worker pool", func(c *Config) { c.WorkerPoolSize = 0 }},
		{"negative worker pool", func(c *Config) { c.WorkerPoolSize = -1 }},
		{"zero max concurrent workflows", func(c *Config) { c.MaxConcurrentWorkflows = 0 }},
		{"empty data root", func(c *Config) { c.DataRoot = "" }},
		{"zero rate limit hourly", func(c *Config) { c.RateLimitHourly = 0 }},
		{"zero rate limit burst", func(c *Config) { c.RateLimitBurst = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() accepted invalid config for case %q, want error", tt.name)
			}
		})
	}
}

func TestSanitizedRedactsAdminBootstrapKey(t *testing.T) {
	cfg := Default()
	cfg.AdminBootstrapKey = "super-secret-value"

	out := cfg.Sanitized()
	if out["admin_bootstrap_key"] == cfg.AdminBootstrapKey {
		t.Error("Sanitized() leaked the admin bootstrap key plaintext")
	}
	if out["admin_bootstrap_key"] != "***" {
		t.Errorf("admin_bootstrap_key = %v, want a redaction marker", out["admin_bootstrap_key"])
	}
}

func TestSanitizedOmitsRedactionWhenKeyUnset(t *testing.T) {
	cfg := Default()
	cfg.AdminBootstrapKey = ""

	out := cfg.Sanitized()
	if out["admin_bootstrap_key"] != "" {
		t.Errorf("admin_bootstrap_key = %v, want empty string when unset", out["admin_bootstrap_key"])
	}
}

func TestSanitizedNeverExposesMetricsAuthToken(t *testing.T) {
	cfg := Default()
	cfg.MetricsAuthToken = "token-value"

	out := cfg.Sanitized()
	for k, v := range out {
		if s, ok := v.(string); ok && s == cfg.MetricsAuthToken {
			t.Errorf("Sanitized()[%q] leaked the metrics auth token", k)
		}
	}
}
