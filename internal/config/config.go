// Package config loads the orchestration kernel's process configuration
// from the environment. Every field is explicit with a documented default —
// no duck-typed config objects, per the kernel's redesign notes: a reader
// can see the whole contract in this one struct instead of discovering
// fields as the code accesses them at runtime.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Transport selects how the Server Frontend accepts tool calls.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// Config is the complete, validated process configuration.
type Config struct {
	Host string
	Port int

	Transport Transport
	DataRoot  string

	WorkerPoolSize         int
	MaxConcurrentWorkflows int
	QueueOnSaturation      bool // loaded but not read elsewhere: start_crew fails Unavailable whenever the worker pool is full, whatever its value

	ToolDeadlineDefault time.Duration

	RateLimitHourly       int
	RateLimitBurst        int
	RateLimitBlockDuration time.Duration

	EvolutionSweepInterval  time.Duration
	MinEvolutionInterval    time.Duration
	InstructionTTL          time.Duration
	InstructionExpireTick   time.Duration
	WorkflowReaperTick      time.Duration
	HealthProbeTick         time.Duration
	MaxWorkflowDuration     time.Duration
	EmergencyStopDeadline   time.Duration
	InstructionPollInterval time.Duration

	AdminBootstrapKey string

	MetricsAuthToken string
}

// Default returns the configuration's documented defaults. Load overrides
// these with whatever is set in the environment.
func Default() Config {
	return Config{
		Host:      "127.0.0.1",
		Port:      8080,
		Transport: TransportStdio,
		DataRoot:  "./data",

		WorkerPoolSize:         4,
		MaxConcurrentWorkflows: 4,
		QueueOnSaturation:      true,

		ToolDeadlineDefault: 30 * time.Second,

		RateLimitHourly:        100,
		RateLimitBurst:         10,
		RateLimitBlockDuration: time.Hour,

		EvolutionSweepInterval:  time.Hour,
		MinEvolutionInterval:    6 * time.Hour,
		InstructionTTL:          time.Hour,
		InstructionExpireTick:   60 * time.Second,
		WorkflowReaperTick:      30 * time.Second,
		HealthProbeTick:         30 * time.Second,
		MaxWorkflowDuration:     time.Hour,
		EmergencyStopDeadline:   15 * time.Second,
		InstructionPollInterval: 2 * time.Second,
	}
}

// Load reads a local .env file if present (ignored if absent), then binds
// environment variables over the documented defaults and validates the
// result. Variable names are contractual (§6.4) and all carry the
// EVOCREW_ prefix.
func Load() (Config, error) {
	_ = godotenv.Load() // optional; absence is not an error

	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("evocrew")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bind := func(keys ...string) {
		for _, k := range keys {
			_ = v.BindEnv(k)
		}
	}
	bind(
		"host", "port", "transport", "data_root",
		"worker_pool_size", "max_concurrent_workflows", "queue_on_saturation",
		"tool_deadline_default",
		"rate_limit_hourly", "rate_limit_burst", "rate_limit_block_duration",
		"evolution_sweep_interval", "min_evolution_interval",
		"instruction_ttl", "max_workflow_duration",
		"admin_bootstrap_key", "metrics_auth_token",
	)

	if v.IsSet("host") {
		cfg.Host = v.GetString("host")
	}
	if v.IsSet("port") {
		cfg.Port = v.GetInt("port")
	}
	if v.IsSet("transport") {
		cfg.Transport = Transport(v.GetString("transport"))
	}
	if v.IsSet("data_root") {
		cfg.DataRoot = v.GetString("data_root")
	}
	if v.IsSet("worker_pool_size") {
		cfg.WorkerPoolSize = v.GetInt("worker_pool_size")
	}
	if v.IsSet("max_concurrent_workflows") {
		cfg.MaxConcurrentWorkflows = v.GetInt("max_concurrent_workflows")
	}
	if v.IsSet("queue_on_saturation") {
		cfg.QueueOnSaturation = v.GetBool("queue_on_saturation")
	}
	if v.IsSet("tool_deadline_default") {
		cfg.ToolDeadlineDefault = v.GetDuration("tool_deadline_default")
	}
	if v.IsSet("rate_limit_hourly") {
		cfg.RateLimitHourly = v.GetInt("rate_limit_hourly")
	}
	if v.IsSet("rate_limit_burst") {
		cfg.RateLimitBurst = v.GetInt("rate_limit_burst")
	}
	if v.IsSet("rate_limit_block_duration") {
		cfg.RateLimitBlockDuration = v.GetDuration("rate_limit_block_duration")
	}
	if v.IsSet("evolution_sweep_interval") {
		cfg.EvolutionSweepInterval = v.GetDuration("evolution_sweep_interval")
	}
	if v.IsSet("min_evolution_interval") {
		cfg.MinEvolutionInterval = v.GetDuration("min_evolution_interval")
	}
	if v.IsSet("instruction_ttl") {
		cfg.InstructionTTL = v.GetDuration("instruction_ttl")
	}
	if v.IsSet("max_workflow_duration") {
		cfg.MaxWorkflowDuration = v.GetDuration("max_workflow_duration")
	}
	if v.IsSet("admin_bootstrap_key") {
		cfg.AdminBootstrapKey = v.GetString("admin_bootstrap_key")
	}
	if v.IsSet("metrics_auth_token") {
		cfg.MetricsAuthToken = v.GetString("metrics_auth_token")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would leave the process in an
// inconsistent state. Exit code 2 ("invalid configuration") maps to
// failures here.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("config: invalid transport %q: must be stdio or http", c.Transport)
	}
	if c.Transport == TransportHTTP && (c.Port <= 0 || c.Port > 65535) {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("config: worker_pool_size must be positive")
	}
	if c.MaxConcurrentWorkflows <= 0 {
		return fmt.Errorf("config: max_concurrent_workflows must be positive")
	}
	if c.DataRoot == "" {
		return fmt.Errorf("config: data_root must not be empty")
	}
	if c.RateLimitHourly <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("config: rate limits must be positive")
	}
	return nil
}

// Sanitized returns a copy safe to hand back to a client via
// get_server_config — secret material is redacted.
func (c Config) Sanitized() map[string]any {
	redactedKey := ""
	if c.AdminBootstrapKey != "" {
		redactedKey = "***"
	}
	return map[string]any{
		"host":                      c.Host,
		"port":                      c.Port,
		"transport":                 string(c.Transport),
		"data_root":                 c.DataRoot,
		"worker_pool_size":          c.WorkerPoolSize,
		"max_concurrent_workflows":  c.MaxConcurrentWorkflows,
		"tool_deadline_default":     c.ToolDeadlineDefault.String(),
		"rate_limit_hourly":         c.RateLimitHourly,
		"rate_limit_burst":          c.RateLimitBurst,
		"rate_limit_block_duration": c.RateLimitBlockDuration.String(),
		"evolution_sweep_interval":  c.EvolutionSweepInterval.String(),
		"min_evolution_interval":    c.MinEvolutionInterval.String(),
		"instruction_ttl":           c.InstructionTTL.String(),
		"max_workflow_duration":     c.MaxWorkflowDuration.String(),
		"admin_bootstrap_key":       redactedKey,
	}
}
