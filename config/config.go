// Package config loads SupportMesh settings from the environment, optionally
// seeded from a .env or YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/logging"
	"github.com/hupe1980/supportmesh/tool"
)

// DefaultPrefix is the environment variable prefix used by the CLI.
const DefaultPrefix = "SUPPORTMESH"

// Storage backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds every tunable of the orchestration core. Variables are named
// <PREFIX>_<FIELD_IN_SNAKE_CASE>, e.g. SUPPORTMESH_SEVERITY_THRESHOLD.
type Config struct {
	Mode              string  `split_words:"true" default:"PARALLEL"`
	SeverityThreshold float64 `split_words:"true" default:"0.7"`
	LoopMaxTurns      int     `split_words:"true" default:"5"`

	PauseTimeout   time.Duration `split_words:"true" default:"30m"`
	AgentTimeout   time.Duration `split_words:"true" default:"10s"`
	RequestTimeout time.Duration `split_words:"true" default:"30s"`

	CompactionWindow int `split_words:"true" default:"20"`
	KeepRecent       int `split_words:"true" default:"5"`

	ToolMaxAttempts       int           `split_words:"true" default:"3"`
	ToolInitialBackoff    time.Duration `split_words:"true" default:"100ms"`
	ToolMaxBackoff        time.Duration `split_words:"true" default:"2s"`
	ToolBackoffMultiplier float64       `split_words:"true" default:"2"`
	ToolJitter            float64       `split_words:"true" default:"0.1"`
	ToolTimeout           time.Duration `split_words:"true" default:"5s"`
	// ToolLatency is the simulated latency of the builtin tools.
	ToolLatency time.Duration `split_words:"true" default:"0s"`

	MaxEventsPerSession int `split_words:"true" default:"1000"`
	MaxTracedSessions   int `split_words:"true" default:"10000"`

	Backend       string        `split_words:"true" default:"memory"`
	RedisAddr     string        `split_words:"true" default:"localhost:6379"`
	RedisPassword string        `split_words:"true"`
	RedisDB       int           `split_words:"true" default:"0"`
	RedisPrefix   string        `split_words:"true" default:"supportmesh"`
	RedisTTL      time.Duration `split_words:"true" default:"0s"`

	LogBackend string `split_words:"true" default:"slog"`
	LogLevel   string `split_words:"true" default:"info"`
	LogFormat  string `split_words:"true" default:"text"`

	// Telemetry enables the OpenTelemetry event sink.
	Telemetry bool `split_words:"true" default:"false"`

	// ModelProvider switches the agents to LLM backed ones: "", "openai" or "anthropic".
	ModelProvider string `split_words:"true"`
	ModelName     string `split_words:"true"`
}

// Load reads envFile (or ./.env when empty and present) into the process
// environment without overriding variables that are already set, then parses
// the environment into a Config and validates it.
func Load(prefix, envFile string) (*Config, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	if envFile = strings.TrimSpace(envFile); envFile != "" {
		if err := exportEnvironment(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	} else if err := exportEnvironmentIfExists(".env"); err != nil {
		return nil, fmt.Errorf("failed to load default env file: %w", err)
	}

	var conf Config
	if err := envconfig.Process(prefix, &conf); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return &conf, nil
}

// Default returns the configuration obtained from an empty environment.
func Default() *Config {
	var conf Config
	_ = envconfig.Process("SUPPORTMESH_DEFAULTS_ONLY", &conf)
	return &conf
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error

	if _, err := core.ParseMode(c.Mode); err != nil {
		errs = append(errs, err)
	}
	if c.SeverityThreshold < 0 || c.SeverityThreshold > 1 {
		errs = append(errs, fmt.Errorf("severity threshold %v outside [0,1]", c.SeverityThreshold))
	}
	if c.LoopMaxTurns < 1 {
		errs = append(errs, fmt.Errorf("loop max turns must be >= 1"))
	}
	if c.CompactionWindow < 1 {
		errs = append(errs, fmt.Errorf("compaction window must be >= 1"))
	}
	if c.KeepRecent < 0 || c.KeepRecent > c.CompactionWindow {
		errs = append(errs, fmt.Errorf("keep recent must be within [0, compaction window]"))
	}
	if c.ToolMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("tool max attempts must be >= 1"))
	}
	if c.MaxEventsPerSession < 0 || c.MaxTracedSessions < 0 {
		errs = append(errs, fmt.Errorf("trace retention limits must be >= 0"))
	}
	if c.ToolJitter < 0 || c.ToolJitter > 1 {
		errs = append(errs, fmt.Errorf("tool jitter %v outside [0,1]", c.ToolJitter))
	}
	switch c.Backend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogBackend {
	case "", "slog", "zerolog", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown log backend %q", c.LogBackend))
	}
	switch c.ModelProvider {
	case "", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("unknown model provider %q", c.ModelProvider))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", core.ErrValidation, errors.Join(errs...))
	}
	return nil
}

// Retry returns the tool retry policy.
func (c *Config) Retry() tool.RetryConfig {
	return tool.RetryConfig{
		MaxAttempts:       c.ToolMaxAttempts,
		InitialBackoff:    c.ToolInitialBackoff,
		MaxBackoff:        c.ToolMaxBackoff,
		BackoffMultiplier: c.ToolBackoffMultiplier,
		Jitter:            c.ToolJitter,
	}
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Backend = c.LogBackend
	cfg.Format = c.LogFormat
	cfg.Output = os.Stderr
	cfg.Component = "supportmesh"
	if lvl, err := logging.ParseLevel(c.LogLevel); err == nil {
		cfg.Level = lvl
	}
	return cfg
}

// DefaultMode returns the parsed default execution mode.
func (c *Config) DefaultMode() core.Mode {
	m, _ := core.ParseMode(c.Mode)
	return m
}

func exportEnvironmentIfExists(filepath string) error {
	info, err := os.Stat(filepath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	return exportEnvironment(filepath)
}

// exportEnvironment reads a .env, YAML or JSON file with viper and exports
// its keys. Nested YAML keys are joined with "_".
func exportEnvironment(filepath string) error {
	v := viper.New()
	v.SetConfigFile(filepath)
	if strings.HasSuffix(filepath, ".env") || !strings.Contains(filepath[strings.LastIndex(filepath, "/")+1:], ".") {
		v.SetConfigType("env")
	}
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	for k, val := range flatten("", v.AllSettings()) {
		key := strings.ToUpper(k)
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return err
		}
	}

	return nil
}

func flatten(prefix string, m map[string]any) map[string]string {
	out := make(map[string]string)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "_" + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = fmt.Sprint(v)
	}
	return out
}
