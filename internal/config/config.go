// Package config provides configuration loading for convsim.
//
// Configuration is layered: hardcoded defaults, then an optional YAML file,
// then CONVSIM_* environment variables. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete convsim configuration.
type Config struct {
	LLM       LLMConfig       `koanf:"llm"`
	Run       RunConfig       `koanf:"run"`
	Target    TargetConfig    `koanf:"target"`
	Store     StoreConfig     `koanf:"store"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Server    ServerConfig    `koanf:"server"`
	Temporal  TemporalConfig  `koanf:"temporal"`
}

// LLMConfig configures the model used for user simulation and step ranking
// when a trajectory does not bring its own.
type LLMConfig struct {
	Provider          string   `koanf:"provider"`
	Model             string   `koanf:"model"`
	BaseURL           string   `koanf:"base_url"`
	APIKey            Secret   `koanf:"api_key"`
	Temperature       float64  `koanf:"temperature"`
	MaxTokens         int      `koanf:"max_tokens"`
	RequestsPerMinute float64  `koanf:"requests_per_minute"`
	Burst             int      `koanf:"burst"`
	Timeout           Duration `koanf:"timeout"`
}

// RunConfig holds defaults applied to trajectories that leave a field unset.
type RunConfig struct {
	Mode          string              `koanf:"mode"`
	MaxTurns      int                 `koanf:"max_turns"`
	WindowTurns   int                 `koanf:"window_turns"`
	Concurrency   int                 `koanf:"concurrency"`
	LoopDetection LoopDetectionConfig `koanf:"loop"`
	Selector      SelectorConfig      `koanf:"selector"`
}

// LoopDetectionConfig mirrors trajectory.LoopDetection.
type LoopDetectionConfig struct {
	MaxConsecutiveSameStep int `koanf:"max_consecutive_same_step"`
	MaxCycleLength         int `koanf:"max_cycle_length"`
	MaxCycleRepetitions    int `koanf:"max_cycle_repetitions"`
}

// SelectorConfig mirrors trajectory.SelectorConfig. Thresholds are pointers
// so that an explicit 0 survives defaulting.
type SelectorConfig struct {
	ScoreThreshold *float64 `koanf:"score_threshold"`
	Margin         *float64 `koanf:"margin"`
	Fallback       string   `koanf:"fallback"`
}

// TargetConfig describes the default agent under test.
type TargetConfig struct {
	Kind         string            `koanf:"kind"`
	URL          string            `koanf:"url"`
	Headers      map[string]string `koanf:"headers"`
	Timeout      Duration          `koanf:"timeout"`
	SystemPrompt string            `koanf:"system_prompt"`
}

// StoreConfig selects where completed runs are persisted.
type StoreConfig struct {
	Kind          string `koanf:"kind"` // file, nats or none
	Dir           string `koanf:"dir"`
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
	Scrub         bool   `koanf:"scrub"`
	Allowlist     string `koanf:"allowlist"` // Gitleaks-format TOML, optional
}

// LoggingConfig is mapped onto logging.Config by the binary.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig is mapped onto telemetry.Config by the binary.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	RunTimeout      Duration `koanf:"run_timeout"` // bounds one POST /api/v1/runs
}

// TemporalConfig configures the batch worker.
type TemporalConfig struct {
	HostPort      string `koanf:"host_port"`
	Namespace     string `koanf:"namespace"`
	TaskQueue     string `koanf:"task_queue"`
	MaxConcurrent int    `koanf:"max_concurrent"`
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLM.Provider {
	case "openai", "anthropic", "ollama":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be openai, anthropic or ollama, got %q", c.LLM.Provider))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be between 0 and 2, got %v", c.LLM.Temperature))
	}

	switch c.Run.Mode {
	case "strict", "loose":
	default:
		errs = append(errs, fmt.Errorf("run.mode must be strict or loose, got %q", c.Run.Mode))
	}
	if c.Run.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("run.max_turns must be positive, got %d", c.Run.MaxTurns))
	}
	if c.Run.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("run.concurrency must be positive, got %d", c.Run.Concurrency))
	}
	if v := c.Run.Selector.ScoreThreshold; v != nil && (*v < 0 || *v > 1) {
		errs = append(errs, fmt.Errorf("run.selector.score_threshold must be between 0 and 1, got %v", *v))
	}
	if v := c.Run.Selector.Margin; v != nil && (*v < 0 || *v > 1) {
		errs = append(errs, fmt.Errorf("run.selector.margin must be between 0 and 1, got %v", *v))
	}
	switch c.Run.Selector.Fallback {
	case "sequential", "stay":
	default:
		errs = append(errs, fmt.Errorf("run.selector.fallback must be sequential or stay, got %q", c.Run.Selector.Fallback))
	}

	switch c.Store.Kind {
	case "none":
	case "file":
		if c.Store.Dir == "" {
			errs = append(errs, errors.New("store.dir is required for the file store"))
		}
	case "nats":
		if c.Store.NATSURL == "" {
			errs = append(errs, errors.New("store.nats_url is required for the nats store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.kind must be file, nats or none, got %q", c.Store.Kind))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}

	return errors.Join(errs...)
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.LLM.RequestsPerMinute == 0 {
		cfg.LLM.RequestsPerMinute = 50
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 5
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(60 * time.Second)
	}

	if cfg.Run.Mode == "" {
		cfg.Run.Mode = "strict"
	}
	if cfg.Run.MaxTurns == 0 {
		cfg.Run.MaxTurns = 30
	}
	if cfg.Run.WindowTurns == 0 {
		cfg.Run.WindowTurns = 2
	}
	if cfg.Run.Concurrency == 0 {
		cfg.Run.Concurrency = 4
	}
	if cfg.Run.LoopDetection.MaxConsecutiveSameStep == 0 {
		cfg.Run.LoopDetection.MaxConsecutiveSameStep = 3
	}
	if cfg.Run.LoopDetection.MaxCycleLength == 0 {
		cfg.Run.LoopDetection.MaxCycleLength = 3
	}
	if cfg.Run.LoopDetection.MaxCycleRepetitions == 0 {
		cfg.Run.LoopDetection.MaxCycleRepetitions = 2
	}
	if cfg.Run.Selector.ScoreThreshold == nil {
		v := 0.5
		cfg.Run.Selector.ScoreThreshold = &v
	}
	if cfg.Run.Selector.Margin == nil {
		v := 0.1
		cfg.Run.Selector.Margin = &v
	}
	if cfg.Run.Selector.Fallback == "" {
		cfg.Run.Selector.Fallback = "sequential"
	}

	if cfg.Target.Kind == "" {
		cfg.Target.Kind = "http"
	}
	if cfg.Target.Timeout == 0 {
		cfg.Target.Timeout = Duration(30 * time.Second)
	}

	if cfg.Store.Kind == "" {
		cfg.Store.Kind = "file"
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = "./runs"
	}
	if cfg.Store.SubjectPrefix == "" {
		cfg.Store.SubjectPrefix = "convsim.runs"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "convsim"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.RunTimeout == 0 {
		cfg.Server.RunTimeout = Duration(10 * time.Minute)
	}

	if cfg.Temporal.HostPort == "" {
		cfg.Temporal.HostPort = "localhost:7233"
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "convsim-runs"
	}
	if cfg.Temporal.MaxConcurrent == 0 {
		cfg.Temporal.MaxConcurrent = 4
	}
}
