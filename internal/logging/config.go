package logging

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/convsim/internal/config"
)

// TraceLevel sits below Debug. Per-turn prompt and transcript dumps log here.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name. "trace" maps to TraceLevel.
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

// Config holds logging configuration.
type Config struct {
	Level  zapcore.Level
	Format string

	// Console enables the console core. It writes to stderr; stdout carries
	// command output.
	Console bool

	// OTEL enables the OpenTelemetry bridge core when a provider is given.
	OTEL bool

	Sampling SamplingConfig

	// Caller adds file:line to every entry.
	Caller bool

	// Fields are attached to every entry.
	Fields map[string]string

	Redaction RedactionConfig
}

// SamplingConfig limits repeated Debug through Warn entries. Errors pass
// through unsampled.
type SamplingConfig struct {
	Enabled    bool
	Tick       config.Duration
	Initial    int
	Thereafter int
}

// RedactionConfig lists field keys and value patterns the console encoder
// masks.
type RedactionConfig struct {
	Enabled  bool
	Fields   []string
	Patterns []string
}

// NewDefaultConfig returns a JSON console logger at Info.
func NewDefaultConfig() *Config {
	return &Config{
		Level:   zapcore.InfoLevel,
		Format:  "json",
		Console: true,
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       config.Duration(time.Second),
			Initial:    100,
			Thereafter: 10,
		},
		Caller: true,
		Fields: map[string]string{
			"service": "convsim",
		},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"api_key", "authorization", "password", "secret", "token", "credential",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
				`sk-[A-Za-z0-9_-]{20,}`,
			},
		},
	}
}

// FromSettings maps the logging section of the application config onto a
// logger config.
func FromSettings(s config.LoggingConfig, version string) (*Config, error) {
	cfg := NewDefaultConfig()
	if s.Level != "" {
		lvl, err := LevelFromString(s.Level)
		if err != nil {
			return nil, err
		}
		cfg.Level = lvl
	}
	if s.Format != "" {
		cfg.Format = s.Format
	}
	if version != "" {
		cfg.Fields["version"] = version
	}
	// Sampling would drop per-turn debug lines.
	if cfg.Level < zapcore.InfoLevel {
		cfg.Sampling.Enabled = false
	}
	return cfg, nil
}

// maxPatternLen bounds redaction patterns.
const maxPatternLen = 200

// Validate checks config for errors.
func (c *Config) Validate() error {
	var errs []error
	if c.Format != "json" && c.Format != "console" {
		errs = append(errs, fmt.Errorf("format must be json or console, got %q", c.Format))
	}
	if !c.Console && !c.OTEL {
		errs = append(errs, errors.New("at least one output must be enabled"))
	}
	if c.Sampling.Enabled {
		if c.Sampling.Tick.Duration() <= 0 {
			errs = append(errs, errors.New("sampling tick must be positive"))
		}
		if c.Sampling.Initial < 1 {
			errs = append(errs, errors.New("sampling initial must be at least 1"))
		}
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if len(p) > maxPatternLen {
				errs = append(errs, fmt.Errorf("redaction pattern longer than %d chars", maxPatternLen))
				continue
			}
			if _, err := regexp.Compile(p); err != nil {
				errs = append(errs, fmt.Errorf("redaction pattern %q: %w", p, err))
			}
		}
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			errs = append(errs, fmt.Errorf("field %q must have a non-empty key and value", k))
		}
	}
	return errors.Join(errs...)
}
