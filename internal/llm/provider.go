package llm

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

const (
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-3-5-sonnet-20241022"
	defaultOllamaURL      = "http://localhost:11434"
)

var (
	// ErrUnknownProvider indicates an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown llm provider")

	// ErrInvalidConfig indicates invalid model configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// NewModel builds a langchaingo model for cfg. API keys fall back to the
// provider's conventional environment variable.
func NewModel(cfg trajectory.ModelConfig) (llms.Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(orDefault(cfg.Model, defaultOpenAIModel))}
		if key := orDefault(cfg.APIKey, os.Getenv("OPENAI_API_KEY")); key != "" {
			opts = append(opts, openai.WithToken(key))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		m, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating openai model: %w", err)
		}
		return m, nil

	case ProviderAnthropic:
		key := orDefault(cfg.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("%w: anthropic API key required", ErrInvalidConfig)
		}
		opts := []anthropic.Option{
			anthropic.WithToken(key),
			anthropic.WithModel(orDefault(cfg.Model, defaultAnthropicModel)),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		m, err := anthropic.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating anthropic model: %w", err)
		}
		return m, nil

	case ProviderOllama:
		if cfg.Model == "" {
			return nil, fmt.Errorf("%w: ollama model required", ErrInvalidConfig)
		}
		m, err := ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(orDefault(cfg.BaseURL, defaultOllamaURL)),
		)
		if err != nil {
			return nil, fmt.Errorf("creating ollama model: %w", err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
}

// Resolve turns a trajectory's user model into a ready client.
func Resolve(um trajectory.UserModel, opts Options) (*Client, error) {
	if err := um.Validate(); err != nil {
		return nil, err
	}
	switch um.Kind {
	case trajectory.UserModelClient:
		return New(um.Model, opts), nil
	case trajectory.UserModelConfig:
		if opts.Temperature == 0 {
			opts.Temperature = um.Config.Temperature
		}
		m, err := NewModel(um.Config)
		if err != nil {
			return nil, err
		}
		return New(m, opts), nil
	}
	return nil, trajectory.ErrMissingUserModel
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
