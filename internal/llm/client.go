package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
)

const (
	defaultMaxTokens         = 1024
	defaultRequestsPerMinute = 50
	defaultBurst             = 5
)

// ErrEmptyResponse is returned when the model produced no choices.
var ErrEmptyResponse = errors.New("model returned no choices")

// Options configures a Client.
type Options struct {
	// RequestsPerMinute throttles calls. Zero uses the default; negative
	// disables limiting.
	RequestsPerMinute float64

	// Burst allows short bursts above the steady rate.
	Burst int

	MaxTokens   int
	Temperature float64
	Logger      *zap.Logger
}

// Client wraps a langchaingo model with rate limiting.
type Client struct {
	model       llms.Model
	limiter     *rate.Limiter
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

// New creates a client over model.
func New(model llms.Model, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	var limiter *rate.Limiter
	switch {
	case opts.RequestsPerMinute < 0:
	case opts.RequestsPerMinute == 0:
		limiter = rate.NewLimiter(rate.Limit(defaultRequestsPerMinute/60.0), burst)
	default:
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerMinute/60.0), burst)
	}

	return &Client{
		model:       model,
		limiter:     limiter,
		maxTokens:   maxTokens,
		temperature: opts.Temperature,
		logger:      logger,
	}
}

// Model returns the underlying langchaingo model.
func (c *Client) Model() llms.Model {
	return c.model
}

// Generate produces free text from a system prompt and a user-facing prompt.
func (c *Client) Generate(ctx context.Context, systemPrompt, prompt string) (string, error) {
	var msgs []llms.MessageContent
	if systemPrompt != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	choice, err := c.complete(ctx, msgs)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(choice.Content), nil
}

// Chat continues a conversation, returning the assistant's reply including
// any tool calls the model requested.
func (c *Client) Chat(ctx context.Context, systemPrompt string, history []conversation.Message) (conversation.Message, error) {
	var msgs []llms.MessageContent
	if systemPrompt != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	msgs = append(msgs, ToMessageContent(history)...)

	choice, err := c.complete(ctx, msgs)
	if err != nil {
		return conversation.Message{}, err
	}
	return FromChoice(choice), nil
}

func (c *Client) complete(ctx context.Context, msgs []llms.MessageContent) (*llms.ContentChoice, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter error: %w", err)
		}
	}

	opts := []llms.CallOption{llms.WithMaxTokens(c.maxTokens)}
	if c.temperature > 0 {
		opts = append(opts, llms.WithTemperature(c.temperature))
	}

	resp, err := c.model.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return nil, ErrEmptyResponse
	}

	c.logger.Debug("llm call completed",
		zap.Int("messages", len(msgs)),
		zap.Int("response_length", len(resp.Choices[0].Content)))
	return resp.Choices[0], nil
}
