package target

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	maxResponseBytes   = 10 * 1024 * 1024
)

// HTTPConfig configures an HTTP agent.
type HTTPConfig struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Client  *http.Client
	Logger  *zap.Logger
}

// HTTP posts the history as {"messages": [...]} and expects the same shape
// back.
type HTTP struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTP creates an HTTP agent.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{url: cfg.URL, headers: cfg.Headers, httpClient: client, logger: logger}, nil
}

type httpPayload struct {
	Messages []conversation.Message `json:"messages"`
}

// Respond implements Agent. A 2xx body that is not a valid message payload
// is recorded verbatim as one assistant text message.
func (h *HTTP) Respond(ctx context.Context, history []conversation.Message) (*Response, error) {
	body, err := json.Marshal(httpPayload{Messages: history})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling agent: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("agent returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var payload httpPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Messages == nil {
		h.logger.Warn("agent response is not a message payload, recording raw body",
			zap.String("url", h.url),
			zap.Int("bytes", len(raw)))
		return &Response{Messages: []conversation.Message{conversation.Assistant(string(raw))}}, nil
	}
	return &Response{Messages: payload.Messages}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
