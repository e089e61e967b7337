// Package omni talks to the assistant endpoint and runs conversation turns.
package omni

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/vitalisomni/internal/config"
)

// ChatPath is where the assistant accepts form posts.
const ChatPath = "/omni/chat/"

// Common errors
var (
	ErrMissingResponse = errors.New("reply has no response field")
	ErrEmptyMessage    = errors.New("message is empty")
)

// ClientConfig configures the assistant client
type ClientConfig struct {
	BaseURL string        // e.g., "http://127.0.0.1:8000"
	Timeout time.Duration // HTTP request timeout
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL: "http://127.0.0.1:8000",
		Timeout: 60 * time.Second,
	}
}

// ClientConfigFrom converts the loaded endpoint section.
func ClientConfigFrom(c config.EndpointConfig) *ClientConfig {
	cfg := DefaultClientConfig()
	if c.URL != "" {
		cfg.BaseURL = c.URL
	}
	if c.Timeout > 0 {
		cfg.Timeout = c.Timeout
	}
	return cfg
}

// ChatReply is the endpoint's JSON body.
type ChatReply struct {
	Response *string `json:"response"`
}

// Client posts user utterances to the assistant endpoint
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a new assistant client
func NewClient(cfg *ClientConfig, logger zerolog.Logger) *Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With().Str("component", "omni-client").Logger(),
	}
}

// Endpoint returns the full chat URL.
func (c *Client) Endpoint() string {
	return strings.TrimRight(c.config.BaseURL, "/") + ChatPath
}

// Chat sends message as the form field "message" and returns the raw reply,
// directives included.
func (c *Client) Chat(ctx context.Context, message string) (string, error) {
	form := url.Values{}
	form.Set("message", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach assistant: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("assistant request failed: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var reply ChatReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("failed to decode reply: %w", err)
	}
	if reply.Response == nil {
		return "", ErrMissingResponse
	}

	c.logger.Debug().
		Int("replyLen", len(*reply.Response)).
		Dur("latency", time.Since(start)).
		Msg("Assistant replied")

	return *reply.Response, nil
}
