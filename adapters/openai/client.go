// Package openai provides the upstream chat-completions client.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/artpar/llmgate/adapters/metrics"
	"github.com/artpar/llmgate/domain/chat"
	"github.com/artpar/llmgate/domain/streaming"
	"github.com/artpar/llmgate/ports"
)

// DefaultBaseURL is the hosted OpenAI endpoint.
const DefaultBaseURL = "https://api.openai.com/v1"

const (
	maxResponseBytes = 10 << 20
	maxErrorBytes    = 64 << 10
	maxLineBytes     = 1 << 20
)

// Config contains configuration for the upstream client.
type Config struct {
	BaseURL         string
	APIKey          string
	Model           string
	Temperature     float64
	Timeout         time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
	Metrics         *metrics.Collector // optional
}

// Client calls an OpenAI-compatible chat completions API.
type Client struct {
	client          *http.Client // For buffered requests
	streamingClient *http.Client // For streaming requests (no timeout)
	baseURL         string
	apiKey          string
	model           string
	temperature     float64
	metrics         *metrics.Collector
}

// New creates a new upstream client.
func New(cfg Config) *Client {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns == 0 {
		maxIdleConns = 100
	}

	idleConnTimeout := cfg.IdleConnTimeout
	if idleConnTimeout == 0 {
		idleConnTimeout = 90 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConns,
		IdleConnTimeout:     idleConnTimeout,
	}

	// Streaming transport with same settings but no compression
	// (SSE shouldn't be compressed mid-stream)
	streamingTransport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConns,
		IdleConnTimeout:     idleConnTimeout,
		DisableCompression:  true,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		// Streaming client has no timeout - completions can run for
		// minutes; cancellation comes from the request context.
		streamingClient: &http.Client{
			Transport: streamingTransport,
		},
		baseURL:     baseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		metrics:     cfg.Metrics,
	}
}

// -----------------------------------------------------------------------------
// Wire types
// -----------------------------------------------------------------------------

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model         string         `json:"model"`
	Messages      []message      `json:"messages"`
	MaxTokens     int64          `json:"max_tokens,omitempty"`
	Temperature   float64        `json:"temperature"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type usagePayload struct {
	TotalTokens int64 `json:"total_tokens"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *usagePayload `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *usagePayload `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// -----------------------------------------------------------------------------
// Calls
// -----------------------------------------------------------------------------

// Chat sends a completion request and waits for the full answer.
func (c *Client) Chat(ctx context.Context, req chat.UpstreamRequest) (chat.UpstreamResult, error) {
	body, err := json.Marshal(completionRequest{
		Model:       c.model,
		Messages:    buildMessages(req),
		MaxTokens:   req.MaxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return chat.UpstreamResult{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, bytes.NewReader(body))
	if err != nil {
		return chat.UpstreamResult{}, err
	}

	if c.metrics != nil {
		c.metrics.UpstreamInFlight.Inc()
		defer c.metrics.UpstreamInFlight.Dec()
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.countError("transport")
		return chat.UpstreamResult{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	defer c.observe("chat", resp.StatusCode, start)

	if resp.StatusCode != http.StatusOK {
		return chat.UpstreamResult{}, c.apiError(resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return chat.UpstreamResult{}, fmt.Errorf("read response: %w", err)
	}

	var out completionResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return chat.UpstreamResult{}, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return chat.UpstreamResult{}, errors.New("upstream response has no choices")
	}

	result := chat.UpstreamResult{Text: out.Choices[0].Message.Content}
	if out.Usage != nil {
		result.TokensUsed = out.Usage.TotalTokens
	}
	return result, nil
}

// ChatStream sends a completion request and delivers content deltas as
// they arrive. The returned result carries the accumulated text and the
// token count from the final usage record (0 when the upstream omits
// it).
func (c *Client) ChatStream(ctx context.Context, req chat.UpstreamRequest, deliver func(chunk string) error) (chat.UpstreamResult, error) {
	body, err := json.Marshal(completionRequest{
		Model:         c.model,
		Messages:      buildMessages(req),
		MaxTokens:     req.MaxTokens,
		Temperature:   c.temperature,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return chat.UpstreamResult{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, bytes.NewReader(body))
	if err != nil {
		return chat.UpstreamResult{}, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	if c.metrics != nil {
		c.metrics.UpstreamInFlight.Inc()
		defer c.metrics.UpstreamInFlight.Dec()
	}

	start := time.Now()
	resp, err := c.streamingClient.Do(httpReq)
	if err != nil {
		c.countError("transport")
		return chat.UpstreamResult{}, fmt.Errorf("execute streaming request: %w", err)
	}
	defer resp.Body.Close()
	defer c.observe("chat_stream", resp.StatusCode, start)

	if resp.StatusCode != http.StatusOK {
		return chat.UpstreamResult{}, c.apiError(resp)
	}

	var result chat.UpstreamResult
	sse := streaming.NewScanner(resp.Body, maxLineBytes)

	for sse.Next() {
		payload := sse.Data()
		if payload == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return result, fmt.Errorf("decode stream chunk: %w", err)
		}

		// With include_usage the last chunk carries usage and an empty
		// choices array.
		if chunk.Usage != nil {
			result.TokensUsed = chunk.Usage.TotalTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		result.Text += content
		if err := deliver(content); err != nil {
			return result, err
		}
		if c.metrics != nil {
			c.metrics.StreamChunks.Inc()
		}
	}
	if err := sse.Err(); err != nil {
		return result, fmt.Errorf("read stream: %w", err)
	}

	return result, nil
}

// HealthCheck verifies the upstream is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	// Any response (even 401) means upstream is reachable
	return nil
}

// Close closes idle connections on both clients.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	c.streamingClient.CloseIdleConnections()
	return nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (c *Client) newRequest(ctx context.Context, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

func buildMessages(req chat.UpstreamRequest) []message {
	msgs := make([]message, 0, 2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, message{Role: "system", Content: req.SystemPrompt})
	}
	msgs = append(msgs, message{Role: "user", Content: req.Message})
	return msgs
}

// apiError turns a non-200 upstream response into an UpstreamError
// carrying the status the gate should relay.
func (c *Client) apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))

	var parsed errorResponse
	_ = json.Unmarshal(body, &parsed)
	msg := parsed.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = resp.Status
	}

	classified := classify(resp.StatusCode, parsed.Error.Type, msg)
	c.countError(classified.Type)
	return classified
}

// observe records the upstream call duration. No-op without a collector.
func (c *Client) observe(endpoint string, status int, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.
		WithLabelValues(endpoint, metrics.StatusClass(status)).
		Observe(time.Since(start).Seconds())
}

func (c *Client) countError(errType string) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamErrors.WithLabelValues(errType).Inc()
}

// classify buckets an upstream failure the way callers need to see it:
// rate limiting is relayed as 429, malformed requests as 400, anything
// else is an internal fault of the gate's upstream.
func classify(status int, apiType, msg string) *ports.UpstreamError {
	probe := strings.ToLower(apiType + " " + msg)
	switch {
	case status == http.StatusTooManyRequests || strings.Contains(probe, "rate_limit"):
		return &ports.UpstreamError{
			StatusCode: http.StatusTooManyRequests,
			Type:       "rate_limit",
			Message:    "upstream rate limit exceeded, try again later",
		}
	case status >= 400 && status < 500 && strings.Contains(probe, "invalid"):
		return &ports.UpstreamError{
			StatusCode: http.StatusBadRequest,
			Type:       "invalid_request",
			Message:    "invalid request: " + msg,
		}
	default:
		return &ports.UpstreamError{
			StatusCode: http.StatusInternalServerError,
			Type:       "api_error",
			Message:    msg,
		}
	}
}

// Ensure interface compliance.
var _ ports.ChatClient = (*Client)(nil)
