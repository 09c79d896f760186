package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/artpar/llmgate/adapters/openai"
	"github.com/artpar/llmgate/domain/chat"
	"github.com/artpar/llmgate/ports"
)

func newTestClient(baseURL string) *openai.Client {
	return openai.New(openai.Config{
		BaseURL:     baseURL,
		APIKey:      "sk-test",
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		Timeout:     5 * time.Second,
	})
}

func TestClient_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Path = %s, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %s, want Bearer sk-test", got)
		}

		var req struct {
			Model     string `json:"model"`
			MaxTokens int64  `json:"max_tokens"`
			Messages  []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("model = %s, want gpt-4o-mini", req.Model)
		}
		if req.MaxTokens != 200 {
			t.Errorf("max_tokens = %d, want 200", req.MaxTokens)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("messages = %+v, want single user message", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"choices": [{"message": {"role": "assistant", "content": "Hello there."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	defer client.Close()

	result, err := client.Chat(context.Background(), chat.UpstreamRequest{
		Message:   "Say hello",
		MaxTokens: 200,
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if result.Text != "Hello there." {
		t.Errorf("Text = %q, want %q", result.Text, "Hello there.")
	}
	if result.TokensUsed != 16 {
		t.Errorf("TokensUsed = %d, want 16", result.TokensUsed)
	}
}

func TestClient_Chat_SystemPrompt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 {
			t.Fatalf("messages len = %d, want 2", len(req.Messages))
		}
		if req.Messages[0].Role != "system" || req.Messages[0].Content != "Be terse." {
			t.Errorf("messages[0] = %+v, want system prompt first", req.Messages[0])
		}
		if req.Messages[1].Role != "user" {
			t.Errorf("messages[1].Role = %s, want user", req.Messages[1].Role)
		}

		io.WriteString(w, `{"choices": [{"message": {"content": "ok"}}], "usage": {"total_tokens": 3}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	defer client.Close()

	_, err := client.Chat(context.Background(), chat.UpstreamRequest{
		SystemPrompt: "Be terse.",
		Message:      "hi",
		MaxTokens:    10,
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
}

func TestClient_Chat_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error": {"message": "Rate limit reached for requests", "type": "rate_limit_error"}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	defer client.Close()

	_, err := client.Chat(context.Background(), chat.UpstreamRequest{Message: "hi", MaxTokens: 10})
	if err == nil {
		t.Fatal("expected error")
	}

	var upErr *ports.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %T: %v", err, err)
	}
	if upErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", upErr.StatusCode)
	}
	if upErr.Type != "rate_limit" {
		t.Errorf("Type = %s, want rate_limit", upErr.Type)
	}
}

func TestClient_Chat_InvalidRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error": {"message": "max_tokens must be positive", "type": "invalid_request_error"}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	defer client.Close()

	_, err := client.Chat(context.Background(), chat.UpstreamRequest{Message: "hi", MaxTokens: 10})

	var upErr *ports.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", upErr.StatusCode)
	}
	if upErr.Type != "invalid_request" {
		t.Errorf("Type = %s, want invalid_request", upErr.Type)
	}
	if !strings.Contains(upErr.Message, "max_tokens must be positive") {
		t.Errorf("Message = %q, want upstream detail included", upErr.Message)
	}
}

func TestClient_Chat_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error": {"message": "The server is overloaded", "type": "server_error"}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	defer client.Close()

	_, err := client.Chat(context.Background(), chat.UpstreamRequest{Message: "hi", MaxTokens: 10})

	var upErr *ports.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", upErr.StatusCode)
	}
	if upErr.Type != "api_error" {
		t.Errorf("Type = %s, want api_error", upErr.Type)
	}
}

func TestClient_Chat_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	client := openai.New(openai.Config{
		BaseURL: server.URL,
		APIKey:  "sk-test",
		Model:   "gpt-4o-mini",
		Timeout: 100 * time.Millisecond,
	})
	defer client.Close()

	_, err := client.Chat(context.Background(), chat.UpstreamRequest{Message: "hi", MaxTokens: 10})
	if err == nil {
		t.Error("expected timeout error")
	}
}

func TestClient_ChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream        bool `json:"stream"`
			StreamOptions *struct {
				IncludeUsage bool `json:"include_usage"`
			} `json:"stream_options"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("stream should be true")
		}
		if req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
			t.Error("stream_options.include_usage should be set")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"},\"finish_reason\":null}]}\n\n")
		flusher.Flush()
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":null}]}\n\n")
		flusher.Flush()
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2,\"total_tokens\":7}}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	defer client.Close()

	var chunks []string
	result, err := client.ChatStream(context.Background(), chat.UpstreamRequest{
		Message:   "Say hello",
		MaxTokens: 50,
	}, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}

	if len(chunks) != 2 {
		t.Fatalf("chunks = %v, want 2 deltas", chunks)
	}
	if chunks[0] != "Hel" || chunks[1] != "lo" {
		t.Errorf("chunks = %v, want [Hel lo]", chunks)
	}
	if result.Text != "Hello" {
		t.Errorf("Text = %q, want Hello", result.Text)
	}
	if result.TokensUsed != 7 {
		t.Errorf("TokensUsed = %d, want 7", result.TokensUsed)
	}
}

func TestClient_ChatStream_NoUsageRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"},\"finish_reason\":null}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	defer client.Close()

	result, err := client.ChatStream(context.Background(), chat.UpstreamRequest{
		Message:   "hi",
		MaxTokens: 10,
	}, func(string) error { return nil })
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}

	// Some OpenAI-compatible servers never send usage; the count
	// degrades to zero rather than failing the stream.
	if result.TokensUsed != 0 {
		t.Errorf("TokensUsed = %d, want 0", result.TokensUsed)
	}
	if result.Text != "hi" {
		t.Errorf("Text = %q, want hi", result.Text)
	}
}

func TestClient_ChatStream_DeliverError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"one\"},\"finish_reason\":null}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"two\"},\"finish_reason\":null}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	defer client.Close()

	wantErr := errors.New("client went away")
	delivered := 0
	_, err := client.ChatStream(context.Background(), chat.UpstreamRequest{
		Message:   "hi",
		MaxTokens: 10,
	}, func(string) error {
		delivered++
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want deliver error propagated", err)
	}
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1 (stop at first deliver error)", delivered)
	}
}

func TestClient_ChatStream_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error": {"message": "Rate limit reached", "type": "rate_limit_error"}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	defer client.Close()

	_, err := client.ChatStream(context.Background(), chat.UpstreamRequest{
		Message:   "hi",
		MaxTokens: 10,
	}, func(string) error {
		t.Error("deliver should not be called")
		return nil
	})

	var upErr *ports.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", upErr.StatusCode)
	}
}

func TestClient_HealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"healthy - 200", 200},
		{"reachable - 401", 401}, // Any response means reachable
		{"reachable - 500", 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/models" {
					t.Errorf("Path = %s, want /models", r.URL.Path)
				}
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			client := newTestClient(server.URL)
			defer client.Close()

			if err := client.HealthCheck(context.Background()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestClient_HealthCheck_Unreachable(t *testing.T) {
	client := openai.New(openai.Config{
		BaseURL: "http://localhost:59999", // Non-existent port
		APIKey:  "sk-test",
		Model:   "gpt-4o-mini",
		Timeout: 100 * time.Millisecond,
	})
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("expected error for unreachable host")
	}
}
