// Package http provides HTTP handlers for the gate service.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/artpar/llmgate/adapters/metrics"
	"github.com/artpar/llmgate/app"
	_ "github.com/artpar/llmgate/docs/swagger" // swagger docs
	"github.com/artpar/llmgate/domain/chat"
	"github.com/artpar/llmgate/domain/quota"
	"github.com/artpar/llmgate/domain/ratelimit"
	"github.com/artpar/llmgate/domain/streaming"
	"github.com/artpar/llmgate/pkg/httpjson"
	"github.com/artpar/llmgate/ports"
)

// ChatRequest is the wire shape of a chat call.
type ChatRequest struct {
	Message   string `json:"message" example:"Hello, how are you?"`
	MaxTokens int64  `json:"max_tokens,omitempty" example:"150"`
}

// ChatResponse is the wire shape of a completed chat call.
type ChatResponse struct {
	Response             string `json:"response"`
	TokensUsed           int64  `json:"tokens_used" example:"42"`
	TokensRemainingToday int64  `json:"tokens_remaining_today" example:"9958"`
}

// UsageResponse reports the calling key's current standing.
type UsageResponse struct {
	Caller               string       `json:"caller" example:"team-search"`
	RequestsRemaining    WindowUsage  `json:"requests_remaining"`
	TokensRemainingToday int64        `json:"tokens_remaining_today" example:"9958"`
	Daily                []DailyUsage `json:"daily"`
}

// WindowUsage reports remaining request slots per rate window.
type WindowUsage struct {
	PerSecond int `json:"per_second" example:"4"`
	PerMinute int `json:"per_minute" example:"57"`
}

// DailyUsage is one day of aggregated traffic for the calling key.
type DailyUsage struct {
	Date         string `json:"date" example:"2024-01-15"`
	Requests     int64  `json:"requests" example:"120"`
	TokensUsed   int64  `json:"tokens_used" example:"8040"`
	Errors       int64  `json:"errors" example:"3"`
	AvgLatencyMs int64  `json:"avg_latency_ms" example:"420"`
}

// ServiceStatus is the root health shape kept for older clients.
type ServiceStatus struct {
	Status  string `json:"status" example:"healthy"`
	Service string `json:"service" example:"llmgate"`
}

// Stream frames. Deltas carry content, the final frame carries the
// token accounting, and a failure after streaming started becomes a
// terminal error frame since the 200 status is already on the wire.
type streamDelta struct {
	Chunk string `json:"chunk"`
	Done  bool   `json:"done"`
}

type streamFinal struct {
	Chunk                string `json:"chunk"`
	Done                 bool   `json:"done"`
	TokensUsed           int64  `json:"tokens_used"`
	TokensRemainingToday int64  `json:"tokens_remaining_today"`
}

type streamFailure struct {
	Error string `json:"error"`
	Done  bool   `json:"done"`
}

// GateHandler wraps the gate service for HTTP handling.
type GateHandler struct {
	service *app.GateService
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewGateHandler creates a new HTTP gate handler.
func NewGateHandler(service *app.GateService, logger zerolog.Logger) *GateHandler {
	return &GateHandler{
		service: service,
		logger:  logger,
	}
}

// NewGateHandlerWithMetrics creates a new HTTP gate handler with metrics.
func NewGateHandlerWithMetrics(service *app.GateService, logger zerolog.Logger, m *metrics.Collector) *GateHandler {
	return &GateHandler{
		service: service,
		logger:  logger,
		metrics: m,
	}
}

// Chat handles a buffered completion request.
//
//	@Summary		Send a chat message
//	@Description	Admits the request against rate and token limits, forwards it to the model, and returns the full completion
//	@Tags			Chat
//	@Accept			json
//	@Produce		json
//	@Param			X-API-Key	header		string		true	"API key"
//	@Param			request		body		ChatRequest	true	"Chat request"
//	@Success		200			{object}	ChatResponse
//	@Failure		400			{object}	httpjson.Error	"Malformed request"
//	@Failure		401			{object}	httpjson.Error	"Invalid API key"
//	@Failure		403			{object}	httpjson.Error	"Token quota exceeded"
//	@Failure		429			{object}	httpjson.Error	"Rate limit exceeded"
//	@Failure		500			{object}	httpjson.Error	"Internal error"
//	@Security		ApiKeyAuth
//	@Router			/api/v1/chat [post]
func (h *GateHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var body ChatRequest
	if err := httpjson.Decode(w, r, &body); err != nil {
		h.logger.Debug().Err(err).Msg("rejected malformed chat request")
		h.count("chat", http.StatusBadRequest, "")
		httpjson.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Chat(r.Context(), h.gateRequest(r, body))
	if err != nil {
		h.writeGateError(w, "chat", err)
		return
	}

	h.count("chat", http.StatusOK, result.Caller)
	h.observeTokens("chat", result)
	httpjson.Write(w, http.StatusOK, ChatResponse{
		Response:             result.Text,
		TokensUsed:           result.TokensUsed,
		TokensRemainingToday: result.RemainingToday,
	})
}

// ChatStream handles a streaming completion request over SSE.
//
//	@Summary		Stream a chat completion
//	@Description	Admits the request, then relays model output as server-sent events; the terminal frame carries the token accounting
//	@Tags			Chat
//	@Accept			json
//	@Produce		text/event-stream
//	@Param			X-API-Key	header	string		true	"API key"
//	@Param			request		body	ChatRequest	true	"Chat request"
//	@Success		200			"SSE frames: data: {chunk, done} then data: {chunk:\"\", done:true, tokens_used, tokens_remaining_today}"
//	@Failure		400			{object}	httpjson.Error	"Malformed request"
//	@Failure		401			{object}	httpjson.Error	"Invalid API key"
//	@Failure		403			{object}	httpjson.Error	"Token quota exceeded"
//	@Failure		429			{object}	httpjson.Error	"Rate limit exceeded"
//	@Security		ApiKeyAuth
//	@Router			/api/v1/chat/stream [post]
func (h *GateHandler) ChatStream(w http.ResponseWriter, r *http.Request) {
	var body ChatRequest
	if err := httpjson.Decode(w, r, &body); err != nil {
		h.logger.Debug().Err(err).Msg("rejected malformed stream request")
		h.count("chat_stream", http.StatusBadRequest, "")
		httpjson.WriteBadRequest(w, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.count("chat_stream", http.StatusInternalServerError, "")
		httpjson.WriteInternalError(w, "streaming unsupported")
		return
	}

	// Failures before the first delta can still use plain JSON
	// statuses; after it the response is committed as a 200 stream.
	streaming := false
	deliver := func(chunk string) error {
		if !streaming {
			startSSE(w)
			streaming = true
		}
		if err := writeFrame(w, streamDelta{Chunk: chunk}); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	result, err := h.service.ChatStream(r.Context(), h.gateRequest(r, body), deliver)
	if err != nil {
		if !streaming {
			h.writeGateError(w, "chat_stream", err)
			return
		}
		h.count("chat_stream", app.StatusFor(err), "")
		_ = writeFrame(w, streamFailure{Error: streamErrorMessage(err), Done: true})
		flusher.Flush()
		return
	}

	if !streaming {
		// No deltas arrived; open the stream for the final frame.
		startSSE(w)
	}

	h.count("chat_stream", http.StatusOK, result.Caller)
	h.observeTokens("chat_stream", result)
	_ = writeFrame(w, streamFinal{
		Done:                 true,
		TokensUsed:           result.TokensUsed,
		TokensRemainingToday: result.RemainingToday,
	})
	flusher.Flush()
}

// Usage reports remaining capacity and recent daily totals for the
// calling key.
//
//	@Summary		Current usage and remaining allowance
//	@Description	Returns remaining request slots per rate window, remaining daily tokens, and recent per-day totals
//	@Tags			Usage
//	@Produce		json
//	@Param			X-API-Key	header		string	true	"API key"
//	@Param			days		query		int		false	"How many days of totals to include (default 7, max 90)"
//	@Success		200			{object}	UsageResponse
//	@Failure		401			{object}	httpjson.Error	"Invalid API key"
//	@Security		ApiKeyAuth
//	@Router			/api/v1/usage [get]
func (h *GateHandler) Usage(w http.ResponseWriter, r *http.Request) {
	days := parseDays(r.URL.Query().Get("days"))

	report, err := h.service.Usage(r.Context(), extractAPIKey(r), days)
	if err != nil {
		h.writeGateError(w, "usage", err)
		return
	}

	out := UsageResponse{
		Caller: report.Caller,
		RequestsRemaining: WindowUsage{
			PerSecond: report.Remaining.PerSecond,
			PerMinute: report.Remaining.PerMinute,
		},
		TokensRemainingToday: report.Remaining.PerDay,
		Daily:                make([]DailyUsage, 0, len(report.Daily)),
	}
	for _, d := range report.Daily {
		out.Daily = append(out.Daily, DailyUsage{
			Date:         d.Day,
			Requests:     d.RequestCount,
			TokensUsed:   d.TokensUsed,
			Errors:       d.ErrorCount,
			AvgLatencyMs: d.AvgLatencyMs,
		})
	}

	h.count("usage", http.StatusOK, report.Caller)
	httpjson.Write(w, http.StatusOK, out)
}

// writeGateError maps a gate failure onto the wire contract.
func (h *GateHandler) writeGateError(w http.ResponseWriter, endpoint string, err error) {
	status := app.StatusFor(err)
	h.count(endpoint, status, "")

	var limitErr *ratelimit.LimitError
	var quotaErr *quota.QuotaError
	var upErr *ports.UpstreamError

	switch {
	case errors.Is(err, ports.ErrKeyNotFound):
		if h.metrics != nil {
			h.metrics.AuthFailures.WithLabelValues("invalid_api_key").Inc()
		}
		httpjson.WriteUnauthorized(w, "invalid API key")

	case errors.As(err, &limitErr):
		if h.metrics != nil {
			h.metrics.AdmissionDenials.WithLabelValues(limitErr.Window).Inc()
		}
		httpjson.WriteTooManyRequests(w, limitErr.Error(), limitErr.RetryAfter)

	case errors.As(err, &quotaErr):
		if h.metrics != nil {
			h.metrics.AdmissionDenials.WithLabelValues(quotaErr.Scope).Inc()
		}
		httpjson.WriteForbidden(w, quotaErr.Error())

	case errors.As(err, &upErr):
		switch upErr.StatusCode {
		case http.StatusTooManyRequests:
			httpjson.WriteTooManyRequests(w, upErr.Message, 0)
		case http.StatusBadRequest:
			httpjson.WriteBadRequest(w, upErr.Message)
		default:
			httpjson.WriteErrorDetail(w, http.StatusInternalServerError, "internal server error", upErr.Message)
		}

	case status == http.StatusBadRequest:
		httpjson.WriteBadRequest(w, err.Error())

	default:
		httpjson.WriteErrorDetail(w, http.StatusInternalServerError, "internal server error", err.Error())
	}
}

func (h *GateHandler) gateRequest(r *http.Request, body ChatRequest) chat.Request {
	return chat.Request{
		APIKey:    extractAPIKey(r),
		Message:   body.Message,
		MaxTokens: body.MaxTokens,
		RemoteIP:  remoteIP(r),
		TraceID:   middleware.GetReqID(r.Context()),
	}
}

func (h *GateHandler) count(endpoint string, status int, subject string) {
	if h.metrics == nil {
		return
	}
	h.metrics.RequestsTotal.
		WithLabelValues(endpoint, metrics.StatusClass(status), subject).
		Inc()
}

func (h *GateHandler) observeTokens(endpoint string, result chat.Result) {
	if h.metrics == nil {
		return
	}
	h.metrics.TokensUsed.WithLabelValues(result.Caller, endpoint).Add(float64(result.TokensUsed))
	h.metrics.TokensRemaining.WithLabelValues(result.Caller).Set(float64(result.RemainingToday))
}

// startSSE commits the response as an event stream.
func startSSE(w http.ResponseWriter) {
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

// writeFrame writes one SSE data frame.
func writeFrame(w http.ResponseWriter, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return streaming.WriteData(w, payload)
}

// streamErrorMessage renders a mid-stream failure with the same wording
// the JSON statuses use.
func streamErrorMessage(err error) string {
	var upErr *ports.UpstreamError
	if errors.As(err, &upErr) {
		return upErr.Message
	}
	return err.Error()
}

// extractAPIKey pulls the credential from the X-API-Key header, falling
// back to a bearer token for OpenAI-style clients.
func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// remoteIP extracts the client IP. The RealIP middleware has already
// folded X-Forwarded-For and X-Real-IP into RemoteAddr.
func remoteIP(r *http.Request) string {
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

// parseDays bounds the usage window: default 7, max 90.
func parseDays(raw string) int {
	if raw == "" {
		return 7
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 7
	}
	if n > 90 {
		return 90
	}
	return n
}

// Root reports the legacy health shape on the service root.
//
//	@Summary		Service status
//	@Description	Returns the legacy health shape older clients poll
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	ServiceStatus
//	@Router			/ [get]
func Root(w http.ResponseWriter, r *http.Request) {
	httpjson.Write(w, http.StatusOK, ServiceStatus{Status: "healthy", Service: "llmgate"})
}

// HealthChecker reports upstream reachability.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	checker HealthChecker
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Liveness returns a simple liveness check.
//
//	@Summary		Liveness check
//	@Description	Returns OK if the service is running
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	map[string]string	"status: ok"
//	@Router			/health/live [get]
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	httpjson.Write(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness checks if the service can reach the upstream model API.
//
//	@Summary		Readiness check
//	@Description	Checks if the service and the upstream model API are ready to handle traffic
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	map[string]string	"status: ok"
//	@Failure		503	{object}	map[string]string	"status: unhealthy, error: message"
//	@Router			/health/ready [get]
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.checker != nil {
		if err := h.checker.Health(ctx); err != nil {
			httpjson.Write(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	httpjson.Write(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RouterConfig holds optional configuration for the router.
type RouterConfig struct {
	Metrics        *metrics.Collector
	MetricsHandler http.Handler // optional exporter; falls back to promhttp
	EnableOpenAPI  bool
	RequestTimeout time.Duration // buffered routes; 0 means 60s
}

// NewRouter creates the main HTTP router.
func NewRouter(gate *GateHandler, health *HealthHandler, logger zerolog.Logger) chi.Router {
	return NewRouterWithConfig(gate, health, logger, RouterConfig{})
}

// NewRouterWithConfig creates the main HTTP router with optional config.
func NewRouterWithConfig(gate *GateHandler, health *HealthHandler, logger zerolog.Logger, cfg RouterConfig) chi.Router {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.StripSlashes)
	r.Use(NewLoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics))
	}

	// Health endpoints (no auth required)
	r.Get("/", Root)
	r.Get("/health", health.Liveness)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	} else if cfg.Metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}

	if cfg.EnableOpenAPI {
		r.Get("/swagger/*", httpSwagger.Handler())
	}

	// The stream route lives outside the timeout middleware; a
	// completion can legitimately outlive it.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))
		r.Post("/api/v1/chat", gate.Chat)
		r.Get("/api/v1/usage", gate.Usage)
	})
	r.Post("/api/v1/chat/stream", gate.ChatStream)

	return r
}

// NewMetricsMiddleware records the in-flight gauge and request
// durations for the public endpoints.
func NewMetricsMiddleware(m *metrics.Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if internalPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			m.RequestDuration.
				WithLabelValues(endpointLabel(r.URL.Path), metrics.StatusClass(ww.Status())).
				Observe(time.Since(start).Seconds())
		})
	}
}

// NewLoggingMiddleware logs each request at debug level.
func NewLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			// Skip logging for health checks and metrics
			if internalPath(r.URL.Path) {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

func internalPath(path string) bool {
	return path == "/" || path == "/metrics" ||
		strings.HasPrefix(path, "/health") || strings.HasPrefix(path, "/swagger")
}

// endpointLabel keeps metric label cardinality to the known routes.
func endpointLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/chat/stream"):
		return "chat_stream"
	case strings.HasPrefix(path, "/api/v1/chat"):
		return "chat"
	case strings.HasPrefix(path, "/api/v1/usage"):
		return "usage"
	default:
		return "other"
	}
}
