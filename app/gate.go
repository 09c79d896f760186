// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/llmgate/domain/chat"
	"github.com/artpar/llmgate/domain/key"
	"github.com/artpar/llmgate/domain/quota"
	"github.com/artpar/llmgate/domain/ratelimit"
	"github.com/artpar/llmgate/domain/usage"
	"github.com/artpar/llmgate/ports"
)

// logMessageRunes caps how much of a user message reaches the logs.
const logMessageRunes = 50

// GateService admits, forwards, and accounts chat requests.
type GateService struct {
	resolver  ports.KeyResolver
	admission ports.Admission
	prompts   ports.PromptStore
	upstream  ports.ChatClient
	store     ports.UsageStore
	usage     ports.UsageRecorder
	clock     ports.Clock
	idGen     ports.IDGenerator
	logger    zerolog.Logger

	// Dynamic configuration (hot-reloadable)
	dynamicCfg atomic.Pointer[DynamicConfig]
}

// DynamicConfig contains hot-reloadable configuration.
type DynamicConfig struct {
	DefaultMaxTokens int64  // applied when a request omits max_tokens
	PromptName       string // system prompt to fetch; empty disables it
}

// GateDeps contains dependencies for GateService. Prompts and Store may
// be nil; the service degrades to no system prompt and no daily totals.
type GateDeps struct {
	Resolver  ports.KeyResolver
	Admission ports.Admission
	Prompts   ports.PromptStore
	Upstream  ports.ChatClient
	Store     ports.UsageStore
	Usage     ports.UsageRecorder
	Clock     ports.Clock
	IDGen     ports.IDGenerator
	Logger    zerolog.Logger
}

// NewGateService creates a new gate service.
func NewGateService(deps GateDeps, cfg DynamicConfig) *GateService {
	s := &GateService{
		resolver:  deps.Resolver,
		admission: deps.Admission,
		prompts:   deps.Prompts,
		upstream:  deps.Upstream,
		store:     deps.Store,
		usage:     deps.Usage,
		clock:     deps.Clock,
		idGen:     deps.IDGen,
		logger:    deps.Logger,
	}

	// Set initial dynamic config
	s.UpdateConfig(cfg)

	return s
}

// UpdateConfig updates the hot-reloadable configuration.
// This is thread-safe and can be called while handling requests.
func (s *GateService) UpdateConfig(cfg DynamicConfig) {
	s.dynamicCfg.Store(&cfg)
}

// getDynamicConfig returns the current dynamic configuration.
func (s *GateService) getDynamicConfig() *DynamicConfig {
	return s.dynamicCfg.Load()
}

// Chat processes one buffered completion.
// This method orchestrates pure domain functions with I/O operations.
func (s *GateService) Chat(ctx context.Context, req chat.Request) (chat.Result, error) {
	start := s.clock.Now()
	dynCfg := s.getDynamicConfig()
	log := s.requestLogger(req)

	// 1. Resolve the presented key to an identity (I/O)
	ident, err := s.resolver.Resolve(ctx, req.APIKey)
	if err != nil {
		log.Warn().Msg("rejected unknown api key")
		return chat.Result{}, err
	}
	log = log.With().Str("caller", ident.Name).Logger()

	// 2. Validate the request (PURE)
	if err := req.Validate(); err != nil {
		s.record(ident, req, usage.EndpointChat, StatusFor(err), 0, start)
		return chat.Result{}, err
	}

	// 3. Reserve capacity for the requested token budget (I/O)
	units := req.MaxTokens
	if units == 0 {
		units = dynCfg.DefaultMaxTokens
	}
	if err := s.admission.Admit(ctx, req.APIKey, units); err != nil {
		log.Warn().Int64("max_tokens", units).Str("reason", err.Error()).Msg("request denied")
		s.record(ident, req, usage.EndpointChat, StatusFor(err), 0, start)
		return chat.Result{}, err
	}

	log.Info().
		Int64("max_tokens", units).
		Str("message", chat.TruncateMessage(req.Message, logMessageRunes)).
		Msg("chat request admitted")

	// 4. Fetch the active system prompt (I/O, best-effort)
	upReq := chat.UpstreamRequest{
		SystemPrompt: s.systemPrompt(ctx, dynCfg.PromptName),
		Message:      req.Message,
		MaxTokens:    units,
	}

	// 5. Call the model (I/O)
	upResult, err := s.upstream.Chat(ctx, upReq)
	if err != nil {
		log.Error().Err(err).Msg("upstream chat failed")
		s.record(ident, req, usage.EndpointChat, StatusFor(err), 0, start)
		return chat.Result{}, err
	}

	// 6. Commit the tokens actually consumed (I/O)
	remaining, err := s.admission.RecordUsage(ctx, req.APIKey, upResult.TokensUsed)
	if err != nil {
		log.Error().Err(err).Msg("usage commit failed")
		s.record(ident, req, usage.EndpointChat, StatusFor(err), upResult.TokensUsed, start)
		return chat.Result{}, err
	}

	// 7. Record usage event (async I/O)
	s.record(ident, req, usage.EndpointChat, 200, upResult.TokensUsed, start)

	latencyMs := s.clock.Now().Sub(start).Milliseconds()
	log.Info().
		Int64("tokens_used", upResult.TokensUsed).
		Int64("tokens_remaining", remaining).
		Int64("latency_ms", latencyMs).
		Msg("chat request completed")

	return chat.Result{
		Caller:         ident.Name,
		Text:           upResult.Text,
		TokensUsed:     upResult.TokensUsed,
		RemainingToday: remaining,
		LatencyMs:      latencyMs,
	}, nil
}

// ChatStream processes one streaming completion. deliver is invoked for
// each content chunk in arrival order; a deliver error aborts the stream.
// Accounting happens after the upstream finishes, since the token count
// arrives with the final chunk.
func (s *GateService) ChatStream(ctx context.Context, req chat.Request, deliver func(chunk string) error) (chat.Result, error) {
	start := s.clock.Now()
	dynCfg := s.getDynamicConfig()
	log := s.requestLogger(req)

	// 1. Resolve the presented key to an identity (I/O)
	ident, err := s.resolver.Resolve(ctx, req.APIKey)
	if err != nil {
		log.Warn().Msg("rejected unknown api key")
		return chat.Result{}, err
	}
	log = log.With().Str("caller", ident.Name).Logger()

	// 2. Validate the request (PURE)
	if err := req.Validate(); err != nil {
		s.record(ident, req, usage.EndpointChatStream, StatusFor(err), 0, start)
		return chat.Result{}, err
	}

	// 3. Reserve capacity for the requested token budget (I/O)
	units := req.MaxTokens
	if units == 0 {
		units = dynCfg.DefaultMaxTokens
	}
	if err := s.admission.Admit(ctx, req.APIKey, units); err != nil {
		log.Warn().Int64("max_tokens", units).Str("reason", err.Error()).Msg("stream denied")
		s.record(ident, req, usage.EndpointChatStream, StatusFor(err), 0, start)
		return chat.Result{}, err
	}

	log.Info().
		Int64("max_tokens", units).
		Str("message", chat.TruncateMessage(req.Message, logMessageRunes)).
		Msg("chat stream admitted")

	// 4. Fetch the active system prompt (I/O, best-effort)
	upReq := chat.UpstreamRequest{
		SystemPrompt: s.systemPrompt(ctx, dynCfg.PromptName),
		Message:      req.Message,
		MaxTokens:    units,
	}

	// 5. Stream from the model (I/O)
	upResult, err := s.upstream.ChatStream(ctx, upReq, deliver)
	if err != nil {
		// A broken stream reports no usage, so there is nothing to
		// commit; the reservation decays with the window.
		log.Error().Err(err).Msg("upstream stream failed")
		s.record(ident, req, usage.EndpointChatStream, StatusFor(err), upResult.TokensUsed, start)
		return chat.Result{}, err
	}

	// 6. Commit the tokens actually consumed (I/O)
	remaining, err := s.admission.RecordUsage(ctx, req.APIKey, upResult.TokensUsed)
	if err != nil {
		log.Error().Err(err).Msg("usage commit failed")
		s.record(ident, req, usage.EndpointChatStream, StatusFor(err), upResult.TokensUsed, start)
		return chat.Result{}, err
	}

	// 7. Record usage event (async I/O)
	s.record(ident, req, usage.EndpointChatStream, 200, upResult.TokensUsed, start)

	latencyMs := s.clock.Now().Sub(start).Milliseconds()
	log.Info().
		Int64("tokens_used", upResult.TokensUsed).
		Int64("tokens_remaining", remaining).
		Int64("latency_ms", latencyMs).
		Msg("chat stream completed")

	return chat.Result{
		Caller:         ident.Name,
		Text:           upResult.Text,
		TokensUsed:     upResult.TokensUsed,
		RemainingToday: remaining,
		LatencyMs:      latencyMs,
	}, nil
}

// UsageReport is the calling subject's current standing.
type UsageReport struct {
	Caller    string
	Remaining ports.Remaining
	Daily     []usage.DailyTotal
}

// Usage reports remaining capacity and recent daily totals for the
// calling key. days bounds the totals; 0 means the store's full range.
func (s *GateService) Usage(ctx context.Context, apiKey string, days int) (UsageReport, error) {
	ident, err := s.resolver.Resolve(ctx, apiKey)
	if err != nil {
		return UsageReport{}, err
	}

	remaining, err := s.admission.Remaining(ctx, apiKey)
	if err != nil {
		return UsageReport{}, err
	}

	report := UsageReport{Caller: ident.Name, Remaining: remaining}
	if s.store == nil {
		return report, nil
	}

	// Buffered events have not reached the store yet; flush so the
	// report covers the request that is asking for it.
	if s.usage != nil {
		if err := s.usage.Flush(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("usage flush before report failed")
		}
	}

	daily, err := s.store.DailyTotals(ctx, ident.Name, days)
	if err != nil {
		return UsageReport{}, err
	}
	report.Daily = daily
	return report, nil
}

// Health verifies the upstream model API is reachable.
func (s *GateService) Health(ctx context.Context) error {
	return s.upstream.HealthCheck(ctx)
}

// systemPrompt fetches the active prompt content, degrading to none.
// A chat must not fail because the prompt catalog is empty.
func (s *GateService) systemPrompt(ctx context.Context, name string) string {
	if name == "" || s.prompts == nil {
		return ""
	}
	p, err := s.prompts.Active(ctx, name)
	if err != nil {
		if !errors.Is(err, ports.ErrPromptNotFound) {
			s.logger.Warn().Err(err).Str("prompt", name).Msg("prompt lookup failed")
		}
		return ""
	}
	return p.Content
}

// record queues a usage event for the terminal outcome of a request.
func (s *GateService) record(ident key.Identity, req chat.Request, endpoint usage.Endpoint, status int, tokens int64, start time.Time) {
	if s.usage == nil {
		return
	}
	now := s.clock.Now()
	prefix, _ := key.ValidateFormat(req.APIKey)
	s.usage.Record(usage.NewEvent(
		s.idGen.New(),
		ident.Name,
		prefix,
		endpoint,
		status,
		tokens,
		now.Sub(start).Milliseconds(),
		now,
	))
}

// requestLogger tags the service logger with request metadata. The key
// is masked; raw credentials never reach the logs.
func (s *GateService) requestLogger(req chat.Request) zerolog.Logger {
	lc := s.logger.With().Str("key", chat.MaskKey(req.APIKey))
	if req.TraceID != "" {
		lc = lc.Str("trace_id", req.TraceID)
	}
	if req.RemoteIP != "" {
		lc = lc.Str("remote_ip", req.RemoteIP)
	}
	return lc.Logger()
}

// StatusFor maps a gate error to the HTTP status it produces at the
// boundary. Handlers and usage events share this mapping.
func StatusFor(err error) int {
	var limitErr *ratelimit.LimitError
	var quotaErr *quota.QuotaError
	var valErr *chat.ValidationError
	var upErr *ports.UpstreamError

	switch {
	case err == nil:
		return 200
	case errors.Is(err, ports.ErrKeyNotFound):
		return 401
	case errors.As(err, &limitErr):
		return 429
	case errors.As(err, &quotaErr):
		return 403
	case errors.As(err, &valErr), errors.Is(err, ports.ErrNegativeUnits):
		return 400
	case errors.As(err, &upErr):
		return upErr.StatusCode
	default:
		return 500
	}
}
