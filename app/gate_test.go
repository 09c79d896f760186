package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/llmgate/adapters/auth"
	"github.com/artpar/llmgate/adapters/clock"
	"github.com/artpar/llmgate/adapters/hasher"
	"github.com/artpar/llmgate/adapters/memory"
	"github.com/artpar/llmgate/app"
	"github.com/artpar/llmgate/domain/chat"
	"github.com/artpar/llmgate/domain/quota"
	"github.com/artpar/llmgate/domain/ratelimit"
	"github.com/artpar/llmgate/domain/usage"
	"github.com/artpar/llmgate/ports"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

const testKey = "sk-test-alpha"

func TestGateService_Chat_ValidRequest(t *testing.T) {
	ctx := context.Background()
	svc, f := newTestGateService()
	f.upstream.result = chat.UpstreamResult{Text: "Hello there.", TokensUsed: 40}

	req := chat.Request{APIKey: testKey, Message: "Hello", MaxTokens: 100}
	result, err := svc.Chat(ctx, req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if result.Caller != "alpha" {
		t.Errorf("caller = %q, want alpha", result.Caller)
	}
	if result.Text != "Hello there." {
		t.Errorf("text = %q, want %q", result.Text, "Hello there.")
	}
	if result.TokensUsed != 40 {
		t.Errorf("tokensUsed = %d, want 40", result.TokensUsed)
	}
	if result.RemainingToday != 960 {
		t.Errorf("remainingToday = %d, want 960", result.RemainingToday)
	}

	// Verify the upstream received the admitted budget
	if f.upstream.lastReq.MaxTokens != 100 {
		t.Errorf("upstream maxTokens = %d, want 100", f.upstream.lastReq.MaxTokens)
	}
	if f.upstream.lastReq.Message != "Hello" {
		t.Errorf("upstream message = %q, want %q", f.upstream.lastReq.Message, "Hello")
	}

	// Verify usage was recorded
	events := f.usage.Drain()
	if len(events) != 1 {
		t.Fatalf("expected 1 usage event, got %d", len(events))
	}
	if events[0].SubjectName != "alpha" {
		t.Errorf("event subject = %s, want alpha", events[0].SubjectName)
	}
	if events[0].StatusCode != 200 {
		t.Errorf("event status = %d, want 200", events[0].StatusCode)
	}
	if events[0].TokensUsed != 40 {
		t.Errorf("event tokens = %d, want 40", events[0].TokensUsed)
	}
	if events[0].Endpoint != usage.EndpointChat {
		t.Errorf("event endpoint = %s, want %s", events[0].Endpoint, usage.EndpointChat)
	}
}

func TestGateService_Chat_UnknownKey(t *testing.T) {
	ctx := context.Background()
	svc, f := newTestGateService()

	req := chat.Request{APIKey: "sk-wrong", Message: "Hello"}
	_, err := svc.Chat(ctx, req)
	if !errors.Is(err, ports.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}

	if f.upstream.calls != 0 {
		t.Errorf("upstream calls = %d, want 0", f.upstream.calls)
	}
	if events := f.usage.Drain(); len(events) != 0 {
		t.Errorf("expected no usage events for unknown key, got %d", len(events))
	}
}

func TestGateService_Chat_EmptyMessage(t *testing.T) {
	ctx := context.Background()
	svc, f := newTestGateService()

	req := chat.Request{APIKey: testKey, Message: "   "}
	_, err := svc.Chat(ctx, req)

	var valErr *chat.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if f.upstream.calls != 0 {
		t.Errorf("upstream calls = %d, want 0", f.upstream.calls)
	}

	events := f.usage.Drain()
	if len(events) != 1 {
		t.Fatalf("expected 1 usage event, got %d", len(events))
	}
	if events[0].StatusCode != 400 {
		t.Errorf("event status = %d, want 400", events[0].StatusCode)
	}
}

func TestGateService_Chat_RateLimited(t *testing.T) {
	ctx := context.Background()
	svc, f := newTestGateService()
	f.upstream.result = chat.UpstreamResult{Text: "ok", TokensUsed: 5}

	req := chat.Request{APIKey: testKey, Message: "Hello", MaxTokens: 10}
	if _, err := svc.Chat(ctx, req); err != nil {
		t.Fatalf("first request: %v", err)
	}

	// Second request in the same second trips the per-second cap.
	_, err := svc.Chat(ctx, req)
	var limitErr *ratelimit.LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected LimitError, got %v", err)
	}
	if limitErr.RetryAfter <= 0 {
		t.Errorf("retryAfter = %v, want > 0", limitErr.RetryAfter)
	}

	if f.upstream.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", f.upstream.calls)
	}

	events := f.usage.Drain()
	if len(events) != 2 {
		t.Fatalf("expected 2 usage events, got %d", len(events))
	}
	if events[1].StatusCode != 429 {
		t.Errorf("denied event status = %d, want 429", events[1].StatusCode)
	}
	if events[1].TokensUsed != 0 {
		t.Errorf("denied event tokens = %d, want 0", events[1].TokensUsed)
	}
}

func TestGateService_Chat_PerRequestCap(t *testing.T) {
	ctx := context.Background()
	svc, f := newTestGateService()

	req := chat.Request{APIKey: testKey, Message: "Hello", MaxTokens: 500}
	_, err := svc.Chat(ctx, req)

	var quotaErr *quota.QuotaError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected QuotaError, got %v", err)
	}
	if quotaErr.Scope != quota.ScopeRequest {
		t.Errorf("scope = %s, want %s", quotaErr.Scope, quota.ScopeRequest)
	}

	events := f.usage.Drain()
	if len(events) != 1 || events[0].StatusCode != 403 {
		t.Fatalf("expected one 403 event, got %+v", events)
	}
}

func TestGateService_Chat_DailyQuotaExhausted(t *testing.T) {
	ctx := context.Background()
	svc, f := newTestGateService()
	f.upstream.result = chat.UpstreamResult{Text: "ok", TokensUsed: 200}

	req := chat.Request{APIKey: testKey, Message: "Hello", MaxTokens: 200}
	for i := 0; i < 5; i++ {
		f.clock.Advance(time.Second)
		if _, err := svc.Chat(ctx, req); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	// 5 * 200 = 1000 tokens used; the day is spent.
	f.clock.Advance(time.Second)
	_, err := svc.Chat(ctx, req)
	var quotaErr *quota.QuotaError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected QuotaError, got %v", err)
	}
	if quotaErr.Scope != quota.ScopeDay {
		t.Errorf("scope = %s, want %s", quotaErr.Scope, quota.ScopeDay)
	}

	events := f.usage.Drain()
	last := events[len(events)-1]
	if last.StatusCode != 403 {
		t.Errorf("denied event status = %d, want 403", last.StatusCode)
	}

	// A fresh day restores capacity.
	f.clock.Advance(24 * time.Hour)
	if _, err := svc.Chat(ctx, req); err != nil {
		t.Fatalf("after rollover: %v", err)
	}
}

func TestGateService_Chat_UpstreamError(t *testing.T) {
	ctx := context.Background()
	svc, f := newTestGateService()
	f.upstream.err = &ports.UpstreamError{StatusCode: 429, Type: "rate_limit", Message: "upstream rate limit exceeded, try again later"}

	req := chat.Request{APIKey: testKey, Message: "Hello", MaxTokens: 10}
	_, err := svc.Chat(ctx, req)

	var upErr *ports.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upErr.StatusCode != 429 {
		t.Errorf("status = %d, want 429", upErr.StatusCode)
	}

	events := f.usage.Drain()
	if len(events) != 1 || events[0].StatusCode != 429 {
		t.Fatalf("expected one 429 event, got %+v", events)
	}
}

func TestGateService_Chat_DefaultMaxTokens(t *testing.T) {
	ctx := context.Background()
	svc, f := newTestGateService()
	f.upstream.result = chat.UpstreamResult{Text: "ok", TokensUsed: 5}

	req := chat.Request{APIKey: testKey, Message: "Hello"}
	if _, err := svc.Chat(ctx, req); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if f.upstream.lastReq.MaxTokens != 150 {
		t.Errorf("upstream maxTokens = %d, want configured default 150", f.upstream.lastReq.MaxTokens)
	}
}

func TestGateService_Chat_SystemPrompt(t *testing.T) {
	ctx := context.Background()
	svc, f := newTestGateService()
	f.upstream.result = chat.UpstreamResult{Text: "ok", TokensUsed: 5}
	f.prompts.prompt = ports.Prompt{Name: "default", Version: 2, Content: "Be terse."}

	req := chat.Request{APIKey: testKey, Message: "Hello", MaxTokens: 10}
	if _, err := svc.Chat(ctx, req); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if f.upstream.lastReq.SystemPrompt != "Be terse." {
		t.Errorf("systemPrompt = %q, want %q", f.upstream.lastReq.SystemPrompt, "Be terse.")
	}
}

func TestGateService_Chat_PromptMissing(t *testing.T) {
	ctx := context.Background()
	svc, f := newTestGateService()
	f.upstream.result = chat.UpstreamResult{Text: "ok", TokensUsed: 5}
	f.prompts.err = ports.ErrPromptNotFound

	// A missing prompt must not fail the chat.
	req := chat.Request{APIKey: testKey, Message: "Hello", MaxTokens: 10}
	if _, err := svc.Chat(ctx, req); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if f.upstream.lastReq.SystemPrompt != "" {
		t.Errorf("systemPrompt = %q, want empty", f.upstream.lastReq.SystemPrompt)
	}
}

func TestGateService_ChatStream_DeliversChunks(t *testing.T) {
	ctx := context.Background()
	svc, f := newTestGateService()
	f.upstream.chunks = []string{"Hel", "lo"}
	f.upstream.result = chat.UpstreamResult{Text: "Hello", TokensUsed: 7}

	var got []string
	req := chat.Request{APIKey: testKey, Message: "Hi", MaxTokens: 10}
	result, err := svc.ChatStream(ctx, req, func(chunk string) error {
		got = append(got, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	if len(got) != 2 || got[0] != "Hel" || got[1] != "lo" {
		t.Errorf("chunks = %v, want [Hel lo]", got)
	}
	if result.TokensUsed != 7 {
		t.Errorf("tokensUsed = %d, want 7", result.TokensUsed)
	}
	if result.RemainingToday != 993 {
		t.Errorf("remainingToday = %d, want 993", result.RemainingToday)
	}

	events := f.usage.Drain()
	if len(events) != 1 {
		t.Fatalf("expected 1 usage event, got %d", len(events))
	}
	if events[0].Endpoint != usage.EndpointChatStream {
		t.Errorf("event endpoint = %s, want %s", events[0].Endpoint, usage.EndpointChatStream)
	}
}

func TestGateService_ChatStream_DeliverError(t *testing.T) {
	ctx := context.Background()
	svc, f := newTestGateService()
	f.upstream.chunks = []string{"Hel", "lo"}

	wantErr := errors.New("client went away")
	req := chat.Request{APIKey: testKey, Message: "Hi", MaxTokens: 10}
	_, err := svc.ChatStream(ctx, req, func(chunk string) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected deliver error, got %v", err)
	}

	events := f.usage.Drain()
	if len(events) != 1 {
		t.Fatalf("expected 1 usage event, got %d", len(events))
	}
	if events[0].StatusCode != 500 {
		t.Errorf("event status = %d, want 500", events[0].StatusCode)
	}
}

func TestGateService_ChatStream_Denied(t *testing.T) {
	ctx := context.Background()
	svc, f := newTestGateService()

	delivered := 0
	req := chat.Request{APIKey: testKey, Message: "Hi", MaxTokens: 5000}
	_, err := svc.ChatStream(ctx, req, func(chunk string) error {
		delivered++
		return nil
	})

	var quotaErr *quota.QuotaError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected QuotaError, got %v", err)
	}
	if delivered != 0 {
		t.Errorf("delivered = %d, want 0", delivered)
	}
	if f.upstream.calls != 0 {
		t.Errorf("upstream calls = %d, want 0", f.upstream.calls)
	}
}

func TestGateService_Usage(t *testing.T) {
	ctx := context.Background()
	svc, f := newTestGateService()
	f.upstream.result = chat.UpstreamResult{Text: "ok", TokensUsed: 100}
	f.store.totals = []usage.DailyTotal{
		{Day: "2024-01-15", SubjectName: "alpha", RequestCount: 1, TokensUsed: 100},
	}

	req := chat.Request{APIKey: testKey, Message: "Hello", MaxTokens: 100}
	if _, err := svc.Chat(ctx, req); err != nil {
		t.Fatalf("chat: %v", err)
	}

	report, err := svc.Usage(ctx, testKey, 7)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}

	if report.Caller != "alpha" {
		t.Errorf("caller = %s, want alpha", report.Caller)
	}
	if report.Remaining.PerDay != 900 {
		t.Errorf("remaining perDay = %d, want 900", report.Remaining.PerDay)
	}
	if report.Remaining.PerSecond != 0 {
		t.Errorf("remaining perSecond = %d, want 0", report.Remaining.PerSecond)
	}
	if len(report.Daily) != 1 || report.Daily[0].TokensUsed != 100 {
		t.Errorf("daily = %+v, want one row with 100 tokens", report.Daily)
	}
	if f.store.lastSubject != "alpha" {
		t.Errorf("store queried for %s, want alpha", f.store.lastSubject)
	}
	if f.store.lastDays != 7 {
		t.Errorf("store days = %d, want 7", f.store.lastDays)
	}
	if !f.usage.flushed {
		t.Error("expected recorder flush before reading totals")
	}
}

func TestGateService_Usage_UnknownKey(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestGateService()

	_, err := svc.Usage(ctx, "sk-wrong", 7)
	if !errors.Is(err, ports.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestGateService_UpdateConfig(t *testing.T) {
	ctx := context.Background()
	svc, f := newTestGateService()
	f.upstream.result = chat.UpstreamResult{Text: "ok", TokensUsed: 5}

	svc.UpdateConfig(app.DynamicConfig{DefaultMaxTokens: 42, PromptName: ""})

	req := chat.Request{APIKey: testKey, Message: "Hello"}
	if _, err := svc.Chat(ctx, req); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if f.upstream.lastReq.MaxTokens != 42 {
		t.Errorf("upstream maxTokens = %d, want reloaded default 42", f.upstream.lastReq.MaxTokens)
	}
	if f.prompts.calls != 0 {
		t.Errorf("prompt lookups = %d, want 0 with empty prompt name", f.prompts.calls)
	}
}

func TestGateService_Health(t *testing.T) {
	ctx := context.Background()
	svc, f := newTestGateService()

	if err := svc.Health(ctx); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}

	f.upstream.healthErr = errors.New("connection refused")
	if err := svc.Health(ctx); err == nil {
		t.Fatal("expected health error")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 200},
		{"unknown key", ports.ErrKeyNotFound, 401},
		{"rate limit", &ratelimit.LimitError{Window: "second", Cap: 5}, 429},
		{"quota", &quota.QuotaError{Scope: quota.ScopeDay, Max: 1000}, 403},
		{"validation", &chat.ValidationError{Msg: "message is required"}, 400},
		{"negative units", ports.ErrNegativeUnits, 400},
		{"upstream 429", &ports.UpstreamError{StatusCode: 429}, 429},
		{"upstream 400", &ports.UpstreamError{StatusCode: 400}, 400},
		{"unknown", errors.New("boom"), 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := app.StatusFor(tt.err); got != tt.want {
				t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Test fixtures
// -----------------------------------------------------------------------------

type testFixture struct {
	clock    *clock.Fake
	upstream *testUpstream
	prompts  *testPromptStore
	store    *testUsageStore
	usage    *testUsageRecorder
}

type testUpstream struct {
	result    chat.UpstreamResult
	err       error
	chunks    []string
	healthErr error

	calls   int
	lastReq chat.UpstreamRequest
}

func (u *testUpstream) Chat(ctx context.Context, req chat.UpstreamRequest) (chat.UpstreamResult, error) {
	u.calls++
	u.lastReq = req
	if u.err != nil {
		return chat.UpstreamResult{}, u.err
	}
	return u.result, nil
}

func (u *testUpstream) ChatStream(ctx context.Context, req chat.UpstreamRequest, deliver func(chunk string) error) (chat.UpstreamResult, error) {
	u.calls++
	u.lastReq = req
	if u.err != nil {
		return chat.UpstreamResult{}, u.err
	}
	for _, c := range u.chunks {
		if err := deliver(c); err != nil {
			return chat.UpstreamResult{}, err
		}
	}
	return u.result, nil
}

func (u *testUpstream) HealthCheck(ctx context.Context) error {
	return u.healthErr
}

type testPromptStore struct {
	prompt ports.Prompt
	err    error
	calls  int
}

func (p *testPromptStore) Active(ctx context.Context, name string) (ports.Prompt, error) {
	p.calls++
	if p.err != nil {
		return ports.Prompt{}, p.err
	}
	return p.prompt, nil
}

type testUsageStore struct {
	totals      []usage.DailyTotal
	lastSubject string
	lastDays    int
}

func (s *testUsageStore) RecordBatch(ctx context.Context, events []usage.Event) error {
	return nil
}

func (s *testUsageStore) DailyTotals(ctx context.Context, subjectName string, days int) ([]usage.DailyTotal, error) {
	s.lastSubject = subjectName
	s.lastDays = days
	return s.totals, nil
}

func (s *testUsageStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type testUsageRecorder struct {
	events  []usage.Event
	flushed bool
}

func (r *testUsageRecorder) Record(e usage.Event) {
	r.events = append(r.events, e)
}

func (r *testUsageRecorder) Flush(ctx context.Context) error {
	r.flushed = true
	return nil
}

func (r *testUsageRecorder) Close() error {
	return nil
}

func (r *testUsageRecorder) Drain() []usage.Event {
	events := r.events
	r.events = nil
	return events
}

type testIDGen struct {
	counter int
}

func (g *testIDGen) New() string {
	g.counter++
	return "id-" + itoa(g.counter)
}

func itoa(n int) string {
	if n < 10 {
		return string(rune('0' + n))
	}
	return itoa(n/10) + string(rune('0'+n%10))
}

// newTestGateService wires a gate with one static key ("alpha"), a
// per-second cap of 1, a per-request cap of 400 tokens, and a daily
// budget of 1000 tokens.
func newTestGateService() (*app.GateService, *testFixture) {
	f := &testFixture{
		clock:    clock.NewFake(baseTime),
		upstream: &testUpstream{},
		prompts:  &testPromptStore{},
		store:    &testUsageStore{},
		usage:    &testUsageRecorder{},
	}

	resolver := auth.NewResolver(auth.Config{
		Static: []auth.StaticKey{{Name: "alpha", Key: testKey}},
	}, nil, hasher.Fake{}, f.clock)

	admission := memory.NewAdmissionController(memory.AdmissionConfig{
		Limits: memory.Limits{
			PerSecond:     1,
			PerMinute:     30,
			MaxPerRequest: 400,
			MaxPerDay:     1000,
			Location:      time.UTC,
		},
	}, f.clock)

	deps := app.GateDeps{
		Resolver:  resolver,
		Admission: admission,
		Prompts:   f.prompts,
		Upstream:  f.upstream,
		Store:     f.store,
		Usage:     f.usage,
		Clock:     f.clock,
		IDGen:     &testIDGen{},
		Logger:    zerolog.Nop(),
	}

	cfg := app.DynamicConfig{
		DefaultMaxTokens: 150,
		PromptName:       "default",
	}

	return app.NewGateService(deps, cfg), f
}
