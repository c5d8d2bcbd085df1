package flow_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelflow/modelflow/contextwindow"
	"github.com/modelflow/modelflow/core/chat"
	"github.com/modelflow/modelflow/flow"
	"github.com/modelflow/modelflow/observability"
	"github.com/modelflow/modelflow/provider"
)

// --- Test helpers ---

// byteTokenizer counts one token per byte.
type byteTokenizer struct{}

func (byteTokenizer) ID() string { return "test:bytes" }

func (byteTokenizer) Count(text string) (int, error) { return len(text), nil }

func (byteTokenizer) Encode(text string) ([]int, error) {
	out := make([]int, len(text))
	for i := range text {
		out[i] = int(text[i])
	}
	return out, nil
}

type fakeResponse struct {
	result *chat.CompletionResult
	err    error
	delay  time.Duration
}

// fakeProvider replays scripted responses; the last one repeats. It records
// every call and the messages it received.
type fakeProvider struct {
	id    string
	limit int

	mu        sync.Mutex
	calls     int
	received  [][]chat.Message
	responses []fakeResponse
}

func (p *fakeProvider) ID() string          { return p.id }
func (p *fakeProvider) ContextLimit() int   { return p.limit }
func (p *fakeProvider) TokenizerID() string { return "test:bytes" }

func (p *fakeProvider) Complete(ctx context.Context, messages []chat.Message, params chat.GenerationParams) (*chat.CompletionResult, error) {
	p.mu.Lock()
	i := p.calls
	p.calls++
	p.received = append(p.received, messages)
	p.mu.Unlock()

	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	resp := p.responses[i]

	if resp.delay > 0 {
		select {
		case <-time.After(resp.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return resp.result, resp.err
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) lastReceived() []chat.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.received) == 0 {
		return nil
	}
	return p.received[len(p.received)-1]
}

type fakeSource struct {
	providers map[string]provider.Provider
}

func (s *fakeSource) Get(id string) (provider.Provider, error) {
	p, ok := s.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", provider.ErrUnknownProvider, id)
	}
	return p, nil
}

func ok(content string) fakeResponse {
	return fakeResponse{result: &chat.CompletionResult{
		Content:    content,
		ProviderID: "fake",
		Usage:      chat.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
}

func transient() fakeResponse {
	return fakeResponse{err: &provider.TransientError{ProviderID: "fake", Status: 503, Err: errors.New("overloaded")}}
}

func fatal() fakeResponse {
	return fakeResponse{err: &provider.FatalError{ProviderID: "fake", Status: 401, Err: errors.New("bad key")}}
}

func testConfig() *flow.Config {
	cfg := flow.DefaultConfig()
	cfg.Provider = "fake"
	cfg.Retry = flow.RetryConfig{MaxAttempts: 3, BaseDelayMillis: 1, MaxDelayMillis: 2}
	return &cfg
}

func newTestFlow(t *testing.T, cfg *flow.Config, p *fakeProvider) *flow.Flow {
	t.Helper()
	f, err := flow.New(cfg,
		flow.WithProviderSource(&fakeSource{providers: map[string]provider.Provider{p.id: p}}),
		flow.WithTokenizer(byteTokenizer{}),
		flow.WithObserver(observability.NoOpObserver{}),
	)
	if err != nil {
		t.Fatalf("flow.New() error = %v", err)
	}
	return f
}

// --- Tests ---

func TestSendAppendsBothSides(t *testing.T) {
	p := &fakeProvider{id: "fake", limit: 1000, responses: []fakeResponse{ok("hello back")}}
	f := newTestFlow(t, testConfig(), p)

	reply, err := f.Send(context.Background(), "conv-1", "hello", nil)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if reply.Role != chat.RoleAssistant {
		t.Errorf("reply role = %q, want assistant", reply.Role)
	}
	if reply.Content != "hello back" {
		t.Errorf("reply content = %q, want %q", reply.Content, "hello back")
	}
	if reply.Seq != 2 {
		t.Errorf("reply seq = %d, want 2", reply.Seq)
	}

	history, err := f.History(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history has %d messages, want 2", len(history))
	}
	if history[0].Role != chat.RoleUser || history[0].Content != "hello" {
		t.Errorf("first message = %+v, want the inbound user message", history[0])
	}
	if history[1].ID != reply.ID {
		t.Error("second message is not the returned reply")
	}
}

func TestSendRetriesTransientThenSucceeds(t *testing.T) {
	p := &fakeProvider{id: "fake", limit: 1000, responses: []fakeResponse{
		transient(),
		transient(),
		ok("third time"),
	}}
	f := newTestFlow(t, testConfig(), p)

	reply, err := f.Send(context.Background(), "conv-1", "hi", nil)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply.Content != "third time" {
		t.Errorf("reply content = %q, want %q", reply.Content, "third time")
	}
	if p.callCount() != 3 {
		t.Errorf("provider called %d times, want 3", p.callCount())
	}

	// Retries must not duplicate the inbound message.
	history, _ := f.History(context.Background(), "conv-1")
	if len(history) != 2 {
		t.Errorf("history has %d messages, want 2", len(history))
	}
}

func TestSendFatalNotRetried(t *testing.T) {
	p := &fakeProvider{id: "fake", limit: 1000, responses: []fakeResponse{fatal()}}
	f := newTestFlow(t, testConfig(), p)

	_, err := f.Send(context.Background(), "conv-1", "hi", nil)
	if err == nil {
		t.Fatal("Send() error = nil, want fatal dispatch error")
	}
	if !provider.IsFatal(err) {
		t.Errorf("Send() error = %v, want fatal", err)
	}
	if got := flow.StageOf(err); got != flow.StageDispatch {
		t.Errorf("StageOf() = %q, want %q", got, flow.StageDispatch)
	}
	if p.callCount() != 1 {
		t.Errorf("provider called %d times, want 1", p.callCount())
	}
}

func TestSendRetriesExhausted(t *testing.T) {
	p := &fakeProvider{id: "fake", limit: 1000, responses: []fakeResponse{transient()}}
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 2
	f := newTestFlow(t, cfg, p)

	_, err := f.Send(context.Background(), "conv-1", "hi", nil)
	if !errors.Is(err, flow.ErrRetriesExhausted) {
		t.Fatalf("Send() error = %v, want ErrRetriesExhausted", err)
	}
	if p.callCount() != 2 {
		t.Errorf("provider called %d times, want 2", p.callCount())
	}
}

func TestSendPersistsInboundOnProviderFailure(t *testing.T) {
	p := &fakeProvider{id: "fake", limit: 1000, responses: []fakeResponse{fatal()}}
	f := newTestFlow(t, testConfig(), p)

	_, err := f.Send(context.Background(), "conv-1", "keep me", nil)
	if err == nil {
		t.Fatal("Send() error = nil, want dispatch error")
	}

	history, err := f.History(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history has %d messages, want the inbound message only", len(history))
	}
	if history[0].Role != chat.RoleUser || history[0].Content != "keep me" {
		t.Errorf("persisted message = %+v, want the inbound user message", history[0])
	}
}

func TestSendTrimsHistoryToBudget(t *testing.T) {
	p := &fakeProvider{id: "fake", limit: 1000, responses: []fakeResponse{ok("reply")}}
	cfg := testConfig()
	cfg.ContextLimit = 100
	cfg.TokenOffset = 16
	f := newTestFlow(t, cfg, p)

	// Fill the conversation well past the 84-token budget. Each turn costs
	// its byte count plus the per-message overhead.
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := f.Send(ctx, "conv-1", strings.Repeat("x", 30), nil); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	full, _ := f.History(ctx, "conv-1")
	sent := p.lastReceived()
	if len(sent) >= len(full) {
		t.Errorf("provider received %d messages with %d persisted, want a trimmed suffix", len(sent), len(full))
	}
	// The trimmed view must end with the newest persisted user message.
	if sent[len(sent)-1].ID != full[len(full)-2].ID {
		t.Error("trimmed history does not end with the inbound message")
	}
}

func TestSendOversizeMessageStrictMode(t *testing.T) {
	p := &fakeProvider{id: "fake", limit: 1000, responses: []fakeResponse{ok("reply")}}
	cfg := testConfig()
	cfg.ContextLimit = 50
	cfg.StrictOversize = true
	f := newTestFlow(t, cfg, p)

	_, err := f.Send(context.Background(), "conv-1", strings.Repeat("x", 80), nil)
	if !errors.Is(err, contextwindow.ErrMessageTooLarge) {
		t.Fatalf("Send() error = %v, want ErrMessageTooLarge", err)
	}
	if got := flow.StageOf(err); got != flow.StageTrim {
		t.Errorf("StageOf() = %q, want %q", got, flow.StageTrim)
	}
	if p.callCount() != 0 {
		t.Errorf("provider called %d times, want 0", p.callCount())
	}

	// The inbound message is persisted even though dispatch never happened.
	history, _ := f.History(context.Background(), "conv-1")
	if len(history) != 1 {
		t.Errorf("history has %d messages, want 1", len(history))
	}
}

func TestSendCallTimeoutIsTransient(t *testing.T) {
	p := &fakeProvider{id: "fake", limit: 1000, responses: []fakeResponse{
		{delay: 200 * time.Millisecond, err: errors.New("never reached")},
		ok("fast"),
	}}
	cfg := testConfig()
	cfg.CallTimeoutMillis = 20
	f := newTestFlow(t, cfg, p)

	reply, err := f.Send(context.Background(), "conv-1", "hi", nil)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply.Content != "fast" {
		t.Errorf("reply content = %q, want %q", reply.Content, "fast")
	}
	if p.callCount() != 2 {
		t.Errorf("provider called %d times, want 2", p.callCount())
	}
}

func TestSendSerializesSameConversation(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32

	p := &fakeProvider{id: "fake", limit: 1000, responses: []fakeResponse{ok("reply")}}
	f, err := flow.New(testConfig(),
		flow.WithProviderSource(&fakeSource{providers: map[string]provider.Provider{"fake": &trackingProvider{
			fakeProvider: p,
			inFlight:     &inFlight,
			maxInFlight:  &maxInFlight,
		}}}),
		flow.WithTokenizer(byteTokenizer{}),
		flow.WithObserver(observability.NoOpObserver{}),
	)
	if err != nil {
		t.Fatalf("flow.New() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.Send(context.Background(), "conv-1", "hi", nil); err != nil {
				t.Errorf("Send() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInFlight.Load() != 1 {
		t.Errorf("max concurrent dispatches for one conversation = %d, want 1", maxInFlight.Load())
	}

	history, _ := f.History(context.Background(), "conv-1")
	if len(history) != 16 {
		t.Errorf("history has %d messages, want 16", len(history))
	}
}

// trackingProvider observes dispatch concurrency around the wrapped fake.
type trackingProvider struct {
	*fakeProvider
	inFlight    *atomic.Int32
	maxInFlight *atomic.Int32
}

func (p *trackingProvider) Complete(ctx context.Context, messages []chat.Message, params chat.GenerationParams) (*chat.CompletionResult, error) {
	n := p.inFlight.Add(1)
	for {
		prev := p.maxInFlight.Load()
		if n <= prev || p.maxInFlight.CompareAndSwap(prev, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	defer p.inFlight.Add(-1)
	return p.fakeProvider.Complete(ctx, messages, params)
}

func TestSendCancelledContext(t *testing.T) {
	p := &fakeProvider{id: "fake", limit: 1000, responses: []fakeResponse{ok("reply")}}
	f := newTestFlow(t, testConfig(), p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Send(ctx, "conv-1", "hi", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Send() error = %v, want context.Canceled", err)
	}
}

func TestNewRejectsOffsetAtLimit(t *testing.T) {
	p := &fakeProvider{id: "fake", limit: 1000}
	cfg := testConfig()
	cfg.ContextLimit = 100
	cfg.TokenOffset = 100

	_, err := flow.New(cfg,
		flow.WithProviderSource(&fakeSource{providers: map[string]provider.Provider{"fake": p}}),
	)
	if !errors.Is(err, flow.ErrConfiguration) {
		t.Fatalf("New() error = %v, want ErrConfiguration", err)
	}
	if !errors.Is(err, contextwindow.ErrInvalidBudget) {
		t.Errorf("New() error = %v, want it to wrap ErrInvalidBudget", err)
	}
}

func TestNewRequiresProviderSelection(t *testing.T) {
	cfg := flow.DefaultConfig()

	_, err := flow.New(&cfg)
	if !errors.Is(err, flow.ErrConfiguration) {
		t.Fatalf("New() error = %v, want ErrConfiguration", err)
	}
}

func TestNewDefaultsToSingleConfiguredProvider(t *testing.T) {
	cfg := flow.DefaultConfig()
	cfg.Providers = []provider.Config{{
		ID:           "only",
		Kind:         provider.KindLocal,
		ContextLimit: 2048,
	}}

	f, err := flow.New(&cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if f == nil {
		t.Fatal("New() returned nil flow")
	}
}
