// Package flow implements the dispatch engine that turns an inbound user
// message into a persisted assistant reply: load history, trim it to the
// provider's token budget, call the provider with retry, append the result.
//
// A Flow initializes from configuration via New, creating all subsystems
// internally. Functional options allow test overrides of any subsystem.
//
//	f, err := flow.New(cfg)
//	reply, err := f.Send(ctx, conversationID, "hello", nil)
//
// Dispatches against the same conversation are serialized; different
// conversations proceed concurrently.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/modelflow/modelflow/contextwindow"
	"github.com/modelflow/modelflow/core/chat"
	"github.com/modelflow/modelflow/observability"
	"github.com/modelflow/modelflow/provider"
	"github.com/modelflow/modelflow/store"
	"github.com/modelflow/modelflow/tokenizer"
)

// ProviderSource resolves provider ids to instances. *provider.Registry
// satisfies it; tests substitute fakes.
type ProviderSource interface {
	Get(id string) (provider.Provider, error)
}

// Option configures a Flow after config-driven initialization. Options are
// applied by New and replace config-created defaults.
type Option func(*Flow)

// WithStore overrides the config-created conversation store.
func WithStore(s store.Store) Option {
	return func(f *Flow) { f.store = s }
}

// WithProviderSource overrides the config-created provider registry.
func WithProviderSource(src ProviderSource) Option {
	return func(f *Flow) { f.providers = src }
}

// WithObserver overrides the default SlogObserver.
func WithObserver(o observability.Observer) Option {
	return func(f *Flow) { f.observer = o }
}

// WithTokenizer pre-binds a tokenizer instance for its own id, bypassing
// Resolve. Useful for tests with counting fakes.
func WithTokenizer(tok tokenizer.Tokenizer) Option {
	return func(f *Flow) {
		opts := f.managerOpts()
		f.managers[tok.ID()] = contextwindow.NewManager(tok, opts...)
	}
}

// Flow is the conversation dispatch engine.
type Flow struct {
	providers       ProviderSource
	store           store.Store
	observer        observability.Observer
	defaultProvider string
	tokenizerID     string
	tokenOffset     int
	contextLimit    int
	strictOversize  bool
	callTimeout     time.Duration
	retry           RetryConfig
	locks           *keyedLock

	mu       sync.Mutex
	managers map[string]*contextwindow.Manager
}

// New creates a Flow from configuration. Budget invariants are validated
// here: a token offset that leaves no room in the default provider's
// context limit fails construction, not dispatch.
func New(cfg *Config, opts ...Option) (*Flow, error) {
	st, err := store.New(&cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	reg := provider.NewRegistry(nil)
	for _, pc := range cfg.Providers {
		if err := reg.Register(pc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
	}

	defaultProvider := cfg.Provider
	if defaultProvider == "" && len(cfg.Providers) == 1 {
		defaultProvider = cfg.Providers[0].ID
	}

	tokenOffset := cfg.TokenOffset
	if tokenOffset == 0 {
		tokenOffset = contextwindow.DefaultTokenOffset
	}

	f := &Flow{
		providers:       reg,
		store:           st,
		observer:        observability.NewSlogObserver(slog.Default()),
		defaultProvider: defaultProvider,
		tokenizerID:     cfg.TokenizerID,
		tokenOffset:     tokenOffset,
		contextLimit:    cfg.ContextLimit,
		strictOversize:  cfg.StrictOversize,
		callTimeout:     time.Duration(cfg.CallTimeoutMillis) * time.Millisecond,
		retry:           cfg.Retry,
		locks:           newKeyedLock(),
		managers:        make(map[string]*contextwindow.Manager),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.defaultProvider == "" {
		return nil, fmt.Errorf("%w: a provider must be selected when more than one is configured", ErrConfiguration)
	}

	p, err := f.providers.Get(f.defaultProvider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	budget := contextwindow.Budget{ContextLimit: f.limitFor(p), TokenOffset: f.tokenOffset}
	if err := budget.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	return f, nil
}

// Send dispatches one conversation turn: the inbound content is appended
// as a user message, history is trimmed to budget, the provider is called
// under the retry policy, and the assistant reply is appended and returned.
//
// The inbound message is persisted even when the provider call ultimately
// fails. History is never silently lost; only the reply is missing.
func (f *Flow) Send(ctx context.Context, conversationID, content string, params chat.GenerationParams) (chat.Message, error) {
	release, err := f.locks.acquire(ctx, conversationID)
	if err != nil {
		return chat.Message{}, err
	}
	defer release()

	f.emit(ctx, EventDispatchStart, observability.LevelInfo, map[string]any{
		"conversation_id": conversationID,
		"content_length":  len(content),
	})

	p, err := f.providers.Get(f.defaultProvider)
	if err != nil {
		return chat.Message{}, f.fail(ctx, StageDispatch, conversationID, err)
	}

	// Loaded: read history, append the inbound message.
	history, err := f.store.Load(ctx, conversationID)
	if err != nil {
		return chat.Message{}, f.fail(ctx, StageLoad, conversationID, err)
	}

	inbound, err := f.store.Append(ctx, conversationID, chat.NewMessage(chat.RoleUser, content))
	if err != nil {
		return chat.Message{}, f.fail(ctx, StageLoad, conversationID, err)
	}
	history = append(history, inbound)

	f.emit(ctx, EventHistoryLoaded, observability.LevelVerbose, map[string]any{
		"conversation_id": conversationID,
		"messages":        len(history),
	})

	// Trimmed: fit history to the provider's budget.
	mgr, err := f.manager(f.tokenizerIDFor(p))
	if err != nil {
		return chat.Message{}, f.fail(ctx, StageTrim, conversationID, err)
	}

	budget := contextwindow.Budget{ContextLimit: f.limitFor(p), TokenOffset: f.tokenOffset}
	trimmed, err := mgr.Trim(history, budget)
	if err != nil {
		return chat.Message{}, f.fail(ctx, StageTrim, conversationID, err)
	}

	f.emit(ctx, EventTrimComplete, observability.LevelVerbose, map[string]any{
		"conversation_id": conversationID,
		"kept":            len(trimmed),
		"dropped":         len(history) - len(trimmed),
	})

	// Cancellation before the provider call has no side effects beyond the
	// already-persisted inbound message.
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}

	// Dispatched: call the provider under the retry policy.
	result, err := f.complete(ctx, p, conversationID, trimmed, params)
	if err != nil {
		return chat.Message{}, f.fail(ctx, StageDispatch, conversationID, err)
	}

	// Appended: persist the assistant reply.
	reply, err := f.store.Append(ctx, conversationID, chat.NewMessage(chat.RoleAssistant, result.Content))
	if err != nil {
		return chat.Message{}, f.fail(ctx, StageAppend, conversationID, err)
	}

	f.emit(ctx, EventAppendComplete, observability.LevelVerbose, map[string]any{
		"conversation_id": conversationID,
		"seq":             reply.Seq,
	})

	f.emit(ctx, EventDispatchComplete, observability.LevelInfo, map[string]any{
		"conversation_id":   conversationID,
		"provider":          result.ProviderID,
		"prompt_tokens":     result.Usage.PromptTokens,
		"completion_tokens": result.Usage.CompletionTokens,
	})

	return reply, nil
}

// History returns the full persisted history of a conversation.
func (f *Flow) History(ctx context.Context, conversationID string) ([]chat.Message, error) {
	return f.store.Load(ctx, conversationID)
}

func (f *Flow) complete(ctx context.Context, p provider.Provider, conversationID string, messages []chat.Message, params chat.GenerationParams) (*chat.CompletionResult, error) {
	attempts := f.retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			f.emit(ctx, EventProviderRetry, observability.LevelWarning, map[string]any{
				"conversation_id": conversationID,
				"provider":        p.ID(),
				"attempt":         attempt,
				"error":           lastErr.Error(),
			})
			if err := sleepContext(ctx, f.retry.backoff(attempt-2)); err != nil {
				return nil, err
			}
		}

		f.emit(ctx, EventProviderCall, observability.LevelVerbose, map[string]any{
			"conversation_id": conversationID,
			"provider":        p.ID(),
			"attempt":         attempt,
			"messages":        len(messages),
		})

		callCtx := ctx
		cancel := context.CancelFunc(func() {})
		if f.callTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, f.callTimeout)
		}
		result, err := p.Complete(callCtx, messages, params.Clone())
		cancel()

		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !provider.IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, errors.Join(ErrRetriesExhausted, lastErr)
}

func (f *Flow) fail(ctx context.Context, stage Stage, conversationID string, err error) error {
	de := &DispatchError{Stage: stage, ConversationID: conversationID, Err: err}
	f.emit(ctx, EventDispatchError, observability.LevelError, map[string]any{
		"conversation_id": conversationID,
		"stage":           string(stage),
		"error":           err.Error(),
	})
	return de
}

func (f *Flow) emit(ctx context.Context, t observability.EventType, level observability.Level, data map[string]any) {
	f.observer.OnEvent(ctx, observability.Event{
		Type:      t,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "flow.Send",
		Data:      data,
	})
}

func (f *Flow) limitFor(p provider.Provider) int {
	if f.contextLimit > 0 {
		return f.contextLimit
	}
	return p.ContextLimit()
}

func (f *Flow) tokenizerIDFor(p provider.Provider) string {
	if f.tokenizerID != "" {
		return f.tokenizerID
	}
	return p.TokenizerID()
}

func (f *Flow) managerOpts() []contextwindow.Option {
	var opts []contextwindow.Option
	if f.strictOversize {
		opts = append(opts, contextwindow.WithStrictOversize())
	}
	return opts
}

// manager returns the memoizing context window manager for a tokenizer id,
// creating it on first use. One manager per tokenizer keeps count caches
// isolated per vocabulary.
func (f *Flow) manager(tokenizerID string) (*contextwindow.Manager, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if m, ok := f.managers[tokenizerID]; ok {
		return m, nil
	}

	tok, err := tokenizer.Resolve(tokenizerID)
	if err != nil {
		return nil, err
	}
	m := contextwindow.NewManager(tok, f.managerOpts()...)
	f.managers[tokenizerID] = m
	return m, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
