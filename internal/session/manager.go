package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultGreeting is the assistant message every session starts with unless
// WithGreeting overrides it.
const DefaultGreeting = "Hello! I'm your PhysioFlow AI assistant. How can I help you today?"

// Manager owns one conversation: an append-only message log and the
// single-flight pending state of the exchange with its ReplyProvider.
//
// A submission that arrives while a reply is pending is rejected with
// ErrBusy; submissions are never queued.
type Manager struct {
	id        string
	startTime time.Time
	provider  ReplyProvider
	logger    *slog.Logger
	now       func() time.Time
	timeout   time.Duration
	history   bool
	greeting  string

	mu       sync.Mutex
	messages []Message
	nextID   int64
	pending  bool
	disposed bool
	gen      uint64
	cancel   context.CancelFunc // cancels the in-flight reply

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int

	emitMu sync.Mutex // serialises event delivery
	closed bool       // set once EventDisposed was delivered; guarded by emitMu
}

// Option configures a Manager.
type Option func(*Manager)

// WithGreeting sets the seeded assistant greeting.
func WithGreeting(text string) Option {
	return func(m *Manager) {
		if t := strings.TrimSpace(text); t != "" {
			m.greeting = t
		}
	}
}

// WithReplyTimeout bounds every provider call. Zero means no bound beyond the caller's context.
func WithReplyTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger used for session lifecycle records.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithHistory makes the manager pass the prior log to the provider as context.
func WithHistory(enabled bool) Option {
	return func(m *Manager) { m.history = enabled }
}

// WithID overrides the generated session ID.
func WithID(id string) Option {
	return func(m *Manager) { m.id = id }
}

// New creates a session seeded with one assistant greeting.
func New(provider ReplyProvider, opts ...Option) *Manager {
	m := &Manager{
		id:       uuid.NewString(),
		provider: provider,
		logger:   slog.Default(),
		now:      time.Now,
		greeting: DefaultGreeting,
		subs:     make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.startTime = m.now()
	m.appendLocked(SenderAssistant, m.greeting)
	m.logger.Info("created new session", "session_id", m.id, "provider", m.providerName())
	return m
}

// ID returns the session identifier.
func (m *Manager) ID() string {
	return m.id
}

// Provider returns the provider this session talks to.
func (m *Manager) Provider() ReplyProvider {
	return m.provider
}

// Messages returns a copy of the log in chronological order.
func (m *Manager) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Len returns the number of logged messages.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Pending reports whether a reply is outstanding.
func (m *Manager) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Disposed reports whether Dispose has been called.
func (m *Manager) Disposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

// Snapshot copies the session for archiving.
func (m *Manager) Snapshot() Snapshot {
	return Snapshot{
		ID:        m.id,
		StartTime: m.startTime,
		Provider:  m.providerName(),
		Messages:  m.Messages(),
	}
}

// Submit appends the trimmed text as a user message and waits for the
// provider's reply. On success the assistant message is returned. On failure
// the user message stays in the log, pending is cleared and the returned error
// matches ErrProviderUnavailable or ErrMalformedReply.
func (m *Manager) Submit(ctx context.Context, text string) (Message, error) {
	done, err := m.SubmitAsync(ctx, text)
	if err != nil {
		return Message{}, err
	}
	res := <-done
	return res.Message, res.Err
}

// SubmitAsync accepts or rejects text on the calling goroutine and fetches
// the reply in the background. Two calls made in sequence are therefore
// decided in that order: the first is logged, the second gets ErrBusy.
// The channel receives exactly one Result.
func (m *Manager) SubmitAsync(ctx context.Context, text string) (<-chan Result, error) {
	prompt := strings.TrimSpace(text)
	if prompt == "" {
		return nil, ErrEmptyInput
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil, ErrDisposed
	}
	if m.pending {
		m.mu.Unlock()
		m.logger.Warn("submission rejected while pending", "session_id", m.id)
		return nil, ErrBusy
	}

	var history []Message
	if m.history {
		history = make([]Message, len(m.messages))
		copy(history, m.messages)
	}
	userMsg := m.appendLocked(SenderUser, prompt)
	m.pending = true
	gen := m.gen

	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if m.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, m.timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	m.cancel = cancel
	m.mu.Unlock()

	m.emit(Event{Kind: EventMessage, Message: userMsg, Pending: true})
	m.emit(Event{Kind: EventPending, Pending: true})

	done := make(chan Result, 1)
	go func() {
		defer cancel()
		done <- m.complete(callCtx, gen, prompt, history)
	}()
	return done, nil
}

// complete waits for the provider and records the outcome if the session is
// still the one that issued the call.
func (m *Manager) complete(ctx context.Context, gen uint64, prompt string, history []Message) Result {
	start := time.Now()
	reply, err := m.callProvider(ctx, prompt, history)

	m.mu.Lock()
	if m.disposed || m.gen != gen {
		m.mu.Unlock()
		m.logger.Info("discarded late reply", "session_id", m.id, "error", err)
		return Result{Err: ErrDisposed}
	}
	m.pending = false
	m.cancel = nil
	if err != nil {
		m.mu.Unlock()
		err = classify(err)
		m.logger.Error("reply failed", "session_id", m.id, "provider", m.providerName(),
			"duration_ms", time.Since(start).Milliseconds(), "error", err)
		m.emit(Event{Kind: EventFailure, Err: err})
		m.emit(Event{Kind: EventPending})
		return Result{Err: err}
	}
	assistantMsg := m.appendLocked(SenderAssistant, reply)
	m.mu.Unlock()

	m.logger.Info("reply received", "session_id", m.id, "provider", m.providerName(),
		"duration_ms", time.Since(start).Milliseconds(), "message_id", assistantMsg.ID)
	m.emit(Event{Kind: EventMessage, Message: assistantMsg})
	m.emit(Event{Kind: EventPending})
	return Result{Message: assistantMsg}
}

// callProvider turns a panicking provider into an ordinary error.
func (m *Manager) callProvider(ctx context.Context, prompt string, history []Message) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("provider panicked", "session_id", m.id, "provider", m.providerName(), "panic", r)
			reply, err = "", fmt.Errorf("provider %s panicked: %v", m.providerName(), r)
		}
	}()

	reply, err = m.provider.Reply(ctx, prompt, history)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = fmt.Errorf("%w: provider %s returned empty text", ErrMalformedReply, m.providerName())
	}
	return reply, err
}

// Dispose tears the session down. Any in-flight reply is cancelled and its
// eventual result is dropped. Safe to call more than once.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.pending = false
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mu.Unlock()

	m.logger.Info("session disposed", "session_id", m.id)

	// disposed is the last event any subscriber sees.
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	for _, fn := range m.subscribers() {
		fn(Event{Kind: EventDisposed})
	}
	m.closed = true

	m.subMu.Lock()
	m.subs = make(map[int]func(Event))
	m.subMu.Unlock()
}

// Subscribe registers fn for every session event. Callbacks run one at a
// time on the goroutine that caused the change, after the session lock is
// released. A callback must not call Submit, SubmitAsync or Dispose.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Manager) emit(ev Event) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	if m.closed {
		return
	}
	for _, fn := range m.subscribers() {
		fn(ev)
	}
}

// subscribers returns the callbacks in registration order.
func (m *Manager) subscribers() []func(Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	fns := make([]func(Event), 0, len(m.subs))
	for id := 0; id < m.nextSub; id++ {
		if fn, ok := m.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	return fns
}

// appendLocked adds a message; caller must hold m.mu (or own m exclusively).
func (m *Manager) appendLocked(sender Sender, text string) Message {
	m.nextID++
	msg := Message{
		ID:        m.nextID,
		Sender:    sender,
		Text:      text,
		Timestamp: m.now(),
	}
	m.messages = append(m.messages, msg)
	return msg
}

func (m *Manager) providerName() string {
	if m.provider == nil {
		return "none"
	}
	return m.provider.Name()
}
