package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// stubProvider answers from a fixed function, optionally blocking until released.
type stubProvider struct {
	reply   func(prompt string, history []Message) (string, error)
	release chan struct{} // nil means answer immediately
	started chan struct{}

	mu      sync.Mutex
	prompts []string
	history [][]Message
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Reply(ctx context.Context, prompt string, history []Message) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.history = append(s.history, history)
	s.mu.Unlock()

	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.reply(prompt, history)
}

func echo(prompt string, _ []Message) (string, error) {
	return "re: " + prompt, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(p ReplyProvider, opts ...Option) *Manager {
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(p, opts...)
}

func TestNewSeedsGreeting(t *testing.T) {
	m := newTestManager(&stubProvider{reply: echo}, WithGreeting("Hi! How can I help?"))

	msgs := m.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 seeded message, got %d", len(msgs))
	}
	if msgs[0].Sender != SenderAssistant || msgs[0].Text != "Hi! How can I help?" || msgs[0].ID != 1 {
		t.Fatalf("unexpected greeting: %+v", msgs[0])
	}
	if m.Pending() {
		t.Fatalf("new session must not be pending")
	}
	if m.ID() == "" {
		t.Fatalf("expected a generated session id")
	}
}

func TestSubmitOrderingAlternates(t *testing.T) {
	m := newTestManager(&stubProvider{reply: echo})
	ctx := context.Background()

	const n = 5
	for i := 0; i < n; i++ {
		if _, err := m.Submit(ctx, fmt.Sprintf("  question %d ", i)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	msgs := m.Messages()
	if len(msgs) != 1+2*n {
		t.Fatalf("expected %d messages, got %d", 1+2*n, len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		want := SenderUser
		if i%2 == 0 {
			want = SenderAssistant
		}
		if msgs[i].Sender != want {
			t.Fatalf("message %d: expected %s, got %s", i, want, msgs[i].Sender)
		}
		if msgs[i].ID <= msgs[i-1].ID {
			t.Fatalf("ids must increase: %d after %d", msgs[i].ID, msgs[i-1].ID)
		}
	}
	if msgs[1].Text != "question 0" || msgs[2].Text != "re: question 0" {
		t.Fatalf("expected trimmed prompt and paired reply, got %q / %q", msgs[1].Text, msgs[2].Text)
	}
}

func TestSubmitEmptyInputIsNoop(t *testing.T) {
	p := &stubProvider{reply: echo}
	m := newTestManager(p)

	events := 0
	m.Subscribe(func(Event) { events++ })

	for _, in := range []string{"", "   ", "\n\t"} {
		if _, err := m.Submit(context.Background(), in); !errors.Is(err, ErrEmptyInput) {
			t.Fatalf("submit(%q): expected ErrEmptyInput, got %v", in, err)
		}
	}
	if m.Len() != 1 || m.Pending() {
		t.Fatalf("empty input changed state: len=%d pending=%v", m.Len(), m.Pending())
	}
	if events != 0 || len(p.prompts) != 0 {
		t.Fatalf("empty input must not notify or reach provider")
	}
}

func TestSubmitWhilePendingIsBusy(t *testing.T) {
	p := &stubProvider{
		reply:   echo,
		release: make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	m := newTestManager(p)

	done := make(chan error, 1)
	go func() {
		_, err := m.Submit(context.Background(), "a")
		done <- err
	}()
	<-p.started

	if !m.Pending() {
		t.Fatalf("expected pending while provider is running")
	}
	if _, err := m.Submit(context.Background(), "b"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	close(p.release)
	if err := <-done; err != nil {
		t.Fatalf("first submit failed: %v", err)
	}

	msgs := m.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected greeting + one exchange, got %d messages", len(msgs))
	}
	for _, msg := range msgs {
		if msg.Text == "b" {
			t.Fatalf("rejected submission leaked into the log")
		}
	}
	if msgs[2].Text != "re: a" {
		t.Fatalf("unexpected reply %q", msgs[2].Text)
	}
}

func TestProviderFailureKeepsHistory(t *testing.T) {
	p := &stubProvider{reply: func(string, []Message) (string, error) {
		return "", errors.New("connection refused")
	}}
	m := newTestManager(p)

	var failures []error
	m.Subscribe(func(ev Event) {
		if ev.Kind == EventFailure {
			failures = append(failures, ev.Err)
		}
	})

	_, err := m.Submit(context.Background(), "hello")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if !IsFailure(err) {
		t.Fatalf("expected IsFailure to accept %v", err)
	}

	msgs := m.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected greeting + user message, got %d", len(msgs))
	}
	if msgs[1].Sender != SenderUser || msgs[1].Text != "hello" {
		t.Fatalf("unexpected last message %+v", msgs[1])
	}
	if m.Pending() {
		t.Fatalf("pending must be cleared after failure")
	}
	if len(failures) != 1 {
		t.Fatalf("expected one failure event, got %d", len(failures))
	}

	// the user may retry once the failure is resolved
	p.reply = echo
	if _, err := m.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if m.Len() != 4 {
		t.Fatalf("expected 4 messages after retry, got %d", m.Len())
	}
}

func TestMalformedReplyIsDistinguishable(t *testing.T) {
	cases := map[string]func(string, []Message) (string, error){
		"empty text": func(string, []Message) (string, error) { return "", nil },
		"blank text": func(string, []Message) (string, error) { return "   ", nil },
		"wrapped": func(string, []Message) (string, error) {
			return "", fmt.Errorf("%w: missing response field", ErrMalformedReply)
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			m := newTestManager(&stubProvider{reply: fn})
			_, err := m.Submit(context.Background(), "hi")
			if !errors.Is(err, ErrMalformedReply) {
				t.Fatalf("expected ErrMalformedReply, got %v", err)
			}
			if errors.Is(err, ErrProviderUnavailable) {
				t.Fatalf("malformed reply must not report as unavailable")
			}
			if m.Len() != 2 || m.Pending() {
				t.Fatalf("unexpected state len=%d pending=%v", m.Len(), m.Pending())
			}
		})
	}
}

func TestReplyTimeoutResolvesToFailure(t *testing.T) {
	p := &stubProvider{reply: echo, release: make(chan struct{})}
	m := newTestManager(p, WithReplyTimeout(20*time.Millisecond))

	_, err := m.Submit(context.Background(), "slow")
	if !errors.Is(err, ErrProviderUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout as ErrProviderUnavailable, got %v", err)
	}
	if m.Pending() {
		t.Fatalf("pending must be cleared after timeout")
	}
}

func TestDisposeDiscardsLateReply(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	// ignores ctx so the reply really arrives after disposal
	p := &lateProvider{release: release, started: started}
	m := newTestManager(p)

	var mu sync.Mutex
	var kinds []EventKind
	m.Subscribe(func(ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() {
		_, err := m.Submit(context.Background(), "are you there?")
		done <- err
	}()
	<-started

	m.Dispose()
	close(release)

	if err := <-done; !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
	msgs := m.Messages()
	if len(msgs) != 2 {
		t.Fatalf("late reply mutated disposed session: %d messages", len(msgs))
	}
	if _, err := m.Submit(context.Background(), "again"); !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed after dispose, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, k := range kinds {
		if k == EventFailure {
			t.Fatalf("disposal must not surface as a failure")
		}
	}
	m.Dispose() // idempotent
}

type lateProvider struct {
	release chan struct{}
	started chan struct{}
}

func (p *lateProvider) Name() string { return "late" }

func (p *lateProvider) Reply(ctx context.Context, prompt string, _ []Message) (string, error) {
	p.started <- struct{}{}
	<-p.release
	return "too late", nil
}

func TestHistoryIsPassedWhenEnabled(t *testing.T) {
	p := &stubProvider{reply: echo}
	m := newTestManager(p, WithHistory(true))

	if _, err := m.Submit(context.Background(), "first"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := m.Submit(context.Background(), "second"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if got := len(p.history[0]); got != 1 {
		t.Fatalf("first call should see only the greeting, got %d", got)
	}
	if got := len(p.history[1]); got != 3 {
		t.Fatalf("second call should see greeting + first exchange, got %d", got)
	}

	plain := &stubProvider{reply: echo}
	m2 := newTestManager(plain)
	if _, err := m2.Submit(context.Background(), "x"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if plain.history[0] != nil {
		t.Fatalf("history must be nil when disabled")
	}
}

func TestSubscribeReceivesOrderedEvents(t *testing.T) {
	m := newTestManager(&stubProvider{reply: echo})

	var got []string
	unsubscribe := m.Subscribe(func(ev Event) {
		switch ev.Kind {
		case EventMessage:
			got = append(got, string(ev.Message.Sender)+":"+ev.Message.Text)
		case EventPending:
			got = append(got, fmt.Sprintf("pending=%v", ev.Pending))
		}
	})

	if _, err := m.Submit(context.Background(), "ping"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	want := []string{"user:ping", "pending=true", "assistant:re: ping", "pending=false"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	unsubscribe()
	if _, err := m.Submit(context.Background(), "pong"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("unsubscribed callback still invoked")
	}
}

func TestKneePostureScenario(t *testing.T) {
	p := &delayedProvider{text: "Try a wall slide exercise.", delay: 10 * time.Millisecond}
	fixed := time.Date(2024, 5, 1, 9, 7, 0, 0, time.UTC)
	m := newTestManager(p,
		WithGreeting("Hi! I am your PhysioFlow assistant."),
		WithClock(func() time.Time { return fixed }),
	)

	reply, err := m.Submit(context.Background(), "How do I fix my knee posture?")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if reply.Text != "Try a wall slide exercise." {
		t.Fatalf("unexpected reply %q", reply.Text)
	}

	msgs := m.Messages()
	want := []struct {
		sender Sender
		text   string
	}{
		{SenderAssistant, "Hi! I am your PhysioFlow assistant."},
		{SenderUser, "How do I fix my knee posture?"},
		{SenderAssistant, "Try a wall slide exercise."},
	}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, w := range want {
		if msgs[i].Sender != w.sender || msgs[i].Text != w.text {
			t.Fatalf("message %d = %+v, want %v %q", i, msgs[i], w.sender, w.text)
		}
	}
	if m.Pending() {
		t.Fatalf("expected pending=false")
	}
	if msgs[2].Clock() != "09:07" {
		t.Fatalf("expected 09:07 display time, got %s", msgs[2].Clock())
	}
}

type delayedProvider struct {
	text  string
	delay time.Duration
}

func (p *delayedProvider) Name() string { return "delayed" }

func (p *delayedProvider) Reply(ctx context.Context, _ string, _ []Message) (string, error) {
	select {
	case <-time.After(p.delay):
		return p.text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestMessagesReturnsCopy(t *testing.T) {
	m := newTestManager(&stubProvider{reply: echo})
	msgs := m.Messages()
	msgs[0].Text = "tampered"
	if m.Messages()[0].Text == "tampered" {
		t.Fatalf("Messages must not expose the internal log")
	}

	snap := m.Snapshot()
	if snap.ID != m.ID() || snap.Provider != "stub" || len(snap.Messages) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSubmitAsyncDecidesInCallOrder(t *testing.T) {
	p := &stubProvider{reply: echo, release: make(chan struct{})}
	m := newTestManager(p)
	ctx := context.Background()

	done, err := m.SubmitAsync(ctx, "a")
	if err != nil {
		t.Fatalf("first submission rejected: %v", err)
	}
	if _, err := m.SubmitAsync(ctx, "b"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for the second submission, got %v", err)
	}

	close(p.release)
	res := <-done
	if res.Err != nil || res.Message.Text != "re: a" {
		t.Fatalf("unexpected result %+v", res)
	}
	msgs := m.Messages()
	if len(msgs) != 3 || msgs[1].Text != "a" {
		t.Fatalf("expected greeting, a, reply; got %+v", msgs)
	}
}

type panickingProvider struct{}

func (panickingProvider) Name() string { return "panicky" }

func (panickingProvider) Reply(context.Context, string, []Message) (string, error) {
	panic("boom")
}

func TestProviderPanicBecomesFailure(t *testing.T) {
	m := newTestManager(panickingProvider{})

	_, err := m.Submit(context.Background(), "hello")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if m.Pending() {
		t.Fatalf("pending must be cleared after a panic")
	}
	if m.Len() != 2 {
		t.Fatalf("expected greeting and user message to remain, got %d", m.Len())
	}
	if _, err := m.Submit(context.Background(), "again"); errors.Is(err, ErrBusy) {
		t.Fatalf("session stayed busy after a panic")
	}
}

func TestNoEventsAfterDisposed(t *testing.T) {
	p := &stubProvider{reply: echo, release: make(chan struct{}), started: make(chan struct{}, 1)}
	m := newTestManager(p)

	var (
		mu    sync.Mutex
		kinds []EventKind
	)
	m.Subscribe(func(ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})

	done, err := m.SubmitAsync(context.Background(), "hello")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-p.started
	m.Dispose()
	close(p.release)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) == 0 || kinds[len(kinds)-1] != EventDisposed {
		t.Fatalf("disposed must be the last event, got %v", kinds)
	}
}

func TestDefaultGreeting(t *testing.T) {
	m := newTestManager(&stubProvider{reply: echo})
	if got := m.Messages()[0].Text; got != DefaultGreeting {
		t.Fatalf("greeting = %q, want %q", got, DefaultGreeting)
	}
}
