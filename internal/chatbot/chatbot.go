package chatbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"PhysioFlow/internal/cache"
	"PhysioFlow/internal/config"
	"PhysioFlow/internal/provider"
	"PhysioFlow/internal/session"
	"PhysioFlow/internal/store"
)

const archiveTimeout = 10 * time.Second

// Deps are the collaborators the terminal front end runs with.
type Deps struct {
	Logger *slog.Logger
	Tracer trace.Tracer // optional
	Meter  metric.Meter // optional
	Store  *store.Store // optional; nil disables archiving
	In     io.Reader
	Out    io.Writer
}

// ChatBot is the terminal front end for a conversation session.
type ChatBot struct {
	config   config.Config
	deps     Deps
	logger   *slog.Logger
	cache    *cache.Store
	provider string
	session  *session.Manager
}

// New creates a ChatBot talking to cfg.Provider.
func New(cfg config.Config, deps Deps) (*ChatBot, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cb := &ChatBot{
		config:   cfg,
		deps:     deps,
		logger:   deps.Logger,
		provider: cfg.Provider,
	}
	if cfg.CacheTTL.Duration > 0 {
		cb.cache = cache.NewStore(cfg.CacheTTL.Duration)
	}

	sess, err := cb.newSession(cfg.Provider)
	if err != nil {
		return nil, err
	}
	cb.session = sess
	if cfg.Debug {
		cb.logger.Debug("debug mode enabled")
	}
	return cb, nil
}

// Session returns the live session.
func (cb *ChatBot) Session() *session.Manager {
	return cb.session
}

func (cb *ChatBot) newSession(name string) (*session.Manager, error) {
	p, err := provider.Build(name, cb.config, provider.Deps{
		Logger: cb.logger,
		Tracer: cb.deps.Tracer,
		Meter:  cb.deps.Meter,
		Cache:  cb.cache,
	})
	if err != nil {
		return nil, err
	}
	return session.New(p,
		session.WithGreeting(cb.config.Greeting),
		session.WithReplyTimeout(cb.config.ReplyTimeout.Duration),
		session.WithHistory(cb.config.SendHistory),
		session.WithLogger(cb.logger),
	), nil
}

// closeSession archives and disposes the live session. It runs on its own
// context so an interrupted Run still saves the transcript.
func (cb *ChatBot) closeSession() error {
	if cb.session == nil {
		return nil
	}
	defer cb.session.Dispose()
	if cb.deps.Store == nil || cb.session.Len() <= 1 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := cb.deps.Store.Archive(ctx, cb.session.Snapshot()); err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}
	return nil
}

func (cb *ChatBot) printf(format string, args ...any) {
	fmt.Fprintf(cb.deps.Out, format, args...)
}

func (cb *ChatBot) println(args ...any) {
	fmt.Fprintln(cb.deps.Out, args...)
}

// send submits one line and prints the outcome.
func (cb *ChatBot) send(ctx context.Context, input string) {
	reply, err := cb.session.Submit(ctx, input)
	switch {
	case err == nil:
		cb.printf("Bot [%s]: %s\n\n", reply.Clock(), reply.Text)
	case errors.Is(err, session.ErrEmptyInput):
	case ctx.Err() != nil:
		cb.println("\nInterrupted.")
	case errors.Is(err, session.ErrBusy):
		cb.println("Please wait for the current reply.")
	case errors.Is(err, session.ErrMalformedReply):
		cb.println("Error: the assistant sent an empty answer, please try again.")
	case errors.Is(err, session.ErrProviderUnavailable):
		cb.println("Error: the assistant is unavailable right now, please try again.")
		cb.logger.Error("failed to send message", "error", err)
	default:
		cb.printf("Error: %v\n", err)
		cb.logger.Error("failed to send message", "error", err)
	}
}

// handleCommand handles special commands
func (cb *ChatBot) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new-session":
		return false, cb.restart(cb.provider)

	case "/switch":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /switch <provider> (%s)", strings.Join(config.Providers, "|"))
		}
		if !config.IsProvider(parts[1]) {
			return false, fmt.Errorf("unknown provider: %s", parts[1])
		}
		if err := cb.restart(parts[1]); err != nil {
			return false, err
		}
		cb.printf("Switched to %s provider\n", parts[1])
		return false, nil

	case "/history":
		if cb.deps.Store == nil {
			cb.println("Archiving is disabled.")
			return false, nil
		}
		limit := 10
		if len(parts) > 1 {
			n, err := strconv.Atoi(parts[1])
			if err != nil || n <= 0 {
				return false, fmt.Errorf("usage: /history [count]")
			}
			limit = n
		}
		list, err := cb.deps.Store.List(ctx, limit)
		if err != nil {
			return false, err
		}
		if len(list) == 0 {
			cb.println("No archived sessions.")
			return false, nil
		}
		cb.println("\nArchived sessions:")
		for i, s := range list {
			cb.printf("%d. %s  %s  %s  (%d messages)\n", i+1, s.ID, s.StartTime.Format("2006-01-02 15:04"), s.Provider, s.MessageCount)
		}
		cb.println()
		return false, nil

	case "/show":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /show <session-id>")
		}
		if cb.deps.Store == nil {
			cb.println("Archiving is disabled.")
			return false, nil
		}
		snap, err := cb.deps.Store.Transcript(ctx, parts[1])
		if err != nil {
			return false, err
		}
		for _, m := range snap.Messages {
			cb.printf("[%s] %s: %s\n", m.Clock(), m.Sender, m.Text)
		}
		cb.println()
		return false, nil

	case "/help":
		cb.println("Available commands:")
		cb.println("  /quit, /exit          - Exit the assistant")
		cb.println("  /new-session          - Archive this conversation and start a new one")
		cb.printf("  /switch <provider>    - Start a new conversation with another provider (%s)\n", strings.Join(config.Providers, "|"))
		cb.println("  /history [count]      - List archived conversations")
		cb.println("  /show <session-id>    - Print an archived conversation")
		cb.println("  /help                 - Show this help message")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s (try /help)", parts[0])
	}
}

// restart archives the current session and starts a new one with the named provider.
func (cb *ChatBot) restart(name string) error {
	next, err := cb.newSession(name)
	if err != nil {
		return err
	}
	if err := cb.closeSession(); err != nil {
		cb.logger.Error("failed to save current session", "error", err)
	}
	cb.session = next
	cb.provider = name
	if cb.cache != nil {
		if n := cb.cache.Purge(); n > 0 {
			cb.logger.Debug("purged expired cache entries", "count", n)
		}
	}
	cb.printf("Started new session: %s\n", next.ID())
	return nil
}

// Run reads lines until EOF, /quit or ctx is cancelled, then archives the
// session. Cancelling ctx also cancels a reply in flight.
func (cb *ChatBot) Run(ctx context.Context) error {
	cb.println("=== PhysioFlow Assistant ===")
	cb.printf("Session: %s\n", cb.session.ID())
	cb.printf("Provider: %s\n", cb.provider)
	cb.println("Type /help for commands, /quit to exit")
	cb.println()
	for _, m := range cb.session.Messages() {
		cb.printf("Bot [%s]: %s\n\n", m.Clock(), m.Text)
	}

	lines := make(chan string)
	stop := make(chan struct{})
	defer close(stop)
	go cb.readLines(lines, stop)

loop:
	for {
		if ctx.Err() != nil {
			break
		}
		cb.printf("You: ")

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			cb.println()
			break loop
		case line, ok = <-lines:
			if !ok {
				break loop
			}
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := cb.handleCommand(ctx, input)
			if err != nil {
				cb.printf("Error: %v\n", err)
				cb.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				break loop
			}
			continue
		}

		cb.send(ctx, input)
	}

	if err := cb.closeSession(); err != nil {
		cb.logger.Error("failed to save session on exit", "error", err)
		return err
	}

	cb.println("Goodbye!")
	return nil
}

// readLines feeds input lines to out until EOF or stop is closed.
func (cb *ChatBot) readLines(out chan<- string, stop <-chan struct{}) {
	defer close(out)
	scanner := bufio.NewScanner(cb.deps.In)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-stop:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		cb.logger.Error("failed to read input", "error", err)
	}
}
