package provider

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"PhysioFlow/internal/cache"
	"PhysioFlow/internal/config"
	"PhysioFlow/internal/session"
)

// New builds the named reply provider from configuration.
func New(name string, cfg config.Config) (session.ReplyProvider, error) {
	var (
		p   session.ReplyProvider
		err error
	)
	switch name {
	case config.ProviderSynthetic:
		p, err = asProvider(NewSynthetic(cfg.Synthetic.Catalog, cfg.Synthetic.Delay.Duration))
	case config.ProviderRemote:
		p, err = asProvider(NewRemote(cfg.Remote.Endpoint, cfg.Remote.Timeout.Duration))
	case config.ProviderGroq:
		p, err = asProvider(NewGroq(cfg.Groq.APIKey, cfg.Groq.Model, cfg.Groq.BaseURL))
	case config.ProviderAnthropic:
		p, err = asProvider(NewAnthropic(cfg.Anthropic.APIKey, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens))
	case config.ProviderOllama:
		p = NewOllama(cfg.Ollama.BaseURL, cfg.Ollama.Model)
	default:
		err = fmt.Errorf("unknown provider: %s", name)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// asProvider keeps typed nil pointers out of the returned interface.
func asProvider[T session.ReplyProvider](p T, err error) (session.ReplyProvider, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Deps carries the shared collaborators decorators need.
type Deps struct {
	Logger *slog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
	Cache  *cache.Store // nil disables caching
}

// Build creates the named provider and wraps it with caching and
// instrumentation according to deps. Synthetic replies are random picks and
// are never cached.
func Build(name string, cfg config.Config, deps Deps) (session.ReplyProvider, error) {
	p, err := New(name, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", name, err)
	}
	if deps.Cache != nil && name != config.ProviderSynthetic {
		p = NewCached(p, deps.Cache, deps.Logger)
	}
	if deps.Tracer != nil && deps.Meter != nil {
		p = NewInstrumented(p, deps.Tracer, deps.Meter, deps.Logger)
	}
	return p, nil
}
