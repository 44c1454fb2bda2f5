package provider

import (
	"context"
	"log/slog"

	"PhysioFlow/internal/cache"
	"PhysioFlow/internal/session"
)

// Cached serves repeated prompts from a reply cache. Failures are never cached.
type Cached struct {
	next   session.ReplyProvider
	store  *cache.Store
	logger *slog.Logger
}

func NewCached(next session.ReplyProvider, store *cache.Store, logger *slog.Logger) *Cached {
	return &Cached{next: next, store: store, logger: logger}
}

func (c *Cached) Name() string {
	return c.next.Name()
}

func (c *Cached) Reply(ctx context.Context, prompt string, history []session.Message) (string, error) {
	cacheKey := cache.GenerateCacheKey(c.next.Name(), prompt, history)
	if cached, ok := c.store.Get(cacheKey); ok {
		c.logger.Info("cache hit", "key", cacheKey[:16])
		return cached, nil
	}

	reply, err := c.next.Reply(ctx, prompt, history)
	if err != nil || reply == "" {
		return reply, err
	}

	c.store.Put(cacheKey, reply)
	c.logger.Info("cached response", "key", cacheKey[:16])
	return reply, nil
}
