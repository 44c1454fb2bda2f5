package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"PhysioFlow/internal/session"
)

// CachedResponse represents a cached reply
type CachedResponse struct {
	Response  string
	Timestamp time.Time
}

// GenerateCacheKey generates a cache key from a prompt and the history sent with it
func GenerateCacheKey(provider, prompt string, history []session.Message) string {
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	for _, msg := range history {
		h.Write([]byte(msg.Sender))
		h.Write([]byte(msg.Text))
		h.Write([]byte{0})
	}
	h.Write([]byte(prompt))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Store is a concurrency-safe reply cache with a fixed time to live.
type Store struct {
	ttl     time.Duration
	now     func() time.Time
	entries sync.Map // key -> CachedResponse
}

// NewStore creates a store; ttl <= 0 keeps entries forever.
func NewStore(ttl time.Duration) *Store {
	return &Store{ttl: ttl, now: time.Now}
}

// Get returns the cached reply for key if present and fresh.
func (s *Store) Get(key string) (string, bool) {
	val, ok := s.entries.Load(key)
	if !ok {
		return "", false
	}
	cached := val.(CachedResponse)
	if s.ttl > 0 && s.now().Sub(cached.Timestamp) > s.ttl {
		s.entries.Delete(key)
		return "", false
	}
	return cached.Response, true
}

// Put stores a reply under key.
func (s *Store) Put(key, response string) {
	s.entries.Store(key, CachedResponse{
		Response:  response,
		Timestamp: s.now(),
	})
}

// Purge drops expired entries and returns how many were removed.
func (s *Store) Purge() int {
	if s.ttl <= 0 {
		return 0
	}
	removed := 0
	now := s.now()
	s.entries.Range(func(k, v any) bool {
		if now.Sub(v.(CachedResponse).Timestamp) > s.ttl {
			s.entries.Delete(k)
			removed++
		}
		return true
	})
	return removed
}
