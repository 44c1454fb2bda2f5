package provider

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"PhysioFlow/internal/session"
)

// Synthetic answers with a random canned reply after a fixed delay. It never
// fails; a cancelled context only cuts the delay short.
type Synthetic struct {
	catalog []string
	delay   time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSynthetic creates a synthetic provider. The catalog must not be empty.
func NewSynthetic(catalog []string, delay time.Duration) (*Synthetic, error) {
	if len(catalog) == 0 {
		return nil, errors.New("synthetic catalog must not be empty")
	}
	return &Synthetic{
		catalog: append([]string(nil), catalog...),
		delay:   delay,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// WithSeed makes the reply sequence reproducible.
func (s *Synthetic) WithSeed(seed int64) *Synthetic {
	s.mu.Lock()
	s.rng = rand.New(rand.NewSource(seed))
	s.mu.Unlock()
	return s
}

func (s *Synthetic) Name() string {
	return "synthetic"
}

func (s *Synthetic) Reply(ctx context.Context, _ string, _ []session.Message) (string, error) {
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	s.mu.Lock()
	reply := s.catalog[s.rng.Intn(len(s.catalog))]
	s.mu.Unlock()
	return reply, nil
}
