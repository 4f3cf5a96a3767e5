package safety

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-process TokenStore. A janitor sweeps expired
// tokens so abandoned confirmations do not accumulate.
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]Confirmation
	done   chan struct{}
	once   sync.Once
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		tokens: make(map[string]Confirmation),
		done:   make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *MemoryStore) Put(_ context.Context, c Confirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[c.Token] = c
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, token string) (*Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.tokens[token]
	if !ok {
		return nil, ErrTokenNotFound
	}
	// Invalidate under the same lock: a concurrent Consume of the same token
	// must lose.
	delete(s.tokens, token)

	if time.Now().After(c.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return &c, nil
}

func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for token, c := range s.tokens {
				if now.After(c.ExpiresAt) {
					delete(s.tokens, token)
				}
			}
			s.mu.Unlock()
		}
	}
}
