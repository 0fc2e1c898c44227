package runguard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryGuard is a process-local guard with lease expiry
type MemoryGuard struct {
	mu     sync.Mutex
	leases map[string]memoryEntry
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewMemoryGuard creates a new in-process guard
func NewMemoryGuard(ttl time.Duration, logger *zap.Logger) *MemoryGuard {
	return &MemoryGuard{
		leases: make(map[string]memoryEntry),
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Acquire leases key for the configured TTL
func (g *MemoryGuard) Acquire(ctx context.Context, key string) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if entry, ok := g.leases[key]; ok && now.Before(entry.expiresAt) {
		return nil, ErrHeld
	}

	token := NewToken()
	expiresAt := now.Add(g.ttl)
	g.leases[key] = memoryEntry{token: token, expiresAt: expiresAt}

	g.logger.Debug("run lease acquired", zap.String("key", key), zap.String("token", token))

	return &Lease{
		Key:       key,
		Token:     token,
		ExpiresAt: expiresAt,
		release: func(context.Context) error {
			g.release(key, token)
			return nil
		},
	}, nil
}

func (g *MemoryGuard) release(key, token string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if entry, ok := g.leases[key]; ok && entry.token == token {
		delete(g.leases, key)
	}
}

// Len returns the number of leases currently tracked, expired ones included
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.leases)
}
