package lock

import (
	"context"
	"sync"
	"time"

	"TrendWatcher/internal/ports"
)

// MemoryLocker guards subscriptions within a single process.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]entry
	now   func() time.Time
	token uint64
}

type entry struct {
	token   uint64
	expires time.Time
}

var _ ports.Locker = (*MemoryLocker)(nil)

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]entry), now: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.held[key]; ok && (e.expires.IsZero() || now.Before(e.expires)) {
		return nil, false, nil
	}

	l.token++
	token := l.token
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	l.held[key] = entry{token: token, expires: expires}

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if e, ok := l.held[key]; ok && e.token == token {
			delete(l.held, key)
		}
	}
	return release, true, nil
}
