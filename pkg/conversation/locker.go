package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// UnlockFunc releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker serialises access to a conversation across processes.
type DistributedLocker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Locker hands out one mutex per conversation id. Entries are reference
// counted and dropped once no goroutine holds or waits on them.
type Locker struct {
	mu      sync.Mutex
	locks   map[string]*lockEntry
	remote  DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewLocker creates a Locker. remote may be nil.
func NewLocker(remote DistributedLocker, logger *slog.Logger) *Locker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Locker{
		locks:   make(map[string]*lockEntry),
		remote:  remote,
		lockTTL: 30 * time.Second,
		logger:  logger,
	}
}

func (l *Locker) acquire(id string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &lockEntry{}
		l.locks[id] = entry
	}
	entry.refs++
	return entry
}

func (l *Locker) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[id]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, id)
	}
}

// WithLock runs fn while holding the lock for id.
func (l *Locker) WithLock(ctx context.Context, id string, fn func(context.Context) error) error {
	entry := l.acquire(id)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		l.release(id)
	}()

	if l.remote != nil {
		unlock, err := l.remote.Lock(ctx, id, l.lockTTL)
		if err != nil {
			return fmt.Errorf("acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				l.logger.Warn("failed to release distributed lock (will expire via TTL)",
					"conversation_id", id,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// active reports how many ids currently have a lock entry.
func (l *Locker) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
