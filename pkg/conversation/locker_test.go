package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockerReleasesEntries(t *testing.T) {
	l := NewLocker(nil, nil)
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("conv-%d", i)
		if err := l.WithLock(ctx, id, func(context.Context) error { return nil }); err != nil {
			t.Fatalf("WithLock: %v", err)
		}
	}
	if n := l.active(); n != 0 {
		t.Fatalf("expected no lock entries left, got %d", n)
	}
}

func TestLockerSerialisesSameID(t *testing.T) {
	l := NewLocker(nil, nil)
	var inside, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.WithLock(context.Background(), "same", func(context.Context) error {
				n := inside.Add(1)
				if n > peak.Load() {
					peak.Store(n)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	if peak.Load() != 1 {
		t.Fatalf("expected exclusive access, saw %d concurrent holders", peak.Load())
	}
}

type stubRemote struct {
	locked, unlocked atomic.Int32
	err              error
}

func (s *stubRemote) Lock(_ context.Context, _ string, _ time.Duration) (UnlockFunc, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.locked.Add(1)
	return func(context.Context) error {
		s.unlocked.Add(1)
		return nil
	}, nil
}

func TestLockerUsesDistributedLock(t *testing.T) {
	remote := &stubRemote{}
	l := NewLocker(remote, nil)
	if err := l.WithLock(context.Background(), "c", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if remote.locked.Load() != 1 || remote.unlocked.Load() != 1 {
		t.Fatalf("expected one lock/unlock, got %d/%d", remote.locked.Load(), remote.unlocked.Load())
	}

	boom := errors.New("redis down")
	remote.err = boom
	called := false
	err := l.WithLock(context.Background(), "c", func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, boom) || called {
		t.Fatalf("expected lock failure to skip fn, got err=%v called=%v", err, called)
	}
	if n := l.active(); n != 0 {
		t.Fatalf("entry leaked after failed remote lock: %d", n)
	}
}
