package concurrent

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestOrderedMapKeepsInputOrder(t *testing.T) {
	items := []int{5, 1, 4, 2, 3}
	out := OrderedMap(context.Background(), items, 3, func(_ context.Context, _ int, v int) int {
		// Later items finish first.
		time.Sleep(time.Duration(5-v) * time.Millisecond)
		return v * 10
	}, nil)
	want := []int{50, 10, 40, 20, 30}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("results out of order: %v", out)
		}
	}
}

func TestOrderedMapBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	items := make([]int, 20)
	OrderedMap(context.Background(), items, 2, func(_ context.Context, _ int, _ int) struct{} {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return struct{}{}
	}, nil)
	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent calls, saw %d", peak.Load())
	}
}

func TestOrderedMapCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := OrderedMap(ctx, []string{"a", "b"}, 1, func(context.Context, int, string) string {
		return "ran"
	}, func(_ int, v string, err error) string {
		return v + ":" + err.Error()
	})
	for _, v := range out {
		if v == "ran" {
			// A goroutine may win the semaphore before observing cancellation.
			continue
		}
		if v != "a:context canceled" && v != "b:context canceled" {
			t.Fatalf("unexpected cancellation output %q", v)
		}
	}
}
