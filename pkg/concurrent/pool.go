// Package concurrent holds bounded-parallelism helpers.
package concurrent

import (
	"context"
	"sync"
)

const defaultConcurrency = 10

// OrderedMap applies fn to every item with at most maxConcurrency calls in
// flight. results[i] always corresponds to items[i]. Items that never start
// because ctx is cancelled are produced by onCancel.
func OrderedMap[T, R any](ctx context.Context, items []T, maxConcurrency int, fn func(context.Context, int, T) R, onCancel func(int, T, error) R) []R {
	if len(items) == 0 {
		return nil
	}
	if maxConcurrency <= 0 {
		maxConcurrency = defaultConcurrency
	}

	results := make([]R, len(items))
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(idx int, val T) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				if onCancel != nil {
					results[idx] = onCancel(idx, val, ctx.Err())
				}
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
				results[idx] = fn(ctx, idx, val)
			}
		}(i, item)
	}

	wg.Wait()
	return results
}
