// Package parallel fans row-range work out over CPU cores. It is used by
// backends for batch math; orchestration code never calls it directly.
package parallel

import (
	"runtime"
	"sync"

	"github.com/YuminosukeSato/beanscope/pkg/errors"
)

// Parallelize splits [0, items) into at most runtime.NumCPU() contiguous
// ranges and runs fn on each range concurrently. A panic in any worker is
// recovered and returned as an *errors.PanicError after all workers finish.
func Parallelize(items int, fn func(start, end int)) error {
	return ParallelizeN(items, runtime.NumCPU(), fn)
}

// ParallelizeN is Parallelize with an explicit worker limit.
func ParallelizeN(items, workers int, fn func(start, end int)) error {
	if items <= 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > items {
		workers = items
	}

	chunkSize := (items + workers - 1) / workers

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for i := 0; i < workers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			err := errors.SafeExecute("parallel worker", func() error {
				fn(s, e)
				return nil
			})
			if err != nil {
				mu.Lock()
				errs = errors.CombineErrors(errs, err)
				mu.Unlock()
			}
		}(start, end)
	}

	wg.Wait()
	return errs
}

// ParallelizeWithThreshold runs fn sequentially on the whole range when items
// does not exceed threshold, and in parallel otherwise.
func ParallelizeWithThreshold(items, threshold int, fn func(start, end int)) error {
	if items <= threshold {
		return errors.SafeExecute("sequential worker", func() error {
			fn(0, items)
			return nil
		})
	}
	return Parallelize(items, fn)
}
