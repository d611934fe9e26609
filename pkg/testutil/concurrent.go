// Package testutil holds helpers shared by package tests.
package testutil

import (
	"sync"
	"sync/atomic"

	dErrors "clubadmin/pkg/domain-errors"
)

// ConcurrentResult tracks outcomes of concurrent test operations.
type ConcurrentResult struct {
	Successes int32
	Busy      int32
	Errors    int32
}

// Total returns the total number of operations executed.
func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Busy + r.Errors
}

// RunConcurrent starts all goroutines behind a shared gate so they race for
// the same resource, then classifies each result. Conflict-coded domain errors
// count as Busy.
func RunConcurrent(goroutines int, fn func(idx int) error) *ConcurrentResult {
	var wg sync.WaitGroup
	var successes, busy, errs atomic.Int32
	gate := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-gate
			err := fn(idx)
			switch {
			case err == nil:
				successes.Add(1)
			case dErrors.HasCode(err, dErrors.CodeConflict):
				busy.Add(1)
			default:
				errs.Add(1)
			}
		}(i)
	}

	close(gate)
	wg.Wait()

	return &ConcurrentResult{
		Successes: successes.Load(),
		Busy:      busy.Load(),
		Errors:    errs.Load(),
	}
}
