package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kiranshivaraju/clinidoc/internal/analyzer"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

// fanOut calls every source concurrently and returns their outputs in source
// order. A non-timeout failure returns at once without cancelling the other
// calls; they keep running until they finish or the timeout elapses. An
// analyzer timeout is returned only after every source has answered.
//
// ctx is cancelled by the helper goroutine once every call has returned, so
// the collecting loop waits on parent and its own timer, never on ctx.
func fanOut[T any](parent context.Context, timeout time.Duration, sources []models.Analyzer, call func(context.Context, models.Analyzer) (T, error)) ([]T, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)

	type result struct {
		idx int
		val T
		err error
	}
	results := make(chan result, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := call(ctx, src)
			results <- result{idx: i, val: v, err: err}
		}()
	}
	go func() {
		wg.Wait()
		cancel()
	}()

	resolve := func(err error) error {
		if errors.Is(parent.Err(), context.Canceled) {
			return parent.Err()
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrAnalysisTimeout, timeout)
		}
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	out := make([]T, len(sources))
	var timedOut error
	for range sources {
		select {
		case r := <-results:
			if r.err == nil {
				out[r.idx] = r.val
				continue
			}
			if errors.Is(r.err, analyzer.ErrAnalyzerTimeout) || errors.Is(r.err, context.DeadlineExceeded) {
				if timedOut == nil {
					timedOut = r.err
				}
				continue
			}
			return nil, resolve(r.err)
		case <-parent.Done():
			if errors.Is(parent.Err(), context.Canceled) {
				return nil, parent.Err()
			}
			return nil, fmt.Errorf("%w after %s", ErrAnalysisTimeout, timeout)
		case <-timer.C:
			return nil, fmt.Errorf("%w after %s", ErrAnalysisTimeout, timeout)
		}
	}
	if timedOut != nil {
		return nil, resolve(timedOut)
	}
	return out, nil
}
