// Package pool runs independent per-file tasks on a bounded set of
// goroutines.
package pool

import (
	"context"
	"runtime"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// MaxWorkers caps the default pool size.
const MaxWorkers = 8

// Workers returns n when positive, otherwise the number of CPUs capped at
// MaxWorkers.
func Workers(n int) int {
	if n > 0 {
		return n
	}
	n = runtime.NumCPU()
	if n > MaxWorkers {
		n = MaxWorkers
	}
	return n
}

// ForEach calls fn for every item using at most workers goroutines. It stops
// scheduling new items after the first error or when ctx is cancelled and
// returns that error once running tasks have finished.
func ForEach[T any](ctx context.Context, workers int, items []T, fn func(context.Context, T) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(Workers(workers))
	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		item := item
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, item)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Map is ForEach that keeps one result per item, in input order.
func Map[T, R any](ctx context.Context, workers int, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	out := make([]R, len(items))
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	err := ForEach(ctx, workers, idx, func(ctx context.Context, i int) error {
		r, err := fn(ctx, items[i])
		if err != nil {
			return err
		}
		out[i] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// All calls fn for every item like ForEach but keeps going after failures
// and returns every error combined. Cancellation still stops scheduling.
func All[T any](ctx context.Context, workers int, items []T, fn func(context.Context, T) error) error {
	var (
		mu   sync.Mutex
		errs *multierror.Error
	)
	sem := make(chan struct{}, Workers(workers))
	var wg sync.WaitGroup
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(item T) {
			defer func() {
				<-sem
				wg.Done()
			}()
			if err := fn(ctx, item); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
		}(item)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}
