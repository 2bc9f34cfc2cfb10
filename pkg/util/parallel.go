// Package util holds small bounded-concurrency helpers. aqua's
// worker-failover engine (migrate.go) and player-restore path both fan a
// batch of guilds out over a worker pool with ParallelCollect, which never
// cancels the rest on one failure; Parallel is the cancel-on-first-error
// variant.
package util

import (
	"context"
	"sync"
)

// Parallel runs fn over inputs with at most workerLimit concurrent calls,
// using ctx as the base for each worker. The first error cancels the
// derived context passed to every fn call and is returned once all workers
// have drained; later errors from in-flight calls are discarded.
func Parallel[T any](ctx context.Context, inputs []T, workerLimit int, fn func(context.Context, T) error) error {
	if len(inputs) == 0 {
		return nil
	}
	if workerLimit <= 0 {
		workerLimit = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := make(chan T)
	errCh := make(chan error, 1)

	wg := sync.WaitGroup{}
	for i := 0; i < workerLimit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range tasks {
				if err := fn(runCtx, item); err != nil {
					select {
					case errCh <- err:
						cancel()
					default:
					}
					return
				}
			}
		}()
	}

	go func() {
		defer close(tasks)
		for _, item := range inputs {
			select {
			case <-runCtx.Done():
				return
			case tasks <- item:
			}
		}
	}()

	wg.Wait()
	cancel()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// ParallelCollect runs fn over every input with at most workerLimit
// concurrent calls and never cancels early: every input gets a call, and
// every non-nil error is collected and returned in input order (nil slots
// for inputs that succeeded). Player-state restore, Node connect in Init
// and worker failover all use it: every guild (or Node) gets its attempt
// and errors are collected without aborting the rest.
func ParallelCollect[T any](ctx context.Context, inputs []T, workerLimit int, fn func(context.Context, T) error) []error {
	if len(inputs) == 0 {
		return nil
	}
	if workerLimit <= 0 {
		workerLimit = 1
	}

	errs := make([]error, len(inputs))
	sem := make(chan struct{}, workerLimit)
	wg := sync.WaitGroup{}

	for i, item := range inputs {
		i, item := i, item
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = fn(ctx, item)
		}()
	}

	wg.Wait()
	return errs
}
