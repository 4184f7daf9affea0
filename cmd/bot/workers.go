package main

import (
	"context"
	"sync"
	"time"
)

// workers runs jobs with bounded concurrency, each under its own timeout.
type workers struct {
	sem     chan struct{}
	timeout time.Duration
	wg      sync.WaitGroup
}

func newWorkers(size int, timeout time.Duration) *workers {
	if size < 1 {
		size = 1
	}
	return &workers{sem: make(chan struct{}, size), timeout: timeout}
}

// Go blocks until a slot is free and reports false when ctx ended first.
func (w *workers) Go(ctx context.Context, job func(ctx context.Context)) bool {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()

		jobCtx, cancel := ctx, context.CancelFunc(func() {})
		if w.timeout > 0 {
			jobCtx, cancel = context.WithTimeout(ctx, w.timeout)
		}
		defer cancel()

		job(jobCtx)
	}()
	return true
}

// Wait blocks until every started job has returned.
func (w *workers) Wait() {
	w.wg.Wait()
}
