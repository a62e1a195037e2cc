// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"sync"
)

// Worker is a function that a WorkerGroup runs in its own goroutine.
type Worker func(context.Context) error

// WorkerGroup is similar in principle to sync.WaitGroup but starts the
// Workers itself so that it can:
//   - limit the number of Workers running at once,
//   - capture the first error returned by a Worker,
//   - cancel the shared context as soon as any Worker fails.
//
// Workers that must not abort their siblings should record their own
// failure and return nil.
type WorkerGroup struct {
	ctx    context.Context
	cancel context.CancelFunc
	limit  chan struct{}
	wg     sync.WaitGroup

	mu  sync.Mutex
	err error
}

// NewWorkerGroup creates a group that runs at most limit Workers at a
// time. A limit below one is treated as one.
func NewWorkerGroup(ctx context.Context, limit int) *WorkerGroup {
	if limit < 1 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	return &WorkerGroup{
		ctx:    ctx,
		cancel: cancel,
		limit:  make(chan struct{}, limit),
	}
}

// Start blocks until a slot is free and then launches worker. It returns
// an error without launching anything if the group's context is done.
func (wg *WorkerGroup) Start(worker Worker) error {
	select {
	case wg.limit <- struct{}{}:
	case <-wg.ctx.Done():
		return wg.ctx.Err()
	}

	// the slot may have raced with cancellation
	if err := wg.ctx.Err(); err != nil {
		<-wg.limit
		return err
	}

	wg.wg.Add(1)
	go func() {
		defer func() {
			<-wg.limit
			wg.wg.Done()
		}()
		if err := worker(wg.ctx); err != nil {
			wg.fail(err)
		}
	}()
	return nil
}

func (wg *WorkerGroup) fail(err error) {
	wg.mu.Lock()
	defer wg.mu.Unlock()
	if wg.err == nil {
		wg.err = err
		wg.cancel()
	}
}

// Wait blocks until all started Workers finish and returns the first
// error any of them reported.
func (wg *WorkerGroup) Wait() error {
	wg.wg.Wait()
	wg.cancel()
	wg.mu.Lock()
	defer wg.mu.Unlock()
	return wg.err
}

// WaitError is like Wait but reports err if no Worker failed. It is
// meant for callers that stop starting Workers because of err.
func (wg *WorkerGroup) WaitError(err error) error {
	if werr := wg.Wait(); werr != nil {
		return werr
	}
	return err
}
