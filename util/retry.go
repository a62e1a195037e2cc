// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

package util

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by WaitUntilReady when the time limit passes
// before the check reports completion.
var ErrTimeout = errors.New("time limit exceeded")

// RetryConditional calls function f until it has been called attempts times, or succeeds.
// If shouldRetry returns false on the error generated, RetryConditional stops immediately
// and returns the error. Cancelling ctx stops the retries and returns the last error
// from f, or the context's error if f was never called.
func RetryConditional(ctx context.Context, attempts int, delay time.Duration, shouldRetry func(err error) bool, f func() error) error {
	err := ctx.Err()

	for i := 0; i < attempts; i++ {
		if cerr := ctx.Err(); cerr != nil {
			break
		}
		err = f()
		if err == nil || !shouldRetry(err) {
			break
		}

		if i < attempts-1 {
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
		}
	}

	return err
}

// WaitUntilReady calls checkFunction every delay until it reports done,
// returns an error, ctx is cancelled, or timeout elapses. A timeout of
// zero waits for as long as ctx allows.
func WaitUntilReady(ctx context.Context, timeout, delay time.Duration, checkFunction func(context.Context) (bool, error)) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(delay)
	defer ticker.Stop()

	for {
		done, err := checkFunction(ctx)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrTimeout
			}
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
