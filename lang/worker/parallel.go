// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
)

// Parallel runs every Worker with at most limit running at once and
// waits for them to finish. The first error cancels the remaining ones.
func Parallel(ctx context.Context, limit int, workers ...Worker) error {
	wg := NewWorkerGroup(ctx, limit)
	for _, worker := range workers {
		if err := wg.Start(worker); err != nil {
			return wg.WaitError(err)
		}
	}
	return wg.Wait()
}
