// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchOutcome is one prompt's result in a Batch call. Exactly one of
// Text and Err is meaningful.
type BatchOutcome struct {
	Text string
	Err  error
}

// Batch resolves prompts concurrently against querier, at most limit
// in flight at once (limit < 1 means unbounded). Outcome i always
// answers prompts[i], regardless of completion order, and one slot's
// failure never disturbs the others: the error is recorded in that
// slot and the remaining prompts still run. Cancelling ctx fails the
// slots still in flight with the context error.
func Batch(ctx context.Context, querier Querier, prompts []string, limit int) []BatchOutcome {
	outcomes := make([]BatchOutcome, len(prompts))

	var group errgroup.Group
	if limit > 0 {
		group.SetLimit(limit)
	}
	for i, prompt := range prompts {
		group.Go(func() error {
			text, err := querier.Query(ctx, prompt)
			if err != nil {
				outcomes[i].Err = err
				return nil
			}
			outcomes[i].Text = text
			return nil
		})
	}
	// Goroutines report through their slots, never through the group,
	// so Wait only joins.
	_ = group.Wait()

	return outcomes
}
