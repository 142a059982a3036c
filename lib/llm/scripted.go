// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"sync"
)

// Scripted is a deterministic Querier for tests and offline runs. Each
// Query records the prompt and answers via the Reply function. Safe
// for concurrent use.
type Scripted struct {
	// Reply computes the answer for a prompt. When nil, Query echoes
	// the prompt back.
	Reply func(prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
}

func (s *Scripted) Query(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()

	if s.Reply == nil {
		return prompt, nil
	}
	return s.Reply(prompt)
}

// Calls reports how many queries have been issued.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

// Prompts returns a copy of every prompt seen, in arrival order.
// Arrival order is nondeterministic under concurrent batches.
func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}
