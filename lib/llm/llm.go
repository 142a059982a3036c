// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"
)

// Querier is the interface for language-model backends. Implementations
// must be safe for concurrent use: the batched callback primitive
// issues many queries at once against one Querier.
type Querier interface {
	// Query sends one prompt and blocks until the full text reply is
	// available or ctx is done.
	Query(ctx context.Context, prompt string) (string, error)
}

// ProviderError is returned when a model API responds with an error.
type ProviderError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Type is the provider-specific error type string
	// (e.g., "invalid_request_error", "rate_limit_error").
	Type string

	// Message is the human-readable error description.
	Message string
}

func (err *ProviderError) Error() string {
	if err.Type != "" {
		return fmt.Sprintf("llm: HTTP %d: %s: %s", err.StatusCode, err.Type, err.Message)
	}
	return fmt.Sprintf("llm: HTTP %d: %s", err.StatusCode, err.Message)
}

// IsRateLimited returns true if the error is a rate limit response (HTTP 429).
func (err *ProviderError) IsRateLimited() bool {
	return err.StatusCode == 429
}
