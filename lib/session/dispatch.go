// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fathomworks/fathom/lib/blobstore"
	"github.com/fathomworks/fathom/lib/llm"
	"github.com/fathomworks/fathom/lib/wire"
)

// DefaultBatchLimit bounds concurrent prompts resolved for one
// query_batch callback.
const DefaultBatchLimit = 4

// DelegateFunc runs a one-level sub-analysis on behalf of executing
// code and returns its synthesis.
type DelegateFunc func(ctx context.Context, content, query string) (string, error)

// Callbacks wires the host capabilities a sandbox may call back into.
// A nil field disables that capability: the dispatcher then answers
// with an in-band error detail instead of failing the session. The
// set granted here is the session's capability set; leaf sessions get
// no Delegate, which makes delegation a policy violation regardless
// of what the sandbox asks for.
type Callbacks struct {
	// Querier answers query and query_batch callbacks.
	Querier llm.Querier

	// BatchLimit bounds prompts in flight for one query_batch. Zero
	// selects DefaultBatchLimit.
	BatchLimit int

	// Delegate answers delegate callbacks.
	Delegate DelegateFunc

	// Store answers store_write and store_read callbacks.
	Store blobstore.Store
}

// dispatcher answers callback requests through a closed handler
// table. Every failure is in-band: the response carries an error
// detail and the session stays usable.
type dispatcher struct {
	callbacks Callbacks
	logger    *slog.Logger
}

func newDispatcher(callbacks Callbacks, logger *slog.Logger) *dispatcher {
	if callbacks.BatchLimit <= 0 {
		callbacks.BatchLimit = DefaultBatchLimit
	}
	return &dispatcher{callbacks: callbacks, logger: logger}
}

func (d *dispatcher) handle(ctx context.Context, request *wire.Frame) *wire.Frame {
	response := &wire.Frame{Kind: wire.KindCallbackResponse, ID: request.ID}
	switch request.Op {
	case wire.CallbackQuery:
		d.handleQuery(ctx, request, response)
	case wire.CallbackQueryBatch:
		d.handleQueryBatch(ctx, request, response)
	case wire.CallbackDelegate:
		d.handleDelegate(ctx, request, response)
	case wire.CallbackStoreWrite:
		d.handleStoreWrite(ctx, request, response)
	case wire.CallbackStoreRead:
		d.handleStoreRead(ctx, request, response)
	default:
		d.logger.Warn("unknown callback operation", "op", request.Op)
		response.Error = &wire.ErrorDetail{
			Code:    wire.CodeProtocolError,
			Message: fmt.Sprintf("unknown callback operation %q", request.Op),
		}
	}
	return response
}

func (d *dispatcher) handleQuery(ctx context.Context, request, response *wire.Frame) {
	if d.callbacks.Querier == nil {
		response.Error = callbackFailed("no language model configured")
		return
	}
	text, err := d.callbacks.Querier.Query(ctx, request.Prompt)
	if err != nil {
		response.Error = callbackFailed(err.Error())
		return
	}
	response.Text = text
}

// handleQueryBatch fans the prompts out and joins before answering.
// Slot i always answers prompt i; a failed slot carries its error
// string and never disturbs the others.
func (d *dispatcher) handleQueryBatch(ctx context.Context, request, response *wire.Frame) {
	if d.callbacks.Querier == nil {
		response.Error = callbackFailed("no language model configured")
		return
	}
	outcomes := llm.Batch(ctx, d.callbacks.Querier, request.Prompts, d.callbacks.BatchLimit)
	slots := make([]wire.BatchSlot, len(outcomes))
	for i, outcome := range outcomes {
		if outcome.Err != nil {
			slots[i].Err = outcome.Err.Error()
		} else {
			slots[i].Text = outcome.Text
		}
	}
	response.Texts = slots
}

func (d *dispatcher) handleDelegate(ctx context.Context, request, response *wire.Frame) {
	if d.callbacks.Delegate == nil {
		response.Error = &wire.ErrorDetail{
			Code:    wire.CodePolicyViolation,
			Message: "delegation is not available to this session",
		}
		return
	}
	text, err := d.callbacks.Delegate(ctx, request.Content, request.Query)
	if err != nil {
		response.Error = callbackFailed(err.Error())
		return
	}
	response.Text = text
}

func (d *dispatcher) handleStoreWrite(ctx context.Context, request, response *wire.Frame) {
	if d.callbacks.Store == nil {
		response.Error = callbackFailed("no storage configured")
		return
	}
	if err := d.callbacks.Store.Write(ctx, request.Path, request.Data); err != nil {
		response.Error = callbackFailed(err.Error())
	}
}

func (d *dispatcher) handleStoreRead(ctx context.Context, request, response *wire.Frame) {
	if d.callbacks.Store == nil {
		response.Error = callbackFailed("no storage configured")
		return
	}
	data, err := d.callbacks.Store.Read(ctx, request.Path)
	if errors.Is(err, blobstore.ErrNotFound) {
		// An absent blob is an answer, not a failure; Found stays
		// false.
		return
	}
	if err != nil {
		response.Error = callbackFailed(err.Error())
		return
	}
	response.Found = true
	response.Blob = data
}

func callbackFailed(message string) *wire.ErrorDetail {
	return &wire.ErrorDetail{Code: wire.CodeCallbackFailed, Message: message}
}
