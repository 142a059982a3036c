// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package repl

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/fathomworks/fathom/lib/wire"
)

const (
	// DefaultMaxCallbackCalls bounds suspending primitive calls
	// across a session's lifetime. One batch of N prompts counts as
	// N calls.
	DefaultMaxCallbackCalls = 64

	// DefaultMaxExecutions bounds execute requests across a
	// session's lifetime.
	DefaultMaxExecutions = 128
)

// Caller delivers one callback_request to the host and blocks for the
// matching callback_response. A returned *wire.ProtocolError fails
// only the in-flight execution; the session framing realigns and the
// worker keeps serving. Any other error means the channel is unusable
// and the worker cannot continue. Per-call failures travel inside the
// response frame's error detail instead.
type Caller interface {
	Call(request *wire.Frame) (*wire.Frame, error)
}

// Config carries the per-session policy the host granted at spawn.
type Config struct {
	// AllowDelegate binds a live delegate primitive. Leaf sessions
	// leave it false; their delegate name is a stub that fails with
	// a policy violation error value.
	AllowDelegate bool

	// MaxCallbackCalls overrides DefaultMaxCallbackCalls when
	// positive.
	MaxCallbackCalls int

	// MaxExecutions overrides DefaultMaxExecutions when positive.
	MaxExecutions int
}

// Runtime is a Starlark interpreter with a namespace that persists
// across Execute calls. It is not safe for concurrent use; the
// protocol serializes executions per session.
type Runtime struct {
	caller  Caller
	globals starlark.StringDict
	options *syntax.FileOptions
	buffers map[string]*starlark.List

	allowDelegate    bool
	maxCallbackCalls int
	maxExecutions    int

	executions    int
	callbackCalls int
	callCounter   uint64

	// Per-request state, reset at the start of every Execute.
	finalSet  bool
	finalJSON json.RawMessage
	stdout    strings.Builder
}

// New builds a runtime speaking callbacks through caller.
func New(caller Caller, cfg Config) *Runtime {
	if cfg.MaxCallbackCalls <= 0 {
		cfg.MaxCallbackCalls = DefaultMaxCallbackCalls
	}
	if cfg.MaxExecutions <= 0 {
		cfg.MaxExecutions = DefaultMaxExecutions
	}

	r := &Runtime{
		caller:  caller,
		globals: make(starlark.StringDict),
		options: &syntax.FileOptions{
			Set:             true,
			While:           true,
			TopLevelControl: true,
			GlobalReassign:  true,
			Recursion:       true,
		},
		buffers:          make(map[string]*starlark.List),
		allowDelegate:    cfg.AllowDelegate,
		maxCallbackCalls: cfg.MaxCallbackCalls,
		maxExecutions:    cfg.MaxExecutions,
	}
	r.installBuiltins()
	return r
}

// channelError marks a callback transport failure. It aborts the
// whole worker, unlike program failures which become error results.
type channelError struct{ err error }

func (e *channelError) Error() string { return e.err.Error() }
func (e *channelError) Unwrap() error { return e.err }

// call assigns the next call id and round-trips one callback frame.
func (r *Runtime) call(request *wire.Frame) (*wire.Frame, error) {
	r.callCounter++
	request.Kind = wire.KindCallbackRequest
	request.ID = r.callCounter

	response, err := r.caller.Call(request)
	if err != nil {
		wrapped := fmt.Errorf("callback %s: %w", request.Op, err)
		var protocolErr *wire.ProtocolError
		if errors.As(err, &protocolErr) {
			return nil, wrapped
		}
		return nil, &channelError{err: wrapped}
	}
	return response, nil
}

// Execute runs one execute frame to completion and returns the result
// frame. A non-nil error means the callback channel died mid-call and
// the worker should exit; every program-level failure, including
// budget rejection and syntax errors, is reported inside the result.
func (r *Runtime) Execute(request *wire.Frame) (*wire.Frame, error) {
	result := &wire.Frame{Kind: wire.KindResult, ID: request.ID}

	if r.executions >= r.maxExecutions {
		result.Status = wire.StatusError
		result.Error = &wire.ErrorDetail{
			Code:    wire.CodePolicyViolation,
			Message: fmt.Sprintf("execution budget exhausted (%d)", r.maxExecutions),
		}
		return result, nil
	}
	r.executions++

	r.finalSet = false
	r.finalJSON = nil
	r.stdout.Reset()

	// Injected variables become ordinary namespace entries, visible
	// to later executions like anything else the program assigns.
	for name, value := range request.Variables {
		converted, err := toStarlark(value)
		if err != nil {
			result.Status = wire.StatusError
			result.Error = &wire.ErrorDetail{
				Code:    wire.CodeExecutionError,
				Message: fmt.Sprintf("variable %q: %v", name, err),
			}
			return result, nil
		}
		r.globals[name] = converted
	}

	file, err := r.options.Parse(fmt.Sprintf("<execute-%d>", request.ID), request.Code, 0)
	if err != nil {
		result.Status = wire.StatusError
		result.Error = &wire.ErrorDetail{
			Code:    wire.CodeExecutionError,
			Message: err.Error(),
		}
		return result, nil
	}

	thread := &starlark.Thread{
		Name: fmt.Sprintf("execute-%d", request.ID),
		Print: func(_ *starlark.Thread, msg string) {
			r.stdout.WriteString(msg)
			r.stdout.WriteByte('\n')
		},
	}

	execErr := starlark.ExecREPLChunk(file, thread, r.globals)

	if captured := r.stdout.String(); captured != "" {
		result.Stdout = &wire.Output{Text: captured}
	}

	if execErr != nil {
		var transport *channelError
		if errors.As(execErr, &transport) {
			return nil, transport
		}

		result.Status = wire.StatusError
		var evalErr *starlark.EvalError
		if errors.As(execErr, &evalErr) {
			result.Stderr = &wire.Output{Text: evalErr.Backtrace()}
			result.Error = &wire.ErrorDetail{
				Code:    wire.CodeExecutionError,
				Message: evalErr.Error(),
			}
		} else {
			result.Error = &wire.ErrorDetail{
				Code:    wire.CodeExecutionError,
				Message: execErr.Error(),
			}
		}
		return result, nil
	}

	if r.finalSet {
		result.Status = wire.StatusFinal
		result.Final = r.finalJSON
	} else {
		result.Status = wire.StatusOK
	}
	return result, nil
}
