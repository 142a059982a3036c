// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the four frame types of the session protocol.
type Kind string

const (
	KindExecute          Kind = "execute"
	KindResult           Kind = "result"
	KindCallbackRequest  Kind = "callback_request"
	KindCallbackResponse Kind = "callback_response"
)

// CallbackKind names the operation a callback_request asks the host
// to perform. It is carried in the frame's "op" field so it cannot
// shadow the frame kind.
type CallbackKind string

const (
	CallbackQuery      CallbackKind = "query"
	CallbackQueryBatch CallbackKind = "query_batch"
	CallbackDelegate   CallbackKind = "delegate"
	CallbackStoreWrite CallbackKind = "store_write"
	CallbackStoreRead  CallbackKind = "store_read"
)

// Status reports how an execution finished.
type Status string

const (
	// StatusOK: the code ran to completion without raising.
	StatusOK Status = "ok"
	// StatusError: the code raised or was rejected; Error is set.
	StatusError Status = "error"
	// StatusFinal: the code called final_result; Final is set.
	StatusFinal Status = "final"
)

// Error code strings carried in ErrorDetail.Code. Only conditions
// that originate inside the sandbox travel on the wire; host-side
// failures (crash, timeout, busy) are reported by the session layer
// and never appear in a frame.
const (
	CodeProtocolError   = "protocol_error"
	CodeExecutionError  = "execution_error"
	CodePolicyViolation = "policy_violation"
	CodeCallbackFailed  = "callback_failed"
)

// ErrorDetail describes a failure inside a result or callback_response.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorDetail) String() string {
	return e.Code + ": " + e.Message
}

// Summary is the condensed form of an output stream that exceeded the
// host's truncation threshold. Prefix is a bounded leading slice of
// the redacted text; the counts describe the full redacted stream.
type Summary struct {
	TotalChars int    `json:"total_chars"`
	TotalLines int    `json:"total_lines"`
	Prefix     string `json:"prefix"`
}

// Output is one captured stream (stdout or stderr) of an execution.
// Exactly one of Text and Summary is meaningful: small streams travel
// verbatim, large ones as a Summary. The sandbox always sends Text;
// summarization happens on the host after redaction.
type Output struct {
	Text    string   `json:"text,omitempty"`
	Summary *Summary `json:"summary,omitempty"`
}

// Value returns the printable form of the output, whichever shape it
// is in.
func (o *Output) Value() string {
	if o == nil {
		return ""
	}
	if o.Summary != nil {
		return fmt.Sprintf("[%d chars, %d lines] %s",
			o.Summary.TotalChars, o.Summary.TotalLines, o.Summary.Prefix)
	}
	return o.Text
}

// BatchSlot is one prompt's outcome in a query_batch response. Slots
// are positional: slot i answers prompt i of the request.
type BatchSlot struct {
	Text string `json:"text,omitempty"`
	Err  string `json:"err,omitempty"`
}

// Frame is one protocol record. The Kind field selects which of the
// remaining fields are meaningful; Validate enforces the mapping.
//
// Field groups by kind:
//
//	execute:           ID, Code, Variables
//	result:            ID, Status, Stdout, Stderr, Final, Error
//	callback_request:  ID, Op, then per-Op argument fields
//	callback_response: ID, then per-Op result fields, or Error
type Frame struct {
	Kind Kind   `json:"kind"`
	ID   uint64 `json:"id"`

	// Execute fields.
	Code      string         `json:"code,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`

	// Result fields. Final is raw JSON so the host can hand the
	// value through without imposing a schema on it; a present
	// "null" is distinct from an absent field.
	Status Status          `json:"status,omitempty"`
	Stdout *Output         `json:"stdout,omitempty"`
	Stderr *Output         `json:"stderr,omitempty"`
	Final  json.RawMessage `json:"final,omitempty"`

	// Shared by result and callback_response.
	Error *ErrorDetail `json:"error,omitempty"`

	// Callback request fields.
	Op      CallbackKind `json:"op,omitempty"`
	Prompt  string       `json:"prompt,omitempty"`
	Prompts []string     `json:"prompts,omitempty"`
	Path    string       `json:"path,omitempty"`
	Data    []byte       `json:"data,omitempty"`
	Content string       `json:"content,omitempty"`
	Query   string       `json:"query,omitempty"`

	// Callback response fields.
	Text  string      `json:"text,omitempty"`
	Texts []BatchSlot `json:"texts,omitempty"`
	Blob  []byte      `json:"blob,omitempty"`
	Found bool        `json:"found,omitempty"`
}

// Validate checks frame-level integrity: the kind is known and, for
// results, the status is one the receiving loop can act on. It does
// not judge callback operations; the host dispatcher answers a bad
// operation in-band so the session survives it. It also does not
// reject extra fields: a response echoing request fields is harmless,
// and tolerance there keeps the two ends independently upgradable.
func (f *Frame) Validate() error {
	switch f.Kind {
	case KindExecute, KindCallbackRequest, KindCallbackResponse:
	case KindResult:
		switch f.Status {
		case StatusOK, StatusFinal:
		case StatusError:
			if f.Error == nil {
				return &ProtocolError{Reason: "error result missing error detail"}
			}
		default:
			return &ProtocolError{Reason: fmt.Sprintf("result frame has unknown status %q", f.Status)}
		}
	case "":
		return &ProtocolError{Reason: "frame missing kind"}
	default:
		return &ProtocolError{Reason: fmt.Sprintf("unknown frame kind %q", f.Kind)}
	}
	return nil
}
