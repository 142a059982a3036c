// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package repl

import (
	"encoding/json"
	"fmt"

	"go.starlark.net/starlark"

	"github.com/fathomworks/fathom/lib/wire"
)

// errorValue is the Starlark-visible form of a failed primitive call.
// It is falsy and exposes code and message attributes, so programs
// branch on outcomes without an exception mechanism:
//
//	reply = llm_query(prompt)
//	if not reply:
//	    print(reply.code)
type errorValue struct {
	code    string
	message string
}

func newErrorValue(code, message string) *errorValue {
	return &errorValue{code: code, message: message}
}

func policyError(message string) *errorValue {
	return newErrorValue(wire.CodePolicyViolation, message)
}

func (e *errorValue) String() string {
	return fmt.Sprintf("error(%q, %q)", e.code, e.message)
}

func (e *errorValue) Type() string          { return "error" }
func (e *errorValue) Freeze()               {}
func (e *errorValue) Truth() starlark.Bool  { return starlark.False }
func (e *errorValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: error") }

func (e *errorValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "code":
		return starlark.String(e.code), nil
	case "message":
		return starlark.String(e.message), nil
	}
	return nil, nil
}

func (e *errorValue) AttrNames() []string { return []string{"code", "message"} }

func (r *Runtime) installBuiltins() {
	r.globals["llm_query"] = starlark.NewBuiltin("llm_query", r.llmQuery)
	r.globals["llm_query_batch"] = starlark.NewBuiltin("llm_query_batch", r.llmQueryBatch)
	r.globals["final_result"] = starlark.NewBuiltin("final_result", r.finalResult)
	r.globals["buffer_append"] = starlark.NewBuiltin("buffer_append", r.bufferAppend)
	r.globals["buffer_read"] = starlark.NewBuiltin("buffer_read", r.bufferRead)
	r.globals["buffer_clear"] = starlark.NewBuiltin("buffer_clear", r.bufferClear)
	r.globals["store_write"] = starlark.NewBuiltin("store_write", r.storeWrite)
	r.globals["store_read"] = starlark.NewBuiltin("store_read", r.storeRead)
	if r.allowDelegate {
		r.globals["delegate"] = starlark.NewBuiltin("delegate", r.delegate)
	} else {
		r.globals["delegate"] = starlark.NewBuiltin("delegate", r.delegateStub)
	}
}

// consumeCallbackBudget reserves count callback units. It returns a
// policy error value when the reservation would exceed the session
// budget; a batch either fits entirely or is not dispatched at all.
func (r *Runtime) consumeCallbackBudget(count int) starlark.Value {
	if r.callbackCalls+count > r.maxCallbackCalls {
		return policyError(fmt.Sprintf(
			"callback budget exhausted: %d of %d used, request needs %d",
			r.callbackCalls, r.maxCallbackCalls, count))
	}
	r.callbackCalls += count
	return nil
}

func (r *Runtime) llmQuery(thread *starlark.Thread, builtin *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var prompt string
	if err := starlark.UnpackPositionalArgs("llm_query", args, kwargs, 1, &prompt); err != nil {
		return nil, err
	}
	if errValue := r.consumeCallbackBudget(1); errValue != nil {
		return errValue, nil
	}

	response, err := r.call(&wire.Frame{Op: wire.CallbackQuery, Prompt: prompt})
	if err != nil {
		return nil, err
	}
	if response.Error != nil {
		return newErrorValue(response.Error.Code, response.Error.Message), nil
	}
	return starlark.String(response.Text), nil
}

func (r *Runtime) llmQueryBatch(thread *starlark.Thread, builtin *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var promptsValue starlark.Value
	if err := starlark.UnpackPositionalArgs("llm_query_batch", args, kwargs, 1, &promptsValue); err != nil {
		return nil, err
	}
	iterable, ok := promptsValue.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("llm_query_batch: prompts must be a list of strings, got %s", promptsValue.Type())
	}

	var prompts []string
	iter := iterable.Iterate()
	defer iter.Done()
	var elem starlark.Value
	for iter.Next(&elem) {
		prompt, ok := starlark.AsString(elem)
		if !ok {
			return nil, fmt.Errorf("llm_query_batch: prompt %d is %s, want string", len(prompts), elem.Type())
		}
		prompts = append(prompts, prompt)
	}
	if len(prompts) == 0 {
		return starlark.NewList(nil), nil
	}

	if errValue := r.consumeCallbackBudget(len(prompts)); errValue != nil {
		return errValue, nil
	}

	response, err := r.call(&wire.Frame{Op: wire.CallbackQueryBatch, Prompts: prompts})
	if err != nil {
		return nil, err
	}
	if response.Error != nil {
		return newErrorValue(response.Error.Code, response.Error.Message), nil
	}
	if len(response.Texts) != len(prompts) {
		return newErrorValue(wire.CodeProtocolError, fmt.Sprintf(
			"batch response has %d slots, expected %d", len(response.Texts), len(prompts))), nil
	}

	// Slots come back in request order; failed slots become error
	// values in place so one bad prompt never shifts the others.
	results := make([]starlark.Value, len(response.Texts))
	for i, slot := range response.Texts {
		if slot.Err != "" {
			results[i] = newErrorValue(wire.CodeCallbackFailed, slot.Err)
		} else {
			results[i] = starlark.String(slot.Text)
		}
	}
	return starlark.NewList(results), nil
}

func (r *Runtime) finalResult(thread *starlark.Thread, builtin *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value starlark.Value
	if err := starlark.UnpackPositionalArgs("final_result", args, kwargs, 1, &value); err != nil {
		return nil, err
	}
	if r.finalSet {
		return nil, fmt.Errorf("final_result: already called in this execution")
	}

	goValue, err := fromStarlark(value)
	if err != nil {
		return nil, fmt.Errorf("final_result: %w", err)
	}
	raw, err := json.Marshal(goValue)
	if err != nil {
		return nil, fmt.Errorf("final_result: encoding value: %w", err)
	}

	r.finalSet = true
	r.finalJSON = raw
	return starlark.None, nil
}

func (r *Runtime) bufferAppend(thread *starlark.Thread, builtin *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var value starlark.Value
	if err := starlark.UnpackPositionalArgs("buffer_append", args, kwargs, 2, &name, &value); err != nil {
		return nil, err
	}

	buffer, ok := r.buffers[name]
	if !ok {
		buffer = starlark.NewList(nil)
		r.buffers[name] = buffer
	}
	if err := buffer.Append(value); err != nil {
		return nil, fmt.Errorf("buffer_append: %w", err)
	}
	return starlark.None, nil
}

func (r *Runtime) bufferRead(thread *starlark.Thread, builtin *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs("buffer_read", args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	if buffer, ok := r.buffers[name]; ok {
		return buffer, nil
	}
	return starlark.NewList(nil), nil
}

func (r *Runtime) bufferClear(thread *starlark.Thread, builtin *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs("buffer_clear", args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	delete(r.buffers, name)
	return starlark.None, nil
}

func (r *Runtime) storeWrite(thread *starlark.Thread, builtin *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	var data starlark.Value
	if err := starlark.UnpackPositionalArgs("store_write", args, kwargs, 2, &path, &data); err != nil {
		return nil, err
	}
	var raw []byte
	switch data := data.(type) {
	case starlark.String:
		raw = []byte(data)
	case starlark.Bytes:
		raw = []byte(data)
	default:
		return nil, fmt.Errorf("store_write: data must be a string or bytes, got %s", data.Type())
	}

	if errValue := r.consumeCallbackBudget(1); errValue != nil {
		return errValue, nil
	}
	response, err := r.call(&wire.Frame{Op: wire.CallbackStoreWrite, Path: path, Data: raw})
	if err != nil {
		return nil, err
	}
	if response.Error != nil {
		return newErrorValue(response.Error.Code, response.Error.Message), nil
	}
	return starlark.None, nil
}

func (r *Runtime) storeRead(thread *starlark.Thread, builtin *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackPositionalArgs("store_read", args, kwargs, 1, &path); err != nil {
		return nil, err
	}
	if errValue := r.consumeCallbackBudget(1); errValue != nil {
		return errValue, nil
	}

	response, err := r.call(&wire.Frame{Op: wire.CallbackStoreRead, Path: path})
	if err != nil {
		return nil, err
	}
	if response.Error != nil {
		return newErrorValue(response.Error.Code, response.Error.Message), nil
	}
	// Absent blobs are a normal outcome, not an error.
	if !response.Found {
		return starlark.None, nil
	}
	return starlark.Bytes(response.Blob), nil
}

func (r *Runtime) delegate(thread *starlark.Thread, builtin *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var content, query string
	if err := starlark.UnpackPositionalArgs("delegate", args, kwargs, 2, &content, &query); err != nil {
		return nil, err
	}
	if errValue := r.consumeCallbackBudget(1); errValue != nil {
		return errValue, nil
	}

	response, err := r.call(&wire.Frame{Op: wire.CallbackDelegate, Content: content, Query: query})
	if err != nil {
		return nil, err
	}
	if response.Error != nil {
		return newErrorValue(response.Error.Code, response.Error.Message), nil
	}
	return starlark.String(response.Text), nil
}

// delegateStub replaces delegate in sessions without the delegation
// capability. It validates arguments the same way so misuse reads the
// same, then fails without consuming budget or touching the channel.
func (r *Runtime) delegateStub(thread *starlark.Thread, builtin *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var content, query string
	if err := starlark.UnpackPositionalArgs("delegate", args, kwargs, 2, &content, &query); err != nil {
		return nil, err
	}
	return policyError("delegation is not permitted in this session"), nil
}
