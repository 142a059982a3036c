// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package repl

import (
	"fmt"

	"go.starlark.net/starlark"
)

// toStarlark converts an injected request variable to a Starlark
// value. The input shapes are the JSON-decoded forms plus the integer
// types Go callers hand in directly; anything else is rejected rather
// than guessed at.
func toStarlark(value any) (starlark.Value, error) {
	switch value := value.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(value), nil
	case string:
		return starlark.String(value), nil
	case []byte:
		return starlark.Bytes(value), nil
	case int:
		return starlark.MakeInt(value), nil
	case int64:
		return starlark.MakeInt64(value), nil
	case uint64:
		return starlark.MakeUint64(value), nil
	case float64:
		return starlark.Float(value), nil
	case []any:
		elems := make([]starlark.Value, len(value))
		for i, elem := range value {
			converted, err := toStarlark(elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			elems[i] = converted
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		dict := starlark.NewDict(len(value))
		for key, elem := range value {
			converted, err := toStarlark(elem)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			if err := dict.SetKey(starlark.String(key), converted); err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to a starlark value", value)
	}
}

// fromStarlark converts a Starlark value to its Go form for the final
// result payload. Dict keys must be strings because the payload is
// JSON on the wire.
func fromStarlark(value starlark.Value) (any, error) {
	switch value := value.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(value), nil
	case starlark.String:
		return string(value), nil
	case starlark.Bytes:
		return string(value), nil
	case starlark.Int:
		number, ok := value.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s does not fit in 64 bits", value)
		}
		return number, nil
	case starlark.Float:
		return float64(value), nil
	case *errorValue:
		return map[string]any{"error": value.code, "message": value.message}, nil
	case *starlark.List:
		elems := make([]any, value.Len())
		for i := range elems {
			converted, err := fromStarlark(value.Index(i))
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			elems[i] = converted
		}
		return elems, nil
	case starlark.Tuple:
		elems := make([]any, len(value))
		for i, elem := range value {
			converted, err := fromStarlark(elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			elems[i] = converted
		}
		return elems, nil
	case *starlark.Dict:
		result := make(map[string]any, value.Len())
		for _, item := range value.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", item[0])
			}
			converted, err := fromStarlark(item[1])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			result[key] = converted
		}
		return result, nil
	default:
		return nil, fmt.Errorf("cannot convert %s to a result value", value.Type())
	}
}
