// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"encoding/json"
	"testing"
)

func TestParseVars(t *testing.T) {
	variables, err := parseVars([]string{"incident=INC-2113", "region=eu-west", "note=a=b"})
	if err != nil {
		t.Fatalf("parseVars: %v", err)
	}
	want := map[string]any{
		"incident": "INC-2113",
		"region":   "eu-west",
		"note":     "a=b", // only the first = splits
	}
	if len(variables) != len(want) {
		t.Fatalf("got %d variables, want %d", len(variables), len(want))
	}
	for key, value := range want {
		if variables[key] != value {
			t.Errorf("variables[%q] = %v, want %v", key, variables[key], value)
		}
	}
}

func TestParseVarsEmpty(t *testing.T) {
	variables, err := parseVars(nil)
	if err != nil {
		t.Fatalf("parseVars: %v", err)
	}
	if variables != nil {
		t.Errorf("variables = %v, want nil", variables)
	}
}

func TestParseVarsRejectsMalformed(t *testing.T) {
	for _, pair := range []string{"novalue", "=orphan"} {
		if _, err := parseVars([]string{pair}); err == nil {
			t.Errorf("parseVars(%q) accepted malformed input", pair)
		}
	}
}

func TestFinalDisplay(t *testing.T) {
	tests := []struct {
		name  string
		final json.RawMessage
		want  string
	}{
		{"string prints bare", json.RawMessage(`"the answer"`), "the answer"},
		{"number keeps JSON form", json.RawMessage(`42`), "42"},
		{"object keeps JSON form", json.RawMessage(`{"ok":true}`), `{"ok":true}`},
		{"list keeps JSON form", json.RawMessage(`[1,2]`), `[1,2]`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := finalDisplay(test.final); got != test.want {
				t.Errorf("finalDisplay(%s) = %q, want %q", test.final, got, test.want)
			}
		})
	}
}
