// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package mapreduce

import "testing"

func TestSplitConfidence(t *testing.T) {
	cases := []struct {
		name           string
		text           string
		wantAnswer     string
		wantConfidence float64
	}{
		{"trailing marker", "found it\nCONFIDENCE: 0.9", "found it", 0.9},
		{"no marker", "found it", "found it", 0},
		{"marker only", "CONFIDENCE: 0.4", "", 0.4},
		{"trailing blank lines", "found\nCONFIDENCE: 0.25\n\n", "found", 0.25},
		{"indented marker", "found\n  CONFIDENCE: 1", "found", 1},
		{"value out of range", "found\nCONFIDENCE: 1.7", "found\nCONFIDENCE: 1.7", 0},
		{"unparseable value", "found\nCONFIDENCE: high", "found\nCONFIDENCE: high", 0},
		{"marker not on last line", "CONFIDENCE: 0.9\nmore text", "CONFIDENCE: 0.9\nmore text", 0},
		{"empty reply", "", "", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			answer, confidence := splitConfidence(tc.text)
			if answer != tc.wantAnswer {
				t.Errorf("answer = %q, want %q", answer, tc.wantAnswer)
			}
			if confidence != tc.wantConfidence {
				t.Errorf("confidence = %v, want %v", confidence, tc.wantConfidence)
			}
		})
	}
}

func TestMaxConfidence(t *testing.T) {
	if got := MaxConfidence(nil); got != 0 {
		t.Fatalf("empty = %v, want 0", got)
	}
	reports := []UnitReport{
		{Confidence: 0.2},
		{Confidence: 0.8},
		{Confidence: 0.5},
	}
	if got := MaxConfidence(reports); got != 0.8 {
		t.Fatalf("max = %v, want 0.8", got)
	}
}
