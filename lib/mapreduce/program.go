// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package mapreduce

import (
	"strconv"
	"strings"
)

// DefaultUnitProgram is the analysis program run against each unit.
// It sees the injected variables content, query, and unit_id, and
// must report its findings through final_result. The trailing
// confidence line is parsed off host-side by splitConfidence.
const DefaultUnitProgram = `prompt = (
    "Answer the question using only the material below.\n"
    + "Question: " + query + "\n"
    + "Material (" + unit_id + "):\n"
    + content + "\n\n"
    + "Reply with your findings, then end with one line of the form "
    + "CONFIDENCE: <number between 0 and 1> scoring how completely "
    + "the material answers the question."
)
final_result(llm_query(prompt))
`

// DefaultReduceProgram condenses a group of unit reports. It sees the
// injected variables query and reports (a list of strings).
const DefaultReduceProgram = `sections = []
for i, report in enumerate(reports):
    sections.append("Report " + str(i + 1) + ":\n" + report)
prompt = (
    "Merge the analysis reports below into one direct answer.\n"
    + "Question: " + query + "\n\n"
    + "\n\n".join(sections)
)
final_result(llm_query(prompt))
`

// confidenceLabel starts the self-assessment line an analysis reply
// ends with.
const confidenceLabel = "CONFIDENCE:"

// splitConfidence separates the trailing confidence line from an
// analysis reply. The label must open the final non-empty line and
// carry a value in [0, 1]; anything else leaves the reply whole with
// zero confidence rather than guessing.
func splitConfidence(text string) (answer string, confidence float64) {
	trimmed := strings.TrimRight(text, " \t\n")
	rest := ""
	last := trimmed
	if idx := strings.LastIndexByte(trimmed, '\n'); idx >= 0 {
		rest = trimmed[:idx]
		last = trimmed[idx+1:]
	}

	label := strings.TrimSpace(last)
	if !strings.HasPrefix(label, confidenceLabel) {
		return text, 0
	}
	value := strings.TrimSpace(strings.TrimPrefix(label, confidenceLabel))
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 || parsed > 1 {
		return text, 0
	}
	return strings.TrimRight(rest, " \t\n"), parsed
}
