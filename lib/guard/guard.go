// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/fathomworks/fathom/lib/secret"
	"github.com/fathomworks/fathom/lib/wire"
)

const (
	// DefaultThreshold is the output length, in code points, past
	// which a stream is summarized.
	DefaultThreshold = 4096

	// DefaultPrefixLength is the number of code points of a
	// summarized stream carried in the summary prefix.
	DefaultPrefixLength = 256

	// DefaultPlaceholder replaces each secret occurrence.
	DefaultPlaceholder = "[REDACTED]"
)

// Config parameterizes a Guard.
type Config struct {
	// Threshold is the summarization threshold in code points.
	// Zero selects DefaultThreshold.
	Threshold int

	// PrefixLength is the summary prefix length in code points. It
	// must be smaller than Threshold. Zero selects
	// DefaultPrefixLength.
	PrefixLength int

	// Placeholder replaces secret occurrences. Empty selects
	// DefaultPlaceholder.
	Placeholder string

	// Secrets holds the values to redact. Closed or empty buffers
	// are skipped.
	Secrets []*secret.Buffer
}

// Guard applies the redact / strip / summarize pipeline. Safe for
// concurrent use.
type Guard struct {
	threshold    int
	prefixLength int
	placeholder  string
	secrets      []*secret.Buffer
}

// New validates the configuration and builds a Guard.
func New(config Config) (*Guard, error) {
	guard := &Guard{
		threshold:    config.Threshold,
		prefixLength: config.PrefixLength,
		placeholder:  config.Placeholder,
		secrets:      config.Secrets,
	}
	if guard.threshold == 0 {
		guard.threshold = DefaultThreshold
	}
	if guard.prefixLength == 0 {
		guard.prefixLength = DefaultPrefixLength
	}
	if guard.placeholder == "" {
		guard.placeholder = DefaultPlaceholder
	}

	var problems []error
	if guard.threshold < 1 {
		problems = append(problems, fmt.Errorf("threshold must be positive, got %d", guard.threshold))
	}
	if guard.prefixLength < 1 {
		problems = append(problems, fmt.Errorf("prefix length must be positive, got %d", guard.prefixLength))
	}
	if guard.prefixLength >= guard.threshold {
		problems = append(problems, fmt.Errorf("prefix length %d must be smaller than threshold %d",
			guard.prefixLength, guard.threshold))
	}
	if err := errors.Join(problems...); err != nil {
		return nil, fmt.Errorf("guard config: %w", err)
	}
	return guard, nil
}

// Sanitize rewrites a result frame in place: streams are redacted,
// stripped, and summarized; the error detail and every string leaf of
// the final value are redacted.
func (g *Guard) Sanitize(frame *wire.Frame) {
	if frame.Stdout != nil {
		frame.Stdout = g.CleanStream(streamText(frame.Stdout))
	}
	if frame.Stderr != nil {
		frame.Stderr = g.CleanStream(streamText(frame.Stderr))
	}
	if frame.Error != nil {
		frame.Error.Message = g.Redact(frame.Error.Message)
	}
	if len(frame.Final) > 0 {
		frame.Final = g.redactFinal(frame.Final)
	}
}

// streamText recovers the text of an output however it arrived. The
// runtime always sends the raw text form; a summary prefix showing up
// here still gets redacted rather than trusted.
func streamText(output *wire.Output) string {
	if output.Summary != nil {
		return output.Summary.Prefix
	}
	return output.Text
}

// Redact replaces every occurrence of every configured secret with
// the placeholder.
func (g *Guard) Redact(text string) string {
	for _, buffer := range g.secrets {
		if buffer == nil || buffer.Len() == 0 {
			continue
		}
		text = strings.ReplaceAll(text, buffer.String(), g.placeholder)
	}
	return text
}

// CleanStream runs the full stream pipeline on raw output text and
// returns the wire form: verbatim text at or under the threshold, a
// summary above it.
func (g *Guard) CleanStream(text string) *wire.Output {
	text = g.Redact(text)
	text = ansi.Strip(text)
	// Stripping may have joined fragments of a secret that escape
	// sequences split apart.
	text = g.Redact(text)
	return g.summarize(text)
}

func (g *Guard) summarize(text string) *wire.Output {
	length := len([]rune(text))
	if length <= g.threshold {
		return &wire.Output{Text: text}
	}
	return &wire.Output{Summary: &wire.Summary{
		TotalChars: length,
		TotalLines: countLines(text),
		Prefix:     firstRunes(text, g.prefixLength),
	}}
}

// redactFinal walks the final value and redacts every string it
// contains, map keys included. A final value that does not parse is
// replaced wholesale rather than passed through unexamined.
func (g *Guard) redactFinal(raw json.RawMessage) json.RawMessage {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		quoted, _ := json.Marshal(g.Redact(string(raw)))
		return quoted
	}
	redacted, err := json.Marshal(g.redactValue(value))
	if err != nil {
		quoted, _ := json.Marshal(g.placeholder)
		return quoted
	}
	return redacted
}

func (g *Guard) redactValue(value any) any {
	switch v := value.(type) {
	case string:
		return g.Redact(v)
	case []any:
		for i := range v {
			v[i] = g.redactValue(v[i])
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, member := range v {
			out[g.Redact(key)] = g.redactValue(member)
		}
		return out
	default:
		return v
	}
}

func firstRunes(text string, n int) string {
	for i := range text {
		if n == 0 {
			return text[:i]
		}
		n--
	}
	return text
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	lines := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		lines++
	}
	return lines
}
