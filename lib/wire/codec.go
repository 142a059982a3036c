// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MaxRecordSize bounds a single protocol line. Result frames carry
// execution output verbatim (summarization happens host-side, after
// redaction), so the bound is generous; anything past it indicates a
// runaway program rather than a legitimate result.
const MaxRecordSize = 64 << 20

// initialScanBuffer is the scanner's starting allocation. Most frames
// are far smaller than this.
const initialScanBuffer = 64 * 1024

// ProtocolError reports a malformed or out-of-protocol record. It is
// recoverable at the session level: framing realigns at the next
// newline, so the session aborts only the request in flight.
type ProtocolError struct {
	Reason string
	// Line holds a bounded prefix of the offending input, when the
	// error is attributable to a specific line.
	Line string
}

func (e *ProtocolError) Error() string {
	if e.Line == "" {
		return "wire: " + e.Reason
	}
	return fmt.Sprintf("wire: %s: %q", e.Reason, e.Line)
}

// An Encoder writes frames as newline-delimited JSON. It is safe for
// concurrent use: the host writes execute frames and callback
// responses from different goroutines of the session loop.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Encoder{enc: enc}
}

// Encode writes one frame followed by a newline.
func (e *Encoder) Encode(f *Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(f); err != nil {
		return fmt.Errorf("encoding %s frame: %w", f.Kind, err)
	}
	return nil
}

// A Decoder reads newline-delimited frames. Blank lines are skipped;
// any other irregularity is a *ProtocolError. Decode blocks until a
// line arrives, the stream ends, or the underlying reader fails, so
// callers run it in a dedicated goroutine and select on the results.
type Decoder struct {
	scanner *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	return newDecoder(r, MaxRecordSize)
}

func newDecoder(r io.Reader, maxRecord int) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialScanBuffer), maxRecord)
	return &Decoder{scanner: scanner}
}

// Decode returns the next frame. It returns io.EOF when the stream
// ends cleanly and a *ProtocolError for malformed input.
func (d *Decoder) Decode() (*Frame, error) {
	for {
		if !d.scanner.Scan() {
			if err := d.scanner.Err(); err != nil {
				if errors.Is(err, bufio.ErrTooLong) {
					return nil, &ProtocolError{Reason: "record exceeds size limit"}
				}
				return nil, fmt.Errorf("reading frame: %w", err)
			}
			return nil, io.EOF
		}
		line := d.scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var frame Frame
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			return nil, &ProtocolError{Reason: "unparseable frame", Line: clip(line)}
		}
		if err := frame.Validate(); err != nil {
			return nil, err
		}
		return &frame, nil
	}
}

// clip bounds the quoted input carried inside a ProtocolError so a
// garbage megabyte does not end up in a log line.
func clip(line string) string {
	const max = 256
	if len(line) <= max {
		return line
	}
	return line[:max] + "..."
}
