// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/fathomworks/fathom/lib/clock"
	"github.com/fathomworks/fathom/lib/wire"
)

// Transcript entry directions, from the host's point of view.
const (
	directionSend    = "send"
	directionReceive = "recv"
)

// transcriptEntry is one line of the session's JSONL audit stream.
// Result frames are recorded after sanitization, so configured
// secrets never reach the transcript.
type transcriptEntry struct {
	Time      time.Time   `json:"time"`
	SessionID string      `json:"session_id"`
	Direction string      `json:"direction"`
	Frame     *wire.Frame `json:"frame"`
}

// transcript appends timestamped frames to a writer. A nil transcript
// records nothing, which lets call sites skip the configured check.
type transcript struct {
	mu        sync.Mutex
	encoder   *json.Encoder
	clock     clock.Clock
	sessionID string
}

func newTranscript(w io.Writer, clk clock.Clock, sessionID string) *transcript {
	return &transcript{
		encoder:   json.NewEncoder(w),
		clock:     clk,
		sessionID: sessionID,
	}
}

func (t *transcript) record(direction string, frame *wire.Frame) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	// Best effort: a failing transcript writer must not fail the
	// session it is auditing.
	_ = t.encoder.Encode(transcriptEntry{
		Time:      t.clock.Now(),
		SessionID: t.sessionID,
		Direction: direction,
		Frame:     frame,
	})
}
