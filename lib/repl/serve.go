// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package repl

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/fathomworks/fathom/lib/wire"
)

// Transport is the duplex frame connection Serve drives. Receive
// blocks for the next frame and returns io.EOF on a clean end of
// stream.
type Transport interface {
	Send(frame *wire.Frame) error
	Receive() (*wire.Frame, error)
}

// Serve runs the worker side of one session: it builds a runtime with
// cfg and answers execute frames from conn until the host closes the
// stream. Malformed records between executions are skipped; a dead
// transport ends the loop with the underlying error.
func Serve(conn Transport, cfg Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	runtime := New(&transportCaller{conn: conn, logger: logger}, cfg)

	for {
		frame, err := conn.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var protocolErr *wire.ProtocolError
			if errors.As(err, &protocolErr) {
				logger.Warn("skipping malformed frame", "error", protocolErr)
				continue
			}
			return fmt.Errorf("reading execute frame: %w", err)
		}
		if frame.Kind != wire.KindExecute {
			// A response left over from an exchange the host abandoned,
			// or a confused host. Nothing to answer either way.
			logger.Warn("ignoring frame outside an execution", "kind", frame.Kind, "id", frame.ID)
			continue
		}

		result, err := runtime.Execute(frame)
		if err != nil {
			return fmt.Errorf("execution %d: %w", frame.ID, err)
		}
		if err := conn.Send(result); err != nil {
			return fmt.Errorf("sending result %d: %w", frame.ID, err)
		}
	}
}

// transportCaller round-trips callback frames over the serving
// transport. The worker is single-threaded, so a call only happens
// while the outer loop is suspended inside an execution and reading
// the connection here cannot race it.
type transportCaller struct {
	conn   Transport
	logger *slog.Logger
}

func (c *transportCaller) Call(request *wire.Frame) (*wire.Frame, error) {
	if err := c.conn.Send(request); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	for {
		frame, err := c.conn.Receive()
		if err != nil {
			return nil, err
		}
		if frame.Kind != wire.KindCallbackResponse || frame.ID != request.ID {
			c.logger.Warn("ignoring frame while awaiting callback response",
				"kind", frame.Kind, "id", frame.ID, "want", request.ID)
			continue
		}
		return frame, nil
	}
}
