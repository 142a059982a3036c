// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/fathomworks/fathom/lib/wire"
)

// A Channel is one duplex framed connection to a sandbox runtime.
// Send may be called from multiple goroutines; Receive is driven by a
// single pump.
type Channel interface {
	// Send writes one frame to the sandbox.
	Send(frame *wire.Frame) error

	// Receive blocks for the next frame from the sandbox. io.EOF
	// reports a clean end of stream. A *wire.ProtocolError reports one
	// malformed record, with framing realigned past it.
	Receive() (*wire.Frame, error)

	// Close tears down the connection and releases the transport.
	// Idempotent.
	Close() error

	// Done is closed once the peer is gone, however that happened.
	Done() <-chan struct{}
}

// processGrace bounds how long Close waits for the worker to exit on
// its own after stdin closes, before killing it.
const processGrace = 3 * time.Second

// ProcessChannel runs the sandbox as a subprocess and frames the
// protocol over its stdin and stdout. The worker's stderr is relayed
// line by line to the host logger at debug level.
type ProcessChannel struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	encoder *wire.Encoder
	decoder *wire.Decoder
	logger  *slog.Logger

	// done closes when stderr reaches EOF. The kernel closes stderr
	// when the process exits, so this tracks process death without
	// racing Wait against the pipe readers.
	done chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// StartProcess spawns argv and attaches a frame channel to it.
func StartProcess(argv []string, logger *slog.Logger) (*ProcessChannel, error) {
	if len(argv) == 0 {
		return nil, errors.New("session: empty sandbox command")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	// Plain exec.Command, not CommandContext: sandbox shutdown is
	// always explicit through Close so an in-flight execution is never
	// hard-killed by an unrelated context.
	cmd := exec.Command(argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening sandbox stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening sandbox stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("opening sandbox stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting sandbox process: %w", err)
	}

	channel := &ProcessChannel{
		cmd:     cmd,
		stdin:   stdin,
		encoder: wire.NewEncoder(stdin),
		decoder: wire.NewDecoder(stdout),
		logger:  logger,
		done:    make(chan struct{}),
	}
	go channel.relayStderr(stderr)
	return channel, nil
}

func (c *ProcessChannel) Send(frame *wire.Frame) error {
	return c.encoder.Encode(frame)
}

func (c *ProcessChannel) Receive() (*wire.Frame, error) {
	return c.decoder.Decode()
}

func (c *ProcessChannel) Done() <-chan struct{} { return c.done }

// Close ends the session from the host side. Closing stdin asks the
// worker to exit; after a grace period it is killed. Close reaps the
// process and returns its exit error, if any.
func (c *ProcessChannel) Close() error {
	c.closeOnce.Do(func() {
		c.stdin.Close()
		select {
		case <-c.done:
		case <-time.After(processGrace):
			c.logger.Warn("sandbox did not exit after stdin close, killing",
				"pid", c.cmd.Process.Pid)
			c.cmd.Process.Kill()
			<-c.done
		}
		c.closeErr = c.cmd.Wait()
	})
	return c.closeErr
}

func (c *ProcessChannel) relayStderr(stderr io.Reader) {
	defer close(c.done)
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		c.logger.Debug("sandbox stderr", "line", scanner.Text())
	}
}
