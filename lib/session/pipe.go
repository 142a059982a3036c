// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"io"
	"sync"

	"github.com/fathomworks/fathom/lib/wire"
)

// pipeBuffer bounds the frames in flight per direction on a piped
// channel pair.
const pipeBuffer = 16

// Pipe returns two connected in-process channels: frames sent on one
// end arrive at the other. Tests use it to attach a real runtime to a
// Session without spawning a process.
func Pipe() (host, worker Channel) {
	hostToWorker := make(chan *wire.Frame, pipeBuffer)
	workerToHost := make(chan *wire.Frame, pipeBuffer)
	a := &pipeEnd{send: hostToWorker, recv: workerToHost, closed: make(chan struct{})}
	b := &pipeEnd{send: workerToHost, recv: hostToWorker, closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

type pipeEnd struct {
	send chan *wire.Frame
	recv chan *wire.Frame
	peer *pipeEnd

	once   sync.Once
	closed chan struct{}
}

func (e *pipeEnd) Send(frame *wire.Frame) error {
	// Check for a closed end before offering the frame: with buffer
	// space free both select cases would be ready, and a send must
	// not succeed against a peer that already hung up.
	select {
	case <-e.closed:
		return io.ErrClosedPipe
	case <-e.peer.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case <-e.closed:
		return io.ErrClosedPipe
	case <-e.peer.closed:
		return io.ErrClosedPipe
	case e.send <- frame:
		return nil
	}
}

// Receive drains frames already delivered before reporting a closed
// peer, so an answer that raced the close still arrives.
func (e *pipeEnd) Receive() (*wire.Frame, error) {
	select {
	case frame := <-e.recv:
		return frame, nil
	default:
	}
	select {
	case frame := <-e.recv:
		return frame, nil
	case <-e.closed:
		return nil, io.ErrClosedPipe
	case <-e.peer.closed:
		return nil, io.EOF
	}
}

func (e *pipeEnd) Close() error {
	e.once.Do(func() { close(e.closed) })
	return nil
}

func (e *pipeEnd) Done() <-chan struct{} { return e.peer.closed }
