// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fathomworks/fathom/lib/clock"
	"github.com/fathomworks/fathom/lib/guard"
	"github.com/fathomworks/fathom/lib/wire"
)

// Default deadlines applied when Config leaves them zero.
const (
	DefaultIdleTimeout     = 2 * time.Minute
	DefaultAbsoluteTimeout = 10 * time.Minute
	DefaultExecuteTimeout  = 5 * time.Minute
)

// frameBacklog bounds frames queued between the pump and Execute.
// Only stale results from aborted requests ever accumulate here.
const frameBacklog = 8

// State is a session's lifecycle position.
type State string

const (
	// StateNew: created, no sandbox attached yet.
	StateNew State = "new"
	// StateReady: sandbox attached, no execute in flight.
	StateReady State = "ready"
	// StateBusy: an execute is in flight.
	StateBusy State = "busy"
	// StateTerminated: shut down or failed; unusable.
	StateTerminated State = "terminated"
)

// Config parameterizes a Session.
type Config struct {
	// Command is the sandbox worker argv, spawned by Start. Ignored
	// when Channel is set.
	Command []string

	// Channel attaches an existing connection instead of spawning a
	// process. The session owns it from Start on and closes it at
	// termination.
	Channel Channel

	// Callbacks is the capability set granted to the sandbox.
	Callbacks Callbacks

	// Guard sanitizes every result before it crosses the host
	// boundary. Nil selects a guard with default thresholds and no
	// secrets.
	Guard *guard.Guard

	// IdleTimeout terminates the session when no execute starts
	// within it. Zero selects DefaultIdleTimeout.
	IdleTimeout time.Duration

	// AbsoluteTimeout bounds the session's whole lifetime. Zero
	// selects DefaultAbsoluteTimeout.
	AbsoluteTimeout time.Duration

	// ExecuteTimeout caps one Execute call unless the request carries
	// its own. Zero selects DefaultExecuteTimeout.
	ExecuteTimeout time.Duration

	// Transcript, when set, receives every frame as a timestamped
	// JSON line.
	Transcript io.Writer

	// Clock drives all deadline arithmetic. Nil selects the real
	// clock.
	Clock clock.Clock

	// Logger receives session lifecycle and relayed sandbox output.
	// Nil discards.
	Logger *slog.Logger
}

// Request is one execution submitted to the sandbox.
type Request struct {
	// Code is the program text to run.
	Code string

	// Variables are injected into the sandbox namespace before the
	// code runs.
	Variables map[string]any

	// Timeout caps this call. Zero selects Config.ExecuteTimeout.
	Timeout time.Duration
}

// Result is one sanitized execution outcome.
type Result struct {
	Status wire.Status
	Stdout *wire.Output
	Stderr *wire.Output
	Final  json.RawMessage
	Error  *wire.ErrorDetail
}

// Failed reports whether the execution ended in an error status.
func (r *Result) Failed() bool { return r.Status == wire.StatusError }

// defaultGuard sanitizes results when no guard is configured. The
// zero config is valid, so construction cannot fail.
var defaultGuard = func() *guard.Guard {
	g, err := guard.New(guard.Config{})
	if err != nil {
		panic("session: default guard: " + err.Error())
	}
	return g
}()

// Session is one sandbox execution session. Create with New, attach
// the sandbox with Start, and always Shutdown. Methods are safe for
// concurrent use; executions themselves serialize.
type Session struct {
	id         string
	config     Config
	clock      clock.Clock
	logger     *slog.Logger
	guard      *guard.Guard
	dispatcher *dispatcher
	transcript *transcript

	mu               sync.Mutex
	state            State
	channel          Channel
	executions       uint64
	idleDeadline     time.Time
	absoluteDeadline time.Time

	// closed releases the pump when the session terminates.
	closed chan struct{}

	frames       chan *wire.Frame
	protocolErrs chan *wire.ProtocolError
	pumpFailed   chan error
}

// New builds a session in StateNew. Nothing runs until Start.
func New(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Guard == nil {
		cfg.Guard = defaultGuard
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.AbsoluteTimeout <= 0 {
		cfg.AbsoluteTimeout = DefaultAbsoluteTimeout
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = DefaultExecuteTimeout
	}

	s := &Session{
		id:     uuid.NewString(),
		config: cfg,
		clock:  cfg.Clock,
		guard:  cfg.Guard,
		state:  StateNew,
		closed: make(chan struct{}),
	}
	s.logger = cfg.Logger.With("session_id", s.id)
	s.dispatcher = newDispatcher(cfg.Callbacks, s.logger)
	if cfg.Transcript != nil {
		s.transcript = newTranscript(cfg.Transcript, cfg.Clock, s.id)
	}
	return s
}

// ID returns the session's identity.
func (s *Session) ID() string { return s.id }

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start attaches the sandbox, spawning Config.Command or adopting
// Config.Channel, and begins pumping frames. Exactly one sandbox is
// ever attached: repeated calls on a live session are no-ops. Start
// after termination returns ErrTerminated.
func (s *Session) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady, StateBusy:
		return nil
	case StateTerminated:
		return ErrTerminated
	}

	channel := s.config.Channel
	if channel == nil {
		if len(s.config.Command) == 0 {
			return errors.New("session: config needs a command or a channel")
		}
		spawned, err := StartProcess(s.config.Command, s.logger)
		if err != nil {
			return err
		}
		channel = spawned
	}

	s.channel = channel
	s.frames = make(chan *wire.Frame, frameBacklog)
	s.protocolErrs = make(chan *wire.ProtocolError, 4)
	s.pumpFailed = make(chan error, 1)
	go s.pump()

	now := s.clock.Now()
	s.idleDeadline = now.Add(s.config.IdleTimeout)
	s.absoluteDeadline = now.Add(s.config.AbsoluteTimeout)
	s.state = StateReady
	s.logger.Info("session started",
		"idle_timeout", s.config.IdleTimeout,
		"absolute_timeout", s.config.AbsoluteTimeout)
	return nil
}

// pump moves frames off the channel until it dies or the session
// terminates. Protocol garbage is reported on its own channel so
// Execute can fail one request without tearing the session down.
func (s *Session) pump() {
	for {
		frame, err := s.channel.Receive()
		if err != nil {
			var protocolErr *wire.ProtocolError
			if errors.As(err, &protocolErr) {
				select {
				case s.protocolErrs <- protocolErr:
					continue
				case <-s.closed:
					return
				}
			}
			select {
			case s.pumpFailed <- err:
			case <-s.closed:
			}
			return
		}
		select {
		case s.frames <- frame:
		case <-s.closed:
			return
		}
	}
}

// Execute submits one request and blocks for its sanitized result.
// Executions serialize: a second concurrent call fails fast with
// ErrSessionBusy rather than queueing. While the request is in flight
// the session answers the sandbox's callback requests through the
// dispatcher.
//
// A *wire.ProtocolError return fails this request alone; crash and
// timeout errors terminate the session.
func (s *Session) Execute(ctx context.Context, req Request) (*Result, error) {
	id, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer s.settle()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.config.ExecuteTimeout
	}
	timer := s.clock.NewTimer(timeout)
	defer timer.Stop()

	// Callback handlers inherit this context; when the execute ends,
	// any handler still running is released.
	callbackCtx, cancelCallbacks := context.WithCancel(ctx)
	defer cancelCallbacks()

	execute := &wire.Frame{
		Kind:      wire.KindExecute,
		ID:        id,
		Code:      req.Code,
		Variables: req.Variables,
	}
	if err := s.send(execute); err != nil {
		s.terminate("send failed", err)
		return nil, fmt.Errorf("%w: %v", ErrSandboxCrashed, err)
	}

	for {
		// Prefer delivered frames over failure signals so a result
		// that raced a crash or deadline still lands.
		select {
		case frame := <-s.frames:
			if result, done := s.handleFrame(callbackCtx, frame, id); done {
				return result, nil
			}
			continue
		default:
		}

		select {
		case frame := <-s.frames:
			if result, done := s.handleFrame(callbackCtx, frame, id); done {
				return result, nil
			}
		case protocolErr := <-s.protocolErrs:
			s.logger.Warn("malformed frame mid-execution", "error", protocolErr)
			return nil, protocolErr
		case err := <-s.pumpFailed:
			s.terminate("channel failed", err)
			return nil, fmt.Errorf("%w: %v", ErrSandboxCrashed, err)
		case <-s.channel.Done():
			s.terminate("sandbox exited", nil)
			return nil, fmt.Errorf("%w: sandbox exited mid-execution", ErrSandboxCrashed)
		case <-timer.C:
			s.terminate("execute timed out", nil)
			return nil, fmt.Errorf("%w: execution exceeded %s", ErrSessionTimedOut, timeout)
		case <-ctx.Done():
			// The channel may hold a half-served request; the session
			// cannot be trusted past an abandoned execute.
			s.terminate("caller cancelled", ctx.Err())
			return nil, ctx.Err()
		}
	}
}

// handleFrame processes one frame during an execute. It returns the
// final result when the frame completes the request.
func (s *Session) handleFrame(ctx context.Context, frame *wire.Frame, id uint64) (*Result, bool) {
	switch frame.Kind {
	case wire.KindResult:
		s.guard.Sanitize(frame)
		s.transcript.record(directionReceive, frame)
		if frame.ID != id {
			s.logger.Debug("dropping stale result", "id", frame.ID, "want", id)
			return nil, false
		}
		return &Result{
			Status: frame.Status,
			Stdout: frame.Stdout,
			Stderr: frame.Stderr,
			Final:  frame.Final,
			Error:  frame.Error,
		}, true
	case wire.KindCallbackRequest:
		s.transcript.record(directionReceive, frame)
		go s.serveCallback(ctx, frame)
		return nil, false
	default:
		s.logger.Warn("unexpected frame kind from sandbox", "kind", frame.Kind, "id", frame.ID)
		return nil, false
	}
}

// serveCallback answers one callback request off the execute loop, so
// timeout supervision keeps running while the handler works.
func (s *Session) serveCallback(ctx context.Context, request *wire.Frame) {
	response := s.dispatcher.handle(ctx, request)
	if err := s.send(response); err != nil {
		s.logger.Warn("sending callback response", "op", request.Op, "error", err)
	}
}

func (s *Session) send(frame *wire.Frame) error {
	if err := s.channel.Send(frame); err != nil {
		return err
	}
	s.transcript.record(directionSend, frame)
	return nil
}

// begin claims the session for one execution and returns its id.
func (s *Session) begin() (uint64, error) {
	s.mu.Lock()
	switch s.state {
	case StateNew:
		s.mu.Unlock()
		return 0, ErrNotStarted
	case StateTerminated:
		s.mu.Unlock()
		return 0, ErrTerminated
	case StateBusy:
		s.mu.Unlock()
		return 0, ErrSessionBusy
	}

	now := s.clock.Now()
	var expired error
	switch {
	case now.After(s.absoluteDeadline):
		expired = fmt.Errorf("%w: session exceeded its absolute lifetime", ErrSessionTimedOut)
	case now.After(s.idleDeadline):
		expired = fmt.Errorf("%w: session idle too long", ErrSessionTimedOut)
	}
	if expired != nil {
		s.mu.Unlock()
		s.terminate("deadline passed", expired)
		return 0, expired
	}

	s.state = StateBusy
	s.executions++
	id := s.executions
	s.mu.Unlock()
	return id, nil
}

// settle returns a busy session to ready and pushes the idle deadline
// out. Termination during the execute wins.
func (s *Session) settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateBusy {
		s.state = StateReady
		s.idleDeadline = s.clock.Now().Add(s.config.IdleTimeout)
	}
}

// terminate moves the session to StateTerminated, releases the pump,
// and closes the channel. Idempotent; later calls are no-ops.
func (s *Session) terminate(reason string, cause error) error {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return nil
	}
	s.state = StateTerminated
	channel := s.channel
	close(s.closed)
	s.mu.Unlock()

	var closeErr error
	if channel != nil {
		closeErr = channel.Close()
	}
	if cause != nil {
		s.logger.Info("session terminated", "reason", reason, "error", cause)
	} else {
		s.logger.Info("session terminated", "reason", reason)
	}
	return closeErr
}

// Shutdown terminates the session and releases the sandbox. Safe to
// call repeatedly and from any state; only the call that performs the
// termination reports the channel's close error.
func (s *Session) Shutdown() error {
	return s.terminate("shutdown", nil)
}

// WithSession builds a session from cfg, starts it, runs fn, and
// guarantees Shutdown on every exit path.
func WithSession(ctx context.Context, cfg Config, fn func(context.Context, *Session) error) error {
	s := New(cfg)
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Shutdown()
	return fn(ctx, s)
}
