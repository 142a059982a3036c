// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package session_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fathomworks/fathom/lib/blobstore"
	"github.com/fathomworks/fathom/lib/clock"
	"github.com/fathomworks/fathom/lib/guard"
	"github.com/fathomworks/fathom/lib/llm"
	"github.com/fathomworks/fathom/lib/repl"
	"github.com/fathomworks/fathom/lib/secret"
	"github.com/fathomworks/fathom/lib/session"
	"github.com/fathomworks/fathom/lib/testutil"
	"github.com/fathomworks/fathom/lib/wire"
)

// startRuntime serves a real execution runtime on the worker end of a
// pipe until the host end closes.
func startRuntime(t *testing.T, worker session.Channel, cfg repl.Config) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := repl.Serve(worker, cfg, discardLogger())
		if err != nil && !errors.Is(err, io.ErrClosedPipe) {
			t.Errorf("worker serve: %v", err)
		}
	}()
	t.Cleanup(func() {
		worker.Close()
		testutil.RequireClosed(t, done, 5*time.Second, "worker exit")
	})
}

// liveSession builds and starts a session over an in-process pipe
// with a real runtime on the far end. Shutdown is registered before
// the runtime cleanup, so the worker always sees a clean close.
func liveSession(t *testing.T, cfg session.Config, runtimeCfg repl.Config) *session.Session {
	t.Helper()
	host, worker := session.Pipe()
	startRuntime(t, worker, runtimeCfg)
	cfg.Channel = host
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	s := session.New(cfg)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Shutdown() })
	return s
}

func assertFinal(t *testing.T, result *session.Result, want string) {
	t.Helper()
	if result.Status != wire.StatusFinal {
		t.Fatalf("status = %q (error %v), want final", result.Status, result.Error)
	}
	if got := string(result.Final); got != want {
		t.Fatalf("final = %s, want %s", got, want)
	}
}

func TestExecuteRoundTrip(t *testing.T) {
	s := liveSession(t, session.Config{}, repl.Config{})
	result, err := s.Execute(context.Background(), session.Request{Code: "final_result(2 + 2)"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	assertFinal(t, result, "4")
	if s.State() != session.StateReady {
		t.Fatalf("state = %q, want ready", s.State())
	}
}

func TestNamespaceSurvivesAcrossExecutes(t *testing.T) {
	s := liveSession(t, session.Config{}, repl.Config{})
	ctx := context.Background()
	if _, err := s.Execute(ctx, session.Request{Code: "counter = 40"}); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	result, err := s.Execute(ctx, session.Request{Code: "counter += 2\nfinal_result(counter)"})
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	assertFinal(t, result, "42")
}

func TestStartIsIdempotent(t *testing.T) {
	s := liveSession(t, session.Config{}, repl.Config{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("repeated Start: %v", err)
	}
	result, err := s.Execute(context.Background(), session.Request{Code: `final_result("alive")`})
	if err != nil {
		t.Fatalf("Execute after repeated Start: %v", err)
	}
	assertFinal(t, result, `"alive"`)

	s.Shutdown()
	if err := s.Start(context.Background()); !errors.Is(err, session.ErrTerminated) {
		t.Fatalf("Start after Shutdown: %v, want ErrTerminated", err)
	}
}

func TestExecuteBeforeStart(t *testing.T) {
	host, _ := session.Pipe()
	s := session.New(session.Config{Channel: host, Logger: discardLogger()})
	if _, err := s.Execute(context.Background(), session.Request{Code: "x = 1"}); !errors.Is(err, session.ErrNotStarted) {
		t.Fatalf("Execute on new session: %v, want ErrNotStarted", err)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	s := liveSession(t, session.Config{}, repl.Config{})
	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if s.State() != session.StateTerminated {
		t.Fatalf("state = %q, want terminated", s.State())
	}
	if _, err := s.Execute(context.Background(), session.Request{Code: "x = 1"}); !errors.Is(err, session.ErrTerminated) {
		t.Fatalf("Execute after Shutdown: %v, want ErrTerminated", err)
	}
}

func TestConcurrentExecuteFailsFast(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	querier := &llm.Scripted{Reply: func(prompt string) (string, error) {
		close(entered)
		<-release
		return "done", nil
	}}
	s := liveSession(t, session.Config{
		Callbacks: session.Callbacks{Querier: querier},
	}, repl.Config{})

	type outcome struct {
		result *session.Result
		err    error
	}
	first := make(chan outcome, 1)
	go func() {
		result, err := s.Execute(context.Background(), session.Request{
			Code: `final_result(llm_query("slow"))`,
		})
		first <- outcome{result, err}
	}()

	testutil.RequireClosed(t, entered, 5*time.Second, "callback in flight")
	if _, err := s.Execute(context.Background(), session.Request{Code: "x = 1"}); !errors.Is(err, session.ErrSessionBusy) {
		t.Fatalf("overlapping Execute: %v, want ErrSessionBusy", err)
	}

	close(release)
	got := testutil.RequireReceive(t, first, 5*time.Second, "first execute")
	if got.err != nil {
		t.Fatalf("first execute: %v", got.err)
	}
	assertFinal(t, got.result, `"done"`)
	if s.State() != session.StateReady {
		t.Fatalf("state after overlap = %q, want ready", s.State())
	}
}

func TestIdleTimeoutTerminates(t *testing.T) {
	fakeClock := clock.Fake(time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC))
	s := liveSession(t, session.Config{
		Clock:       fakeClock,
		IdleTimeout: 100 * time.Millisecond,
	}, repl.Config{})

	fakeClock.Advance(150 * time.Millisecond)
	_, err := s.Execute(context.Background(), session.Request{Code: "x = 1"})
	if !errors.Is(err, session.ErrSessionTimedOut) {
		t.Fatalf("Execute after idle expiry: %v, want ErrSessionTimedOut", err)
	}
	if s.State() != session.StateTerminated {
		t.Fatalf("state = %q, want terminated", s.State())
	}
}

func TestExecuteResetsIdleDeadline(t *testing.T) {
	fakeClock := clock.Fake(time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC))
	s := liveSession(t, session.Config{
		Clock:       fakeClock,
		IdleTimeout: 100 * time.Millisecond,
	}, repl.Config{})
	ctx := context.Background()

	// Each execute lands inside the idle window and pushes it out.
	for i := 0; i < 3; i++ {
		fakeClock.Advance(80 * time.Millisecond)
		if _, err := s.Execute(ctx, session.Request{Code: "x = 1"}); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}
	if s.State() != session.StateReady {
		t.Fatalf("state = %q, want ready", s.State())
	}
}

func TestAbsoluteTimeoutTerminates(t *testing.T) {
	fakeClock := clock.Fake(time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC))
	s := liveSession(t, session.Config{
		Clock:           fakeClock,
		IdleTimeout:     time.Hour,
		AbsoluteTimeout: 200 * time.Millisecond,
	}, repl.Config{})
	ctx := context.Background()

	fakeClock.Advance(150 * time.Millisecond)
	if _, err := s.Execute(ctx, session.Request{Code: "x = 1"}); err != nil {
		t.Fatalf("execute within lifetime: %v", err)
	}

	fakeClock.Advance(100 * time.Millisecond)
	_, err := s.Execute(ctx, session.Request{Code: "x = 2"})
	if !errors.Is(err, session.ErrSessionTimedOut) {
		t.Fatalf("Execute past absolute deadline: %v, want ErrSessionTimedOut", err)
	}
	if s.State() != session.StateTerminated {
		t.Fatalf("state = %q, want terminated", s.State())
	}
}

func TestExecuteTimeoutTerminates(t *testing.T) {
	fakeClock := clock.Fake(time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC))
	host, worker := session.Pipe()

	// A worker that accepts the execute and never answers.
	received := make(chan struct{})
	go func() {
		if _, err := worker.Receive(); err == nil {
			close(received)
		}
	}()

	s := session.New(session.Config{Channel: host, Clock: fakeClock, Logger: discardLogger()})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		s.Shutdown()
		worker.Close()
	})

	outcome := make(chan error, 1)
	go func() {
		_, err := s.Execute(context.Background(), session.Request{
			Code:    "x = 1",
			Timeout: 10 * time.Second,
		})
		outcome <- err
	}()

	testutil.RequireClosed(t, received, 5*time.Second, "worker saw the execute")
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(11 * time.Second)

	err := testutil.RequireReceive(t, outcome, 5*time.Second, "timed-out execute")
	if !errors.Is(err, session.ErrSessionTimedOut) {
		t.Fatalf("Execute: %v, want ErrSessionTimedOut", err)
	}
	if s.State() != session.StateTerminated {
		t.Fatalf("state = %q, want terminated", s.State())
	}
}

func TestSandboxCrashTerminates(t *testing.T) {
	host, worker := session.Pipe()
	// The worker dies mid-execution.
	go func() {
		if _, err := worker.Receive(); err == nil {
			worker.Close()
		}
	}()

	s := session.New(session.Config{Channel: host, Logger: discardLogger()})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Shutdown() })

	_, err := s.Execute(context.Background(), session.Request{Code: "x = 1"})
	if !errors.Is(err, session.ErrSandboxCrashed) {
		t.Fatalf("Execute: %v, want ErrSandboxCrashed", err)
	}
	if s.State() != session.StateTerminated {
		t.Fatalf("state = %q, want terminated", s.State())
	}
	if _, err := s.Execute(context.Background(), session.Request{Code: "x = 2"}); !errors.Is(err, session.ErrTerminated) {
		t.Fatalf("Execute after crash: %v, want ErrTerminated", err)
	}
}

func TestCancelTerminatesSession(t *testing.T) {
	host, worker := session.Pipe()
	received := make(chan struct{})
	go func() {
		if _, err := worker.Receive(); err == nil {
			close(received)
		}
	}()

	s := session.New(session.Config{Channel: host, Logger: discardLogger()})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		s.Shutdown()
		worker.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	outcome := make(chan error, 1)
	go func() {
		_, err := s.Execute(ctx, session.Request{Code: "x = 1"})
		outcome <- err
	}()

	testutil.RequireClosed(t, received, 5*time.Second, "worker saw the execute")
	cancel()
	err := testutil.RequireReceive(t, outcome, 5*time.Second, "cancelled execute")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute: %v, want context.Canceled", err)
	}
	if s.State() != session.StateTerminated {
		t.Fatalf("state = %q, want terminated", s.State())
	}
}

func TestBatchedCallbackKeepsRequestOrder(t *testing.T) {
	gate := make(chan struct{})
	querier := &llm.Scripted{Reply: func(prompt string) (string, error) {
		switch prompt {
		case "alpha":
			// Finishes last: waits for gamma to complete first.
			<-gate
			return "A", nil
		case "beta":
			return "B", nil
		case "gamma":
			close(gate)
			return "G", nil
		}
		return "", errors.New("unexpected prompt " + prompt)
	}}
	s := liveSession(t, session.Config{
		Callbacks: session.Callbacks{Querier: querier, BatchLimit: 3},
	}, repl.Config{})

	result, err := s.Execute(context.Background(), session.Request{
		Code: `final_result(llm_query_batch(["alpha", "beta", "gamma"]))`,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	assertFinal(t, result, `["A","B","G"]`)
}

func TestLeafSessionDelegateIsPolicyViolation(t *testing.T) {
	// Leaf capability set: policy stub in the runtime, no delegate
	// handler host-side.
	s := liveSession(t, session.Config{}, repl.Config{AllowDelegate: false})
	result, err := s.Execute(context.Background(), session.Request{
		Code: "reply = delegate(\"content\", \"query\")\nfinal_result(reply.code)",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	assertFinal(t, result, `"policy_violation"`)
}

func TestDelegateWithoutHostHandler(t *testing.T) {
	// Even a runtime granted the primitive hits the host capability
	// wall when no handler is configured.
	s := liveSession(t, session.Config{}, repl.Config{AllowDelegate: true})
	result, err := s.Execute(context.Background(), session.Request{
		Code: "reply = delegate(\"content\", \"query\")\nfinal_result([reply.code, reply.message])",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	assertFinal(t, result, `["policy_violation","delegation is not available to this session"]`)
}

func TestDelegateRoundTrip(t *testing.T) {
	delegated := make(chan string, 1)
	s := liveSession(t, session.Config{
		Callbacks: session.Callbacks{
			Delegate: func(ctx context.Context, content, query string) (string, error) {
				delegated <- content + "|" + query
				return "sub-analysis", nil
			},
		},
	}, repl.Config{AllowDelegate: true})

	result, err := s.Execute(context.Background(), session.Request{
		Code: `final_result(delegate("the content", "the question"))`,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	assertFinal(t, result, `"sub-analysis"`)
	if got := testutil.RequireReceive(t, delegated, time.Second, "delegate call"); got != "the content|the question" {
		t.Fatalf("delegate saw %q", got)
	}
}

func TestStoreCallbacksReachBlobstore(t *testing.T) {
	store, err := blobstore.NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	s := liveSession(t, session.Config{
		Callbacks: session.Callbacks{Store: store},
	}, repl.Config{})

	result, err := s.Execute(context.Background(), session.Request{
		Code: "store_write(\"notes/greeting\", b\"hello blob\")\n" +
			"blob = store_read(\"notes/greeting\")\n" +
			"missing = store_read(\"notes/absent\")\n" +
			"final_result([blob == b\"hello blob\", missing == None])",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	assertFinal(t, result, `[true,true]`)

	data, err := store.Read(context.Background(), "notes/greeting")
	if err != nil {
		t.Fatalf("host read-back: %v", err)
	}
	if string(data) != "hello blob" {
		t.Fatalf("stored %q, want %q", data, "hello blob")
	}
}

func TestStoreUnconfigured(t *testing.T) {
	s := liveSession(t, session.Config{}, repl.Config{})
	result, err := s.Execute(context.Background(), session.Request{
		Code: "reply = store_read(\"anything\")\nfinal_result([reply.code, reply.message])",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	assertFinal(t, result, `["callback_failed","no storage configured"]`)
}

func TestResultsAreSanitized(t *testing.T) {
	token, err := secret.NewFromBytes([]byte("hunter2-token-value"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	t.Cleanup(func() { token.Close() })

	g, err := guard.New(guard.Config{
		Threshold:    32,
		PrefixLength: 8,
		Secrets:      []*secret.Buffer{token},
	})
	if err != nil {
		t.Fatalf("guard.New: %v", err)
	}
	s := liveSession(t, session.Config{Guard: g}, repl.Config{})

	result, err := s.Execute(context.Background(), session.Request{
		Code:      "print(token + \" \" + \"x\" * 100)\nfinal_result(\"value is \" + token)",
		Variables: map[string]any{"token": "hunter2-token-value"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := string(result.Final); got != `"value is [REDACTED]"` {
		t.Fatalf("final = %s, want the secret redacted", got)
	}
	if result.Stdout == nil || result.Stdout.Summary == nil {
		t.Fatalf("stdout = %+v, want a summary", result.Stdout)
	}
	summary := result.Stdout.Summary
	if strings.Contains(summary.Prefix, "hunter2") {
		t.Fatalf("secret leaked into summary prefix %q", summary.Prefix)
	}
	// "[REDACTED] ", 100 x's, and the trailing print newline.
	if summary.TotalChars != 112 {
		t.Fatalf("total_chars = %d, want 112", summary.TotalChars)
	}
	if got := len([]rune(summary.Prefix)); got != 8 {
		t.Fatalf("prefix length = %d, want 8", got)
	}
}

func TestTranscriptRecordsExchange(t *testing.T) {
	var transcriptBuffer bytes.Buffer
	querier := &llm.Scripted{Reply: func(prompt string) (string, error) { return "pong", nil }}
	s := liveSession(t, session.Config{
		Callbacks:  session.Callbacks{Querier: querier},
		Transcript: &transcriptBuffer,
	}, repl.Config{})

	if _, err := s.Execute(context.Background(), session.Request{
		Code: `final_result(llm_query("ping"))`,
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	s.Shutdown()

	type line struct {
		Time      time.Time   `json:"time"`
		SessionID string      `json:"session_id"`
		Direction string      `json:"direction"`
		Frame     *wire.Frame `json:"frame"`
	}
	var entries []line
	decoder := json.NewDecoder(&transcriptBuffer)
	for decoder.More() {
		var entry line
		if err := decoder.Decode(&entry); err != nil {
			t.Fatalf("decoding transcript: %v", err)
		}
		entries = append(entries, entry)
	}

	wantKinds := []wire.Kind{wire.KindExecute, wire.KindCallbackRequest, wire.KindCallbackResponse, wire.KindResult}
	wantDirections := []string{"send", "recv", "send", "recv"}
	if len(entries) != len(wantKinds) {
		t.Fatalf("transcript has %d entries, want %d", len(entries), len(wantKinds))
	}
	for i, entry := range entries {
		if entry.Frame.Kind != wantKinds[i] || entry.Direction != wantDirections[i] {
			t.Errorf("entry %d: %s %s, want %s %s",
				i, entry.Direction, entry.Frame.Kind, wantDirections[i], wantKinds[i])
		}
		if entry.SessionID != s.ID() {
			t.Errorf("entry %d session_id = %q, want %q", i, entry.SessionID, s.ID())
		}
		if entry.Time.IsZero() {
			t.Errorf("entry %d missing timestamp", i)
		}
	}
}

// scriptedChannel wraps a channel and injects protocol errors ahead
// of real frames.
type scriptedChannel struct {
	inner session.Channel

	mu      sync.Mutex
	garbage int
}

func (c *scriptedChannel) Send(frame *wire.Frame) error { return c.inner.Send(frame) }
func (c *scriptedChannel) Close() error                 { return c.inner.Close() }
func (c *scriptedChannel) Done() <-chan struct{}        { return c.inner.Done() }

func (c *scriptedChannel) Receive() (*wire.Frame, error) {
	c.mu.Lock()
	if c.garbage > 0 {
		c.garbage--
		c.mu.Unlock()
		return nil, &wire.ProtocolError{Reason: "unparseable frame", Line: "{oops"}
	}
	c.mu.Unlock()
	return c.inner.Receive()
}

func TestProtocolGarbageFailsOnlyThatRequest(t *testing.T) {
	host, worker := session.Pipe()

	// The worker swallows the first execute, whose result the host
	// will never see past the garbage, and answers everything after.
	go func() {
		for {
			frame, err := worker.Receive()
			if err != nil {
				return
			}
			if frame.Kind != wire.KindExecute || frame.ID == 1 {
				continue
			}
			worker.Send(&wire.Frame{
				Kind:   wire.KindResult,
				ID:     frame.ID,
				Status: wire.StatusFinal,
				Final:  json.RawMessage(`"recovered"`),
			})
		}
	}()

	flaky := &scriptedChannel{inner: host, garbage: 1}
	s := session.New(session.Config{Channel: flaky, Logger: discardLogger()})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		s.Shutdown()
		worker.Close()
	})

	_, err := s.Execute(context.Background(), session.Request{Code: "x = 1"})
	var protocolErr *wire.ProtocolError
	if !errors.As(err, &protocolErr) {
		t.Fatalf("Execute over garbage: %v, want a protocol error", err)
	}
	if s.State() != session.StateReady {
		t.Fatalf("state after protocol error = %q, want ready", s.State())
	}

	result, err := s.Execute(context.Background(), session.Request{Code: "x = 2"})
	if err != nil {
		t.Fatalf("Execute after recovery: %v", err)
	}
	assertFinal(t, result, `"recovered"`)
}

func TestUnknownCallbackAnsweredInBand(t *testing.T) {
	host, worker := session.Pipe()

	// A worker that asks for an operation the dispatcher has never
	// heard of, then reports the answer it got.
	go func() {
		frame, err := worker.Receive()
		if err != nil || frame.Kind != wire.KindExecute {
			return
		}
		worker.Send(&wire.Frame{Kind: wire.KindCallbackRequest, ID: 1, Op: wire.CallbackKind("transmogrify")})
		response, err := worker.Receive()
		if err != nil {
			return
		}
		detail, _ := json.Marshal(response.Error)
		worker.Send(&wire.Frame{Kind: wire.KindResult, ID: frame.ID, Status: wire.StatusFinal, Final: detail})
	}()

	s := session.New(session.Config{Channel: host, Logger: discardLogger()})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		s.Shutdown()
		worker.Close()
	})

	result, err := s.Execute(context.Background(), session.Request{Code: "ignored"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var detail wire.ErrorDetail
	if err := json.Unmarshal(result.Final, &detail); err != nil {
		t.Fatalf("decoding relayed error: %v", err)
	}
	if detail.Code != wire.CodeProtocolError {
		t.Fatalf("code = %q, want protocol_error", detail.Code)
	}
	if !strings.Contains(detail.Message, "transmogrify") {
		t.Fatalf("message %q does not name the operation", detail.Message)
	}
	if s.State() != session.StateReady {
		t.Fatalf("state = %q, want ready", s.State())
	}
}

func TestWithSessionGuaranteesShutdown(t *testing.T) {
	host, worker := session.Pipe()
	startRuntime(t, worker, repl.Config{})

	var captured *session.Session
	err := session.WithSession(context.Background(), session.Config{
		Channel: host,
		Logger:  discardLogger(),
	}, func(ctx context.Context, s *session.Session) error {
		captured = s
		result, err := s.Execute(ctx, session.Request{Code: `final_result("inside")`})
		if err != nil {
			return err
		}
		if result.Status != wire.StatusFinal {
			return errors.New("expected a final result")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithSession: %v", err)
	}
	if captured.State() != session.StateTerminated {
		t.Fatalf("state after WithSession = %q, want terminated", captured.State())
	}
}

func TestWithSessionPropagatesError(t *testing.T) {
	host, worker := session.Pipe()
	startRuntime(t, worker, repl.Config{})

	boom := errors.New("analysis failed")
	var captured *session.Session
	err := session.WithSession(context.Background(), session.Config{
		Channel: host,
		Logger:  discardLogger(),
	}, func(ctx context.Context, s *session.Session) error {
		captured = s
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithSession: %v, want %v", err, boom)
	}
	if captured.State() != session.StateTerminated {
		t.Fatalf("state = %q, want terminated", captured.State())
	}
}

func TestWithSessionStartFailure(t *testing.T) {
	called := false
	err := session.WithSession(context.Background(), session.Config{
		Logger: discardLogger(),
	}, func(ctx context.Context, s *session.Session) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("WithSession with neither command nor channel succeeded")
	}
	if called {
		t.Fatal("fn ran despite a failed start")
	}
}
