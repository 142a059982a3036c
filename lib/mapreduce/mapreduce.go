// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package mapreduce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fathomworks/fathom/lib/blobstore"
	"github.com/fathomworks/fathom/lib/cache"
	"github.com/fathomworks/fathom/lib/chunk"
	"github.com/fathomworks/fathom/lib/clock"
	"github.com/fathomworks/fathom/lib/fingerprint"
	"github.com/fathomworks/fathom/lib/guard"
	"github.com/fathomworks/fathom/lib/llm"
	"github.com/fathomworks/fathom/lib/rank"
	"github.com/fathomworks/fathom/lib/session"
)

// Defaults applied when Config leaves the knobs zero.
const (
	// DefaultWorkers processes units one at a time, which keeps the
	// early-exit boundary exact: unit N+1 starts only after unit N
	// completed.
	DefaultWorkers = 1

	// DefaultMinUnitsBeforeExit gates the early-exit check.
	DefaultMinUnitsBeforeExit = 3

	// DefaultFanOut bounds reports per reduction step.
	DefaultFanOut = 8
)

// Phase is a run's position in its lifecycle. The terminal phase is
// reported in RunResult; intermediate phases appear in logs.
type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseProcessing Phase = "processing"
	PhaseReducing   Phase = "reducing"
	PhaseDone       Phase = "done"
	PhaseCancelled  Phase = "cancelled"
)

// UnitStatus is how one ranked unit was resolved.
type UnitStatus string

const (
	// UnitProcessed: analyzed in a sandbox session this run.
	UnitProcessed UnitStatus = "processed"
	// UnitCached: served from a prior run's cached analysis.
	UnitCached UnitStatus = "cached"
	// UnitSkipped: never started (early exit, budget, cancellation).
	UnitSkipped UnitStatus = "skipped"
	// UnitErrored: started and failed; the run continued without it.
	UnitErrored UnitStatus = "errored"
)

// UnitReport is one ranked unit's outcome.
type UnitReport struct {
	ChunkID    string     `json:"chunk_id"`
	Status     UnitStatus `json:"status"`
	Answer     string     `json:"answer,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	Err        string     `json:"err,omitempty"`
}

// RunResult is the complete outcome of one run. Counts always total
// the ranked unit count; a run reports how its units fared rather
// than failing outright.
type RunResult struct {
	RunID      string       `json:"run_id"`
	Phase      Phase        `json:"phase"`
	Processed  int          `json:"processed"`
	Cached     int          `json:"cached"`
	Skipped    int          `json:"skipped"`
	Errored    int          `json:"errored"`
	Synthesis  string       `json:"synthesis"`
	Confidence float64      `json:"confidence"`
	Units      []UnitReport `json:"units"`
}

// Estimator folds the units completed so far (processed and cached,
// in completion order) into one run-level confidence. Estimators must
// treat the slice as read-only.
type Estimator func(completed []UnitReport) float64

// MaxConfidence is the default Estimator: the highest per-unit
// confidence reported so far.
func MaxConfidence(completed []UnitReport) float64 {
	var best float64
	for _, report := range completed {
		if report.Confidence > best {
			best = report.Confidence
		}
	}
	return best
}

// Config parameterizes a run.
type Config struct {
	// Chunking selects how the source splits into units.
	Chunking chunk.Config

	// Scorer ranks units against the query. Nil selects
	// rank.TermCount.
	Scorer rank.Scorer

	// Ranker builds the scorer from the chunked source, for
	// corpus-aware scoring like rank.NewBM25. It wins over Scorer
	// when both are set.
	Ranker func([]chunk.Chunk) rank.Scorer

	// Channels constructs one sandbox channel per session. Required.
	Channels ChannelFactory

	// Querier answers model callbacks from analysis programs.
	// Required.
	Querier llm.Querier

	// BatchLimit bounds concurrent prompts inside one batched
	// callback.
	BatchLimit int

	// Cache serves repeated (unit, query) analyses without
	// re-execution. Nil disables caching.
	Cache cache.Cache

	// Store is the durable blob capability handed to unit sessions.
	// Nil disables the storage primitives.
	Store blobstore.Store

	// Guard sanitizes results inside each session. Nil selects
	// default thresholds with no secrets.
	Guard *guard.Guard

	// Workers bounds concurrently processing units. Zero selects
	// DefaultWorkers.
	Workers int

	// MinUnitsBeforeExit is how many units must complete before the
	// early-exit check applies. Zero selects
	// DefaultMinUnitsBeforeExit.
	MinUnitsBeforeExit int

	// ConfidenceThreshold enables early exit when the estimate
	// reaches it. Zero disables early exit.
	ConfidenceThreshold float64

	// Confidence estimates run confidence from completed units. Nil
	// selects MaxConfidence.
	Confidence Estimator

	// FanOut bounds reports per reduction step. Values below 2
	// select DefaultFanOut.
	FanOut int

	// Budget caps the run's wall clock. Zero means unbounded. An
	// exhausted budget skips remaining units but still reduces.
	Budget time.Duration

	// UnitProgram and ReduceProgram override the built-in analysis
	// programs. Empty selects the defaults.
	UnitProgram   string
	ReduceProgram string

	// ExecuteTimeout caps each sandbox execution. Zero selects the
	// session default.
	ExecuteTimeout time.Duration

	// Clock drives budget and cache timestamps. Nil selects the real
	// clock.
	Clock clock.Clock

	// Logger receives run progress. Nil discards.
	Logger *slog.Logger
}

func (c Config) validate() error {
	var errs []error
	if c.Channels == nil {
		errs = append(errs, errors.New("mapreduce: config needs a channel factory"))
	}
	if c.Querier == nil {
		errs = append(errs, errors.New("mapreduce: config needs a model querier"))
	}
	return errors.Join(errs...)
}

// Run analyzes source against query and returns the run's outcome.
// Setup failures (invalid config, unsplittable source) return an
// error; once units start, failures are folded into the result
// instead. Cancelling ctx ends the run in PhaseCancelled with the
// partial results retained.
func Run(ctx context.Context, source, query string, cfg Config) (*RunResult, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MinUnitsBeforeExit < 1 {
		cfg.MinUnitsBeforeExit = DefaultMinUnitsBeforeExit
	}
	if cfg.FanOut < 2 {
		cfg.FanOut = DefaultFanOut
	}
	if cfg.Confidence == nil {
		cfg.Confidence = MaxConfidence
	}
	if cfg.UnitProgram == "" {
		cfg.UnitProgram = DefaultUnitProgram
	}
	if cfg.ReduceProgram == "" {
		cfg.ReduceProgram = DefaultReduceProgram
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := &run{
		config: cfg,
		id:     uuid.NewString(),
		clock:  cfg.Clock,
		query:  query,
	}
	r.logger = logger.With("run_id", r.id)

	strategy, err := chunk.New(cfg.Chunking)
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}
	chunks, err := strategy.Split(source)
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}
	scorer := cfg.Scorer
	if cfg.Ranker != nil {
		scorer = cfg.Ranker(chunks)
	}
	ranked := rank.Rank(chunks, query, scorer)
	r.logger.Info("run planned", "phase", PhasePlanning, "units", len(ranked), "source_bytes", len(source))

	if cfg.Budget > 0 {
		r.deadline = r.clock.Now().Add(cfg.Budget)
	}

	r.logger.Info("processing units", "phase", PhaseProcessing, "workers", cfg.Workers)
	r.process(ctx, ranked)
	if ctx.Err() != nil {
		return r.finish(PhaseCancelled, ""), nil
	}

	synthesis, cancelled := r.reduce(ctx)
	if cancelled {
		return r.finish(PhaseCancelled, ""), nil
	}
	return r.finish(PhaseDone, synthesis), nil
}

// Delegate adapts a run configuration into the DelegateFunc a
// root-capability session needs: each delegate call becomes one
// bounded sub-analysis of the handed-in content. Every session the
// sub-run dispatches is a leaf, so delegation never nests past one
// level.
func Delegate(cfg Config) session.DelegateFunc {
	return func(ctx context.Context, content, query string) (string, error) {
		result, err := Run(ctx, content, query, cfg)
		if err != nil {
			return "", err
		}
		return result.Synthesis, nil
	}
}

// run carries one Run invocation's mutable state. Workers share it
// under mu.
type run struct {
	config   Config
	id       string
	clock    clock.Clock
	logger   *slog.Logger
	query    string
	deadline time.Time

	mu        sync.Mutex
	reports   []UnitReport // indexed by ranked position
	completed []UnitReport // completion order, feeds the estimator
	stopped   bool         // no further units may start
}

// process dispatches every ranked unit through the worker pool. Each
// unit re-checks the stop conditions at its actual start, so an early
// exit or cancellation lands exactly at a unit boundary.
func (r *run) process(ctx context.Context, ranked []chunk.Chunk) {
	r.reports = make([]UnitReport, len(ranked))

	var group errgroup.Group
	group.SetLimit(r.config.Workers)
	for i, unit := range ranked {
		// Fast path: once the run has stopped there is no point
		// queuing the tail through the pool.
		if r.stopUnits(ctx) {
			r.skipFrom(ranked, i)
			break
		}
		group.Go(func() error {
			r.processUnit(ctx, i, unit)
			return nil
		})
	}
	// Workers report through their slots, never through the group.
	_ = group.Wait()
}

// processUnit resolves one ranked unit: skip if the run has stopped,
// serve from cache, or execute the analysis program in a fresh leaf
// session. A unit failure marks that unit errored; the run continues.
func (r *run) processUnit(parent context.Context, index int, unit chunk.Chunk) {
	if r.stopUnits(parent) {
		r.record(index, UnitReport{ChunkID: unit.ID, Status: UnitSkipped})
		return
	}

	// A unit that has started runs to completion: cancellation is
	// honored at unit boundaries, never mid-execution.
	ctx := context.WithoutCancel(parent)

	fp := fingerprint.Analysis(unit.Content, r.query)
	if r.config.Cache != nil {
		entry, err := r.config.Cache.Get(ctx, fp)
		if err == nil {
			r.logger.Debug("unit served from cache", "unit", unit.ID)
			r.record(index, UnitReport{
				ChunkID:    unit.ID,
				Status:     UnitCached,
				Answer:     entry.Answer,
				Confidence: entry.Confidence,
			})
			return
		}
		if !errors.Is(err, cache.ErrMiss) {
			r.logger.Warn("cache read failed", "unit", unit.ID, "error", err)
		}
	}

	answer, confidence, err := r.analyzeUnit(ctx, unit)
	if err != nil {
		r.logger.Warn("unit analysis failed", "unit", unit.ID, "error", err)
		r.record(index, UnitReport{ChunkID: unit.ID, Status: UnitErrored, Err: err.Error()})
		return
	}

	if r.config.Cache != nil {
		entry := cache.Entry{
			ChunkID:    unit.ID,
			Answer:     answer,
			Confidence: confidence,
			CreatedAt:  r.clock.Now(),
		}
		if err := r.config.Cache.Put(ctx, fp, entry); err != nil {
			r.logger.Warn("cache write failed", "unit", unit.ID, "error", err)
		}
	}
	r.record(index, UnitReport{
		ChunkID:    unit.ID,
		Status:     UnitProcessed,
		Answer:     answer,
		Confidence: confidence,
	})
}

// analyzeUnit runs the unit program in a fresh leaf session. The
// session gets the model and storage capabilities but no delegate
// handler, so a unit can never fan out further units.
func (r *run) analyzeUnit(ctx context.Context, unit chunk.Chunk) (string, float64, error) {
	channel, err := r.config.Channels(false)
	if err != nil {
		return "", 0, fmt.Errorf("opening sandbox channel: %w", err)
	}

	var answer string
	var confidence float64
	err = session.WithSession(ctx, r.sessionConfig(channel), func(ctx context.Context, s *session.Session) error {
		result, err := s.Execute(ctx, session.Request{
			Code: r.config.UnitProgram,
			Variables: map[string]any{
				"content": unit.Content,
				"query":   r.query,
				"unit_id": unit.ID,
			},
		})
		if err != nil {
			return err
		}
		text, err := finalText(result)
		if err != nil {
			return err
		}
		answer, confidence = splitConfidence(text)
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	return answer, confidence, nil
}

// reduce condenses the completed reports level by level until one
// synthesis remains. Cancellation is honored between steps and
// reported back; an exhausted budget stops further condensation and
// merges whatever remains in one final step.
func (r *run) reduce(ctx context.Context) (synthesis string, cancelled bool) {
	inputs := r.completedAnswers()
	if len(inputs) == 0 {
		return "", false
	}
	r.logger.Info("reducing reports", "phase", PhaseReducing, "reports", len(inputs), "fan_out", r.config.FanOut)

	for len(inputs) > r.config.FanOut {
		if ctx.Err() != nil {
			return "", true
		}
		if r.budgetExpired() {
			r.logger.Warn("budget exhausted during reduction, merging remaining reports in one step", "reports", len(inputs))
			break
		}
		next := make([]string, 0, (len(inputs)+r.config.FanOut-1)/r.config.FanOut)
		for start := 0; start < len(inputs); start += r.config.FanOut {
			if ctx.Err() != nil {
				return "", true
			}
			end := min(start+r.config.FanOut, len(inputs))
			condensed, err := r.reduceStep(ctx, inputs[start:end])
			if err != nil {
				// Losing a group's content is worse than carrying it
				// uncondensed to the next level.
				r.logger.Warn("reduce step failed, carrying group uncondensed", "error", err)
				condensed = strings.Join(inputs[start:end], "\n\n")
			}
			next = append(next, condensed)
		}
		inputs = next
	}

	if ctx.Err() != nil {
		return "", true
	}
	merged, err := r.reduceStep(ctx, inputs)
	if err != nil {
		r.logger.Warn("final synthesis failed, joining reports verbatim", "error", err)
		merged = strings.Join(inputs, "\n\n")
	}
	return merged, false
}

// reduceStep merges one group of reports in a fresh leaf session.
func (r *run) reduceStep(ctx context.Context, reports []string) (string, error) {
	channel, err := r.config.Channels(false)
	if err != nil {
		return "", fmt.Errorf("opening sandbox channel: %w", err)
	}
	values := make([]any, len(reports))
	for i, report := range reports {
		values[i] = report
	}

	var merged string
	// A step that has started runs to completion, like a unit.
	err = session.WithSession(context.WithoutCancel(ctx), r.sessionConfig(channel), func(ctx context.Context, s *session.Session) error {
		result, err := s.Execute(ctx, session.Request{
			Code:      r.config.ReduceProgram,
			Variables: map[string]any{"query": r.query, "reports": values},
		})
		if err != nil {
			return err
		}
		merged, err = finalText(result)
		return err
	})
	if err != nil {
		return "", err
	}
	return merged, nil
}

func (r *run) sessionConfig(channel session.Channel) session.Config {
	return session.Config{
		Channel: channel,
		Callbacks: session.Callbacks{
			Querier:    r.config.Querier,
			BatchLimit: r.config.BatchLimit,
			Store:      r.config.Store,
		},
		Guard:          r.config.Guard,
		ExecuteTimeout: r.config.ExecuteTimeout,
		Clock:          r.clock,
		Logger:         r.logger,
	}
}

// stopUnits reports whether a unit about to start must be skipped
// instead. The first reason latches, so the decision never flips back
// under an estimator whose value fluctuates.
func (r *run) stopUnits(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return true
	}
	var reason string
	switch {
	case ctx.Err() != nil:
		reason = "cancelled"
	case r.budgetExpired():
		reason = "budget exhausted"
	case r.thresholdReachedLocked():
		reason = "confidence threshold reached"
	default:
		return false
	}
	r.stopped = true
	r.logger.Info("skipping remaining units", "reason", reason, "completed", len(r.completed))
	return true
}

func (r *run) thresholdReachedLocked() bool {
	if r.config.ConfidenceThreshold <= 0 {
		return false
	}
	if len(r.completed) < r.config.MinUnitsBeforeExit {
		return false
	}
	return r.config.Confidence(r.completed) >= r.config.ConfidenceThreshold
}

func (r *run) budgetExpired() bool {
	return !r.deadline.IsZero() && !r.clock.Now().Before(r.deadline)
}

// record stores a unit's report and, for completed units, feeds the
// early-exit accumulator.
func (r *run) record(index int, report UnitReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports[index] = report
	if report.Status == UnitProcessed || report.Status == UnitCached {
		r.completed = append(r.completed, report)
	}
}

// skipFrom marks every unit from index on as skipped without touching
// the slots of units already dispatched.
func (r *run) skipFrom(ranked []chunk.Chunk, index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := index; i < len(ranked); i++ {
		r.reports[i] = UnitReport{ChunkID: ranked[i].ID, Status: UnitSkipped}
	}
}

// completedAnswers returns the per-unit answers in ranked order,
// which keeps reduction input deterministic across runs.
func (r *run) completedAnswers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var answers []string
	for _, report := range r.reports {
		if report.Status == UnitProcessed || report.Status == UnitCached {
			answers = append(answers, report.Answer)
		}
	}
	return answers
}

// finish assembles the result from the recorded reports.
func (r *run) finish(phase Phase, synthesis string) *RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := &RunResult{
		RunID:      r.id,
		Phase:      phase,
		Synthesis:  synthesis,
		Confidence: r.config.Confidence(r.completed),
		Units:      append([]UnitReport(nil), r.reports...),
	}
	for _, report := range r.reports {
		switch report.Status {
		case UnitProcessed:
			result.Processed++
		case UnitCached:
			result.Cached++
		case UnitSkipped:
			result.Skipped++
		case UnitErrored:
			result.Errored++
		}
	}
	r.logger.Info("run finished",
		"phase", phase,
		"processed", result.Processed,
		"cached", result.Cached,
		"skipped", result.Skipped,
		"errored", result.Errored,
		"confidence", result.Confidence,
	)
	return result
}

// finalText extracts the final value an analysis program reported. A
// failed execution or a program that never called final_result is an
// analysis failure.
func finalText(result *session.Result) (string, error) {
	if result.Failed() {
		return "", fmt.Errorf("execution failed: %s: %s", result.Error.Code, result.Error.Message)
	}
	if len(result.Final) == 0 {
		return "", errors.New("program reported no final value")
	}
	var text string
	if err := json.Unmarshal(result.Final, &text); err != nil {
		// Non-string finals pass through in their JSON form.
		return string(result.Final), nil
	}
	return text, nil
}
