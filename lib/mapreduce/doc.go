// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// Package mapreduce drives a bounded-context analysis run over an
// oversized source: split the source into units, rank them against
// the query, analyze each unit in its own leaf sandbox session, and
// condense the per-unit reports hierarchically into one synthesis.
//
// A run moves through planning, processing, and reducing, and ends in
// a done or cancelled phase. Total working context stays bounded
// regardless of source size: each unit analysis sees one chunk, and
// each reduction step sees at most FanOut reports. Unit sessions are
// constructed without the delegate capability, so analysis code can
// never fan out further units; the one delegation level the system
// permits is the orchestrator's own dispatch.
//
// Runs degrade instead of aborting: cached units are served without
// execution, per-unit failures mark that unit errored and the run
// continues, a confident-enough partial result skips the remaining
// units, and an exhausted wall-clock budget stops dispatch but still
// reduces what completed. Cancellation is cooperative, honored at
// unit and reduction boundaries; work already in flight runs to
// completion.
package mapreduce
