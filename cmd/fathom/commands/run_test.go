// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"strings"
	"testing"
	"time"

	"github.com/fathomworks/fathom/lib/chunk"
	"github.com/fathomworks/fathom/lib/config"
	"github.com/fathomworks/fathom/lib/profile"
)

// changedSet builds a flag-changed predicate from explicit names.
func changedSet(names ...string) func(string) bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return func(name string) bool { return set[name] }
}

func TestRunSettingsConfigDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Run.Workers = 3
	cfg.Run.ConfidenceThreshold = 0.8
	cfg.Run.Budget = "5m"
	cfg.Session.ExecuteTimeout = "90s"

	runCfg, err := runSettings(cfg, nil, runOptions{}, changedSet())
	if err != nil {
		t.Fatalf("runSettings: %v", err)
	}
	if runCfg.Workers != 3 {
		t.Errorf("workers = %d, want 3", runCfg.Workers)
	}
	if runCfg.ConfidenceThreshold != 0.8 {
		t.Errorf("threshold = %g, want 0.8", runCfg.ConfidenceThreshold)
	}
	if runCfg.Budget != 5*time.Minute {
		t.Errorf("budget = %v, want 5m", runCfg.Budget)
	}
	if runCfg.ExecuteTimeout != 90*time.Second {
		t.Errorf("execute timeout = %v, want 90s", runCfg.ExecuteTimeout)
	}
	if runCfg.Ranker != nil {
		t.Error("default settings should not build a corpus scorer")
	}
}

func TestRunSettingsProfileOverridesConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Run.Workers = 3

	prof := &profile.Profile{
		Chunking:      chunk.Config{Strategy: chunk.StrategyBoundary, Pattern: `(?m)^## `},
		Ranker:        profile.RankerBM25,
		Workers:       5,
		Budget:        "2m",
		UnitProgram:   "final_result(1)",
		ReduceProgram: "final_result(2)",
	}

	runCfg, err := runSettings(cfg, prof, runOptions{}, changedSet())
	if err != nil {
		t.Fatalf("runSettings: %v", err)
	}
	if runCfg.Chunking.Strategy != chunk.StrategyBoundary {
		t.Errorf("strategy = %q, want boundary", runCfg.Chunking.Strategy)
	}
	if runCfg.Workers != 5 {
		t.Errorf("workers = %d, want profile's 5", runCfg.Workers)
	}
	if runCfg.Budget != 2*time.Minute {
		t.Errorf("budget = %v, want profile's 2m", runCfg.Budget)
	}
	if runCfg.Ranker == nil {
		t.Error("bm25 profile should build a corpus scorer")
	}
	if runCfg.UnitProgram != "final_result(1)" {
		t.Errorf("unit program = %q, want profile's", runCfg.UnitProgram)
	}
	if runCfg.ReduceProgram != "final_result(2)" {
		t.Errorf("reduce program = %q, want profile's", runCfg.ReduceProgram)
	}
}

func TestRunSettingsFlagsOverrideProfile(t *testing.T) {
	cfg := config.Default()
	prof := &profile.Profile{
		Chunking: chunk.Config{Strategy: chunk.StrategyBoundary, Pattern: `(?m)^## `},
		Workers:  5,
		Ranker:   profile.RankerBM25,
	}
	opts := runOptions{
		strategy:  chunk.StrategyFixed,
		chunkSize: 1000,
		workers:   2,
		ranker:    profile.RankerTerms,
		threshold: 0.95,
		budget:    time.Minute,
	}

	runCfg, err := runSettings(cfg, prof, opts,
		changedSet("strategy", "chunk-size", "workers", "ranker", "threshold", "budget"))
	if err != nil {
		t.Fatalf("runSettings: %v", err)
	}
	if runCfg.Chunking.Strategy != chunk.StrategyFixed {
		t.Errorf("strategy = %q, want flag's fixed", runCfg.Chunking.Strategy)
	}
	if runCfg.Chunking.Size != 1000 {
		t.Errorf("chunk size = %d, want flag's 1000", runCfg.Chunking.Size)
	}
	if runCfg.Workers != 2 {
		t.Errorf("workers = %d, want flag's 2", runCfg.Workers)
	}
	if runCfg.Ranker != nil {
		t.Error("terms flag should override the profile's bm25 scorer")
	}
	if runCfg.ConfidenceThreshold != 0.95 {
		t.Errorf("threshold = %g, want flag's 0.95", runCfg.ConfidenceThreshold)
	}
	if runCfg.Budget != time.Minute {
		t.Errorf("budget = %v, want flag's 1m", runCfg.Budget)
	}
}

func TestRunSettingsRejectsUnknownRanker(t *testing.T) {
	_, err := runSettings(config.Default(), nil, runOptions{ranker: "cosine"}, changedSet("ranker"))
	if err == nil || !strings.Contains(err.Error(), "unknown ranker") {
		t.Fatalf("expected unknown ranker error, got %v", err)
	}
}

func TestRunSettingsRejectsBadChunking(t *testing.T) {
	opts := runOptions{strategy: chunk.StrategyBoundary}
	_, err := runSettings(config.Default(), nil, opts, changedSet("strategy"))
	if err == nil || !strings.Contains(err.Error(), "pattern") {
		t.Fatalf("expected chunking config error, got %v", err)
	}
}
