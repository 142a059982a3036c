// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"encoding/base64"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/fathomworks/fathom/lib/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestDurationOf(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"90s", 90 * time.Second},
		{"2m", 2 * time.Minute},
		{"soon", 0},
	}
	for _, test := range tests {
		if got := durationOf(test.value); got != test.want {
			t.Errorf("durationOf(%q) = %v, want %v", test.value, got, test.want)
		}
	}
}

func TestSealKeyFromEnv(t *testing.T) {
	raw := bytes.Repeat([]byte{0x42}, 32)
	t.Setenv("FATHOM_TEST_SEAL_KEY", base64.StdEncoding.EncodeToString(raw))

	key, err := sealKeyFromEnv("FATHOM_TEST_SEAL_KEY")
	if err != nil {
		t.Fatalf("sealKeyFromEnv: %v", err)
	}
	defer key.Close()
	if key.Len() != 32 {
		t.Errorf("key length = %d, want 32", key.Len())
	}
	if !bytes.Equal(key.Bytes(), raw) {
		t.Error("decoded key does not match the original bytes")
	}
}

func TestSealKeyFromEnvBadEncoding(t *testing.T) {
	t.Setenv("FATHOM_TEST_SEAL_KEY", "%%% not base64 %%%")
	if _, err := sealKeyFromEnv("FATHOM_TEST_SEAL_KEY"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestSealKeyFromEnvEmpty(t *testing.T) {
	t.Setenv("FATHOM_TEST_SEAL_KEY", "")
	if _, err := sealKeyFromEnv("FATHOM_TEST_SEAL_KEY"); err == nil {
		t.Fatal("expected error for an empty variable")
	}
}

func TestOpenCacheMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Cache = "memory"

	var closers []io.Closer
	store, err := openCache(cfg, testLogger(), &closers)
	if err != nil {
		t.Fatalf("openCache: %v", err)
	}
	if store == nil {
		t.Fatal("expected a cache")
	}
	if len(closers) != 0 {
		t.Errorf("memory cache registered %d closers, want 0", len(closers))
	}
}

func TestOpenCacheUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Cache = "redis"

	var closers []io.Closer
	if _, err := openCache(cfg, testLogger(), &closers); err == nil {
		t.Fatal("expected unknown backend error")
	} else if !strings.Contains(err.Error(), "redis") {
		t.Errorf("error %q should name the backend", err)
	}
}

func TestOpenBlobsUnconfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Blobs = ""

	var closers []io.Closer
	store, err := openBlobs(cfg, testLogger(), &closers)
	if err != nil {
		t.Fatalf("openBlobs: %v", err)
	}
	if store != nil {
		t.Error("expected no store when blobs are unconfigured")
	}
}

func TestOpenBlobsDir(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Blobs = "dir"
	cfg.Storage.BlobsPath = t.TempDir()

	var closers []io.Closer
	store, err := openBlobs(cfg, testLogger(), &closers)
	if err != nil {
		t.Fatalf("openBlobs: %v", err)
	}
	if store == nil {
		t.Fatal("expected a store")
	}
}

func TestOpenBlobsSealedRejectsShortKey(t *testing.T) {
	short := bytes.Repeat([]byte{0x42}, 16)
	t.Setenv("FATHOM_TEST_SEAL_KEY", base64.StdEncoding.EncodeToString(short))

	cfg := config.Default()
	cfg.Storage.Blobs = "dir"
	cfg.Storage.BlobsPath = t.TempDir()
	cfg.Storage.SealKeyEnv = "FATHOM_TEST_SEAL_KEY"

	var closers []io.Closer
	if _, err := openBlobs(cfg, testLogger(), &closers); err == nil {
		t.Fatal("expected a key length error")
	}
}

func TestBuildGuardRedactsConfiguredSecrets(t *testing.T) {
	t.Setenv("FATHOM_TEST_GUARD_TOKEN", "tok-5f2a9c")

	cfg := config.Default()
	cfg.Guard.SecretEnvs = []string{"FATHOM_TEST_GUARD_TOKEN", "FATHOM_TEST_GUARD_MISSING"}

	var closers []io.Closer
	g, err := buildGuard(cfg, testLogger(), &closers)
	if err != nil {
		t.Fatalf("buildGuard: %v", err)
	}
	redacted := g.Redact("auth header was tok-5f2a9c today")
	if strings.Contains(redacted, "tok-5f2a9c") {
		t.Errorf("secret survived redaction: %q", redacted)
	}
}

func TestChannelFactoryArgs(t *testing.T) {
	factory := channelFactory("/nonexistent/fathom-repl", config.RuntimeConfig{
		MaxCallbackCalls: 4,
		MaxExecutions:    8,
	}, testLogger())

	// The worker binary does not exist, so spawning must fail rather
	// than hang waiting on a handshake.
	if _, err := factory(false); err == nil {
		t.Fatal("expected spawn failure for a missing binary")
	}
}
