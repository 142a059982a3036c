// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fathomworks/fathom/lib/blobstore"
	"github.com/fathomworks/fathom/lib/cache"
	"github.com/fathomworks/fathom/lib/config"
	"github.com/fathomworks/fathom/lib/guard"
	"github.com/fathomworks/fathom/lib/llm"
	"github.com/fathomworks/fathom/lib/mapreduce"
	"github.com/fathomworks/fathom/lib/secret"
	"github.com/fathomworks/fathom/lib/session"
)

// loadConfig loads and validates the configuration, then creates the
// directories it references.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// analysisEnv bundles the collaborators the run and exec commands
// assemble from configuration.
type analysisEnv struct {
	querier llm.Querier
	cache   cache.Cache
	store   blobstore.Store
	guard   *guard.Guard
	factory mapreduce.ChannelFactory

	closers []io.Closer
}

// openEnv builds the model client, storage backends, output guard,
// and worker channel factory. The caller must Close the environment
// when done with it.
func openEnv(cfg *config.Config, logger *slog.Logger) (*analysisEnv, error) {
	env := &analysisEnv{}
	ok := false
	defer func() {
		if !ok {
			env.Close()
		}
	}()

	apiKey, err := secret.FromEnv(cfg.Model.APIKeyEnv)
	if err != nil {
		return nil, fmt.Errorf("model api key: %w", err)
	}
	env.closers = append(env.closers, apiKey)
	client := &http.Client{Timeout: durationOf(cfg.Model.Timeout)}
	env.querier = llm.NewOpenAI(client, cfg.Model.BaseURL, cfg.Model.Model, apiKey)

	env.cache, err = openCache(cfg, logger, &env.closers)
	if err != nil {
		return nil, err
	}
	env.store, err = openBlobs(cfg, logger, &env.closers)
	if err != nil {
		return nil, err
	}
	env.guard, err = buildGuard(cfg, logger, &env.closers)
	if err != nil {
		return nil, err
	}

	binary, err := cfg.BinaryPath(cfg.Session.Worker)
	if err != nil {
		return nil, err
	}
	env.factory = channelFactory(binary, cfg.Runtime, logger)

	ok = true
	return env, nil
}

// Close releases the environment's storage handles and key buffers,
// most recently opened first.
func (e *analysisEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i].Close()
	}
	e.closers = nil
}

// openCache builds the configured analysis cache backend.
func openCache(cfg *config.Config, logger *slog.Logger, closers *[]io.Closer) (cache.Cache, error) {
	switch cfg.Storage.Cache {
	case "", "memory":
		return cache.NewMemory(), nil
	case "sqlite":
		store, err := cache.OpenSQLite(cfg.Storage.CachePath, logger)
		if err != nil {
			return nil, fmt.Errorf("opening cache: %w", err)
		}
		*closers = append(*closers, store)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Storage.Cache)
	}
}

// openBlobs builds the configured blob store, wrapping it with at-rest
// encryption when a sealing key is configured. Returns nil when no
// store is configured; sessions then run without storage primitives.
func openBlobs(cfg *config.Config, logger *slog.Logger, closers *[]io.Closer) (blobstore.Store, error) {
	var store blobstore.Store
	switch cfg.Storage.Blobs {
	case "":
		return nil, nil
	case "dir":
		dir, err := blobstore.NewDir(cfg.Storage.BlobsPath)
		if err != nil {
			return nil, fmt.Errorf("opening blob store: %w", err)
		}
		store = dir
	case "sqlite":
		db, err := blobstore.OpenSQLite(cfg.Storage.BlobsPath, logger)
		if err != nil {
			return nil, fmt.Errorf("opening blob store: %w", err)
		}
		*closers = append(*closers, db)
		store = db
	default:
		return nil, fmt.Errorf("unknown blob store backend %q", cfg.Storage.Blobs)
	}

	if cfg.Storage.SealKeyEnv != "" {
		key, err := sealKeyFromEnv(cfg.Storage.SealKeyEnv)
		if err != nil {
			return nil, err
		}
		sealed, err := blobstore.NewSealed(store, key)
		if err != nil {
			key.Close()
			return nil, err
		}
		*closers = append(*closers, sealed)
		store = sealed
	}
	return store, nil
}

// sealKeyFromEnv reads the base64-encoded sealing key from the named
// environment variable into a guarded buffer.
func sealKeyFromEnv(name string) (*secret.Buffer, error) {
	encoded, err := secret.FromEnv(name)
	if err != nil {
		return nil, fmt.Errorf("sealing key: %w", err)
	}
	defer encoded.Close()

	decoded := make([]byte, base64.StdEncoding.DecodedLen(encoded.Len()))
	n, err := base64.StdEncoding.Decode(decoded, encoded.Bytes())
	if err != nil {
		secret.Zero(decoded)
		return nil, fmt.Errorf("decoding sealing key from %s: %w", name, err)
	}
	return secret.NewFromBytes(decoded[:n])
}

// buildGuard assembles the output guard with the redaction secrets
// named in the configuration. An unset secret variable is skipped:
// a value that does not exist cannot leak.
func buildGuard(cfg *config.Config, logger *slog.Logger, closers *[]io.Closer) (*guard.Guard, error) {
	var secrets []*secret.Buffer
	for _, name := range cfg.Guard.SecretEnvs {
		buffer, err := secret.FromEnv(name)
		if err != nil {
			logger.Debug("redaction secret unavailable", "env", name)
			continue
		}
		*closers = append(*closers, buffer)
		secrets = append(secrets, buffer)
	}
	return guard.New(guard.Config{
		Threshold:    cfg.Guard.Threshold,
		PrefixLength: cfg.Guard.PrefixLength,
		Placeholder:  cfg.Guard.Placeholder,
		Secrets:      secrets,
	})
}

// channelFactory spawns worker processes with the configured runtime
// budgets. The delegate capability is appended per channel, so every
// session the orchestrator dispatches stays a leaf.
func channelFactory(binary string, runtime config.RuntimeConfig, logger *slog.Logger) mapreduce.ChannelFactory {
	return func(allowDelegate bool) (session.Channel, error) {
		argv := []string{binary}
		if runtime.MaxCallbackCalls > 0 {
			argv = append(argv, "--max-callback-calls", strconv.Itoa(runtime.MaxCallbackCalls))
		}
		if runtime.MaxExecutions > 0 {
			argv = append(argv, "--max-executions", strconv.Itoa(runtime.MaxExecutions))
		}
		if allowDelegate {
			argv = append(argv, "--allow-delegate")
		}
		return session.StartProcess(argv, logger)
	}
}

// durationOf parses a duration string that config.Validate has
// already vetted. Empty means zero.
func durationOf(value string) time.Duration {
	if value == "" {
		return 0
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return parsed
}
