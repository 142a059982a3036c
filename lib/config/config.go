// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable holding the configuration
// file path.
const EnvVar = "FATHOM_CONFIG"

// Config is the root of the fathom configuration.
type Config struct {
	Paths   PathsConfig   `yaml:"paths"`
	Model   ModelConfig   `yaml:"model"`
	Session SessionConfig `yaml:"session"`
	Runtime RuntimeConfig `yaml:"runtime"`
	Storage StorageConfig `yaml:"storage"`
	Run     RunConfig     `yaml:"run"`
	Guard   GuardConfig   `yaml:"guard"`
}

// PathsConfig locates fathom's filesystem footprint.
type PathsConfig struct {
	// Root is the base data directory. Other paths may reference it
	// as ${FATHOM_ROOT}.
	Root string `yaml:"root"`

	// Bin is searched for worker binaries before PATH. Empty means
	// PATH only.
	Bin string `yaml:"bin"`
}

// ModelConfig describes the chat completion endpoint.
type ModelConfig struct {
	// BaseURL is the API root, for example
	// "https://api.openai.com/v1".
	BaseURL string `yaml:"base_url"`

	// Model names the model requested from the endpoint.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	// The key value itself never appears in the configuration file.
	APIKeyEnv string `yaml:"api_key_env"`

	// Timeout bounds a single completion request, as a Go duration
	// string. Empty means no per-request bound beyond the session's.
	Timeout string `yaml:"timeout"`
}

// SessionConfig controls sandbox session lifecycles.
type SessionConfig struct {
	// Worker names the sandbox worker binary, resolved through
	// Paths.Bin and then PATH.
	Worker string `yaml:"worker"`

	// IdleTimeout recycles a session with no execution activity, as
	// a Go duration string.
	IdleTimeout string `yaml:"idle_timeout"`

	// AbsoluteTimeout bounds a session's total lifetime.
	AbsoluteTimeout string `yaml:"absolute_timeout"`

	// ExecuteTimeout bounds a single program execution.
	ExecuteTimeout string `yaml:"execute_timeout"`

	// TranscriptDir, when set, receives one JSONL protocol
	// transcript per session.
	TranscriptDir string `yaml:"transcript_dir"`
}

// RuntimeConfig sets the worker-side runtime budgets. Zero values
// select the worker's own defaults.
type RuntimeConfig struct {
	// MaxCallbackCalls caps host callbacks per execution.
	MaxCallbackCalls int `yaml:"max_callback_calls"`

	// MaxExecutions caps executions per session.
	MaxExecutions int `yaml:"max_executions"`
}

// StorageConfig selects the analysis cache and blob store backends.
type StorageConfig struct {
	// Cache selects the analysis cache backend, "memory" or
	// "sqlite". Empty means memory.
	Cache string `yaml:"cache"`

	// CachePath is the SQLite database path. Required for the
	// sqlite backend.
	CachePath string `yaml:"cache_path"`

	// Blobs selects the blob store backend, "dir" or "sqlite".
	// Empty disables the store.
	Blobs string `yaml:"blobs"`

	// BlobsPath is the directory root or database path for the
	// selected backend.
	BlobsPath string `yaml:"blobs_path"`

	// SealKeyEnv, when set, names the environment variable holding
	// the base64-encoded 32-byte key that encrypts blobs at rest.
	SealKeyEnv string `yaml:"seal_key_env"`
}

// RunConfig sets the default knobs for analysis runs. Command-line
// flags and profiles override these per run.
type RunConfig struct {
	// Workers is the number of concurrent unit sessions.
	Workers int `yaml:"workers"`

	// MinUnitsBeforeExit is the number of units that must complete
	// before the confidence threshold can end a run early.
	MinUnitsBeforeExit int `yaml:"min_units_before_exit"`

	// ConfidenceThreshold ends a run early once estimated confidence
	// reaches it. Zero disables early exit.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// FanOut is the number of unit reports condensed per reduction
	// step.
	FanOut int `yaml:"fan_out"`

	// Budget is the wall-clock bound for a run, as a Go duration
	// string. Empty means unbounded.
	Budget string `yaml:"budget"`

	// BatchLimit caps concurrent model queries within one batched
	// callback.
	BatchLimit int `yaml:"batch_limit"`
}

// GuardConfig parameterizes output guarding. Zero values select the
// guard's own defaults.
type GuardConfig struct {
	// Threshold is the summarization threshold in code points.
	Threshold int `yaml:"threshold"`

	// PrefixLength is the summary prefix length in code points.
	PrefixLength int `yaml:"prefix_length"`

	// Placeholder replaces each secret occurrence.
	Placeholder string `yaml:"placeholder"`

	// SecretEnvs names environment variables whose values are
	// redacted from sandbox output.
	SecretEnvs []string `yaml:"secret_envs"`
}

// Default returns the built-in configuration. It is valid on its own:
// every section works with no configuration file present.
func Default() *Config {
	root := "${HOME}/.cache/fathom"
	return &Config{
		Paths: PathsConfig{
			Root: root,
		},
		Model: ModelConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "FATHOM_API_KEY",
			Timeout:   "60s",
		},
		Session: SessionConfig{
			Worker:          "fathom-repl",
			IdleTimeout:     "2m",
			AbsoluteTimeout: "10m",
			ExecuteTimeout:  "5m",
		},
		Storage: StorageConfig{
			Cache:     "sqlite",
			CachePath: "${FATHOM_ROOT}/cache.db",
			Blobs:     "dir",
			BlobsPath: "${FATHOM_ROOT}/blobs",
		},
		Run: RunConfig{
			Workers:            1,
			MinUnitsBeforeExit: 3,
			FanOut:             8,
			BatchLimit:         4,
		},
	}
}

// Load reads the configuration file named by FATHOM_CONFIG. With the
// variable unset it returns Default with variables expanded.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		config := Default()
		if err := config.expandVariables(); err != nil {
			return nil, err
		}
		return config, nil
	}
	return LoadFile(path)
}

// LoadFile reads a configuration file and overlays it on Default.
// Fields absent from the file keep their default values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := config.expandVariables(); err != nil {
		return nil, fmt.Errorf("expanding config %s: %w", path, err)
	}
	return config, nil
}

// varPattern matches ${NAME} and ${NAME:-default} references.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVariables resolves variable references in the path-bearing
// string fields. ${FATHOM_ROOT} resolves to Paths.Root; other names
// resolve from the process environment, then to the reference's
// default, then to empty.
func (c *Config) expandVariables() error {
	root, err := expand(c.Paths.Root, nil)
	if err != nil {
		return fmt.Errorf("paths.root: %w", err)
	}
	c.Paths.Root = root

	variables := map[string]string{"FATHOM_ROOT": c.Paths.Root}
	fields := []struct {
		name  string
		value *string
	}{
		{"paths.bin", &c.Paths.Bin},
		{"session.transcript_dir", &c.Session.TranscriptDir},
		{"storage.cache_path", &c.Storage.CachePath},
		{"storage.blobs_path", &c.Storage.BlobsPath},
	}
	for _, field := range fields {
		expanded, err := expand(*field.value, variables)
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	return nil
}

// expand substitutes variable references in value. Built-in variables
// win over the environment. A name that resolves nowhere is an error
// unless the reference carries a default.
func expand(value string, variables map[string]string) (string, error) {
	var problems []error
	expanded := varPattern.ReplaceAllStringFunc(value, func(match string) string {
		groups := varPattern.FindStringSubmatch(match)
		name := groups[1]
		if resolved, ok := variables[name]; ok {
			return resolved
		}
		if resolved, ok := os.LookupEnv(name); ok {
			return resolved
		}
		if strings.Contains(match, ":-") {
			return groups[2]
		}
		problems = append(problems, fmt.Errorf("undefined variable %q", name))
		return match
	})
	if err := errors.Join(problems...); err != nil {
		return "", err
	}
	return expanded, nil
}

// Validate reports every detectable problem in the configuration,
// joined into one error.
func (c *Config) Validate() error {
	var problems []error

	report := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}
	checkDuration := func(name, value string) {
		if value == "" {
			return
		}
		if _, err := time.ParseDuration(value); err != nil {
			report("%s: invalid duration %q", name, value)
		}
	}

	checkDuration("model.timeout", c.Model.Timeout)
	checkDuration("session.idle_timeout", c.Session.IdleTimeout)
	checkDuration("session.absolute_timeout", c.Session.AbsoluteTimeout)
	checkDuration("session.execute_timeout", c.Session.ExecuteTimeout)
	checkDuration("run.budget", c.Run.Budget)

	if c.Session.Worker == "" {
		report("session.worker must name the worker binary")
	}
	if c.Runtime.MaxCallbackCalls < 0 {
		report("runtime.max_callback_calls must not be negative, got %d", c.Runtime.MaxCallbackCalls)
	}
	if c.Runtime.MaxExecutions < 0 {
		report("runtime.max_executions must not be negative, got %d", c.Runtime.MaxExecutions)
	}

	switch c.Storage.Cache {
	case "", "memory":
	case "sqlite":
		if c.Storage.CachePath == "" {
			report("storage.cache_path is required for the sqlite cache")
		}
	default:
		report("storage.cache must be \"memory\" or \"sqlite\", got %q", c.Storage.Cache)
	}
	switch c.Storage.Blobs {
	case "":
	case "dir", "sqlite":
		if c.Storage.BlobsPath == "" {
			report("storage.blobs_path is required for the %s blob store", c.Storage.Blobs)
		}
	default:
		report("storage.blobs must be \"dir\" or \"sqlite\", got %q", c.Storage.Blobs)
	}

	if c.Run.Workers < 0 {
		report("run.workers must not be negative, got %d", c.Run.Workers)
	}
	if c.Run.MinUnitsBeforeExit < 0 {
		report("run.min_units_before_exit must not be negative, got %d", c.Run.MinUnitsBeforeExit)
	}
	if c.Run.ConfidenceThreshold < 0 || c.Run.ConfidenceThreshold > 1 {
		report("run.confidence_threshold must be between 0 and 1, got %g", c.Run.ConfidenceThreshold)
	}
	if c.Run.FanOut < 0 {
		report("run.fan_out must not be negative, got %d", c.Run.FanOut)
	}
	if c.Run.BatchLimit < 0 {
		report("run.batch_limit must not be negative, got %d", c.Run.BatchLimit)
	}

	if c.Guard.Threshold < 0 {
		report("guard.threshold must not be negative, got %d", c.Guard.Threshold)
	}
	if c.Guard.PrefixLength < 0 {
		report("guard.prefix_length must not be negative, got %d", c.Guard.PrefixLength)
	}
	if c.Guard.Threshold > 0 && c.Guard.PrefixLength >= c.Guard.Threshold {
		report("guard.prefix_length %d must be smaller than guard.threshold %d",
			c.Guard.PrefixLength, c.Guard.Threshold)
	}

	return errors.Join(problems...)
}

// EnsurePaths creates the directories the configuration references.
func (c *Config) EnsurePaths() error {
	directories := []string{c.Paths.Root}
	if c.Session.TranscriptDir != "" {
		directories = append(directories, c.Session.TranscriptDir)
	}
	if c.Storage.Blobs == "dir" && c.Storage.BlobsPath != "" {
		directories = append(directories, c.Storage.BlobsPath)
	}
	for _, directory := range directories {
		if err := os.MkdirAll(directory, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", directory, err)
		}
	}
	return nil
}

// BinaryPath resolves a worker binary name. Paths.Bin wins over
// PATH; a name carrying a path separator is returned as given.
func (c *Config) BinaryPath(name string) (string, error) {
	if filepath.Base(name) != name {
		return name, nil
	}
	if c.Paths.Bin != "" {
		candidate := filepath.Join(c.Paths.Bin, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("locating %s: %w", name, err)
	}
	return path, nil
}
