// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package mapreduce

import (
	"log/slog"

	"github.com/fathomworks/fathom/lib/session"
)

// ChannelFactory constructs the channel for one sandbox session.
// allowDelegate selects the capability set of the runtime on the far
// end; the orchestrator passes false for every session it dispatches,
// so analysis units always land in leaf runtimes.
type ChannelFactory func(allowDelegate bool) (session.Channel, error)

// ProcessFactory returns a factory spawning the sandbox worker binary
// for each session. The delegate primitive is granted through the
// worker's command line only when asked for.
func ProcessFactory(binary string, logger *slog.Logger) ChannelFactory {
	return func(allowDelegate bool) (session.Channel, error) {
		argv := []string{binary}
		if allowDelegate {
			argv = append(argv, "--allow-delegate")
		}
		return session.StartProcess(argv, logger)
	}
}
