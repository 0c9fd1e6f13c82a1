// Package nodedriver is the accelerator-node control plane: list/create/
// delete via the cloud CLI (the "rc is the only signal" contract spec.md
// §4.2 calls inherently a CLI contract) and a direct SSH transport for
// remote command execution and liveness.
package nodedriver

import (
	"context"
	"time"
)

// SSHMode selects how Driver.SSH waits for (or doesn't wait for) the remote
// command.
type SSHMode int

const (
	// ModeCapture runs the command and blocks until completion, returning
	// combined stdout+stderr and the exit code.
	ModeCapture SSHMode = iota
	// ModeStream runs the command and streams stdout/stderr line-by-line
	// over channels without blocking the caller on completion.
	ModeStream
	// ModeFireAndForget starts the command and returns immediately without
	// waiting for or observing its result.
	ModeFireAndForget
)

// NodeInfo is a single row from Driver.List.
type NodeInfo struct {
	Name  string
	Ready bool
}

// SSHResult is returned by ModeCapture.
type SSHResult struct {
	Output   string
	ExitCode int
}

// StreamLine is one line of output from a ModeStream session, tagged with
// which stream it came from.
type StreamLine struct {
	Stderr bool
	Text   string
}

// StreamHandle lets a caller read a running ModeStream session's output and
// learn its final exit status once the remote command completes.
type StreamHandle struct {
	Lines <-chan StreamLine
	Done  <-chan SSHResult
	Err   <-chan error
}

// Driver is the contract JobController and NodePool depend on; production
// code uses gcloudDriver, tests use a fake implementing the same interface.
type Driver interface {
	// List enumerates nodes in the driver's configured zone/project.
	List(ctx context.Context) ([]NodeInfo, error)

	// Create provisions a new node named name. rc != 0 is surfaced as a
	// *Error with Code == CodeControlPlane.
	Create(ctx context.Context, name string) error

	// Delete tears down name asynchronously (fire-and-forget at the cloud
	// API level; the call itself still blocks on the CLI invocation).
	Delete(ctx context.Context, name string) error

	// IP resolves name's reachable IP address for the SSH transport.
	IP(ctx context.Context, name string) (string, error)

	// SSH runs cmd on name, prefixed by envStmts, in the given mode.
	SSH(ctx context.Context, name string, envStmts []string, cmd string, mode SSHMode, timeout time.Duration) (*SSHResult, *StreamHandle, error)
}
