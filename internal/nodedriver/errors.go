package nodedriver

import "fmt"

// Code classifies a NodeDriver failure per spec.md §4.2's taxonomy.
type Code string

const (
	// CodeControlPlane covers gcloud CLI invocation failures (list/create/delete).
	CodeControlPlane Code = "control_plane_error"
	// CodeSSHTimeout covers an SSH session that did not complete within its
	// configured timeout.
	CodeSSHTimeout Code = "ssh_timeout"
	// CodeRemoteNonZero covers a remote command that ran and returned a
	// non-zero exit status.
	CodeRemoteNonZero Code = "remote_non_zero"
)

// Error is the typed carrier for NodeDriver failures, mirroring
// objectstore.Error's shape (grounded on apierr.Error).
type Error struct {
	Code     Code
	Node     string
	ExitCode int
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return "nodedriver: nil error"
	}
	switch e.Code {
	case CodeRemoteNonZero:
		return fmt.Sprintf("nodedriver: %s on %s: exit=%d: %v", e.Code, e.Node, e.ExitCode, e.Err)
	default:
		return fmt.Sprintf("nodedriver: %s on %s: %v", e.Code, e.Node, e.Err)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether err is a control-plane error worth retrying
// under the shared backoff policy. SSH timeouts and non-zero remote exits
// are not retried automatically — the caller (JobController) decides what a
// non-zero exit means for the job's state machine.
func Retryable(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Code == CodeControlPlane
}
