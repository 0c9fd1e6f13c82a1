package nodedriver

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeDriver is an in-memory Driver for deterministic tests of NodePool and
// JobController without a real cloud project. All accessors are guarded by
// a mutex so tests may exercise it from multiple goroutines.
type FakeDriver struct {
	mu sync.Mutex

	nodes map[string]bool // name -> ready

	// SSHResults, keyed by command, lets a test script canned capture-mode
	// responses; missing entries default to exit 0 with empty output.
	SSHResults map[string]SSHResult

	// CreateErr/DeleteErr let a test force a control-plane failure.
	CreateErr error
	DeleteErr error

	// StreamHold, when set, delays a ModeStream session's completion until
	// the channel is closed (or receives a value), so a test can observe
	// Monitor's ticker fire one or more times before the remote command
	// "finishes".
	StreamHold <-chan struct{}

	nextID int
}

func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		nodes:      make(map[string]bool),
		SSHResults: make(map[string]SSHResult),
	}
}

func (f *FakeDriver) List(ctx context.Context) ([]NodeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []NodeInfo
	for name, ready := range f.nodes {
		out = append(out, NodeInfo{Name: name, Ready: ready})
	}
	return out, nil
}

func (f *FakeDriver) Create(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return f.CreateErr
	}
	f.nodes[name] = true
	return nil
}

func (f *FakeDriver) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	delete(f.nodes, name)
	return nil
}

func (f *FakeDriver) IP(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[name]; !ok {
		return "", &Error{Code: CodeControlPlane, Node: name, Err: fmt.Errorf("unknown node")}
	}
	return "10.0.0.1", nil
}

func (f *FakeDriver) SSH(ctx context.Context, name string, envStmts []string, cmd string, mode SSHMode, timeout time.Duration) (*SSHResult, *StreamHandle, error) {
	f.mu.Lock()
	result, ok := f.SSHResults[cmd]
	f.mu.Unlock()
	if !ok {
		result = SSHResult{ExitCode: 0}
	}

	switch mode {
	case ModeStream:
		lines := make(chan StreamLine, 1)
		done := make(chan SSHResult, 1)
		errCh := make(chan error, 1)
		if result.Output != "" {
			lines <- StreamLine{Text: result.Output}
		}
		close(lines)
		hold := f.StreamHold
		if hold == nil {
			done <- result
		} else {
			go func() {
				<-hold
				done <- result
			}()
		}
		return nil, &StreamHandle{Lines: lines, Done: done, Err: errCh}, nil
	case ModeFireAndForget:
		return nil, nil, nil
	default:
		if result.ExitCode != 0 {
			return &result, nil, &Error{Code: CodeRemoteNonZero, Node: name, ExitCode: result.ExitCode, Err: fmt.Errorf("remote command exited %d", result.ExitCode)}
		}
		return &result, nil, nil
	}
}

// SetReady marks name as present and ready/not-ready, for test setup.
func (f *FakeDriver) SetReady(name string, ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[name] = ready
}
