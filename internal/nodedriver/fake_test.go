package nodedriver

import (
	"context"
	"testing"
)

func TestFakeDriverCreateListDelete(t *testing.T) {
	f := NewFakeDriver()
	ctx := context.Background()

	if err := f.Create(ctx, "project-0"); err != nil {
		t.Fatalf("create: %v", err)
	}
	nodes, err := f.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Name != "project-0" {
		t.Fatalf("unexpected nodes: %+v", nodes)
	}

	if err := f.Delete(ctx, "project-0"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	nodes, _ = f.List(ctx)
	if len(nodes) != 0 {
		t.Fatalf("expected no nodes after delete, got %+v", nodes)
	}
}

func TestFakeDriverSSHCaptureNonZeroExit(t *testing.T) {
	f := NewFakeDriver()
	f.SetReady("project-0", true)
	f.SSHResults["setup.sh"] = SSHResult{ExitCode: 1, Output: "boom"}

	result, _, err := f.SSH(context.Background(), "project-0", nil, "setup.sh", ModeCapture, 0)
	if err == nil {
		t.Fatalf("expected error for non-zero exit")
	}
	var nderr *Error
	if e, ok := err.(*Error); ok {
		nderr = e
	}
	if nderr == nil || nderr.Code != CodeRemoteNonZero {
		t.Fatalf("expected CodeRemoteNonZero, got %v", err)
	}
	if result.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %d", result.ExitCode)
	}
}
