package jobrun

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/testsuite"

	"github.com/mweiss17/wormulon/internal/jobspec"
)

func TestWorkflowRunsArmSetupMonitorInOrder(t *testing.T) {
	ts := &testsuite.WorkflowTestSuite{}
	env := ts.NewTestWorkflowEnvironment()

	spec := jobspec.JobSpec{JobID: "job-1", ExperimentDir: "exp/A"}

	env.OnActivity(ActivityArm, mock.Anything, spec).Return("node-0", nil)
	env.OnActivity(ActivitySetup, mock.Anything, spec, "node-0").Return(nil)
	env.OnActivity(ActivityMonitor, mock.Anything, spec, "node-0").Return(nil)

	env.ExecuteWorkflow(Workflow, spec)

	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow returned error: %v", err)
	}
}

func TestWorkflowStopsAfterArmFailure(t *testing.T) {
	ts := &testsuite.WorkflowTestSuite{}
	env := ts.NewTestWorkflowEnvironment()

	spec := jobspec.JobSpec{JobID: "job-2", ExperimentDir: "exp/A"}

	env.OnActivity(ActivityArm, mock.Anything, spec).Return("", errors.New("arm blew up"))

	env.ExecuteWorkflow(Workflow, spec)

	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err == nil {
		t.Fatalf("expected workflow error after arm failure")
	}
}
