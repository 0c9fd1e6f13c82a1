package jobrun

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/mweiss17/wormulon/internal/jobspec"
)

// Workflow drives one JobSpec attempt through Arm -> SetupAttempt -> Monitor
// as three activities. Each activity owns its own jobstate.yml writes, same
// as the bare-goroutine jobcontroller.Controller.Run it mirrors; the
// workflow itself holds no job state beyond the node name handed back by
// Arm.
func Workflow(ctx workflow.Context, spec jobspec.JobSpec) error {
	attemptCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    60 * time.Second,
			MaximumAttempts:    6,
		},
	})

	var node string
	if err := workflow.ExecuteActivity(attemptCtx, ActivityArm, spec).Get(attemptCtx, &node); err != nil {
		return fmt.Errorf("jobrun: arm: %w", err)
	}

	if err := workflow.ExecuteActivity(attemptCtx, ActivitySetup, spec, node).Get(attemptCtx, nil); err != nil {
		return fmt.Errorf("jobrun: setup: %w", err)
	}

	trainTimeout := spec.TrainTimeout
	if trainTimeout <= 0 {
		trainTimeout = 7 * 24 * time.Hour
	}
	monitorCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: trainTimeout,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			// Monitor is idempotent: re-entering it just reopens the SSH
			// stream and resumes polling jobstate.yml/heartbeat, so a
			// handful of retries across worker restarts is safe.
			MaximumAttempts: 3,
		},
	})
	if err := workflow.ExecuteActivity(monitorCtx, ActivityMonitor, spec, node).Get(monitorCtx, nil); err != nil {
		return fmt.Errorf("jobrun: monitor: %w", err)
	}
	return nil
}
