package jobrun

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/mweiss17/wormulon/internal/jobcontroller"
	"github.com/mweiss17/wormulon/internal/jobregistry"
	"github.com/mweiss17/wormulon/internal/jobspec"
	"github.com/mweiss17/wormulon/internal/nodedriver"
	"github.com/mweiss17/wormulon/internal/nodepool"
	"github.com/mweiss17/wormulon/internal/objectstore"
	"github.com/mweiss17/wormulon/internal/platform/logger"
)

// Activities wraps jobcontroller.Controller's three phases as Temporal
// activity methods. Each call builds a fresh Controller for the JobSpec
// passed in by the workflow, so Activities itself carries no per-job state
// — only the shared object store, registry, pool and driver a nanny process
// already holds.
type Activities struct {
	Store            objectstore.Store
	Registry         *jobregistry.Registry
	Pool             *nodepool.NodePool
	Driver           nodedriver.Driver
	Log              *logger.Logger
	HeartbeatTimeout time.Duration
}

func (a *Activities) controller(spec jobspec.JobSpec) *jobcontroller.Controller {
	return &jobcontroller.Controller{
		Spec:             spec,
		Store:            a.Store,
		Registry:         a.Registry,
		Pool:             a.Pool,
		Driver:           a.Driver,
		Log:              a.Log,
		HeartbeatTimeout: a.HeartbeatTimeout,
	}
}

// Arm runs jobcontroller.Controller.Arm as a durable activity, returning the
// acquired node name.
func (a *Activities) Arm(ctx context.Context, spec jobspec.JobSpec) (string, error) {
	return a.controller(spec).Arm(ctx)
}

// Setup runs jobcontroller.Controller.SetupAttempt as a durable activity.
func (a *Activities) Setup(ctx context.Context, spec jobspec.JobSpec, node string) error {
	return a.controller(spec).SetupAttempt(ctx, node)
}

// Monitor runs jobcontroller.Controller.Monitor, wiring the controller's
// OnTick hook to activity.RecordHeartbeat so a worker crash is detected by
// Temporal's own heartbeat timeout rather than only by the liveness poll.
func (a *Activities) Monitor(ctx context.Context, spec jobspec.JobSpec, node string) error {
	ctrl := a.controller(spec)
	ctrl.OnTick = func() { activity.RecordHeartbeat(ctx) }
	return ctrl.Monitor(ctx, node)
}
