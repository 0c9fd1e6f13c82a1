package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/mweiss17/wormulon/internal/jobregistry"
	"github.com/mweiss17/wormulon/internal/nodedriver"
	"github.com/mweiss17/wormulon/internal/nodepool"
	"github.com/mweiss17/wormulon/internal/objectstore"
	"github.com/mweiss17/wormulon/internal/platform/config"
	"github.com/mweiss17/wormulon/internal/platform/logger"
	"github.com/mweiss17/wormulon/internal/temporalx"
	"github.com/mweiss17/wormulon/internal/temporalx/jobrun"
)

// Runner hosts a Temporal worker polling the nanny task queue, the
// `-backend=temporal` alternative to supervisor.Supervisor's bare-goroutine
// loop. It shares the same Store/Registry/Pool/Driver a Supervisor would use
// directly — only the execution substrate (goroutine vs. durable workflow)
// differs.
type Runner struct {
	log *logger.Logger

	tc               temporalsdkclient.Client
	store            objectstore.Store
	registry         *jobregistry.Registry
	pool             *nodepool.NodePool
	driver           nodedriver.Driver
	heartbeatTimeout time.Duration
}

func NewRunner(
	log *logger.Logger,
	tc temporalsdkclient.Client,
	store objectstore.Store,
	registry *jobregistry.Registry,
	pool *nodepool.NodePool,
	driver nodedriver.Driver,
	heartbeatTimeout time.Duration,
) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if store == nil || registry == nil || pool == nil || driver == nil {
		return nil, fmt.Errorf("temporal worker missing deps")
	}
	return &Runner{
		log:              log,
		tc:               tc,
		store:            store,
		registry:         registry,
		pool:             pool,
		driver:           driver,
		heartbeatTimeout: heartbeatTimeout,
	}, nil
}

func (r *Runner) Start(ctx context.Context) error {
	if r == nil || r.tc == nil {
		return fmt.Errorf("temporal worker not initialized")
	}

	cfg := temporalx.LoadConfig()
	if r.log != nil {
		r.log.Info("Starting Temporal worker", "address", cfg.Address, "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue)
	}

	// Local/self-hosted convenience: ensure namespace exists before polling.
	// Temporal Cloud namespaces should be pre-created and TEMPORAL_AUTO_REGISTER_NAMESPACE should be false.
	if config.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false) {
		baseCtx := ctx
		if baseCtx == nil {
			baseCtx = context.Background()
		}
		if err := temporalx.EnsureNamespace(baseCtx, r.tc, cfg.Namespace, r.log); err != nil && r.log != nil {
			r.log.Warn("Temporal namespace ensure failed; worker will retry on start", "namespace", cfg.Namespace, "error", err)
		}
	}

	maxWait := config.Duration("TEMPORAL_WORKER_START_MAX_WAIT", 60*time.Second)
	backoff := config.Duration("TEMPORAL_WORKER_START_BACKOFF", 250*time.Millisecond)
	backoffMax := config.Duration("TEMPORAL_WORKER_START_BACKOFF_MAX", 5*time.Second)

	deadline := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		w := r.newWorker(cfg.TaskQueue)
		startErr := w.Start()
		if startErr == nil {
			if ctx != nil {
				go func() {
					<-ctx.Done()
					w.Stop()
				}()
			}
			if r.log != nil {
				r.log.Info("Temporal worker started", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempts", attempt)
			}
			return nil
		}

		// Defensive: ensure worker goroutines are stopped before we retry.
		w.Stop()

		// If the namespace is missing and auto-register is enabled, try to create it then retry.
		var nfe *serviceerror.NamespaceNotFound
		if errors.As(startErr, &nfe) && config.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false) {
			baseCtx := ctx
			if baseCtx == nil {
				baseCtx = context.Background()
			}
			_ = temporalx.EnsureNamespace(baseCtx, r.tc, cfg.Namespace, r.log)
		}

		if maxWait <= 0 || time.Now().After(deadline) {
			var nfe2 *serviceerror.NamespaceNotFound
			if errors.As(startErr, &nfe2) {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", cfg.Namespace, startErr)
			}
			return startErr
		}

		if r.log != nil {
			r.log.Warn("Temporal worker failed to start; retrying", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempt", attempt, "error", startErr)
		}

		sleep := clampBackoff(backoff, backoffMax, attempt)
		if sleep > 0 {
			time.Sleep(sleep)
		}
	}
}

func (r *Runner) newWorker(taskQueue string) worker.Worker {
	concurrency := config.Int("WORKER_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}

	w := worker.New(r.tc, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})

	acts := &jobrun.Activities{
		Store:            r.store,
		Registry:         r.registry,
		Pool:             r.pool,
		Driver:           r.driver,
		Log:              r.log,
		HeartbeatTimeout: r.heartbeatTimeout,
	}

	w.RegisterWorkflowWithOptions(jobrun.Workflow, workflow.RegisterOptions{Name: jobrun.WorkflowName})
	w.RegisterActivityWithOptions(acts.Arm, activity.RegisterOptions{Name: jobrun.ActivityArm})
	w.RegisterActivityWithOptions(acts.Setup, activity.RegisterOptions{Name: jobrun.ActivitySetup})
	w.RegisterActivityWithOptions(acts.Monitor, activity.RegisterOptions{Name: jobrun.ActivityMonitor})
	return w
}

func clampBackoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	sleep := base
	for i := 1; i < attempt; i++ {
		sleep *= 2
		if max > 0 && sleep >= max {
			return max
		}
	}
	if max > 0 && sleep > max {
		return max
	}
	return sleep
}
