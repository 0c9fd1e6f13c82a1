// tpu_nanny runs the Supervisor loop against an experiment directory. With
// -backend=temporal it instead starts a Temporal worker and drives the same
// discover/launch loop by starting a workflow execution per undiscovered
// JobSpec rather than spawning a goroutine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/mweiss17/wormulon/internal/jobregistry"
	"github.com/mweiss17/wormulon/internal/jobspec"
	"github.com/mweiss17/wormulon/internal/nodedriver"
	"github.com/mweiss17/wormulon/internal/nodepool"
	"github.com/mweiss17/wormulon/internal/objectstore"
	"github.com/mweiss17/wormulon/internal/platform/config"
	"github.com/mweiss17/wormulon/internal/platform/logger"
	"github.com/mweiss17/wormulon/internal/supervisor"
	"github.com/mweiss17/wormulon/internal/temporalx"
	"github.com/mweiss17/wormulon/internal/temporalx/jobrun"
	"github.com/mweiss17/wormulon/internal/temporalx/temporalworker"
)

func main() {
	backend := flag.String("backend", "goroutine", "execution backend: goroutine or temporal")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: tpu_nanny <experiment_directory> [-backend=goroutine|temporal]")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	experimentDir := flag.Arg(0)

	log, err := logger.New(config.String("LOG_MODE", "production"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "tpu_nanny: logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.LoadSupervisor()
	store, err := objectstore.NewGCSStore(log, cfg.Bucket)
	if err != nil {
		log.Error("object store init failed", "error", err)
		os.Exit(1)
	}
	registry := jobregistry.New(store)
	driver := nodedriver.NewGCloudDriver(log, cfg.Project, cfg.Zone)
	pool := nodepool.New(driver, registry, cfg.Project)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *backend == "temporal" {
		runTemporal(ctx, log, cfg, store, registry, pool, driver, experimentDir)
		return
	}

	sup := &supervisor.Supervisor{
		ExperimentDirectory: experimentDir,
		PollInterval:        cfg.PollInterval,
		HeartbeatTimeout:    cfg.HeartbeatTimeout,
		Store:               store,
		Registry:            registry,
		Pool:                pool,
		Driver:              driver,
		Log:                 log,
	}
	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("supervisor exited", "error", err)
		os.Exit(1)
	}
}

func runTemporal(
	ctx context.Context,
	log *logger.Logger,
	cfg config.Supervisor,
	store objectstore.Store,
	registry *jobregistry.Registry,
	pool *nodepool.NodePool,
	driver nodedriver.Driver,
	experimentDir string,
) {
	tc, err := temporalx.NewClient(log)
	if err != nil {
		log.Error("temporal client init failed", "error", err)
		os.Exit(1)
	}
	if tc == nil {
		fmt.Fprintln(os.Stderr, "tpu_nanny: -backend=temporal requires TEMPORAL_ADDRESS to be set")
		os.Exit(1)
	}
	defer tc.Close()

	runner, err := temporalworker.NewRunner(log, tc, store, registry, pool, driver, cfg.HeartbeatTimeout)
	if err != nil {
		log.Error("temporal worker init failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Start(ctx); err != nil {
		log.Error("temporal worker failed to start", "error", err)
		os.Exit(1)
	}

	tcfg := temporalx.LoadConfig()
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		startUndiscovered(ctx, log, tc, tcfg.TaskQueue, registry, experimentDir)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func startUndiscovered(ctx context.Context, log *logger.Logger, tc temporalsdkclient.Client, taskQueue string, registry *jobregistry.Registry, experimentDir string) {
	specs, err := jobspec.Discover(experimentDir)
	if err != nil {
		log.Warn("discover failed", "experiment_directory", experimentDir, "error", err)
		return
	}
	for _, spec := range specs {
		if supervisor.IsTerminal(ctx, registry, spec.JobID) {
			continue
		}
		opts := temporalsdkclient.StartWorkflowOptions{
			ID:        spec.JobID,
			TaskQueue: taskQueue,
			// Starting twice for a JobID Temporal already knows about is
			// expected steady-state behavior (this loop re-offers every
			// poll); WorkflowExecutionAlreadyStarted is not an error here.
			WorkflowIDReusePolicy: temporalsdkclient.WorkflowIDReusePolicyRejectDuplicate,
		}
		if _, err := tc.ExecuteWorkflow(ctx, opts, jobrun.WorkflowName, spec); err != nil {
			log.Warn("start workflow failed (likely already running)", "job_id", spec.JobID, "error", err)
		}
	}
}
