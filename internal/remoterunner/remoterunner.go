// Package remoterunner is the node-side contract spec.md §4.7 calls
// RemoteRunner: hydrate a FunctionCall, invoke the trainer, periodically
// touch a heartbeat object, publish a terminal jobstate on exit, and exit
// cleanly on SIGTERM. This is the behavior cmd/tpu_train implements.
package remoterunner

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/mweiss17/wormulon/internal/functioncall"
	"github.com/mweiss17/wormulon/internal/jobstate"
	"github.com/mweiss17/wormulon/internal/objectstore"
	"github.com/mweiss17/wormulon/internal/platform/logger"
	"github.com/mweiss17/wormulon/internal/trainer"
)

// Config is everything Run needs: where the job lives in the object store
// and how many worker goroutines to spawn (the in-binary analogue of the
// source's multi-accelerator-core cooperative workers).
type Config struct {
	JobDir        string // <experiment_dir>/<job_uuid>
	ExperimentDir string
	NProcs        int
	StepBudget    int64
}

// reporter writes checkpoints under the shared experiment directory (so any
// future attempt's resolveTrainState can find the latest one regardless of
// which job_id produced it) and heartbeats under this attempt's own job
// directory (so jobcontroller.IsAlive, which only ever looks at its own
// jobDir, sees them).
type reporter struct {
	store         objectstore.Store
	experimentDir string
	jobDir        string
}

func (r *reporter) Checkpoint(step int64, body []byte) error {
	key := fmt.Sprintf("%s/trainstate-%d", strings.TrimSuffix(r.experimentDir, "/"), step)
	return r.store.Upload(context.Background(), key, body)
}

func (r *reporter) Heartbeat() error {
	key := strings.TrimSuffix(r.jobDir, "/") + "/heartbeat"
	if err := r.store.UploadIfAbsent(context.Background(), key, nil); err != nil {
		return err
	}
	return r.store.Touch(context.Background(), key)
}

// Run implements the full on-node contract for one JobSpec attempt.
func Run(ctx context.Context, store objectstore.Store, registry *trainer.Registry, log *logger.Logger, cfg Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	fcKey := cfg.JobDir + "/function_call.pkl"
	blob, err := store.Download(ctx, fcKey)
	if err != nil {
		return fmt.Errorf("remoterunner: download function_call: %w", err)
	}
	fc, err := functioncall.Deserialize(blob)
	if err != nil {
		return fmt.Errorf("remoterunner: deserialize function_call: %w", err)
	}

	var trainstateBody []byte
	if fc.TrainState.HasValue && fc.TrainState.Path != "" {
		trainstateBody, err = store.Download(ctx, fc.TrainState.Path)
		if err != nil {
			return fmt.Errorf("remoterunner: download trainstate: %w", err)
		}
	} else {
		trainstateBody = fc.TrainState.Embedded
	}

	t, ok := registry.Get(fc.TrainerName)
	if !ok {
		return fmt.Errorf("remoterunner: unknown trainer %q", fc.TrainerName)
	}

	rep := &reporter{store: store, experimentDir: cfg.ExperimentDir, jobDir: cfg.JobDir}

	nprocs := cfg.NProcs
	if nprocs < 1 {
		nprocs = 1
	}

	var wg sync.WaitGroup
	errs := make(chan error, nprocs)
	for rank := 0; rank < nprocs; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			tctx := trainer.Context{ExperimentDir: cfg.ExperimentDir, Rank: rank, WorldSize: nprocs}
			var rankReporter trainer.Reporter
			if rank == 0 {
				rankReporter = rep
			} else {
				rankReporter = noopReporter{}
			}
			if err := t.Train(tctx, rankReporter, trainstateBody, fc.Kwargs); err != nil {
				errs <- err
			}
		}(rank)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return writeState(context.Background(), store, cfg.JobDir, jobstate.Preempted, fc.TPUName)
	case <-done:
		select {
		case err := <-errs:
			if log != nil {
				log.Error("trainer failed", "error", err)
			}
			return writeState(context.Background(), store, cfg.JobDir, jobstate.Failure, fc.TPUName)
		default:
			return writeState(context.Background(), store, cfg.JobDir, jobstate.Success, fc.TPUName)
		}
	}
}

func writeState(ctx context.Context, store objectstore.Store, jobDir string, state jobstate.State, tpuName string) error {
	body, err := yaml.Marshal(jobstate.Record{State: state, TPUName: tpuName})
	if err != nil {
		return fmt.Errorf("remoterunner: marshal state: %w", err)
	}
	return store.Upload(ctx, jobDir+"/jobstate.yml", body)
}

type noopReporter struct{}

func (noopReporter) Checkpoint(int64, []byte) error { return nil }
func (noopReporter) Heartbeat() error               { return nil }
