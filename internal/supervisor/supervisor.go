// Package supervisor implements the discover/launch/reap loop from
// spec.md §4.6: a single-goroutine ticker that discovers JobSpecs, spawns a
// goroutine-backed JobController per unlaunched job, and reaps controllers
// whose job has reached a terminal state or gone quiet.
package supervisor

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/mweiss17/wormulon/internal/jobcontroller"
	"github.com/mweiss17/wormulon/internal/jobregistry"
	"github.com/mweiss17/wormulon/internal/jobspec"
	"github.com/mweiss17/wormulon/internal/jobstate"
	"github.com/mweiss17/wormulon/internal/nodedriver"
	"github.com/mweiss17/wormulon/internal/nodepool"
	"github.com/mweiss17/wormulon/internal/objectstore"
	"github.com/mweiss17/wormulon/internal/platform/ctxutil"
	"github.com/mweiss17/wormulon/internal/platform/logger"
)

// Supervisor owns the experiment directory and drives every JobSpec found
// under it to completion, relaunching on any non-terminal outcome.
type Supervisor struct {
	ExperimentDirectory string
	PollInterval        time.Duration
	HeartbeatTimeout    time.Duration

	Store    objectstore.Store
	Registry *jobregistry.Registry
	Pool     *nodepool.NodePool
	Driver   nodedriver.Driver
	Log      *logger.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc // job_id -> cancel
	group   *errgroup.Group
}

// Run loops forever (until ctx is canceled): discover, launch, reap, sleep.
// A crashed controller goroutine's panic is recovered and converted to a
// FAILURE jobstate write rather than poisoning the supervisor loop itself
// — the same isolation principle the teacher's worker pool applies per
// claimed job (internal/jobs/worker/worker.go: runLoop).
func (s *Supervisor) Run(ctx context.Context) error {
	s.ensureInit()

	interval := s.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)

		select {
		case <-ctx.Done():
			s.mu.Lock()
			for _, cancel := range s.running {
				cancel()
			}
			s.mu.Unlock()
			_ = s.group.Wait()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) ensureInit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == nil {
		s.running = make(map[string]context.CancelFunc)
	}
	if s.group == nil {
		g, _ := errgroup.WithContext(context.Background())
		s.group = g
	}
}

func (s *Supervisor) tick(ctx context.Context) {
	s.ensureInit()

	specs, err := jobspec.Discover(s.ExperimentDirectory)
	if err != nil {
		s.logWarn("discover failed", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, spec := range specs {
		if _, launched := s.running[spec.JobID]; launched {
			continue
		}
		if s.isTerminal(ctx, spec) {
			continue
		}
		s.launch(ctx, spec)
	}
}

func (s *Supervisor) isTerminal(ctx context.Context, spec jobspec.JobSpec) bool {
	return IsTerminal(ctx, s.Registry, spec.JobID)
}

// IsTerminal reports whether jobID's jobstate.yml has already reached a
// terminal state. Exported so other discover-and-launch loops (the
// temporal backend's poller in cmd/tpu_nanny) can reuse the same check
// instead of duplicating it.
func IsTerminal(ctx context.Context, registry *jobregistry.Registry, jobID string) bool {
	recs, err := registry.JobsByState(ctx)
	if err != nil {
		return false
	}
	for _, rec := range recs {
		if rec.JobID == jobID && rec.State.Terminal() {
			return true
		}
	}
	return false
}

func (s *Supervisor) launch(ctx context.Context, spec jobspec.JobSpec) {
	jobCtx, cancel := context.WithCancel(ctx)
	jobCtx = ctxutil.WithTraceData(jobCtx, &ctxutil.TraceData{RequestID: spec.JobID})
	s.running[spec.JobID] = cancel

	s.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.logWarn("controller panicked", nil)
				if body, merr := yaml.Marshal(jobstate.Record{State: jobstate.Failure}); merr == nil {
					key := strings.TrimSuffix(spec.ExperimentDir, "/") + "/" + spec.JobID + "/jobstate.yml"
					_ = s.Store.Upload(context.Background(), key, body)
				}
				err = nil
			}
			s.mu.Lock()
			delete(s.running, spec.JobID)
			s.mu.Unlock()
		}()

		ctrl := &jobcontroller.Controller{
			Spec:             spec,
			Store:            s.Store,
			Registry:         s.Registry,
			Pool:             s.Pool,
			Driver:           s.Driver,
			Log:              s.Log,
			HeartbeatTimeout: s.HeartbeatTimeout,
		}
		return ctrl.Run(jobCtx)
	})
}

func (s *Supervisor) logWarn(msg string, err error) {
	if s.Log == nil {
		return
	}
	s.Log.Warn(msg, "experiment_directory", s.ExperimentDirectory, "error", err)
}
