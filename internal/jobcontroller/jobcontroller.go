// Package jobcontroller implements the per-JobSpec finite state machine:
// arm -> setup -> run -> monitor -> clean_up, writing the authoritative
// jobstate.yml at every transition and never inferring state from anything
// else (spec.md §4.5).
package jobcontroller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mweiss17/wormulon/internal/functioncall"
	"github.com/mweiss17/wormulon/internal/jobregistry"
	"github.com/mweiss17/wormulon/internal/jobspec"
	"github.com/mweiss17/wormulon/internal/jobstate"
	"github.com/mweiss17/wormulon/internal/nodedriver"
	"github.com/mweiss17/wormulon/internal/nodepool"
	"github.com/mweiss17/wormulon/internal/objectstore"
	"github.com/mweiss17/wormulon/internal/platform/ctxutil"
	"github.com/mweiss17/wormulon/internal/platform/logger"
)

// errArmFailed and errSetupFailed mark a business-level (not infra) attempt
// failure: the terminal jobstate.yml write already happened, so callers that
// only care about "did Run publish a terminal state" (the bare-goroutine
// supervisor) can treat them as a clean stop. The temporal backend's
// Activities wrapper propagates them unchanged so Temporal still records why
// the activity returned.
var (
	errArmFailed   = errors.New("jobcontroller: arm failed")
	errSetupFailed = errors.New("jobcontroller: setup failed")
)

// heartbeatStaleFactor is the "k≈10" multiplier spec.md §3 names for the
// is_alive rule: a RUNNING job is alive if its heartbeat updated within
// heartbeatInterval * heartbeatStaleFactor seconds. heartbeatInterval is the
// configured staleness timeout itself (300s default), so in practice
// is_alive just checks against that timeout directly (k folded into the
// caller-supplied timeout, per §9's decision to keep the rule simple).
const heartbeatStaleFactor = 1

// Controller drives one JobSpec's attempt through its lifecycle on one node.
type Controller struct {
	Spec     jobspec.JobSpec
	Store    objectstore.Store
	Registry *jobregistry.Registry
	Pool     *nodepool.NodePool
	Driver   nodedriver.Driver
	Log      *logger.Logger

	HeartbeatTimeout time.Duration

	// OnTick, when set, is called on every liveness-poll tick inside Monitor.
	// The temporal backend uses it to call activity.RecordHeartbeat without
	// this package importing the Temporal SDK.
	OnTick func()

	// firstRunningSeenAt caches the first time IsAlive observed RUNNING with
	// no heartbeat object yet, so a RemoteRunner that hasn't published its
	// first heartbeat is judged alive relative to that first observation
	// instead of being declared dead on the very next tick.
	firstRunningSeenAt time.Time
}

func (c *Controller) jobDir() string {
	return fmt.Sprintf("%s/%s", strings.TrimSuffix(c.Spec.ExperimentDir, "/"), c.Spec.JobID)
}

func (c *Controller) jobStateKey() string {
	return c.jobDir() + "/jobstate.yml"
}

func (c *Controller) heartbeatKey() string {
	return c.jobDir() + "/heartbeat"
}

func (c *Controller) functionCallKey() string {
	return c.jobDir() + "/function_call.pkl"
}

func (c *Controller) writeState(ctx context.Context, state jobstate.State, tpuName string) error {
	body, err := yaml.Marshal(jobstate.Record{State: state, TPUName: tpuName})
	if err != nil {
		return fmt.Errorf("jobcontroller: marshal state: %w", err)
	}
	return c.Store.Upload(ctx, c.jobStateKey(), body)
}

// Run drives DISCOVERED -> STARTING -> ARMED -> RUNNING -> terminal. It
// returns once the job reaches a terminal state or ctx is canceled. This is
// the bare-goroutine execution mode the supervisor uses by default; the
// temporal backend drives the same three phases (Arm, SetupAttempt, Monitor)
// as separate durable activities instead of one in-process call.
func (c *Controller) Run(ctx context.Context) error {
	if c.Log != nil {
		c.Log.Info("controller starting", "job_id", c.Spec.JobID, "experiment_dir", c.Spec.ExperimentDir)
	}

	node, err := c.Arm(ctx)
	if err != nil {
		if errors.Is(err, errArmFailed) {
			return nil
		}
		return err
	}

	if err := c.SetupAttempt(ctx, node); err != nil {
		if errors.Is(err, errSetupFailed) {
			return nil
		}
		return err
	}

	return c.Monitor(ctx, node)
}

// Arm drives DISCOVERED -> STARTING -> ARMED, acquiring a node from the
// pool. On failure to acquire a node it writes FAILURE itself and returns
// errArmFailed; any other returned error means the jobstate.yml write itself
// failed (an infra error, not a terminal business outcome).
func (c *Controller) Arm(ctx context.Context) (string, error) {
	if err := c.writeState(ctx, jobstate.Starting, ""); err != nil {
		return "", err
	}

	nodes, err := c.Pool.Acquire(ctx, 1)
	if err != nil || len(nodes) == 0 {
		c.logWarn(ctx, "arming failed, no node acquired", err)
		if werr := c.writeState(ctx, jobstate.Failure, ""); werr != nil {
			return "", werr
		}
		return "", errArmFailed
	}
	node := nodes[0]
	if err := c.writeState(ctx, jobstate.Armed, node); err != nil {
		return "", err
	}
	return node, nil
}

// SetupAttempt drives ARMED -> RUNNING: it resolves and publishes the
// FunctionCall, runs setup/install over SSH, and writes RUNNING once the
// node is ready for the train command. Like Arm, a business-level failure
// writes FAILURE itself and returns errSetupFailed.
func (c *Controller) SetupAttempt(ctx context.Context, node string) error {
	trainstateRef, err := c.resolveTrainState(ctx)
	if err != nil {
		c.logWarn(ctx, "failed to resolve trainstate", err)
		if cerr := c.cleanUp(ctx, node); cerr != nil {
			return cerr
		}
		return errSetupFailed
	}

	kwargs := c.Spec.Kwargs
	if kwargs == nil {
		kwargs = map[string]string{}
	}
	fc := functioncall.FunctionCall{
		TrainerName: c.Spec.TrainerName,
		TrainState:  trainstateRef,
		Kwargs:      kwargs,
		TPUName:     node,
	}
	blob, err := functioncall.Serialize(fc)
	if err != nil {
		if cerr := c.cleanUp(ctx, node); cerr != nil {
			return cerr
		}
		return errSetupFailed
	}
	if err := c.Store.Upload(ctx, c.functionCallKey(), blob); err != nil {
		return err
	}

	if ok := c.runSetupAndInstall(ctx, node); !ok {
		if werr := c.writeState(ctx, jobstate.Failure, node); werr != nil {
			return werr
		}
		return errSetupFailed
	}

	return c.writeState(ctx, jobstate.Running, node)
}

// resolveTrainState picks the most recent checkpoint for the experiment
// directory if one exists, else signals a fresh (embedded, empty) seed.
func (c *Controller) resolveTrainState(ctx context.Context) (functioncall.TrainStateRef, error) {
	cp, err := c.Registry.LatestCheckpoint(ctx, c.Spec.ExperimentDir)
	if err != nil {
		return functioncall.TrainStateRef{HasValue: false}, nil
	}
	return functioncall.TrainStateRef{Path: cp.Key, HasValue: true}, nil
}

// runSetupAndInstall runs each setup command in capture mode; if any exits
// 1 it attempts install once. A non-1 setup failure or a failed install both
// end the attempt.
func (c *Controller) runSetupAndInstall(ctx context.Context, node string) bool {
	for _, cmd := range c.Spec.Setup {
		result, _, err := c.Driver.SSH(ctx, node, c.Spec.EnvStmts, cmd, nodedriver.ModeCapture, c.Spec.SetupTimeout)
		if err == nil {
			continue
		}
		nderr, ok := err.(*nodedriver.Error)
		if !ok || nderr.Code != nodedriver.CodeRemoteNonZero || result == nil || result.ExitCode != 1 {
			c.logWarn(ctx, "setup command failed", err)
			return false
		}
		installResult, _, installErr := c.Driver.SSH(ctx, node, c.Spec.EnvStmts, c.Spec.Install, nodedriver.ModeCapture, c.Spec.SetupTimeout)
		if installErr != nil || (installResult != nil && installResult.ExitCode != 0) {
			c.logWarn(ctx, "install failed after setup rc=1", installErr)
			return false
		}
	}
	return true
}

// Monitor invokes the train command in stream mode and returns when the
// stream ends (the remote runner publishes its own terminal state). It
// writes PREEMPTED if the node disappears from the driver's listing, and
// FAILURE if the stream cannot be started or the job goes quiet.
func (c *Controller) Monitor(ctx context.Context, node string) error {
	_, handle, err := c.Driver.SSH(ctx, node, c.Spec.EnvStmts, c.Spec.Train, nodedriver.ModeStream, 0)
	if err != nil {
		return c.writeState(ctx, jobstate.Failure, node)
	}

	go func() {
		_ = logCollector(c.Spec.ExperimentDir, collectorTags{Name: c.Spec.JobID, Node: node, Rank: c.Spec.Rank}, handle)
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-handle.Done:
			return nil // remote runner publishes its own terminal jobstate.yml
		case <-ticker.C:
			if c.OnTick != nil {
				c.OnTick()
			}
			present, err := c.nodePresent(ctx, node)
			if err == nil && !present {
				// Second documented PREEMPTED path (spec.md §4.5): the node
				// itself disappeared from the driver's listing while we were
				// RUNNING. Report it promptly instead of waiting out the
				// full heartbeat staleness window and surfacing as FAILURE.
				return c.writeState(ctx, jobstate.Preempted, node)
			}
			alive, err := c.IsAlive(ctx, node)
			if err != nil {
				continue
			}
			if !alive {
				return c.writeState(ctx, jobstate.Failure, node)
			}
		}
	}
}

// nodePresent reports whether node still appears in the driver's listing.
// A List error is not evidence of anything -- it's treated as "can't tell"
// so Monitor falls back to the heartbeat check instead of preempting on a
// transient control-plane hiccup.
func (c *Controller) nodePresent(ctx context.Context, node string) (bool, error) {
	nodes, err := c.Driver.List(ctx)
	if err != nil {
		return true, err
	}
	for _, n := range nodes {
		if n.Name == node {
			return true, nil
		}
	}
	return false, nil
}

// IsAlive implements spec.md §4.5's liveness rule: a job is alive iff its
// jobstate.yml is ARMED, or RUNNING with a heartbeat updated within the
// configured staleness window. This deliberately does not reproduce the
// "has_timed_out always truthy" bug from an earlier revision of the
// original — it compares the heartbeat object's metadata, not a bound
// method reference.
func (c *Controller) IsAlive(ctx context.Context, node string) (bool, error) {
	recBody, err := c.Store.Download(ctx, c.jobStateKey())
	if err != nil {
		return false, err
	}
	var rec jobstate.Record
	if err := yaml.Unmarshal(recBody, &rec); err != nil {
		return false, err
	}

	if rec.State == jobstate.Armed {
		return true, nil
	}
	if rec.State != jobstate.Running {
		return false, nil
	}

	timeout := c.HeartbeatTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	staleness := timeout * heartbeatStaleFactor

	hbMeta, err := c.Store.GetMetadata(ctx, c.heartbeatKey())
	if err != nil {
		var serr *objectstore.Error
		if errors.As(err, &serr) && serr.Code == objectstore.CodeNotFound {
			// RemoteRunner only touches the heartbeat after downloading
			// function_call.pkl, spawning its workers, and completing a
			// training iteration -- realistically more than one liveness
			// tick. Per spec.md §8, a never-seen heartbeat is alive on
			// first observation and stays alive until the staleness window
			// elapses from that first observation, not instantly dead.
			if c.firstRunningSeenAt.IsZero() {
				c.firstRunningSeenAt = time.Now()
			}
			return time.Since(c.firstRunningSeenAt) < staleness, nil
		}
		return false, nil
	}

	return time.Since(hbMeta.Updated) < staleness, nil
}

// cleanUp writes FAILURE with the current node name and releases the node
// back to the pool (the node itself is not deleted), per spec.md §4.5.
func (c *Controller) cleanUp(ctx context.Context, node string) error {
	return c.writeState(ctx, jobstate.Failure, node)
}

// logWarn folds in a request/trace id from ctx when one was attached (the
// supervisor tags each launched job's context so its controller, arm, setup
// and monitor logs correlate under one id).
func (c *Controller) logWarn(ctx context.Context, msg string, err error) {
	if c.Log == nil {
		return
	}
	kvs := []interface{}{"job_id", c.Spec.JobID, "error", err}
	if td := ctxutil.GetTraceData(ctx); td != nil {
		kvs = append(kvs, "trace_id", td.TraceID, "request_id", td.RequestID)
	}
	c.Log.Warn(msg, kvs...)
}
