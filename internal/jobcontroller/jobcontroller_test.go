package jobcontroller

import (
	"context"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mweiss17/wormulon/internal/jobregistry"
	"github.com/mweiss17/wormulon/internal/jobspec"
	"github.com/mweiss17/wormulon/internal/jobstate"
	"github.com/mweiss17/wormulon/internal/nodedriver"
	"github.com/mweiss17/wormulon/internal/nodepool"
	"github.com/mweiss17/wormulon/internal/objectstore"
)

func newTestController(t *testing.T, driver *nodedriver.FakeDriver) (*Controller, *objectstore.MemStore) {
	t.Helper()
	store := objectstore.NewMemStore()
	reg := jobregistry.New(store)
	pool := nodepool.New(driver, reg, "proj")

	spec := jobspec.New(t.TempDir(), "resnet.Trainer", 0, 1)
	spec.Setup = []string{"pip install -r reqs.txt"}
	spec.Train = "tpu_train bucket job_dir"

	return &Controller{
		Spec:             spec,
		Store:            store,
		Registry:         reg,
		Pool:             pool,
		Driver:           driver,
		HeartbeatTimeout: 300 * time.Second,
	}, store
}

func TestRunHappyPathReachesRunningAndStopsOnRemoteSuccess(t *testing.T) {
	driver := nodedriver.NewFakeDriver()
	driver.SetReady("proj-0", true)

	ctrl, store := newTestController(t, driver)
	ctrl.Spec.Train = "tpu_train bucket job_dir"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := ctrl.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Once Run returns (remote runner's stream completed), the last state the
	// controller itself wrote is RUNNING -- the remote runner owns the
	// terminal write.
	running, err := store.Download(context.Background(), ctrl.jobStateKey())
	if err != nil {
		t.Fatalf("download state after Run: %v", err)
	}
	var runningRec jobstate.Record
	if err := yaml.Unmarshal(running, &runningRec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if runningRec.State != jobstate.Running {
		t.Fatalf("expected RUNNING after Run, got %s", runningRec.State)
	}

	// Simulate the remote runner's terminal write and confirm it reads back.
	body, _ := yaml.Marshal(jobstate.Record{State: jobstate.Success, TPUName: "proj-0"})
	if err := store.Upload(context.Background(), ctrl.jobStateKey(), body); err != nil {
		t.Fatalf("upload: %v", err)
	}

	got, err := store.Download(context.Background(), ctrl.jobStateKey())
	if err != nil {
		t.Fatalf("download final state: %v", err)
	}
	var rec jobstate.Record
	if err := yaml.Unmarshal(got, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.State != jobstate.Success {
		t.Fatalf("expected SUCCESS, got %s", rec.State)
	}
}

func TestRunInstallFailureEndsInFailure(t *testing.T) {
	driver := nodedriver.NewFakeDriver()
	driver.SetReady("proj-0", true)
	driver.SSHResults["pip install -r reqs.txt"] = nodedriver.SSHResult{ExitCode: 1}
	driver.SSHResults[""] = nodedriver.SSHResult{ExitCode: 2}

	ctrl, store := newTestController(t, driver)
	ctrl.Spec.Install = ""

	ctx := context.Background()
	if err := ctrl.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	body, err := store.Download(ctx, ctrl.jobStateKey())
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	var rec jobstate.Record
	if err := yaml.Unmarshal(body, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.State != jobstate.Failure {
		t.Fatalf("expected FAILURE after install failure, got %s", rec.State)
	}
}

func TestMonitorWritesPreemptedWhenNodeVanishesFromList(t *testing.T) {
	driver := nodedriver.NewFakeDriver()
	driver.SetReady("proj-0", true)
	hold := make(chan struct{}) // never closed: the training stream never "finishes" on its own
	driver.StreamHold = hold

	ctrl, store := newTestController(t, driver)
	ctrl.Spec.Train = "tpu_train bucket job_dir"
	ctrl.HeartbeatTimeout = 300 * time.Second

	body, _ := yaml.Marshal(jobstate.Record{State: jobstate.Running, TPUName: "proj-0"})
	if err := store.Upload(context.Background(), ctrl.jobStateKey(), body); err != nil {
		t.Fatalf("upload: %v", err)
	}

	_ = driver.Delete(context.Background(), "proj-0")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := ctrl.Monitor(ctx, "proj-0"); err != nil {
		t.Fatalf("Monitor: %v", err)
	}

	got, err := store.Download(context.Background(), ctrl.jobStateKey())
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	var rec jobstate.Record
	if err := yaml.Unmarshal(got, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.State != jobstate.Preempted {
		t.Fatalf("expected PREEMPTED once the node vanished from List, got %s", rec.State)
	}
}

func TestIsAliveArmedIsAlwaysAlive(t *testing.T) {
	driver := nodedriver.NewFakeDriver()
	ctrl, store := newTestController(t, driver)
	body, _ := yaml.Marshal(jobstate.Record{State: jobstate.Armed, TPUName: "proj-0"})
	_ = store.Upload(context.Background(), ctrl.jobStateKey(), body)

	alive, err := ctrl.IsAlive(context.Background(), "proj-0")
	if err != nil {
		t.Fatalf("IsAlive: %v", err)
	}
	if !alive {
		t.Fatalf("expected ARMED job to be alive")
	}
}

func TestIsAliveRunningStaleHeartbeatIsDead(t *testing.T) {
	driver := nodedriver.NewFakeDriver()
	ctrl, store := newTestController(t, driver)
	ctrl.HeartbeatTimeout = 10 * time.Millisecond

	body, _ := yaml.Marshal(jobstate.Record{State: jobstate.Running, TPUName: "proj-0"})
	_ = store.Upload(context.Background(), ctrl.jobStateKey(), body)
	_ = store.Upload(context.Background(), ctrl.heartbeatKey(), []byte("beat"))

	time.Sleep(20 * time.Millisecond)

	alive, err := ctrl.IsAlive(context.Background(), "proj-0")
	if err != nil {
		t.Fatalf("IsAlive: %v", err)
	}
	if alive {
		t.Fatalf("expected stale heartbeat to be dead")
	}
}

func TestIsAliveRunningNeverSeenHeartbeatIsAliveUntilStale(t *testing.T) {
	driver := nodedriver.NewFakeDriver()
	ctrl, store := newTestController(t, driver)
	ctrl.HeartbeatTimeout = 20 * time.Millisecond

	body, _ := yaml.Marshal(jobstate.Record{State: jobstate.Running, TPUName: "proj-0"})
	_ = store.Upload(context.Background(), ctrl.jobStateKey(), body)

	// RemoteRunner hasn't touched the heartbeat yet: no object exists at all.
	alive, err := ctrl.IsAlive(context.Background(), "proj-0")
	if err != nil {
		t.Fatalf("IsAlive: %v", err)
	}
	if !alive {
		t.Fatalf("expected a never-seen heartbeat to be alive on first observation")
	}

	time.Sleep(40 * time.Millisecond)

	alive, err = ctrl.IsAlive(context.Background(), "proj-0")
	if err != nil {
		t.Fatalf("IsAlive: %v", err)
	}
	if alive {
		t.Fatalf("expected a heartbeat never observed within the staleness window to go dead")
	}
}
