package supervisor

import (
	"context"
	"path/filepath"
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

func TestSupervisorDoesNotRelaunchTerminalJobs(t *testing.T) {
	dir := t.TempDir()
	expDir := filepath.Join(dir, "expA")
	spec := jobspec.New(expDir, "resnet.Trainer", 0, 1)
	if err := spec.WriteTo(); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	store := objectstore.NewMemStore()
	reg := jobregistry.New(store)
	driver := nodedriver.NewFakeDriver()
	pool := nodepool.New(driver, reg, "proj")

	jobDir := expDir + "/" + spec.JobID
	body, _ := yaml.Marshal(jobstate.Record{State: jobstate.Success, TPUName: "proj-0"})
	if err := store.Upload(context.Background(), jobDir+"/jobstate.yml", body); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	sup := &Supervisor{
		ExperimentDirectory: dir,
		Store:               store,
		Registry:            reg,
		Pool:                pool,
		Driver:              driver,
	}

	ctx := context.Background()
	sup.tick(ctx)

	sup.mu.Lock()
	launched := len(sup.running)
	sup.mu.Unlock()

	if launched != 0 {
		t.Fatalf("expected no controller launched for a terminal job, got %d running", launched)
	}
}

func TestSupervisorLaunchesUndiscoveredJob(t *testing.T) {
	dir := t.TempDir()
	expDir := filepath.Join(dir, "expB")
	spec := jobspec.New(expDir, "resnet.Trainer", 0, 1)
	spec.Train = "tpu_train bucket job_dir"
	if err := spec.WriteTo(); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	store := objectstore.NewMemStore()
	reg := jobregistry.New(store)
	driver := nodedriver.NewFakeDriver()
	driver.SetReady("proj-0", true)
	pool := nodepool.New(driver, reg, "proj")

	sup := &Supervisor{
		ExperimentDirectory: dir,
		Store:               store,
		Registry:            reg,
		Pool:                pool,
		Driver:              driver,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sup.tick(ctx)

	sup.mu.Lock()
	launched := len(sup.running)
	sup.mu.Unlock()

	if launched != 1 {
		t.Fatalf("expected 1 controller launched, got %d", launched)
	}
}
