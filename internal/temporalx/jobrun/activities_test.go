package jobrun

import (
	"context"
	"testing"
	"time"

	"github.com/mweiss17/wormulon/internal/jobregistry"
	"github.com/mweiss17/wormulon/internal/jobspec"
	"github.com/mweiss17/wormulon/internal/nodedriver"
	"github.com/mweiss17/wormulon/internal/nodepool"
	"github.com/mweiss17/wormulon/internal/objectstore"
)

func newTestActivities(driver *nodedriver.FakeDriver) (*Activities, *objectstore.MemStore) {
	store := objectstore.NewMemStore()
	reg := jobregistry.New(store)
	pool := nodepool.New(driver, reg, "proj")
	return &Activities{
		Store:            store,
		Registry:         reg,
		Pool:             pool,
		Driver:           driver,
		HeartbeatTimeout: 300 * time.Second,
	}, store
}

func TestActivitiesArmSetupMonitorHappyPath(t *testing.T) {
	driver := nodedriver.NewFakeDriver()
	driver.SetReady("proj-0", true)
	acts, _ := newTestActivities(driver)

	spec := jobspec.New(t.TempDir(), "resnet.Trainer", 0, 1)
	spec.Setup = []string{"pip install -r reqs.txt"}
	spec.Train = "tpu_train bucket job_dir"

	ctx := context.Background()

	node, err := acts.Arm(ctx, spec)
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if node == "" {
		t.Fatalf("expected a node name")
	}

	if err := acts.Setup(ctx, spec, node); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := acts.Monitor(runCtx, spec, node); err != nil {
		t.Fatalf("Monitor: %v", err)
	}
}

func TestActivitiesArmFailsWhenNoNodeAvailable(t *testing.T) {
	driver := nodedriver.NewFakeDriver()
	driver.CreateErr = context.DeadlineExceeded
	acts, _ := newTestActivities(driver)

	spec := jobspec.New(t.TempDir(), "resnet.Trainer", 0, 1)

	if _, err := acts.Arm(context.Background(), spec); err == nil {
		t.Fatalf("expected Arm to fail when the pool cannot acquire a node")
	}
}
