package nodepool

import (
	"context"
	"testing"

	"github.com/mweiss17/wormulon/internal/jobregistry"
	"github.com/mweiss17/wormulon/internal/nodedriver"
	"github.com/mweiss17/wormulon/internal/objectstore"
)

func TestAcquirePrefersReadyOverCreate(t *testing.T) {
	driver := nodedriver.NewFakeDriver()
	driver.SetReady("proj-0", true)
	driver.SetReady("proj-1", true)

	store := objectstore.NewMemStore()
	reg := jobregistry.New(store)
	pool := New(driver, reg, "proj")

	got, err := pool.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 node, got %+v", got)
	}
	if got[0] != "proj-0" && got[0] != "proj-1" {
		t.Fatalf("expected an existing ready node, got %s", got[0])
	}
}

// laggyDriver wraps FakeDriver but withholds newly created nodes from List
// until Reveal is called, simulating the control-plane propagation delay
// GCloudDriver's own backoff/retry exists to tolerate.
type laggyDriver struct {
	*nodedriver.FakeDriver
	hidden map[string]bool
}

func newLaggyDriver() *laggyDriver {
	return &laggyDriver{FakeDriver: nodedriver.NewFakeDriver(), hidden: make(map[string]bool)}
}

func (d *laggyDriver) Create(ctx context.Context, name string) error {
	if err := d.FakeDriver.Create(ctx, name); err != nil {
		return err
	}
	d.hidden[name] = true
	return nil
}

func (d *laggyDriver) List(ctx context.Context) ([]nodedriver.NodeInfo, error) {
	nodes, err := d.FakeDriver.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []nodedriver.NodeInfo
	for _, n := range nodes {
		if d.hidden[n.Name] {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (d *laggyDriver) Reveal(name string) {
	delete(d.hidden, name)
}

func TestAcquireDoesNotReuseNameStillPendingControlPlaneVisibility(t *testing.T) {
	driver := newLaggyDriver()

	store := objectstore.NewMemStore()
	reg := jobregistry.New(store)
	pool := New(driver, reg, "proj")

	gotA, err := pool.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("acquire A: %v", err)
	}
	if len(gotA) != 1 {
		t.Fatalf("expected 1 node for A, got %+v", gotA)
	}

	// proj-0 exists (Create succeeded) but hasn't shown up in List yet --
	// exactly the control-plane lag window. A second Acquire must not mint
	// the same name again.
	gotB, err := pool.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("acquire B: %v", err)
	}
	if len(gotB) != 1 {
		t.Fatalf("expected 1 node for B, got %+v", gotB)
	}
	if gotA[0] == gotB[0] {
		t.Fatalf("expected distinct node names, both callers got %s", gotA[0])
	}
}

func TestAcquireReusesNodeOncePendingBecomesVisible(t *testing.T) {
	driver := newLaggyDriver()

	store := objectstore.NewMemStore()
	reg := jobregistry.New(store)
	pool := New(driver, reg, "proj")

	gotA, err := pool.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("acquire A: %v", err)
	}
	driver.Reveal(gotA[0])
	driver.SetReady(gotA[0], true)

	// Nothing marked it busy in the registry, so once List reflects it the
	// pending entry should clear and a later caller may still see it as an
	// ordinary available node (acquisition, not permanent quarantine).
	gotB, err := pool.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("acquire B: %v", err)
	}
	if gotB[0] != gotA[0] {
		t.Fatalf("expected the now-visible ready node %s to be reused, got %s", gotA[0], gotB[0])
	}
}

func TestAcquireCreatesWhenShortOfReadyNodes(t *testing.T) {
	driver := nodedriver.NewFakeDriver()
	driver.SetReady("proj-3", true)

	store := objectstore.NewMemStore()
	reg := jobregistry.New(store)
	pool := New(driver, reg, "proj")

	got, err := pool.Acquire(context.Background(), 2)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 nodes, got %+v", got)
	}

	found4 := false
	for _, name := range got {
		if name == "proj-4" {
			found4 = true
		}
	}
	if !found4 {
		t.Fatalf("expected newly created node proj-4 (max suffix 3 + 1), got %+v", got)
	}
}
