package jobregistry

import (
	"context"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mweiss17/wormulon/internal/jobstate"
	"github.com/mweiss17/wormulon/internal/objectstore"
)

func writeJobState(t *testing.T, store *objectstore.MemStore, key string, rec jobstate.Record) {
	t.Helper()
	body, err := yaml.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal jobstate: %v", err)
	}
	if err := store.Upload(context.Background(), key, body); err != nil {
		t.Fatalf("upload: %v", err)
	}
}

func TestJobsByStateAndBusyTPUs(t *testing.T) {
	store := objectstore.NewMemStore()
	writeJobState(t, store, "exp/A/job-1/jobstate.yml", jobstate.Record{State: jobstate.Running, TPUName: "project-0"})
	writeJobState(t, store, "exp/B/job-2/jobstate.yml", jobstate.Record{State: jobstate.Success, TPUName: "project-1"})

	reg := New(store)
	ctx := context.Background()

	running, err := reg.JobsByState(ctx, jobstate.Running)
	if err != nil {
		t.Fatalf("JobsByState: %v", err)
	}
	if len(running) != 1 || running[0].TPUName != "project-0" {
		t.Fatalf("unexpected running jobs: %+v", running)
	}

	busy, err := reg.BusyTPUs(ctx)
	if err != nil {
		t.Fatalf("BusyTPUs: %v", err)
	}
	if !busy["project-0"] || busy["project-1"] {
		t.Fatalf("unexpected busy set: %+v", busy)
	}
}

func TestLatestCheckpointOrdersByUpdatedNotSuffix(t *testing.T) {
	store := objectstore.NewMemStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	store.Now = func() time.Time { return base }
	_ = store.Upload(ctx, "exp/A/trainstate-5", []byte("s5"))
	store.Now = func() time.Time { return base.Add(2 * time.Minute) }
	_ = store.Upload(ctx, "exp/A/trainstate-12", []byte("s12"))
	store.Now = func() time.Time { return base.Add(1 * time.Minute) }
	_ = store.Upload(ctx, "exp/A/trainstate-7", []byte("s7"))

	reg := New(store)
	cp, err := reg.LatestCheckpoint(ctx, "exp/A")
	if err != nil {
		t.Fatalf("LatestCheckpoint: %v", err)
	}
	if cp.Key != "exp/A/trainstate-12" {
		t.Fatalf("expected trainstate-12 (newest by updated_at), got %s", cp.Key)
	}
}

func TestLatestCheckpointNoneFound(t *testing.T) {
	store := objectstore.NewMemStore()
	reg := New(store)
	if _, err := reg.LatestCheckpoint(context.Background(), "exp/empty"); err == nil {
		t.Fatalf("expected error for empty experiment dir")
	}
}

func TestLatestPerExperimentGroupsAndPicksLatest(t *testing.T) {
	store := objectstore.NewMemStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	store.Now = func() time.Time { return base }
	_ = store.Upload(ctx, "dsA/expX/trainstate-1", []byte("v1"))
	store.Now = func() time.Time { return base.Add(time.Minute) }
	_ = store.Upload(ctx, "dsA/expX/trainstate-2", []byte("v2"))
	store.Now = func() time.Time { return base }
	_ = store.Upload(ctx, "dsB/expY/trainstate-1", []byte("v1"))

	reg := New(store)
	summaries, err := reg.LatestPerExperiment(ctx)
	if err != nil {
		t.Fatalf("LatestPerExperiment: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 experiment groups, got %d: %+v", len(summaries), summaries)
	}
	for _, s := range summaries {
		if s.Key.ExperimentName == "expX" && s.Checkpoint.Key != "dsA/expX/trainstate-2" {
			t.Errorf("expX should pick trainstate-2, got %s", s.Checkpoint.Key)
		}
	}
}
