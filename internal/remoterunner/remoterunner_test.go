package remoterunner

import (
	"context"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/mweiss17/wormulon/internal/functioncall"
	"github.com/mweiss17/wormulon/internal/jobstate"
	"github.com/mweiss17/wormulon/internal/objectstore"
	"github.com/mweiss17/wormulon/internal/trainer"
)

type okTrainer struct{}

func (okTrainer) Train(trainer.Context, trainer.Reporter, []byte, map[string]string) error {
	return nil
}

type failTrainer struct{}

func (failTrainer) Train(trainer.Context, trainer.Reporter, []byte, map[string]string) error {
	return context.DeadlineExceeded
}

func setupFunctionCall(t *testing.T, store objectstore.Store, jobDir, trainerName, tpuName string) {
	t.Helper()
	fc := functioncall.FunctionCall{TrainerName: trainerName, TPUName: tpuName, Kwargs: map[string]string{}}
	blob, err := functioncall.Serialize(fc)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if err := store.Upload(context.Background(), jobDir+"/function_call.pkl", blob); err != nil {
		t.Fatalf("upload: %v", err)
	}
}

func readState(t *testing.T, store objectstore.Store, jobDir string) jobstate.Record {
	t.Helper()
	body, err := store.Download(context.Background(), jobDir+"/jobstate.yml")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	var rec jobstate.Record
	if err := yaml.Unmarshal(body, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return rec
}

func TestRunSuccessPublishesSuccessState(t *testing.T) {
	store := objectstore.NewMemStore()
	registry := trainer.NewRegistry()
	registry.Register("ok", func() trainer.Trainer { return okTrainer{} })

	setupFunctionCall(t, store, "exp/A/job-1", "ok", "proj-0")

	cfg := Config{JobDir: "exp/A/job-1", ExperimentDir: "exp/A", NProcs: 2}
	if err := Run(context.Background(), store, registry, nil, cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec := readState(t, store, cfg.JobDir)
	if rec.State != jobstate.Success {
		t.Fatalf("expected SUCCESS, got %s", rec.State)
	}
	if rec.TPUName != "proj-0" {
		t.Fatalf("expected tpu_name proj-0, got %s", rec.TPUName)
	}
}

func TestRunTrainerFailurePublishesFailureState(t *testing.T) {
	store := objectstore.NewMemStore()
	registry := trainer.NewRegistry()
	registry.Register("broken", func() trainer.Trainer { return failTrainer{} })

	setupFunctionCall(t, store, "exp/A/job-2", "broken", "proj-1")

	cfg := Config{JobDir: "exp/A/job-2", ExperimentDir: "exp/A", NProcs: 1}
	if err := Run(context.Background(), store, registry, nil, cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec := readState(t, store, cfg.JobDir)
	if rec.State != jobstate.Failure {
		t.Fatalf("expected FAILURE, got %s", rec.State)
	}
}

func TestRunUnknownTrainerErrors(t *testing.T) {
	store := objectstore.NewMemStore()
	registry := trainer.NewRegistry()

	setupFunctionCall(t, store, "exp/A/job-3", "missing", "proj-2")

	cfg := Config{JobDir: "exp/A/job-3", ExperimentDir: "exp/A", NProcs: 1}
	if err := Run(context.Background(), store, registry, nil, cfg); err == nil {
		t.Fatalf("expected error for unknown trainer")
	}
}
