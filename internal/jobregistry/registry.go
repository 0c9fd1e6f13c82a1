// Package jobregistry is a pure derived view over an objectstore.Store: it
// holds no state of its own beyond a short-lived per-call cache, and
// answers questions like "which jobs are in which state" and "which nodes
// are busy" by scanning jobstate.yml documents.
package jobregistry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mweiss17/wormulon/internal/jobstate"
	"github.com/mweiss17/wormulon/internal/objectstore"
)

// cacheTTL bounds how long a Registry reuses a previous List scan, per
// spec.md §4.3's "short-lived cache (≤ 5s) per call site".
const cacheTTL = 5 * time.Second

// Record pairs a jobstate.Record with the experiment directory / job id it
// was read from and the object's Updated timestamp (the liveness signal).
type Record struct {
	ExperimentDir string
	JobID         string
	State         jobstate.State
	TPUName       string
	Updated       time.Time
}

// Registry is the read-only view JobController/NodePool/Supervisor query.
type Registry struct {
	store objectstore.Store

	cacheAt  time.Time
	cacheAll []Record

	now func() time.Time
}

func New(store objectstore.Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// JobsByState scans every `*/jobstate.yml` under the store and returns the
// ones matching any of the given states. An empty filter list returns all
// records.
func (r *Registry) JobsByState(ctx context.Context, states ...jobstate.State) ([]Record, error) {
	all, err := r.all(ctx)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return all, nil
	}
	want := make(map[jobstate.State]bool, len(states))
	for _, s := range states {
		want[s] = true
	}
	var out []Record
	for _, rec := range all {
		if want[rec.State] {
			out = append(out, rec)
		}
	}
	return out, nil
}

// BusyTPUs returns the set of node names referenced by a jobstate.yml whose
// state is STARTING, ARMED, or RUNNING — the definition of "busy" from
// spec.md §3's invariants.
func (r *Registry) BusyTPUs(ctx context.Context) (map[string]bool, error) {
	recs, err := r.JobsByState(ctx, jobstate.Starting, jobstate.Armed, jobstate.Running)
	if err != nil {
		return nil, err
	}
	busy := make(map[string]bool, len(recs))
	for _, rec := range recs {
		if rec.TPUName != "" {
			busy[rec.TPUName] = true
		}
	}
	return busy, nil
}

// all performs (or reuses a cached) full scan of every jobstate.yml object.
func (r *Registry) all(ctx context.Context) ([]Record, error) {
	now := r.nowFn()
	if !r.cacheAt.IsZero() && now.Sub(r.cacheAt) < cacheTTL {
		return r.cacheAll, nil
	}

	metas, err := r.store.List(ctx, "")
	if err != nil {
		return nil, err
	}

	var out []Record
	for _, m := range metas {
		if !strings.HasSuffix(m.Key, "/jobstate.yml") {
			continue
		}
		body, err := r.store.Download(ctx, m.Key)
		if err != nil {
			continue
		}
		var rec jobstate.Record
		if err := yaml.Unmarshal(body, &rec); err != nil {
			continue
		}
		expDir, jobID := splitJobStateKey(m.Key)
		out = append(out, Record{
			ExperimentDir: expDir,
			JobID:         jobID,
			State:         rec.State,
			TPUName:       rec.TPUName,
			Updated:       m.Updated,
		})
	}

	r.cacheAt = now
	r.cacheAll = out
	return out, nil
}

func (r *Registry) nowFn() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

// splitJobStateKey turns "<experiment_dir>/<job_uuid>/jobstate.yml" into its
// experiment_dir and job_uuid components.
func splitJobStateKey(key string) (expDir string, jobID string) {
	trimmed := strings.TrimSuffix(key, "/jobstate.yml")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return "", trimmed
	}
	return trimmed[:idx], trimmed[idx+1:]
}

// Checkpoint is one trainstate-<step> object, as listed for an experiment.
type Checkpoint struct {
	Key     string
	Updated time.Time
}

// LatestCheckpoint returns the newest trainstate-* object under expDir,
// ordered by Updated (not by the numeric step suffix) per spec.md's
// "non-monotone keys" testable property.
func (r *Registry) LatestCheckpoint(ctx context.Context, expDir string) (Checkpoint, error) {
	prefix := strings.TrimSuffix(expDir, "/") + "/trainstate"
	metas, err := r.store.List(ctx, prefix)
	if err != nil {
		return Checkpoint{}, err
	}
	if len(metas) == 0 {
		return Checkpoint{}, fmt.Errorf("jobregistry: no checkpoint under %s", expDir)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Updated.Before(metas[j].Updated) })
	last := metas[len(metas)-1]
	return Checkpoint{Key: last.Key, Updated: last.Updated}, nil
}

// ExperimentKey is the grouping key list_experiments uses in the original
// (experiment_name, dataset_name), derived here from the experiment
// directory's path segments.
type ExperimentKey struct {
	ExperimentName string
	DatasetName    string
}

// ExperimentSummary is one row of LatestPerExperiment's output.
type ExperimentSummary struct {
	Key        ExperimentKey
	Checkpoint Checkpoint
}

// LatestPerExperiment groups every trainstate-* object by
// (experiment_name, dataset_name) and reports the latest checkpoint per
// group, the supplemented show_experiments behavior grounded on the
// original's wormulon/tpu/bucket.py: list_experiments.
func (r *Registry) LatestPerExperiment(ctx context.Context) ([]ExperimentSummary, error) {
	metas, err := r.store.List(ctx, "")
	if err != nil {
		return nil, err
	}

	groups := make(map[ExperimentKey][]objectstore.Metadata)
	for _, m := range metas {
		dir, base := splitKeyDirBase(m.Key)
		if !strings.HasPrefix(base, "trainstate-") {
			continue
		}
		key := experimentKeyFromDir(dir)
		groups[key] = append(groups[key], m)
	}

	var out []ExperimentSummary
	for key, group := range groups {
		sort.Slice(group, func(i, j int) bool { return group[i].Updated.Before(group[j].Updated) })
		last := group[len(group)-1]
		out = append(out, ExperimentSummary{
			Key:        key,
			Checkpoint: Checkpoint{Key: last.Key, Updated: last.Updated},
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.ExperimentName != out[j].Key.ExperimentName {
			return out[i].Key.ExperimentName < out[j].Key.ExperimentName
		}
		return out[i].Key.DatasetName < out[j].Key.DatasetName
	})
	return out, nil
}

func splitKeyDirBase(key string) (dir string, base string) {
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return "", key
	}
	return key[:idx], key[idx+1:]
}

// experimentKeyFromDir derives (experiment_name, dataset_name) from an
// experiment directory path of the form "<dataset>/<experiment>" or a bare
// "<experiment>" when no dataset segment is present.
func experimentKeyFromDir(dir string) ExperimentKey {
	parts := strings.Split(strings.Trim(dir, "/"), "/")
	switch len(parts) {
	case 0:
		return ExperimentKey{}
	case 1:
		return ExperimentKey{ExperimentName: parts[0]}
	default:
		return ExperimentKey{DatasetName: parts[len(parts)-2], ExperimentName: parts[len(parts)-1]}
	}
}
