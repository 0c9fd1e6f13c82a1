// Package jobspec is the immutable work-order a submitter writes to disk
// and a Supervisor discovers: everything a JobController needs to arm and
// run one distributed-rank attempt of a training job.
package jobspec

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// CloudKwargs are the node-provisioning parameters a JobController passes
// through to NodeDriver.Create, carried verbatim from submission.
type CloudKwargs struct {
	Zone            string `yaml:"zone"`
	Network         string `yaml:"network"`
	Subnet          string `yaml:"subnet"`
	Range           string `yaml:"range"`
	AcceleratorType string `yaml:"accelerator_type"`
	Preemptible     bool   `yaml:"preemptible"`
	Bucket          string `yaml:"bucket"`
	Project         string `yaml:"project"`
}

// JobSpec is the literal `<experiment_dir>/Logs/job-<rank>.yml` document,
// serialized as YAML (not pickle).
type JobSpec struct {
	JobID         string        `yaml:"job_id"`
	ExperimentDir string        `yaml:"experiment_dir"`
	TrainerName   string        `yaml:"trainer_name"`
	Setup         []string      `yaml:"setup"`
	Install       string        `yaml:"install"`
	Train         string        `yaml:"train"`
	Cleanup       []string      `yaml:"cleanup"`
	EnvStmts      []string      `yaml:"env_stmts"`
	WorldSize     int           `yaml:"world_size"`
	Rank          int           `yaml:"rank"`
	SetupTimeout  time.Duration `yaml:"setup_timeout"`
	TrainTimeout  time.Duration `yaml:"train_timeout"`
	Cloud         CloudKwargs   `yaml:"cloud"`

	// Kwargs are the trailing `tpu_submit ... -- k=v k=v` arguments, carried
	// through unmodified into the FunctionCall the JobController serializes
	// at arming time.
	Kwargs map[string]string `yaml:"kwargs"`
}

// New creates a JobSpec with a fresh job id.
func New(experimentDir, trainerName string, rank, worldSize int) JobSpec {
	return JobSpec{
		JobID:         uuid.NewString(),
		ExperimentDir: experimentDir,
		TrainerName:   trainerName,
		Rank:          rank,
		WorldSize:     worldSize,
	}
}

// Path is the on-disk location a submitter writes this JobSpec to.
func (j JobSpec) Path() string {
	return filepath.Join(j.ExperimentDir, "Logs", fmt.Sprintf("job-%d.yml", j.Rank))
}

// WriteTo serializes j as YAML to its on-disk Path, creating the Logs/
// directory if needed.
func (j JobSpec) WriteTo() error {
	body, err := yaml.Marshal(j)
	if err != nil {
		return fmt.Errorf("jobspec: marshal: %w", err)
	}
	path := j.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("jobspec: mkdir: %w", err)
	}
	return os.WriteFile(path, body, 0o644)
}

// Load reads a JobSpec from path (one glob match of `<exp_dir>/*/Logs/*.yml`).
func Load(path string) (JobSpec, error) {
	var j JobSpec
	body, err := os.ReadFile(path)
	if err != nil {
		return j, fmt.Errorf("jobspec: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(body, &j); err != nil {
		return j, fmt.Errorf("jobspec: unmarshal %s: %w", path, err)
	}
	return j, nil
}

// Discover globs `<experiment_directory>/*/Logs/*.yml` for JobSpecs, the
// Supervisor.discover step from spec.md §4.6 (the original globs `*.pkl`;
// this build's on-disk descriptor is YAML, not pickle, so the extension
// differs but the directory shape is unchanged).
func Discover(experimentDirectory string) ([]JobSpec, error) {
	matches, err := filepath.Glob(filepath.Join(experimentDirectory, "*", "Logs", "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("jobspec: glob: %w", err)
	}
	var specs []JobSpec
	for _, m := range matches {
		spec, err := Load(m)
		if err != nil {
			continue
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
