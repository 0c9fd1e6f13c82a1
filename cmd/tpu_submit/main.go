// tpu_submit writes one JobSpec per distributed rank under
// <experiment_dir>/Logs/job-<rank>.yml. It does not launch anything — the
// Supervisor discovers and arms what's written here.
//
// There's no Go analogue of the original's "import the trainer module and
// instantiate it to learn its world size/commands" step, so this build asks
// for --experiment_dir, --world_size and the node-provisioning flags
// directly instead of deriving them from a live trainer instance.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mweiss17/wormulon/internal/jobspec"
	"github.com/mweiss17/wormulon/internal/platform/config"
)

func main() {
	memGB := flag.Int("mem_gb", 0, "requested memory in GB (forwarded as a kwarg; this backend has no Slurm scheduler to consume it)")
	cpusPerTask := flag.Int("cpus_per_task", 0, "requested CPUs per task (forwarded as a kwarg)")
	slurmGres := flag.String("slurm_gres", "", "Slurm generic-resource string (forwarded as a kwarg)")
	experimentDir := flag.String("experiment_dir", "", "experiment directory this job's JobSpecs are written under")
	worldSize := flag.Int("world_size", 1, "number of distributed ranks to write one JobSpec each for")
	zone := flag.String("zone", "", "accelerator zone (defaults to TPU_ZONE)")
	acceleratorType := flag.String("accelerator_type", "", "accelerator type, e.g. v4-8")
	preemptible := flag.Bool("preemptible", false, "request a preemptible node")

	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: tpu_submit <trainer_module> <trainer_class> [flags] -- k=v k=v ...")
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	sep := len(args)
	for i, a := range args {
		if a == "--" {
			sep = i
			break
		}
	}
	positional := args[:sep]
	var trailing []string
	if sep < len(args) {
		trailing = args[sep+1:]
	}
	if len(positional) < 2 {
		flag.Usage()
		os.Exit(1)
	}
	trainerName := positional[0] + "." + positional[1]

	if strings.TrimSpace(*experimentDir) == "" {
		fmt.Fprintln(os.Stderr, "tpu_submit: --experiment_dir is required")
		os.Exit(1)
	}
	if *worldSize < 1 {
		*worldSize = 1
	}

	kwargs := map[string]string{}
	for _, kv := range trailing {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		kwargs[k] = v
	}
	if *memGB > 0 {
		kwargs["mem_gb"] = fmt.Sprint(*memGB)
	}
	if *cpusPerTask > 0 {
		kwargs["cpus_per_task"] = fmt.Sprint(*cpusPerTask)
	}
	if *slurmGres != "" {
		kwargs["slurm_gres"] = *slurmGres
	}

	cfg := config.LoadSupervisor()
	z := *zone
	if z == "" {
		z = cfg.Zone
	}

	var envStmts []string
	if key := strings.TrimSpace(os.Getenv("WANDB_API_KEY")); key != "" {
		envStmts = append(envStmts, fmt.Sprintf("export WANDB_API_KEY=%s", key))
	}

	for rank := 0; rank < *worldSize; rank++ {
		spec := jobspec.New(*experimentDir, trainerName, rank, *worldSize)
		spec.EnvStmts = envStmts
		spec.Kwargs = kwargs
		spec.Cloud = jobspec.CloudKwargs{
			Zone:            z,
			AcceleratorType: *acceleratorType,
			Preemptible:     *preemptible,
			Bucket:          cfg.Bucket,
			Project:         cfg.Project,
		}
		jobDir := strings.TrimSuffix(*experimentDir, "/") + "/" + spec.JobID
		spec.Train = fmt.Sprintf("tpu_train %s %s", cfg.Bucket, jobDir)

		if err := spec.WriteTo(); err != nil {
			fmt.Fprintf(os.Stderr, "tpu_submit: rank %d: %v\n", rank, err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s (job_id=%s)\n", spec.Path(), spec.JobID)
	}
}
