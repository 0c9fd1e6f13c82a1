// tpu_train is the node-side process the JobController's Train command
// launches over SSH: it hydrates the FunctionCall the controller wrote,
// invokes the resolved Trainer, and publishes heartbeat/checkpoint/terminal
// state back to the object store (spec.md §4.7's RemoteRunner contract).
//
// The trainer itself is out of scope: real deployments register one or more
// trainer.Factory implementations from their own packages' init() functions.
// This file imports no such package, so trainer.Default() holds only what
// some other imported package registers before main calls remoterunner.Run.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"

	"github.com/mweiss17/wormulon/internal/objectstore"
	"github.com/mweiss17/wormulon/internal/platform/config"
	"github.com/mweiss17/wormulon/internal/platform/logger"
	"github.com/mweiss17/wormulon/internal/remoterunner"
	"github.com/mweiss17/wormulon/internal/trainer"
)

func main() {
	nprocs := flag.Int("nprocs", 1, "number of local worker goroutines (one per accelerator core)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: tpu_train <bucket_name> <job_dir> [-nprocs=N]")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(1)
	}
	bucket := flag.Arg(0)
	jobDir := flag.Arg(1)

	log, err := logger.New(config.String("LOG_MODE", "production"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "tpu_train: logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := objectstore.NewGCSStore(log, bucket)
	if err != nil {
		log.Error("object store init failed", "error", err)
		os.Exit(1)
	}

	// job_dir is <experiment_dir>/<job_id> (the convention tpu_submit and
	// jobcontroller.jobDir both compute); the checkpoint/experiment-level
	// directory is one segment up from it.
	cfg := remoterunner.Config{
		JobDir:        jobDir,
		ExperimentDir: path.Dir(jobDir),
		NProcs:        *nprocs,
	}
	if err := remoterunner.Run(context.Background(), store, trainer.Default(), log, cfg); err != nil {
		log.Error("run failed", "error", err)
		os.Exit(1)
	}
}
