// cleanup_jobs marks every job matching --filter as FAILURE, or with --wipe
// deletes its whole object-store prefix outright — the supplemented
// behavior original_source/ calls cleanup_tpu_jobs that the distilled spec
// dropped.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mweiss17/wormulon/internal/jobregistry"
	"github.com/mweiss17/wormulon/internal/jobstate"
	"github.com/mweiss17/wormulon/internal/objectstore"
	"github.com/mweiss17/wormulon/internal/platform/logger"
)

func main() {
	filter := flag.String("filter", "", "only affect jobs in this state (e.g. RUNNING, FAILURE); empty means every job")
	wipe := flag.Bool("wipe", false, "delete each matched job's whole object-store prefix instead of marking it FAILURE")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: cleanup_jobs <bucket> [--filter=STATE] [--wipe]")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	bucket := flag.Arg(0)

	log, err := logger.New("production")
	if err != nil {
		fmt.Fprintf(os.Stderr, "cleanup_jobs: logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := objectstore.NewGCSStore(log, bucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cleanup_jobs: %v\n", err)
		os.Exit(1)
	}
	registry := jobregistry.New(store)

	var states []jobstate.State
	if *filter != "" {
		s, ok := jobstate.Parse(*filter)
		if !ok {
			fmt.Fprintf(os.Stderr, "cleanup_jobs: unknown state %q\n", *filter)
			os.Exit(1)
		}
		states = append(states, s)
	}

	ctx := context.Background()
	recs, err := registry.JobsByState(ctx, states...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cleanup_jobs: %v\n", err)
		os.Exit(1)
	}

	var failed bool
	for _, rec := range recs {
		jobDir := rec.ExperimentDir + "/" + rec.JobID
		if *wipe {
			if err := store.DeletePrefix(ctx, jobDir+"/"); err != nil {
				fmt.Fprintf(os.Stderr, "cleanup_jobs: wipe %s: %v\n", jobDir, err)
				failed = true
				continue
			}
			fmt.Printf("wiped %s\n", jobDir)
			continue
		}

		body, err := yaml.Marshal(jobstate.Record{State: jobstate.Failure, TPUName: rec.TPUName})
		if err != nil {
			fmt.Fprintf(os.Stderr, "cleanup_jobs: marshal %s: %v\n", jobDir, err)
			failed = true
			continue
		}
		if err := store.Upload(ctx, jobDir+"/jobstate.yml", body); err != nil {
			fmt.Fprintf(os.Stderr, "cleanup_jobs: mark failed %s: %v\n", jobDir, err)
			failed = true
			continue
		}
		fmt.Printf("marked FAILURE %s\n", jobDir)
	}
	if failed {
		os.Exit(1)
	}
}
