// show_jobs lists every job's current state from jobstate.yml, optionally
// filtered to a single state.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/mweiss17/wormulon/internal/jobregistry"
	"github.com/mweiss17/wormulon/internal/jobstate"
	"github.com/mweiss17/wormulon/internal/objectstore"
	"github.com/mweiss17/wormulon/internal/platform/logger"
)

func main() {
	filter := flag.String("filter", "", "only show jobs in this state (e.g. RUNNING, FAILURE)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: show_jobs <bucket> [--filter=STATE]")
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
		fmt.Fprintf(os.Stderr, "show_jobs: logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := objectstore.NewGCSStore(log, bucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "show_jobs: %v\n", err)
		os.Exit(1)
	}
	registry := jobregistry.New(store)

	var states []jobstate.State
	if *filter != "" {
		s, ok := jobstate.Parse(*filter)
		if !ok {
			fmt.Fprintf(os.Stderr, "show_jobs: unknown state %q\n", *filter)
			os.Exit(1)
		}
		states = append(states, s)
	}

	ctx := context.Background()
	recs, err := registry.JobsByState(ctx, states...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "show_jobs: %v\n", err)
		os.Exit(1)
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].ExperimentDir != recs[j].ExperimentDir {
			return recs[i].ExperimentDir < recs[j].ExperimentDir
		}
		return recs[i].JobID < recs[j].JobID
	})

	for _, rec := range recs {
		fmt.Printf("%-8s %-36s %-20s tpu=%s updated=%s\n",
			rec.State, rec.JobID, rec.ExperimentDir, rec.TPUName, rec.Updated.Format("2006-01-02T15:04:05Z07:00"))
	}
}
