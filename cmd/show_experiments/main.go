// show_experiments lists every experiment's latest checkpoint, grouped by
// (dataset_name, experiment_name), the supplemented behavior grounded on the
// original's list_experiments.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mweiss17/wormulon/internal/jobregistry"
	"github.com/mweiss17/wormulon/internal/objectstore"
	"github.com/mweiss17/wormulon/internal/platform/logger"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: show_experiments <bucket>")
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
		fmt.Fprintf(os.Stderr, "show_experiments: logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := objectstore.NewGCSStore(log, bucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "show_experiments: %v\n", err)
		os.Exit(1)
	}
	registry := jobregistry.New(store)

	summaries, err := registry.LatestPerExperiment(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "show_experiments: %v\n", err)
		os.Exit(1)
	}

	for _, s := range summaries {
		fmt.Printf("%-20s %-20s %-50s updated=%s\n",
			s.Key.DatasetName, s.Key.ExperimentName, s.Checkpoint.Key, s.Checkpoint.Updated.Format("2006-01-02T15:04:05Z07:00"))
	}
}
