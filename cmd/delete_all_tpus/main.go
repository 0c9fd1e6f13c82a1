// delete_all_tpus tears down every node reported READY across the
// configured zones, whether or not a job is currently running on it. Nodes
// that are not READY are left alone.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mweiss17/wormulon/internal/nodedriver"
	"github.com/mweiss17/wormulon/internal/platform/config"
	"github.com/mweiss17/wormulon/internal/platform/logger"
)

func main() {
	log, err := logger.New("production")
	if err != nil {
		fmt.Fprintf(os.Stderr, "delete_all_tpus: logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.LoadSupervisor()
	zones := config.Zones()
	if len(zones) == 0 {
		fmt.Fprintln(os.Stderr, "delete_all_tpus: no zones configured (set TPU_ZONE or TPU_ZONES)")
		os.Exit(1)
	}

	ctx := context.Background()
	var failed bool
	for _, zone := range zones {
		driver := nodedriver.NewGCloudDriver(log, cfg.Project, zone)
		nodes, err := driver.List(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "delete_all_tpus: zone %s: list: %v\n", zone, err)
			failed = true
			continue
		}
		for _, n := range nodes {
			if !n.Ready {
				continue
			}
			if err := driver.Delete(ctx, n.Name); err != nil {
				fmt.Fprintf(os.Stderr, "delete_all_tpus: zone %s: delete %s: %v\n", zone, n.Name, err)
				failed = true
				continue
			}
			fmt.Printf("deleted %s %s\n", zone, n.Name)
		}
	}
	if failed {
		os.Exit(1)
	}
}
