// show_tpus lists every accelerator node across the configured zones
// (TPU_ZONES, or TPU_ZONE as a single-zone fallback).
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
		fmt.Fprintf(os.Stderr, "show_tpus: logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.LoadSupervisor()
	zones := config.Zones()
	if len(zones) == 0 {
		fmt.Fprintln(os.Stderr, "show_tpus: no zones configured (set TPU_ZONE or TPU_ZONES)")
		os.Exit(1)
	}

	ctx := context.Background()
	var failed bool
	for _, zone := range zones {
		driver := nodedriver.NewGCloudDriver(log, cfg.Project, zone)
		nodes, err := driver.List(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "show_tpus: zone %s: %v\n", zone, err)
			failed = true
			continue
		}
		for _, n := range nodes {
			fmt.Printf("%-20s %-40s ready=%v\n", zone, n.Name, n.Ready)
		}
	}
	if failed {
		os.Exit(1)
	}
}
