// Package config reads the process environment into typed values, the way
// the teacher's platform/envutil package does for a single int — extended
// here with String/Bool/Duration for the supervisor's full settings surface.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func Int(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func String(name string, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func Bool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func Duration(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Zones splits TPU_ZONES ("us-central2-b,europe-west4-a") into its
// component zones, falling back to a single-element list built from
// TPU_ZONE when TPU_ZONES is unset — most deployments only ever run in one
// zone, but show_tpus/delete_all_tpus need to fan out across however many
// are configured.
func Zones() []string {
	raw := String("TPU_ZONES", "")
	if raw == "" {
		if z := String("TPU_ZONE", ""); z != "" {
			return []string{z}
		}
		return nil
	}
	var zones []string
	for _, z := range strings.Split(raw, ",") {
		z = strings.TrimSpace(z)
		if z != "" {
			zones = append(zones, z)
		}
	}
	return zones
}

// Supervisor holds the settings spec.md §5/§6 calls out as configurable:
// nanny poll interval, heartbeat staleness timeout, SSH timeout, and the
// per-node worker concurrency (nprocs).
type Supervisor struct {
	PollInterval      time.Duration
	HeartbeatTimeout  time.Duration
	SSHTimeout        time.Duration
	WorkerConcurrency int

	Project string
	Zone    string
	Bucket  string
}

// LoadSupervisor reads a Supervisor config from the environment, defaulting
// to the values spec.md's invariants and scenarios assume (300s heartbeat
// timeout, 5s nanny loop period).
func LoadSupervisor() Supervisor {
	return Supervisor{
		PollInterval:      Duration("NANNY_POLL_INTERVAL", 5*time.Second),
		HeartbeatTimeout:  Duration("HEARTBEAT_TIMEOUT", 300*time.Second),
		SSHTimeout:        Duration("SSH_TIMEOUT", 60*time.Second),
		WorkerConcurrency: Int("WORKER_CONCURRENCY", 1),
		Project:           String("TPU_PROJECT", ""),
		Zone:              String("TPU_ZONE", ""),
		Bucket:            String("TPU_BUCKET", ""),
	}
}
