package nodedriver

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mweiss17/wormulon/internal/platform/logger"
)

// shutdownScript SIGTERMs the remote runner on preemption, giving it a
// chance to publish jobstate.yml := PREEMPTED before the VM disappears.
// Carried over from the original's TPU.create() metadata verbatim.
const shutdownScript = `#!/bin/bash
pgrep -f tpu_train | xargs -r kill -TERM
for i in $(seq 1 30); do
  pgrep -f tpu_train > /dev/null || break
  sleep 1
done
`

// GCloudDriver implements Driver by shelling out to the gcloud CLI for
// list/create/delete and speaking SSH directly for everything else.
type GCloudDriver struct {
	Zone    string
	Project string
	Log     *logger.Logger
}

func NewGCloudDriver(log *logger.Logger, project, zone string) *GCloudDriver {
	return &GCloudDriver{Zone: zone, Project: project, Log: log}
}

func (d *GCloudDriver) run(ctx context.Context, args ...string) (string, int, error) {
	cmd := exec.CommandContext(ctx, "gcloud", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return out.String(), -1, err
		}
	}
	return out.String(), exitCode, nil
}

func (d *GCloudDriver) withRetry(ctx context.Context, op func() (string, int, error)) (string, int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	result, err := backoff.Retry(ctx, func() (struct {
		out  string
		code int
	}, error) {
		out, code, err := op()
		if err != nil {
			return struct {
				out  string
				code int
			}{out, code}, err
		}
		return struct {
			out  string
			code int
		}{out, code}, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(6),
	)
	return result.out, result.code, err
}

func (d *GCloudDriver) List(ctx context.Context) ([]NodeInfo, error) {
	out, code, err := d.withRetry(ctx, func() (string, int, error) {
		return d.run(ctx, "alpha", "compute", "tpus", "tpu-vm", "list",
			"--format=value(NAME,STATE)", "--zone", d.Zone, "--project", d.Project)
	})
	if err != nil {
		return nil, &Error{Code: CodeControlPlane, Err: err}
	}
	if code != 0 {
		return nil, &Error{Code: CodeControlPlane, ExitCode: code, Err: fmt.Errorf("gcloud list: rc=%d: %s", code, out)}
	}

	var nodes []NodeInfo
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		nodes = append(nodes, NodeInfo{Name: fields[0], Ready: strings.EqualFold(fields[1], "READY")})
	}
	return nodes, nil
}

func (d *GCloudDriver) Create(ctx context.Context, name string) error {
	out, code, err := d.withRetry(ctx, func() (string, int, error) {
		return d.run(ctx, "alpha", "compute", "tpus", "tpu-vm", "create", name,
			"--zone", d.Zone, "--project", d.Project,
			"--metadata", "shutdown-script="+shutdownScript)
	})
	if err != nil {
		return &Error{Code: CodeControlPlane, Node: name, Err: err}
	}
	if code != 0 {
		return &Error{Code: CodeControlPlane, Node: name, ExitCode: code, Err: fmt.Errorf("gcloud create: rc=%d: %s", code, out)}
	}
	return nil
}

func (d *GCloudDriver) Delete(ctx context.Context, name string) error {
	out, code, err := d.withRetry(ctx, func() (string, int, error) {
		return d.run(ctx, "alpha", "compute", "tpus", "tpu-vm", "delete", name,
			"--zone", d.Zone, "--project", d.Project, "--async", "--quiet")
	})
	if err != nil {
		return &Error{Code: CodeControlPlane, Node: name, Err: err}
	}
	if code != 0 {
		return &Error{Code: CodeControlPlane, Node: name, ExitCode: code, Err: fmt.Errorf("gcloud delete: rc=%d: %s", code, out)}
	}
	return nil
}

func (d *GCloudDriver) IP(ctx context.Context, name string) (string, error) {
	out, code, err := d.withRetry(ctx, func() (string, int, error) {
		return d.run(ctx, "compute", "tpus", "describe", name,
			"--zone", d.Zone, "--project", d.Project,
			"--format=value(networkEndpoints[0].ipAddress)")
	})
	if err != nil {
		return "", &Error{Code: CodeControlPlane, Node: name, Err: err}
	}
	if code != 0 {
		return "", &Error{Code: CodeControlPlane, Node: name, ExitCode: code, Err: fmt.Errorf("gcloud describe: rc=%d: %s", code, out)}
	}
	ip := strings.TrimSpace(out)
	if ip == "" {
		return "", &Error{Code: CodeControlPlane, Node: name, Err: fmt.Errorf("empty IP for node %s", name)}
	}
	return ip, nil
}

// NumericSuffix extracts the trailing integer from a node name like
// "myproject-7" -> 7, used by NodePool's name-allocation algorithm.
func NumericSuffix(name string) (int, bool) {
	i := strings.LastIndex(name, "-")
	if i < 0 || i == len(name)-1 {
		return 0, false
	}
	n, err := strconv.Atoi(name[i+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}
