package jobcontroller

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mweiss17/wormulon/internal/nodedriver"
)

// collectorTags are appended to every line this collector writes, matching
// spec.md §4.5's "tagged with name, node, clock, rank".
type collectorTags struct {
	Name string
	Node string
	Rank int
}

// logCollector tails a StreamHandle's output into
// <experiment_dir>/Logs/job-log.txt (stdout) and job-err.txt (stderr).
func logCollector(experimentDir string, tags collectorTags, handle *nodedriver.StreamHandle) error {
	logsDir := filepath.Join(experimentDir, "Logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("logcollector: mkdir: %w", err)
	}

	outFile, err := os.OpenFile(filepath.Join(logsDir, "job-log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logcollector: open job-log.txt: %w", err)
	}
	defer outFile.Close()

	errFile, err := os.OpenFile(filepath.Join(logsDir, "job-err.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logcollector: open job-err.txt: %w", err)
	}
	defer errFile.Close()

	for line := range handle.Lines {
		dst := outFile
		if line.Stderr {
			dst = errFile
		}
		fmt.Fprintf(dst, "[%s name=%s node=%s rank=%d] %s\n",
			time.Now().UTC().Format(time.RFC3339), tags.Name, tags.Node, tags.Rank, line.Text)
	}
	return nil
}
