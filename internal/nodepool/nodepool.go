// Package nodepool implements the ready/busy node-set bookkeeping and the
// acquire(n) allocation algorithm from spec.md §4.4, scoped to a single
// (zone, project).
package nodepool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mweiss17/wormulon/internal/jobregistry"
	"github.com/mweiss17/wormulon/internal/nodedriver"
)

// NodePool tracks ready nodes and hands them out to JobControllers. Most of
// its view is re-derived fresh from NodeDriver.List and jobregistry.BusyTPUs
// on every Acquire call, so two NodePool instances (e.g. two supervisor
// processes) observe consistent-ish state without locking across processes —
// per spec.md §4.4's "tie-break: arbitrary" note. The one piece of state it
// does keep in-process is pending: the names it has itself just told the
// driver to create but that List hasn't reflected back yet.
type NodePool struct {
	mu       sync.Mutex
	driver   nodedriver.Driver
	registry *jobregistry.Registry
	project  string

	// pending is the "created-but-not-yet-visible" tracking set spec.md §3's
	// NodePool row and §4.4 call for. A cloud control plane can take seconds
	// to make a just-created node show up in List (GCloudDriver's own
	// backoff/retry exists to tolerate exactly this). Without remembering
	// names minted here, a second Acquire racing that lag would recompute
	// the same max-suffix-plus-one and hand two callers the identical node
	// name.
	pending map[string]bool
}

func New(driver nodedriver.Driver, registry *jobregistry.Registry, project string) *NodePool {
	return &NodePool{driver: driver, registry: registry, project: project, pending: make(map[string]bool)}
}

// Acquire returns up to n nodes that are READY and not currently referenced
// by a busy jobstate.yml, creating fresh nodes to make up any shortfall.
// New node names are allocated by scanning every known name's numeric
// suffix -- List's and pending's alike -- and using max+1, exactly as
// wormulon/tpu/tpu_manager.py: get_tpus does.
func (p *NodePool) Acquire(ctx context.Context, n int) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n <= 0 {
		return nil, nil
	}

	nodes, err := p.driver.List(ctx)
	if err != nil {
		return nil, err
	}
	busy, err := p.registry.BusyTPUs(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(nodes))
	var available []string
	maxID := -1
	for _, node := range nodes {
		seen[node.Name] = true
		if id, ok := nodedriver.NumericSuffix(node.Name); ok && id > maxID {
			maxID = id
		}
		if node.Ready && !busy[node.Name] {
			available = append(available, node.Name)
		}
	}

	// Reconcile pending: a name List now reports is no longer ahead of the
	// control plane, so stop tracking it. Anything still missing keeps its
	// numeric suffix folded into maxID so the mint loop below can't pick the
	// same name again.
	for name := range p.pending {
		if seen[name] {
			delete(p.pending, name)
			continue
		}
		if id, ok := nodedriver.NumericSuffix(name); ok && id > maxID {
			maxID = id
		}
	}
	sort.Strings(available)

	var acquired []string
	for len(acquired) < n && len(available) > 0 {
		acquired = append(acquired, available[0])
		available = available[1:]
	}

	for len(acquired) < n {
		maxID++
		name := fmt.Sprintf("%s-%d", p.project, maxID)
		if err := p.driver.Create(ctx, name); err != nil {
			return acquired, err
		}
		p.pending[name] = true
		acquired = append(acquired, name)
	}

	return acquired, nil
}
