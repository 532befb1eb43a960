package taskgraph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gammazero/toposort"

	"github.com/agentsys/orchestrator/internal/errs"
)

// Graph is the mapping id -> Task plus the derived adjacency spec.md §3
// requires. It must describe a DAG; Schedule never silently drops a cycle,
// it flattens the offending nodes into the final layer instead (§4.1 and
// §9's pinned fallback).
type Graph struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	order []string // insertion order, used as the final tie-break
}

func New() *Graph {
	return &Graph{tasks: map[string]*Task{}}
}

// Add inserts a task into the graph. Dependencies may reference tasks not
// yet added; Validate reports any that never resolve, and Schedule ignores
// them.
func (g *Graph) Add(t *Task) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.tasks[t.ID]; !exists {
		g.order = append(g.order, t.ID)
	}
	g.tasks[t.ID] = t
}

// Get returns a task by id.
func (g *Graph) Get(id string) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tasks[id]
	return t, ok
}

// All returns every task in insertion order.
func (g *Graph) All() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}

// hasCycle reports whether the dependency edges contain a cycle, using
// gammazero/toposort purely as a detector: Toposort errors on any cycle
// without identifying its members, which is all Schedule's CycleDetected
// flag needs -- the layered order used for actual scheduling is computed
// separately inside Schedule, which tolerates cycles by design.
func (g *Graph) hasCycle() (bool, error) {
	edges := make([]toposort.Edge, 0)
	for _, id := range g.order {
		t := g.tasks[id]
		for dep := range t.Dependencies {
			if _, ok := g.tasks[dep]; ok {
				edges = append(edges, toposort.Edge{dep, id})
			}
		}
	}
	if len(edges) == 0 {
		return false, nil
	}
	if _, err := toposort.Toposort(edges); err != nil {
		return true, err
	}
	return false, nil
}

// Validate checks that every dependency resolves to a known task. Cycles
// are reported by Schedule (which degrades rather than erroring), not
// rejected here -- Validate only catches dangling references.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for id, t := range g.tasks {
		for dep := range t.Dependencies {
			if _, ok := g.tasks[dep]; !ok {
				return errs.New("Graph.Validate", errs.KindValidation, errs.ErrUnknownCapability,
					fmt.Sprintf("task %s depends on unknown task %s", id, dep))
			}
		}
	}
	return nil
}

// ScheduleResult is the deterministic execution order Schedule produces.
type ScheduleResult struct {
	// Layers is the topological layering: Layers[0] has no unresolved
	// dependencies, Layers[1] depends only on Layers[0], and so on.
	Layers [][]string
	// Flat is Layers flattened in scheduling order (layer asc, priority
	// desc, then insertion order) -- the order the strategy engine and
	// allocator actually consume.
	Flat []string
	// CycleDetected is true when the graph had to be degraded: any task
	// whose dependency chain could not be fully resolved is scheduled, all
	// together, as the final layer (spec.md §4.1's pinned fallback).
	CycleDetected bool
}

// Schedule computes a deterministic topological order. On an acyclic graph
// this is a standard Kahn layering with priority and insertion-order
// tie-breaks within each layer. On a cyclic graph, every task that Kahn's
// algorithm could not retire (because it is part of, or depends on, a
// cycle) is flattened into one final layer -- scheduled, never dropped.
func (g *Graph) Schedule() (*ScheduleResult, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cyclic, _ := g.hasCycle()

	indegree := make(map[string]int, len(g.tasks))
	dependents := make(map[string][]string, len(g.tasks))
	for id, t := range g.tasks {
		indegree[id] = 0
		for dep := range t.Dependencies {
			if _, ok := g.tasks[dep]; ok {
				indegree[id]++
				dependents[dep] = append(dependents[dep], id)
			}
		}
	}

	remaining := make(map[string]bool, len(g.tasks))
	for id := range g.tasks {
		remaining[id] = true
	}

	var layers [][]string
	for len(remaining) > 0 {
		var ready []string
		for id := range remaining {
			if indegree[id] == 0 {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			// Cycle: flatten whatever remains into one final layer, in
			// sortLayer's deterministic order, rather than looping
			// forever or dropping tasks.
			final := make([]string, 0, len(remaining))
			for id := range remaining {
				final = append(final, id)
			}
			g.sortLayer(final)
			layers = append(layers, final)
			break
		}
		g.sortLayer(ready)
		layers = append(layers, ready)
		for _, id := range ready {
			delete(remaining, id)
			for _, dep := range dependents[id] {
				indegree[dep]--
			}
		}
	}

	flat := make([]string, 0, len(g.tasks))
	for _, layer := range layers {
		flat = append(flat, layer...)
	}

	return &ScheduleResult{Layers: layers, Flat: flat, CycleDetected: cyclic}, nil
}

// sortLayer orders a layer by priority descending, then insertion order,
// then task id -- the tie-break spec.md §4.1 pins.
func (g *Graph) sortLayer(ids []string) {
	insertionIndex := make(map[string]int, len(g.order))
	for i, id := range g.order {
		insertionIndex[id] = i
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := g.tasks[ids[i]], g.tasks[ids[j]]
		if ti.Priority != tj.Priority {
			return ti.Priority > tj.Priority
		}
		if insertionIndex[ids[i]] != insertionIndex[ids[j]] {
			return insertionIndex[ids[i]] < insertionIndex[ids[j]]
		}
		return ids[i] < ids[j]
	})
}
