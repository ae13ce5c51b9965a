// Package dagcore builds and validates the dependency graph of a workflow
// and answers the structural queries the scheduler needs: readiness,
// levels, critical path, and transitive reachability.
//
// Grounded on original_source/baselines/CLI-011/src/dag.py's DAGAnalyzer
// (built on networkx); reimplemented here over plain maps/slices since no
// pack example carries an embeddable generic graph library.
package dagcore

import (
	"fmt"
	"sort"

	"github.com/robfig/cron/v3"

	"skeenode/pkg/models"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Graph is the validated, analyzable dependency graph of one workflow.
type Graph struct {
	jobs  map[string]models.JobDefinition
	order []string // insertion order, for deterministic iteration

	// edges[dep] = set of dependents that require dep to succeed first.
	edges map[string]map[string]struct{}

	levels    map[string]int
	validated bool
	valid     bool
	errs      []string
}

// ValidationError aggregates the human-readable errors produced by
// Validate, mirroring dag.py's List[str] of error messages.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0]
	}
	return fmt.Sprintf("%d validation errors, first: %s", len(e.Errors), e.Errors[0])
}

// Build constructs the graph from a workflow's job list in O(V+E). It
// never fails; structural problems are surfaced by Validate.
func Build(jobs []models.JobDefinition) *Graph {
	g := &Graph{
		jobs:  make(map[string]models.JobDefinition, len(jobs)),
		order: make([]string, 0, len(jobs)),
		edges: make(map[string]map[string]struct{}),
	}
	for _, j := range jobs {
		g.jobs[j.ID] = j
		g.order = append(g.order, j.ID)
		if _, ok := g.edges[j.ID]; !ok {
			g.edges[j.ID] = make(map[string]struct{})
		}
	}
	for _, j := range jobs {
		for _, dep := range j.Dependencies {
			if _, ok := g.jobs[dep]; !ok {
				continue // reported by Validate, not an edge
			}
			g.edges[dep][j.ID] = struct{}{}
		}
	}
	return g
}

// Validate checks acyclicity, dependency presence, and self-dependency,
// and as an additional structural check (per SPEC_FULL §10) flags any job
// whose own declared memory reservation alone could never be admitted
// under the global ceiling.
func (g *Graph) Validate(globalLimits models.ResourceLimits) (bool, []string) {
	var errs []string

	seen := make(map[string]struct{})
	for _, j := range g.order {
		if _, dup := seen[j]; dup {
			errs = append(errs, fmt.Sprintf("job '%s' is defined more than once", j))
		}
		seen[j] = struct{}{}
	}

	for _, id := range g.order {
		job := g.jobs[id]
		for _, dep := range job.Dependencies {
			if dep == id {
				errs = append(errs, fmt.Sprintf("job '%s' cannot depend on itself", id))
				continue
			}
			if _, ok := g.jobs[dep]; !ok {
				errs = append(errs, fmt.Sprintf("job '%s' depends on non-existent job '%s'", id, dep))
			}
		}
		if globalLimits.MaxMemoryMB > 0 && job.Limits.MaxMemoryMB > globalLimits.MaxMemoryMB {
			errs = append(errs, fmt.Sprintf("job '%s' declares max_memory_mb=%d which exceeds the global ceiling %d and could never be admitted", id, job.Limits.MaxMemoryMB, globalLimits.MaxMemoryMB))
		}
		if job.Schedule != "" {
			if _, err := cronParser.Parse(job.Schedule); err != nil {
				errs = append(errs, fmt.Sprintf("job '%s' has an invalid cron schedule '%s': %v", id, job.Schedule, err))
			}
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		chain := ""
		for i, n := range cycle {
			if i > 0 {
				chain += " -> "
			}
			chain += n
		}
		errs = append(errs, fmt.Sprintf("circular dependency detected: %s", chain))
	}

	g.validated = true
	g.valid = len(errs) == 0
	g.errs = errs

	if g.valid {
		g.levels = g.computeLevels()
	}

	return g.valid, errs
}

// findCycle attempts a topological sort via Kahn's algorithm; any node left
// unvisited with nonzero in-degree belongs to a cycle, per spec.md §4.1.
// It returns one participating chain, or nil if the graph is acyclic.
func (g *Graph) findCycle() []string {
	indeg := make(map[string]int, len(g.order))
	for _, id := range g.order {
		indeg[id] = 0
	}
	for _, dependents := range g.edges {
		for d := range dependents {
			indeg[d]++
		}
	}

	queue := make([]string, 0)
	for _, id := range g.order {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := make(map[string]struct{})
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited[n] = struct{}{}
		next := make([]string, 0)
		for d := range g.edges[n] {
			indeg[d]--
			if indeg[d] == 0 {
				next = append(next, d)
			}
		}
		sort.Strings(next)
		queue = append(queue, next...)
	}

	if len(visited) == len(g.order) {
		return nil
	}

	// Walk the remaining subgraph to report one participating chain.
	var remaining []string
	for _, id := range g.order {
		if _, ok := visited[id]; !ok {
			remaining = append(remaining, id)
		}
	}
	sort.Strings(remaining)
	start := remaining[0]
	chain := []string{start}
	cur := start
	seen := map[string]bool{start: true}
	for {
		next := ""
		for dep := range g.edges {
			if _, hit := g.edges[dep][cur]; hit {
				if _, unresolved := visited[dep]; !unresolved {
					next = dep
					break
				}
			}
		}
		if next == "" || seen[next] {
			chain = append(chain, next)
			break
		}
		chain = append(chain, next)
		seen[next] = true
		cur = next
	}
	// reverse: we walked dependent->dependency, the natural read is dep->dependent
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// computeLevels assigns each node a level equal to 1 + max level of its
// predecessors (sources are level 0), processing nodes in a topological
// order. Levels are informational only — they never constrain dispatch.
func (g *Graph) computeLevels() map[string]int {
	preds := make(map[string][]string, len(g.order))
	indeg := make(map[string]int, len(g.order))
	for _, id := range g.order {
		indeg[id] = 0
	}
	for dep, dependents := range g.edges {
		for d := range dependents {
			preds[d] = append(preds[d], dep)
			indeg[d]++
		}
	}

	levels := make(map[string]int, len(g.order))
	queue := make([]string, 0)
	for _, id := range g.order {
		if indeg[id] == 0 {
			queue = append(queue, id)
			levels[id] = 0
		}
	}
	sort.Strings(queue)

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		next := make([]string, 0)
		for d := range g.edges[n] {
			if levels[n]+1 > levels[d] {
				levels[d] = levels[n] + 1
			}
			indeg[d]--
			if indeg[d] == 0 {
				next = append(next, d)
			}
		}
		sort.Strings(next)
		queue = append(queue, next...)
	}
	return levels
}

// Metadata returns the structural summary of the graph. On an invalid
// graph it returns all-zero metadata with HasCycles set, per spec.md §4.1.
func (g *Graph) Metadata() models.DAGMetadata {
	if !g.validated {
		return models.DAGMetadata{TotalJobs: len(g.jobs)}
	}
	if !g.valid {
		return models.DAGMetadata{HasCycles: true}
	}

	levelCounts := make(map[int]int)
	maxLevel := 0
	for _, lvl := range g.levels {
		levelCounts[lvl]++
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}
	maxParallelism := 0
	for _, count := range levelCounts {
		if count > maxParallelism {
			maxParallelism = count
		}
	}

	return models.DAGMetadata{
		TotalJobs:          len(g.jobs),
		Levels:             maxLevel + 1,
		CriticalPathLength: g.criticalPathLength(),
		MaxParallelism:     maxParallelism,
		HasCycles:          false,
	}
}

// criticalPathLength returns the longest path in edges through the DAG.
func (g *Graph) criticalPathLength() int {
	longest := make(map[string]int, len(g.order))
	order := g.topoOrder()
	best := 0
	for _, n := range order {
		for d := range g.edges[n] {
			if longest[n]+1 > longest[d] {
				longest[d] = longest[n] + 1
			}
			if longest[d] > best {
				best = longest[d]
			}
		}
	}
	return best
}

func (g *Graph) topoOrder() []string {
	indeg := make(map[string]int, len(g.order))
	for _, id := range g.order {
		indeg[id] = 0
	}
	for _, dependents := range g.edges {
		for d := range dependents {
			indeg[d]++
		}
	}
	queue := make([]string, 0)
	for _, id := range g.order {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)
	var out []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		out = append(out, n)
		next := make([]string, 0)
		for d := range g.edges[n] {
			indeg[d]--
			if indeg[d] == 0 {
				next = append(next, d)
			}
		}
		sort.Strings(next)
		queue = append(queue, next...)
	}
	return out
}

// Ready returns the job ids that are pending, not unreachable, and whose
// every dependency is in completed — per spec.md §4.1's ready set query.
// Results are sorted by insertion order for deterministic dispatch.
func (g *Graph) Ready(completed, unreachable map[string]struct{}, pending map[string]struct{}) []string {
	var ready []string
	for _, id := range g.order {
		if _, isPending := pending[id]; !isPending {
			continue
		}
		if _, blocked := unreachable[id]; blocked {
			continue
		}
		allDepsDone := true
		for _, dep := range g.jobs[id].Dependencies {
			if _, ok := completed[dep]; !ok {
				allDepsDone = false
				break
			}
		}
		if allDepsDone {
			ready = append(ready, id)
		}
	}
	sort.SliceStable(ready, func(i, k int) bool {
		return g.jobs[ready[i]].Seq() < g.jobs[ready[k]].Seq()
	})
	return ready
}

// BlockedPending returns, among the given pending ids, those that have at
// least one dependency in unreachable — the set the scheduler must move to
// skipped.
func (g *Graph) BlockedPending(pending, unreachable map[string]struct{}) []string {
	var blocked []string
	for id := range pending {
		job, ok := g.jobs[id]
		if !ok {
			continue
		}
		for _, dep := range job.Dependencies {
			if _, isUnreachable := unreachable[dep]; isUnreachable {
				blocked = append(blocked, id)
				break
			}
		}
	}
	sort.SliceStable(blocked, func(i, k int) bool {
		return g.jobs[blocked[i]].Seq() < g.jobs[blocked[k]].Seq()
	})
	return blocked
}

// Dependents returns the direct dependents of a job.
func (g *Graph) Dependents(jobID string) []string {
	var out []string
	for d := range g.edges[jobID] {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Dependencies returns the direct dependencies of a job.
func (g *Graph) Dependencies(jobID string) []string {
	job, ok := g.jobs[jobID]
	if !ok {
		return nil
	}
	out := append([]string(nil), job.Dependencies...)
	sort.Strings(out)
	return out
}

// TransitiveDependents returns every job reachable by following dependency
// edges forward from jobID (its descendants).
func (g *Graph) TransitiveDependents(jobID string) map[string]struct{} {
	out := make(map[string]struct{})
	var visit func(string)
	visit = func(n string) {
		for d := range g.edges[n] {
			if _, ok := out[d]; ok {
				continue
			}
			out[d] = struct{}{}
			visit(d)
		}
	}
	visit(jobID)
	return out
}

// TransitiveDependencies returns every job jobID transitively depends on
// (its ancestors).
func (g *Graph) TransitiveDependencies(jobID string) map[string]struct{} {
	out := make(map[string]struct{})
	var visit func(string)
	visit = func(n string) {
		job, ok := g.jobs[n]
		if !ok {
			return
		}
		for _, dep := range job.Dependencies {
			if _, ok := out[dep]; ok {
				continue
			}
			out[dep] = struct{}{}
			visit(dep)
		}
	}
	visit(jobID)
	return out
}

// SimulateTimeline projects a what-if parallel execution order assuming
// every job takes one unit of time, bounded by maxParallel concurrent
// slots. Supplemented from original_source's dag.py simulate_execution;
// it is a pure read-only planning aid, never consulted by real dispatch.
func (g *Graph) SimulateTimeline(maxParallel int) []string {
	if maxParallel < 1 {
		maxParallel = 1
	}
	completed := make(map[string]struct{})
	pending := make(map[string]struct{}, len(g.order))
	for _, id := range g.order {
		pending[id] = struct{}{}
	}
	running := make(map[string]int) // job -> remaining ticks (always 1)
	var timeline []string

	for len(completed) < len(g.order) {
		for id := range running {
			completed[id] = struct{}{}
			delete(pending, id)
			delete(running, id)
			timeline = append(timeline, fmt.Sprintf("completed:%s", id))
		}
		ready := g.Ready(completed, nil, pending)
		slots := maxParallel - len(running)
		for i := 0; i < slots && i < len(ready); i++ {
			running[ready[i]] = 1
			timeline = append(timeline, fmt.Sprintf("started:%s", ready[i]))
		}
		if len(running) == 0 && len(ready) == 0 && len(completed) < len(g.order) {
			break // remaining jobs are unreachable; not this function's concern
		}
	}
	return timeline
}
