package rule

import (
	"container/heap"
	"os"
	"sort"
)

type node struct {
	rule     *Rule
	index    int // canonical index
	outgoing []int
	incoming []int
	indeg    int
}

// Graph is an immutable, validated DAG of Rules. Safe for concurrent reads
// once constructed, following the teacher's TaskGraph contract.
type Graph struct {
	byName map[string]*node
	nodes  []*node // canonical order: sorted by name
}

// Builder accumulates Rules via AddRule before a single Validate/Build pass,
// mirroring the engine-input contract of spec.md §6: "a single function
// add_rule(Rule)".
type Builder struct {
	rules []*Rule
	seen  map[string]bool
}

// NewBuilder creates an empty rule-graph builder.
func NewBuilder() *Builder {
	return &Builder{seen: make(map[string]bool)}
}

// AddRule registers a Rule. Duplicate names are rejected immediately
// (Invariant D1), before any graph-wide validation runs.
func (b *Builder) AddRule(r Rule) error {
	if err := r.Validate(); err != nil {
		return invalidRule(r.Name, err)
	}
	if b.seen[r.Name] {
		return duplicateRule(r.Name)
	}
	b.seen[r.Name] = true
	rc := r
	b.rules = append(b.rules, &rc)
	return nil
}

// Build validates the accumulated rules and returns the finished Graph.
// Validation order follows §4.4: dependency resolution, acyclicity, output
// disjointness (D3), then input coverage (D4).
func (b *Builder) Build() (*Graph, error) {
	names := make([]string, 0, len(b.rules))
	byName := make(map[string]*node, len(b.rules))
	for _, r := range b.rules {
		names = append(names, r.Name)
	}
	sort.Strings(names)

	rulesByName := make(map[string]*Rule, len(b.rules))
	for _, r := range b.rules {
		rulesByName[r.Name] = r
	}

	nodes := make([]*node, 0, len(names))
	for i, name := range names {
		n := &node{rule: rulesByName[name], index: i}
		byName[name] = n
		nodes = append(nodes, n)
	}

	// Resolve dependencies -> edges.
	for _, n := range nodes {
		for _, dep := range n.rule.Dependencies {
			dn, ok := byName[dep]
			if !ok {
				return nil, unknownDependency(n.rule.Name, dep)
			}
			n.incoming = append(n.incoming, dn.index)
			dn.outgoing = append(dn.outgoing, n.index)
			n.indeg++
		}
	}
	for _, n := range nodes {
		sort.Ints(n.incoming)
		sort.Ints(n.outgoing)
	}

	g := &Graph{byName: byName, nodes: nodes}

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}
	if err := g.validateOutputDisjoint(); err != nil {
		return nil, err
	}
	if err := g.validateInputCoverage(); err != nil {
		return nil, err
	}

	return g, nil
}

// Rule returns the named rule, or nil if absent.
func (g *Graph) Rule(name string) (*Rule, bool) {
	n, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return n.rule, true
}

// Rules returns all rules in canonical (name-sorted) order.
func (g *Graph) Rules() []*Rule {
	out := make([]*Rule, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.rule
	}
	return out
}

// Dependents returns the names of rules that directly depend on name.
func (g *Graph) Dependents(name string) []string {
	n, ok := g.byName[name]
	if !ok {
		return nil
	}
	out := make([]string, len(n.outgoing))
	for i, idx := range n.outgoing {
		out[i] = g.nodes[idx].rule.Name
	}
	return out
}

// Dependencies returns the names of rules that name directly depends on.
func (g *Graph) Dependencies(name string) []string {
	n, ok := g.byName[name]
	if !ok {
		return nil
	}
	out := make([]string, len(n.incoming))
	for i, idx := range n.incoming {
		out[i] = g.nodes[idx].rule.Name
	}
	return out
}

// TopologicalOrder returns a deterministic topological ordering of rule
// names, computed with Kahn's algorithm over a canonical-index min-heap —
// identical in shape to the teacher's dag.topoOrderIndices.
func (g *Graph) TopologicalOrder() []string {
	order := g.topoOrderIndices()
	names := make([]string, len(order))
	for i, idx := range order {
		names[i] = g.nodes[idx].rule.Name
	}
	return names
}

type intMinHeap []int

func (h intMinHeap) Len() int            { return len(h) }
func (h intMinHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)         { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (g *Graph) topoOrderIndices() []int {
	indeg := make([]int, len(g.nodes))
	for i, n := range g.nodes {
		indeg[i] = n.indeg
	}

	ready := &intMinHeap{}
	heap.Init(ready)
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(g.nodes))
	for ready.Len() > 0 {
		u := heap.Pop(ready).(int)
		out = append(out, u)
		for _, v := range g.nodes[u].outgoing {
			indeg[v]--
			if indeg[v] == 0 {
				heap.Push(ready, v)
			}
		}
	}
	return out
}

func (g *Graph) validateAcyclic() error {
	order := g.topoOrderIndices()
	if len(order) == len(g.nodes) {
		return nil
	}
	return cycleDetected(g.findCycleWitness())
}

// findCycleWitness performs a deterministic DFS to extract one cycle path
// for error reporting, matching dag.findCycleDeterministic.
func (g *Graph) findCycleWitness() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(g.nodes))
	parent := make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.nodes[u].outgoing {
			if color[v] == white {
				parent[v] = u
				if dfs(v) {
					return true
				}
				continue
			}
			if color[v] == gray {
				cycle = append(cycle, v)
				cur := u
				for cur != -1 && cur != v {
					cycle = append(cycle, cur)
					cur = parent[cur]
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range g.nodes {
		if color[i] == white && dfs(i) {
			break
		}
	}
	if len(cycle) == 0 {
		return nil
	}

	out := make([]string, len(cycle))
	for i, idx := range cycle {
		out[len(cycle)-1-i] = g.nodes[idx].rule.Name
	}
	return out
}

// validateOutputDisjoint enforces Invariant D3.
func (g *Graph) validateOutputDisjoint() error {
	owner := make(map[string]string, len(g.nodes)*2)
	for _, n := range g.nodes {
		for _, out := range n.rule.Outputs {
			if prev, exists := owner[out]; exists {
				return outputCollision(prev, n.rule.Name, out)
			}
			owner[out] = n.rule.Name
		}
	}
	return nil
}

// validateInputCoverage enforces Invariant D4: every input either exists on
// disk at validation time, or is produced by a transitively reachable
// dependency.
func (g *Graph) validateInputCoverage() error {
	for _, n := range g.nodes {
		producedByDep := make(map[string]bool)
		g.collectTransitiveOutputs(n, producedByDep)

		for _, in := range n.rule.Inputs {
			if producedByDep[in] {
				continue
			}
			if _, err := os.Stat(in); err == nil {
				continue
			}
			return missingInput(n.rule.Name, in)
		}
	}
	return nil
}

// Depth returns the rule's longest-path distance from a root (a rule with no
// dependencies): roots are depth 0, and every other rule is one more than
// the deepest of its direct dependencies. The scheduler does not use it; it
// dispatches a rule as soon as its remaining-dependency count reaches zero.
func (g *Graph) Depth(name string) (int, bool) {
	n, ok := g.byName[name]
	if !ok {
		return 0, false
	}
	return g.depthOf(n.index), true
}

func (g *Graph) depthOf(idx int) int {
	n := g.nodes[idx]
	if len(n.incoming) == 0 {
		return 0
	}
	max := 0
	for _, p := range n.incoming {
		if d := g.depthOf(p); d > max {
			max = d
		}
	}
	return max + 1
}

// Select returns the smallest subgraph containing every rule matching
// targets/components plus their full transitive dependency closure, per
// §4.4's filtering semantics. Empty targets/components match every rule on
// that axis (no filtering by that axis), and a rule with an empty Target
// matches any target filter.
func (g *Graph) Select(targets, components []string) *Graph {
	targetSet := toSet(targets)
	componentSet := toSet(components)

	matches := func(n *node) bool {
		if len(targetSet) > 0 && n.rule.Target != "" && !targetSet[n.rule.Target] {
			return false
		}
		if len(componentSet) > 0 && !componentSet[n.rule.Component] {
			return false
		}
		return true
	}

	keep := make(map[int]bool, len(g.nodes))
	var include func(idx int)
	include = func(idx int) {
		if keep[idx] {
			return
		}
		keep[idx] = true
		for _, p := range g.nodes[idx].incoming {
			include(p)
		}
	}
	for i, n := range g.nodes {
		if matches(n) {
			include(i)
		}
	}

	b := NewBuilder()
	for i, n := range g.nodes {
		if keep[i] {
			rc := *n.rule
			_ = b.AddRule(rc) // already validated once; cannot fail here
		}
	}
	sub, err := b.Build()
	if err != nil {
		// The parent graph was already validated; a subgraph of it (same
		// rules, same edges restricted to kept nodes) cannot reintroduce a
		// cycle, collision, or missing input. Treat failure as unreachable.
		panic("rule: subgraph validation failed on an already-valid graph: " + err.Error())
	}
	return sub
}

func toSet(vals []string) map[string]bool {
	if len(vals) == 0 {
		return nil
	}
	out := make(map[string]bool, len(vals))
	for _, v := range vals {
		out[v] = true
	}
	return out
}

func (g *Graph) collectTransitiveOutputs(n *node, into map[string]bool) {
	visited := make(map[int]bool)
	var walk func(idx int)
	walk = func(idx int) {
		if visited[idx] {
			return
		}
		visited[idx] = true
		dep := g.nodes[idx]
		for _, out := range dep.rule.Outputs {
			into[out] = true
		}
		for _, p := range dep.incoming {
			walk(p)
		}
	}
	for _, p := range n.incoming {
		walk(p)
	}
}
