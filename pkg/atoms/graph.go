package atoms

import (
	"sort"
	"time"
)

// GraphNode is one atom in the affinity graph.
type GraphNode struct {
	AtomID string
	// Dependencies and Dependents hold the same neighbor set: co-occurrence
	// is symmetric.
	Dependencies []string
	Dependents   []string
	// CriticalityScore is 0.7*usage frequency + 0.3*neighbor count.
	CriticalityScore float64
	// BottleneckRisk is 0.6*average time (ms) + 0.4*error rate (%).
	BottleneckRisk float64
}

// AffinityGraph links atoms that executed under the same rule and campaign.
// A graph is an immutable snapshot.
type AffinityGraph struct {
	nodes   map[string]*GraphNode
	weights map[string]map[string]int
	builtAt time.Time
}

func newAffinityGraph(builtAt time.Time) *AffinityGraph {
	return &AffinityGraph{
		nodes:   make(map[string]*GraphNode),
		weights: make(map[string]map[string]int),
		builtAt: builtAt,
	}
}

func (g *AffinityGraph) addNode(atomID string) {
	if _, ok := g.nodes[atomID]; !ok {
		g.nodes[atomID] = &GraphNode{AtomID: atomID}
	}
}

func (g *AffinityGraph) link(a, b string) {
	if a == b {
		return
	}
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		w, ok := g.weights[pair[0]]
		if !ok {
			w = make(map[string]int)
			g.weights[pair[0]] = w
		}
		w[pair[1]]++
	}
}

// BuiltAt reports when the snapshot was taken.
func (g *AffinityGraph) BuiltAt() time.Time {
	return g.builtAt
}

// Len returns the number of atoms in the graph.
func (g *AffinityGraph) Len() int {
	return len(g.nodes)
}

// Node returns a copy of the atom's node.
func (g *AffinityGraph) Node(atomID string) (GraphNode, bool) {
	n, ok := g.nodes[atomID]
	if !ok {
		return GraphNode{}, false
	}
	return copyNode(n), true
}

// Nodes returns a copy of every node keyed by atom id.
func (g *AffinityGraph) Nodes() map[string]GraphNode {
	out := make(map[string]GraphNode, len(g.nodes))
	for id, n := range g.nodes {
		out[id] = copyNode(n)
	}
	return out
}

// Neighbors returns the atoms directly linked to atomID, sorted.
func (g *AffinityGraph) Neighbors(atomID string) []string {
	n, ok := g.nodes[atomID]
	if !ok {
		return nil
	}
	return append([]string(nil), n.Dependencies...)
}

// Weight returns the number of shared (rule, campaign) contexts of a and b.
func (g *AffinityGraph) Weight(a, b string) int {
	return g.weights[a][b]
}

// Cluster returns every atom transitively reachable from atomID, excluding
// atomID itself, sorted.
func (g *AffinityGraph) Cluster(atomID string) []string {
	if _, ok := g.nodes[atomID]; !ok {
		return nil
	}
	visited := map[string]bool{atomID: true}
	result := make([]string, 0)

	var traverse func(string)
	traverse = func(id string) {
		for _, next := range g.nodes[id].Dependencies {
			if visited[next] {
				continue
			}
			visited[next] = true
			result = append(result, next)
			traverse(next)
		}
	}
	traverse(atomID)
	sort.Strings(result)
	return result
}

func copyNode(n *GraphNode) GraphNode {
	c := *n
	c.Dependencies = append([]string(nil), n.Dependencies...)
	c.Dependents = append([]string(nil), n.Dependents...)
	return c
}

// BuildDependencyGraph rebuilds the affinity graph from the current store
// and keeps it as the latest snapshot.
func (a *Analyzer) BuildDependencyGraph() *AffinityGraph {
	a.mu.RLock()
	start := a.clock.Now()
	g := newAffinityGraph(start)
	for atomID := range a.records {
		g.addNode(atomID)
	}
	for _, members := range a.contextMembers() {
		ids := make([]string, 0, len(members))
		for id := range members {
			ids = append(ids, id)
		}
		for i := range ids {
			for j := i + 1; j < len(ids); j++ {
				g.link(ids[i], ids[j])
			}
		}
	}
	for id, n := range g.nodes {
		neighbors := make([]string, 0, len(g.weights[id]))
		for other := range g.weights[id] {
			neighbors = append(neighbors, other)
		}
		sort.Strings(neighbors)
		n.Dependencies = neighbors
		n.Dependents = append([]string(nil), neighbors...)

		s := a.statsLocked(id)
		n.CriticalityScore = 0.7*s.UsageFrequency + 0.3*float64(len(n.Dependents))
		n.BottleneckRisk = 0.6*s.AverageExecutionTime + 0.4*s.ErrorRate
	}
	a.mu.RUnlock()

	a.metrics.ObserveCompute("atom_graph", a.clock.Since(start))
	a.graphMu.Lock()
	a.graph = g
	a.graphMu.Unlock()
	return g
}

// DependencyGraph returns the most recently built graph, building one if
// none exists yet.
func (a *Analyzer) DependencyGraph() *AffinityGraph {
	a.graphMu.RLock()
	g := a.graph
	a.graphMu.RUnlock()
	if g != nil {
		return g
	}
	return a.BuildDependencyGraph()
}
