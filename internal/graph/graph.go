// Package graph implements a generic labeled directed graph with one
// distinguishing feature: edges whose target has been removed are not
// silently dropped. They are side-tracked in a "broken edge" map until a
// later operation either restores them (by re-adding the missing node) or
// deliberately clears them (by removing the edge itself).
//
// This lets callers perform multi-step mutations (e.g. "update" implemented
// as "remove, then add") without the graph losing track of dependencies that
// are temporarily unsatisfied, and without maintaining a shadow copy of the
// graph to diff against afterwards.
//
// The node/edge bookkeeping here is plain adjacency maps rather than a
// third-party graph library: none of the directed-graph packages in this
// module's dependency graph (gonum's included) model removable,
// later-restorable edges, which is the one property this package exists for.
// gonum is used one layer up, in internal/snapshot.Graph.BuildGraph, for the
// topological-sort cycle check a freshly constructed build graph needs
// before it is safe to schedule.
package graph

import "fmt"

// Edge is a directed edge from From to To, meaning "From depends on To".
type Edge[T comparable] struct {
	From T
	To   T
}

// Graph is a directed graph over labels of type T.
type Graph[T comparable] struct {
	nodes map[T]bool
	out   map[T]map[T]bool
	in    map[T]map[T]bool

	// broken holds edges whose target or source has been removed, keyed by
	// the missing endpoint so that re-adding it restores them.
	broken map[T][]Edge[T]
}

// New returns an empty graph.
func New[T comparable]() *Graph[T] {
	return &Graph[T]{
		nodes:  make(map[T]bool),
		out:    make(map[T]map[T]bool),
		in:     make(map[T]map[T]bool),
		broken: make(map[T][]Edge[T]),
	}
}

// ErrBroken is returned by traversal operations while the graph holds broken
// edges; the data model requires those to be resolved (restored or cleared)
// before the graph can be considered consistent enough to traverse.
type ErrBroken[T comparable] struct {
	Broken map[T][]Edge[T]
}

func (e *ErrBroken[T]) Error() string {
	return fmt.Sprintf("graph has %d broken edge group(s); resolve before traversing", len(e.Broken))
}

// HasNode reports whether n is present in the graph.
func (g *Graph[T]) HasNode(n T) bool { return g.nodes[n] }

// HasEdge reports whether a real (non-broken) edge u->v is present.
func (g *Graph[T]) HasEdge(u, v T) bool { return g.out[u] != nil && g.out[u][v] }

// AddNode inserts n if absent. If n was the missing endpoint of any broken
// edges, those whose other endpoint is now present are restored as real
// edges and removed from the broken-edge map.
func (g *Graph[T]) AddNode(n T) {
	if !g.nodes[n] {
		g.nodes[n] = true
		g.out[n] = make(map[T]bool)
		g.in[n] = make(map[T]bool)
	}
	g.restoreBroken(n)
}

func (g *Graph[T]) restoreBroken(n T) {
	pending, ok := g.broken[n]
	if !ok {
		return
	}
	var stillBroken []Edge[T]
	for _, e := range pending {
		other := e.From
		if other == n {
			other = e.To
		}
		if g.nodes[other] {
			g.linkReal(e.From, e.To)
		} else {
			stillBroken = append(stillBroken, e)
		}
	}
	if len(stillBroken) == 0 {
		delete(g.broken, n)
	} else {
		g.broken[n] = stillBroken
	}
}

func (g *Graph[T]) linkReal(u, v T) {
	if g.out[u] == nil {
		g.out[u] = make(map[T]bool)
	}
	if g.in[v] == nil {
		g.in[v] = make(map[T]bool)
	}
	g.out[u][v] = true
	g.in[v][u] = true
}

// AddEdge adds the edge u->v. u is added as a node if not already present;
// v is not. If v is not yet present, the edge is recorded as broken (keyed
// under v) rather than materialized, and is restored automatically once v is
// added via AddNode.
func (g *Graph[T]) AddEdge(u, v T) {
	g.AddNode(u)
	if g.nodes[v] {
		g.clearBrokenEdge(u, v)
		g.linkReal(u, v)
		return
	}
	g.recordBroken(v, Edge[T]{From: u, To: v})
}

func (g *Graph[T]) recordBroken(key T, e Edge[T]) {
	for _, existing := range g.broken[key] {
		if existing == e {
			return
		}
	}
	g.broken[key] = append(g.broken[key], e)
}

func (g *Graph[T]) clearBrokenEdge(u, v T) {
	for _, key := range [2]T{u, v} {
		edges := g.broken[key]
		if len(edges) == 0 {
			continue
		}
		out := edges[:0]
		for _, e := range edges {
			if e.From == u && e.To == v {
				continue
			}
			out = append(out, e)
		}
		if len(out) == 0 {
			delete(g.broken, key)
		} else {
			g.broken[key] = out
		}
	}
}

// RemoveEdge removes the real edge u->v if present, else clears it from the
// broken-edge map if it lives there.
func (g *Graph[T]) RemoveEdge(u, v T) {
	if g.out[u] != nil && g.out[u][v] {
		delete(g.out[u], v)
		delete(g.in[v], u)
		return
	}
	g.clearBrokenEdge(u, v)
}

// RemoveNode deletes n, recording every edge that touched it (incoming and
// outgoing) into the broken-edge map, keyed by n. Callers that want some of
// those edges to simply vanish (rather than become broken) must call
// RemoveEdge for them first.
func (g *Graph[T]) RemoveNode(n T) {
	if !g.nodes[n] {
		return
	}
	for to := range g.out[n] {
		g.recordBroken(n, Edge[T]{From: n, To: to})
		delete(g.in[to], n)
	}
	for from := range g.in[n] {
		g.recordBroken(n, Edge[T]{From: from, To: n})
		delete(g.out[from], n)
	}
	delete(g.out, n)
	delete(g.in, n)
	delete(g.nodes, n)
}

// IsBroken reports whether any broken edges remain.
func (g *Graph[T]) IsBroken() bool { return len(g.broken) > 0 }

// BrokenEdges returns a copy of all currently broken edges, flattened.
func (g *Graph[T]) BrokenEdges() []Edge[T] {
	var all []Edge[T]
	for _, edges := range g.broken {
		all = append(all, edges...)
	}
	return all
}

// Neighbors returns the successors of n (nodes n has an edge to).
func (g *Graph[T]) Neighbors(n T) []T { return keys(g.out[n]) }

// Predecessors returns the nodes that have an edge to n.
func (g *Graph[T]) Predecessors(n T) []T { return keys(g.in[n]) }

// InDegree returns the number of real edges pointing at n.
func (g *Graph[T]) InDegree(n T) int { return len(g.in[n]) }

// OutDegree returns the number of real edges leaving n.
func (g *Graph[T]) OutDegree(n T) int { return len(g.out[n]) }

// Nodes returns all nodes currently in the graph, in unspecified order.
func (g *Graph[T]) Nodes() []T { return keys(g.nodes) }

// NumberOfNodes returns the node count.
func (g *Graph[T]) NumberOfNodes() int { return len(g.nodes) }

// Edges returns all real edges, in unspecified order.
func (g *Graph[T]) Edges() []Edge[T] {
	var all []Edge[T]
	for u, tos := range g.out {
		for v := range tos {
			all = append(all, Edge[T]{From: u, To: v})
		}
	}
	return all
}

func keys[T comparable](m map[T]bool) []T {
	out := make([]T, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func (g *Graph[T]) assertNotBroken() error {
	if g.IsBroken() {
		broken := make(map[T][]Edge[T], len(g.broken))
		for k, v := range g.broken {
			broken[k] = v
		}
		return &ErrBroken[T]{Broken: broken}
	}
	return nil
}

// Descendants returns every node reachable from n by following edges
// forward (BFS), not including n itself. It refuses to run while the graph
// holds broken edges.
func (g *Graph[T]) Descendants(n T) ([]T, error) {
	if err := g.assertNotBroken(); err != nil {
		return nil, err
	}
	visited := map[T]bool{n: true}
	queue := []T{n}
	var result []T
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range g.out[cur] {
			if visited[next] {
				continue
			}
			visited[next] = true
			result = append(result, next)
			queue = append(queue, next)
		}
	}
	return result, nil
}

// Subgraph returns the induced subgraph over nodes: every node in nodes,
// plus every real edge of the original graph whose endpoints are both in
// nodes. Refuses to run while the graph holds broken edges.
func (g *Graph[T]) Subgraph(nodes []T) (*Graph[T], error) {
	if err := g.assertNotBroken(); err != nil {
		return nil, err
	}
	keep := make(map[T]bool, len(nodes))
	for _, n := range nodes {
		keep[n] = true
	}
	sub := New[T]()
	for _, n := range nodes {
		sub.AddNode(n)
	}
	for u, tos := range g.out {
		if !keep[u] {
			continue
		}
		for v := range tos {
			if keep[v] {
				sub.linkReal(u, v)
			}
		}
	}
	return sub, nil
}

// Reverse returns a copy of the graph with every real edge's direction
// flipped. Refuses to run while the graph holds broken edges.
func (g *Graph[T]) Reverse() (*Graph[T], error) {
	if err := g.assertNotBroken(); err != nil {
		return nil, err
	}
	rev := New[T]()
	for n := range g.nodes {
		rev.AddNode(n)
	}
	for u, tos := range g.out {
		for v := range tos {
			rev.linkReal(v, u)
		}
	}
	return rev, nil
}
