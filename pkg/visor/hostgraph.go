package visor

import (
	"sort"
	"time"
)

type HostNode struct {
	ID          string
	Scope       Scope
	CountryCode string
	LastSeen    time.Time
}

type HostEdge struct {
	Source string
	Target string
	Type   string
}

type edgePair struct {
	source, target string
}

// HostGraph is a graph of hosts seen on the wire. Nodes expire like
// connection records; edges are a FIFO bounded at maxEdges and also go away
// with either endpoint.
type HostGraph struct {
	staleAfter time.Duration
	maxEdges   int
	nodes      map[string]*HostNode
	edges      []HostEdge // oldest first
	pairs      map[edgePair]int
	out        GraphRenderer
}

func NewHostGraph(staleAfter time.Duration, maxEdges int, out GraphRenderer) *HostGraph {
	if out == nil {
		out = NopRenderer{}
	}
	return &HostGraph{
		staleAfter: staleAfter,
		maxEdges:   maxEdges,
		nodes:      make(map[string]*HostNode),
		pairs:      make(map[edgePair]int),
		out:        out,
	}
}

// Observe touches both endpoints of ev and appends an edge between them. It
// reports whether the graph changed, which is false only for events missing
// an address.
func (g *HostGraph) Observe(ev Event, now time.Time) bool {
	if ev.Src == "" || ev.Dst == "" {
		return false
	}
	g.touch(ev.Src, ev.SrcCountryCode, now)
	g.touch(ev.Dst, ev.DstCountryCode, now)

	g.edges = append(g.edges, HostEdge{Source: ev.Src, Target: ev.Dst, Type: ev.Type})
	p := edgePair{ev.Src, ev.Dst}
	g.pairs[p]++
	g.out.UpsertEdge(p.source, p.target, EdgeAttrs{Type: ev.Type, Count: g.pairs[p]})

	for g.maxEdges > 0 && len(g.edges) > g.maxEdges {
		oldest := g.edges[0]
		copy(g.edges, g.edges[1:])
		g.edges = g.edges[:len(g.edges)-1]
		g.release(oldest)
	}
	g.out.GraphChanged()
	return true
}

func (g *HostGraph) touch(id, cc string, now time.Time) {
	n, ok := g.nodes[id]
	if !ok {
		n = &HostNode{ID: id, Scope: Classify(id)}
		g.nodes[id] = n
	}
	if cc != "" {
		n.CountryCode = cc
	}
	n.LastSeen = now
	g.out.UpsertNode(id, NodeAttrs{Scope: n.Scope, CountryCode: n.CountryCode, LastSeen: now})
}

// release drops one edge from the pair count and tells the renderer.
func (g *HostGraph) release(e HostEdge) {
	p := edgePair{e.Source, e.Target}
	g.pairs[p]--
	if g.pairs[p] <= 0 {
		delete(g.pairs, p)
		g.out.RemoveEdge(p.source, p.target)
		return
	}
	g.out.UpsertEdge(p.source, p.target, EdgeAttrs{Type: g.lastType(p), Count: g.pairs[p]})
}

func (g *HostGraph) lastType(p edgePair) string {
	for i := len(g.edges) - 1; i >= 0; i-- {
		if g.edges[i].Source == p.source && g.edges[i].Target == p.target {
			return g.edges[i].Type
		}
	}
	return ""
}

// Sweep expires stale nodes and every edge touching them. It returns the
// removed node ids in sorted order.
func (g *HostGraph) Sweep(now time.Time) []string {
	stale := make(map[string]bool)
	for id, n := range g.nodes {
		if now.Sub(n.LastSeen) > g.staleAfter {
			stale[id] = true
		}
	}
	if len(stale) == 0 {
		return nil
	}

	kept := g.edges[:0]
	var dropped []HostEdge
	for _, e := range g.edges {
		if stale[e.Source] || stale[e.Target] {
			dropped = append(dropped, e)
			continue
		}
		kept = append(kept, e)
	}
	g.edges = kept
	// Every edge of a pair touching a stale node goes, so the pair count only
	// needs reporting once it reaches zero.
	for _, e := range dropped {
		p := edgePair{e.Source, e.Target}
		if g.pairs[p]--; g.pairs[p] <= 0 {
			delete(g.pairs, p)
			g.out.RemoveEdge(p.source, p.target)
		}
	}

	removed := make([]string, 0, len(stale))
	for id := range stale {
		removed = append(removed, id)
	}
	sort.Strings(removed)
	for _, id := range removed {
		delete(g.nodes, id)
		g.out.RemoveNode(id)
	}
	g.out.GraphChanged()
	return removed
}

func (g *HostGraph) Node(id string) (HostNode, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return HostNode{}, false
	}
	return *n, true
}

func (g *HostGraph) NodeCount() int { return len(g.nodes) }

// Edges returns a copy of the edge list, oldest first.
func (g *HostGraph) Edges() []HostEdge {
	out := make([]HostEdge, len(g.edges))
	copy(out, g.edges)
	return out
}
