package topology

import (
	"sort"
	"strings"

	"github.com/Subtalime/vintel-sub001/internal/model"
)

// Graph is a read-only adjacency view over an edge list. Lookups are
// case-insensitive.
type Graph struct {
	edges []model.TopologyEdge
	adj   map[string][]string
	names map[string]string
}

func NewGraph(edges []model.TopologyEdge) *Graph {
	g := &Graph{
		edges: append([]model.TopologyEdge(nil), edges...),
		adj:   make(map[string][]string),
		names: make(map[string]string),
	}
	for _, e := range edges {
		g.link(e.From, e.To)
		if e.Direction != model.OneWay {
			g.link(e.To, e.From)
		}
	}
	for k, list := range g.adj {
		sort.Strings(list)
		g.adj[k] = dedupe(list)
	}
	return g
}

func (g *Graph) link(from, to string) {
	g.remember(from)
	g.remember(to)
	k := strings.ToUpper(from)
	g.adj[k] = append(g.adj[k], to)
}

func (g *Graph) remember(name string) {
	k := strings.ToUpper(name)
	if _, ok := g.names[k]; !ok {
		g.names[k] = name
	}
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		k := strings.ToUpper(n)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Neighbors lists locations reachable from name over one bridge.
func (g *Graph) Neighbors(name string) []string {
	if g == nil {
		return nil
	}
	return append([]string(nil), g.adj[strings.ToUpper(name)]...)
}

// Locations lists every bridge endpoint.
func (g *Graph) Locations() []string {
	if g == nil {
		return nil
	}
	out := make([]string, 0, len(g.names))
	for _, n := range g.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (g *Graph) Edges() []model.TopologyEdge {
	if g == nil {
		return nil
	}
	return append([]model.TopologyEdge(nil), g.edges...)
}

func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.edges)
}
