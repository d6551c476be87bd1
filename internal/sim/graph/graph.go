// Package graph builds location graphs from content packages and answers
// adjacency, path and transition queries over the merged world.
package graph

import (
	"sort"

	"loreweave.ai/internal/content"
)

// Graph is the local connectivity of one package. Edges are undirected.
type Graph struct {
	pkg      string
	adj      map[string][]string
	names    map[string]string
	areas    map[string]string
	entry    []string
	isolated map[string]bool
	external map[string][]content.ExternalRef
}

// Build constructs the adjacency structure of p and checks that every
// connection, entry point and plot reference names a location of p, and that
// every non-isolated location is reachable from an entry point.
func Build(p *content.Package) (*Graph, error) {
	g := &Graph{
		pkg:      p.ID(),
		adj:      map[string][]string{},
		names:    map[string]string{},
		areas:    map[string]string{},
		isolated: map[string]bool{},
		external: map[string][]content.ExternalRef{},
	}
	malformed := func(loc, ref, reason string) error {
		return &MalformedGraphError{Package: g.pkg, Location: loc, Ref: ref, Reason: reason}
	}

	locs := p.Locations()
	for _, l := range locs {
		if _, dup := g.names[l.ID]; dup {
			return nil, malformed(l.ID, "", "duplicate location id")
		}
		g.names[l.ID] = l.Name
		g.areas[l.ID] = l.Area
		g.adj[l.ID] = nil
		if l.Isolated {
			g.isolated[l.ID] = true
		}
		if len(l.External) > 0 {
			g.external[l.ID] = append([]content.ExternalRef(nil), l.External...)
		}
	}
	if len(locs) == 0 {
		return nil, malformed("", "", "no locations")
	}

	sets := map[string]map[string]bool{}
	link := func(a, b string) {
		if sets[a] == nil {
			sets[a] = map[string]bool{}
		}
		sets[a][b] = true
	}
	for _, l := range locs {
		for _, c := range l.Connections {
			if _, ok := g.names[c]; !ok {
				return nil, malformed(l.ID, c, "connection to unknown location")
			}
			if c == l.ID {
				continue
			}
			link(l.ID, c)
			link(c, l.ID)
		}
	}
	for id, set := range sets {
		g.adj[id] = sortedKeys(set)
	}

	if len(p.Manifest.EntryPoints) == 0 {
		return nil, malformed("", "", "no entry points")
	}
	for _, ep := range p.Manifest.EntryPoints {
		if _, ok := g.names[ep]; !ok {
			return nil, malformed("", ep, "entry point names unknown location")
		}
		g.entry = append(g.entry, ep)
	}
	for _, ref := range p.References() {
		if _, ok := g.names[ref.Target]; !ok {
			return nil, malformed(ref.From, ref.Target, ref.Kind+" references unknown location")
		}
	}

	reached := g.reachable(g.entry)
	for _, id := range g.Nodes() {
		if !reached[id] && !g.isolated[id] {
			return nil, malformed(id, "", "unreachable from every entry point and not marked isolated")
		}
	}
	return g, nil
}

func (g *Graph) reachable(from []string) map[string]bool {
	seen := map[string]bool{}
	queue := append([]string(nil), from...)
	for _, id := range from {
		seen[id] = true
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range g.adj[cur] {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return seen
}

func (g *Graph) Package() string { return g.pkg }

// Nodes returns the location ids in sorted order.
func (g *Graph) Nodes() []string {
	out := make([]string, 0, len(g.names))
	for id := range g.names {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (g *Graph) Neighbors(id string) []string { return append([]string(nil), g.adj[id]...) }
func (g *Graph) EntryPoints() []string        { return append([]string(nil), g.entry...) }
func (g *Graph) Isolated(id string) bool      { return g.isolated[id] }
func (g *Graph) Name(id string) string        { return g.names[id] }
func (g *Graph) Area(id string) string        { return g.areas[id] }

func (g *Graph) Has(id string) bool {
	_, ok := g.names[id]
	return ok
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
