package graph

import (
	"sort"
	"strings"

	"loreweave.ai/internal/protocol"
)

// Resolver maps an external reference (package id, identifier as authored)
// to the global identifier it was integrated under.
type Resolver interface {
	Resolve(pkg, originalID string) (string, bool)
}

// DormantEdge is an external edge whose target package is not integrated.
type DormantEdge struct {
	From     string
	Package  string
	Location string
}

// World is the merged graph over global identifiers. It is immutable once
// built and safe for concurrent readers.
type World struct {
	adj      map[string][]string
	owner    map[string]string
	names    map[string]string
	isolated map[string]bool
	dormant  []DormantEdge
}

// NewWorld merges the package graphs (already carrying global identifiers)
// and joins external edges that r can resolve.
func NewWorld(parts []*Graph, r Resolver) *World {
	w := &World{
		adj:      map[string][]string{},
		owner:    map[string]string{},
		names:    map[string]string{},
		isolated: map[string]bool{},
	}
	sets := map[string]map[string]bool{}
	link := func(a, b string) {
		if sets[a] == nil {
			sets[a] = map[string]bool{}
		}
		sets[a][b] = true
	}
	for _, g := range parts {
		for id, name := range g.names {
			w.owner[id] = g.pkg
			w.names[id] = name
			if g.isolated[id] {
				w.isolated[id] = true
			}
			for _, n := range g.adj[id] {
				link(id, n)
			}
		}
	}
	for _, g := range parts {
		for _, from := range g.Nodes() {
			for _, ext := range g.external[from] {
				var to string
				ok := false
				if r != nil {
					to, ok = r.Resolve(ext.Package, ext.Location)
				}
				if !ok || to == from || w.owner[to] == "" {
					w.dormant = append(w.dormant, DormantEdge{From: from, Package: ext.Package, Location: ext.Location})
					continue
				}
				link(from, to)
				link(to, from)
			}
		}
	}
	for id := range w.owner {
		w.adj[id] = sortedKeys(sets[id])
	}
	return w
}

func (w *World) Has(id string) bool {
	if w == nil {
		return false
	}
	_, ok := w.owner[id]
	return ok
}

func (w *World) Neighbors(id string) []string { return append([]string(nil), w.adj[id]...) }
func (w *World) Isolated(id string) bool      { return w.isolated[id] }
func (w *World) Package(id string) string     { return w.owner[id] }
func (w *World) Name(id string) string        { return w.names[id] }
func (w *World) Len() int                     { return len(w.owner) }

func (w *World) Dormant() []DormantEdge { return append([]DormantEdge(nil), w.dormant...) }

// FindByName returns the identifiers whose display name equals name,
// case-insensitively, in sorted order.
func (w *World) FindByName(name string) []string {
	name = strings.TrimSpace(name)
	if w == nil || name == "" {
		return nil
	}
	var out []string
	for id, n := range w.names {
		if strings.EqualFold(n, name) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// FindPath returns a shortest path from→to inclusive of both endpoints.
// Neighbours are expanded in sorted order and the first discovery wins, so
// among equally short paths the lexicographically smallest is returned.
func (w *World) FindPath(from, to string) ([]string, error) {
	if !w.Has(from) {
		return nil, &UnknownLocationError{ID: from}
	}
	if !w.Has(to) {
		return nil, &UnknownLocationError{ID: to}
	}
	if from == to {
		return []string{from}, nil
	}

	prev := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range w.adj[cur] {
			if _, seen := prev[n]; seen {
				continue
			}
			prev[n] = cur
			if n == to {
				return unwind(prev, from, to), nil
			}
			queue = append(queue, n)
		}
	}
	return nil, &NoPathError{From: from, To: to}
}

func unwind(prev map[string]string, from, to string) []string {
	var rev []string
	for cur := to; ; cur = prev[cur] {
		rev = append(rev, cur)
		if cur == from {
			break
		}
	}
	out := make([]string, len(rev))
	for i := range rev {
		out[i] = rev[len(rev)-1-i]
	}
	return out
}

type Status string

const (
	StatusOK                 Status = "ok"
	StatusInvalidDestination Status = "invalid-destination"
	StatusUnreachable        Status = "unreachable"
	StatusInvalidOrigin      Status = "invalid-origin"
)

// Transition is the verdict on a requested move.
type Transition struct {
	Status Status
	From   string
	To     string
	Path   []string
}

func (t Transition) OK() bool { return t.Status == StatusOK }

// Code maps a rejected transition onto its protocol error code.
func (t Transition) Code() string {
	switch t.Status {
	case StatusOK:
		return ""
	case StatusInvalidDestination:
		return protocol.ErrInvalidDestination
	case StatusUnreachable:
		return protocol.ErrUnreachable
	case StatusInvalidOrigin:
		return protocol.ErrInvalidOrigin
	default:
		return protocol.ErrInternal
	}
}

// ValidateTransition checks existence of the destination before reachability.
// An unknown origin means the engine state is corrupt, not that the player
// asked for something impossible.
func (w *World) ValidateTransition(current, dest string) Transition {
	t := Transition{From: current, To: dest}
	switch {
	case !w.Has(dest):
		t.Status = StatusInvalidDestination
		return t
	case !w.Has(current):
		t.Status = StatusInvalidOrigin
		return t
	}
	path, err := w.FindPath(current, dest)
	if err != nil {
		t.Status = StatusUnreachable
		return t
	}
	t.Status = StatusOK
	t.Path = path
	return t
}
