package registry

import (
	"sort"

	"loreweave.ai/internal/content"
	"loreweave.ai/internal/sim/graph"
)

// Lookup returns the owner of a global location identifier.
func (r *Registry) Lookup(globalID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.locations[globalID]
	return e, ok
}

func (r *Registry) LookupArea(globalID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.areas[globalID]
	return e, ok
}

// Resolve maps a package's authored location id to its global id.
func (r *Registry) Resolve(pkg, originalID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gid, ok := r.byOrig[origKey{pkg: pkg, id: originalID}]
	return gid, ok
}

func (r *Registry) Exists(globalID string) bool {
	_, ok := r.Lookup(globalID)
	return ok
}

// Package returns the integrated package, rewritten to global identifiers.
func (r *Registry) Package(id string) (*content.Package, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.packages[id]
	if !ok {
		return nil, false
	}
	return in.pkg, true
}

func (r *Registry) Integration(id string) (Integration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.packages[id]
	if !ok {
		return Integration{}, false
	}
	return in.in.clone(), true
}

func (r *Registry) PackageIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.packages))
	for id := range r.packages {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// EntryPoint returns the first declared entry point of pkg, as a global id.
func (r *Registry) EntryPoint(pkg string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.packages[pkg]
	if !ok {
		return "", false
	}
	eps := in.graph.EntryPoints()
	if len(eps) == 0 {
		return "", false
	}
	return eps[0], true
}

// World returns the current merged graph. The snapshot never changes; later
// integrations swap in a new one.
func (r *Registry) World() *graph.World {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.world
}

func (r *Registry) FindByName(name string) []string {
	return r.World().FindByName(name)
}

// Entries lists every location entry in global id order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.locations))
	for _, e := range r.locations {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GlobalID < out[j].GlobalID })
	return out
}
