package registry

import "sort"

const stateVersion = 1

// State is the persisted identifier mapping. Restoring it before Load keeps
// global ids stable for packages whose content has not changed.
type State struct {
	Version  int            `json:"version"`
	Packages []PackageState `json:"packages"`
}

type PackageState struct {
	ID        string            `json:"package_id"`
	Digest    string            `json:"digest"`
	Locations map[string]string `json:"locations"`
	Areas     map[string]string `json:"areas"`
	Remaps    []Remap           `json:"remaps,omitempty"`
	Passes    int               `json:"passes,omitempty"`
}

func (r *Registry) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := State{Version: stateVersion}
	for _, in := range r.packages {
		st.Packages = append(st.Packages, PackageState{
			ID:        in.in.Package,
			Digest:    in.in.Digest,
			Locations: copyMap(in.in.Locations),
			Areas:     copyMap(in.in.Areas),
			Remaps:    append([]Remap(nil), in.in.Remaps...),
			Passes:    in.in.Passes,
		})
	}
	for id, pin := range r.pinned {
		if _, ok := r.packages[id]; ok {
			continue
		}
		st.Packages = append(st.Packages, pin)
	}
	sort.Slice(st.Packages, func(i, j int) bool { return st.Packages[i].ID < st.Packages[j].ID })
	return st
}

// Restore pins mappings for packages not yet integrated. Pinned mappings of
// packages absent from the store are carried through State untouched.
func (r *Registry) Restore(st State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ps := range st.Packages {
		if _, ok := r.packages[ps.ID]; ok {
			continue
		}
		r.pinned[ps.ID] = ps
	}
}
