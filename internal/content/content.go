// Package content defines the on-disk format of content packages and the
// stores they are discovered from.
package content

import (
	"sort"
)

// ExternalRef names a location in another package by its original identifier.
type ExternalRef struct {
	Package  string `json:"package_id"`
	Location string `json:"location_id"`
}

type Location struct {
	ID          string        `json:"location_id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Connections []string      `json:"connections,omitempty"`
	External    []ExternalRef `json:"external,omitempty"`
	// Isolated locations are reachable only through a scripted event.
	Isolated bool `json:"isolated,omitempty"`
}

type Area struct {
	ID        string     `json:"area_id"`
	Name      string     `json:"name,omitempty"`
	Locations []Location `json:"locations"`
}

type Objective struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Location string `json:"location,omitempty"`
}

// ScriptedEvent moves the player from From (any location when empty) to To
// without a graph walk.
type ScriptedEvent struct {
	ID   string `json:"id"`
	From string `json:"from,omitempty"`
	To   string `json:"to"`
	Text string `json:"text,omitempty"`
}

type Plot struct {
	Stage      string          `json:"stage,omitempty"`
	Objectives []Objective     `json:"objectives,omitempty"`
	Events     []ScriptedEvent `json:"events,omitempty"`
}

type Manifest struct {
	ID          string   `json:"package_id"`
	Title       string   `json:"title"`
	Version     string   `json:"version,omitempty"`
	EntryPoints []string `json:"entry_points"`
	Plot        Plot     `json:"plot,omitempty"`
}

// Package is one independently authored adventure.
type Package struct {
	Manifest Manifest
	Areas    []Area

	// Digest is the sha256 of the raw files, in path order.
	Digest string
	// Files holds the raw documents keyed by slash path relative to the
	// package root (manifest.json, areas/<name>.json).
	Files map[string][]byte
}

func (p *Package) ID() string { return p.Manifest.ID }

// PlacedLocation is a location together with the area that owns it.
type PlacedLocation struct {
	Area string
	Location
}

// Locations returns every location in area order, then authoring order.
func (p *Package) Locations() []PlacedLocation {
	var out []PlacedLocation
	for _, a := range p.Areas {
		for _, l := range a.Locations {
			out = append(out, PlacedLocation{Area: a.ID, Location: l})
		}
	}
	return out
}

// Location looks up a location by its (current) identifier.
func (p *Package) Location(id string) (PlacedLocation, bool) {
	for _, a := range p.Areas {
		for _, l := range a.Locations {
			if l.ID == id {
				return PlacedLocation{Area: a.ID, Location: l}, true
			}
		}
	}
	return PlacedLocation{}, false
}

// Event returns the scripted event with the given id.
func (p *Package) Event(id string) (ScriptedEvent, bool) {
	for _, ev := range p.Manifest.Plot.Events {
		if ev.ID == id {
			return ev, true
		}
	}
	return ScriptedEvent{}, false
}

// Clone returns a deep copy. Raw files are shared; they are never mutated.
func (p *Package) Clone() *Package {
	out := &Package{
		Manifest: p.Manifest,
		Digest:   p.Digest,
		Files:    p.Files,
	}
	out.Manifest.EntryPoints = append([]string(nil), p.Manifest.EntryPoints...)
	out.Manifest.Plot.Objectives = append([]Objective(nil), p.Manifest.Plot.Objectives...)
	out.Manifest.Plot.Events = append([]ScriptedEvent(nil), p.Manifest.Plot.Events...)
	out.Areas = make([]Area, len(p.Areas))
	for i, a := range p.Areas {
		na := Area{ID: a.ID, Name: a.Name, Locations: make([]Location, len(a.Locations))}
		for j, l := range a.Locations {
			nl := l
			nl.Connections = append([]string(nil), l.Connections...)
			nl.External = append([]ExternalRef(nil), l.External...)
			na.Locations[j] = nl
		}
		out.Areas[i] = na
	}
	return out
}

// Rewrite returns a copy with every internal reference renamed. Identifiers
// missing from the maps are kept. External references name another package's
// original identifiers and are left alone.
func (p *Package) Rewrite(locations, areas map[string]string) *Package {
	out := p.Clone()
	loc := func(id string) string {
		if n, ok := locations[id]; ok {
			return n
		}
		return id
	}
	for i := range out.Areas {
		if n, ok := areas[out.Areas[i].ID]; ok {
			out.Areas[i].ID = n
		}
		for j := range out.Areas[i].Locations {
			l := &out.Areas[i].Locations[j]
			l.ID = loc(l.ID)
			for k := range l.Connections {
				l.Connections[k] = loc(l.Connections[k])
			}
		}
	}
	for i := range out.Manifest.EntryPoints {
		out.Manifest.EntryPoints[i] = loc(out.Manifest.EntryPoints[i])
	}
	for i := range out.Manifest.Plot.Objectives {
		if out.Manifest.Plot.Objectives[i].Location != "" {
			out.Manifest.Plot.Objectives[i].Location = loc(out.Manifest.Plot.Objectives[i].Location)
		}
	}
	for i := range out.Manifest.Plot.Events {
		ev := &out.Manifest.Plot.Events[i]
		if ev.From != "" {
			ev.From = loc(ev.From)
		}
		ev.To = loc(ev.To)
	}
	return out
}

// References lists every location identifier the package refers to
// internally, with a short description of where the reference lives.
func (p *Package) References() []Reference {
	var out []Reference
	for _, a := range p.Areas {
		for _, l := range a.Locations {
			for _, c := range l.Connections {
				out = append(out, Reference{From: l.ID, Target: c, Kind: "connection"})
			}
		}
	}
	for _, ep := range p.Manifest.EntryPoints {
		out = append(out, Reference{Target: ep, Kind: "entry_point"})
	}
	for _, o := range p.Manifest.Plot.Objectives {
		if o.Location != "" {
			out = append(out, Reference{From: o.ID, Target: o.Location, Kind: "objective"})
		}
	}
	for _, ev := range p.Manifest.Plot.Events {
		if ev.From != "" {
			out = append(out, Reference{From: ev.ID, Target: ev.From, Kind: "event_from"})
		}
		out = append(out, Reference{From: ev.ID, Target: ev.To, Kind: "event_to"})
	}
	return out
}

type Reference struct {
	From   string
	Target string
	Kind   string
}

// FilePaths returns the raw file paths in sorted order.
func (p *Package) FilePaths() []string {
	out := make([]string, 0, len(p.Files))
	for k := range p.Files {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
