// Package registry merges content packages into one namespace of global
// identifiers and owns the world graph built over it.
package registry

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"

	"loreweave.ai/internal/content"
	"loreweave.ai/internal/sim/graph"
)

// MaxRemapPasses bounds the collision-resolution loop in Integrate.
const MaxRemapPasses = 3

type Kind string

const (
	KindLocation Kind = "location"
	KindArea     Kind = "area"
)

type Remap struct {
	Kind Kind   `json:"kind"`
	Area string `json:"area,omitempty"`
	From string `json:"from"`
	To   string `json:"to"`
	Pass int    `json:"pass"`
}

// Entry records the single owner of a global identifier.
type Entry struct {
	GlobalID   string
	Kind       Kind
	Package    string
	OriginalID string
	// Area is the global id of the owning area, for locations.
	Area   string
	Remaps []Remap
}

// Integration is the outcome of merging one package.
type Integration struct {
	Package string
	Digest  string
	// Locations and Areas map original identifiers to global ones.
	Locations map[string]string
	Areas     map[string]string
	Remaps    []Remap
	Passes    int
	// Existing is set when the package had already been integrated.
	Existing bool
}

// RemapsByArea groups location remaps by the (original) area that owns them;
// area renames are listed under their own original id.
func (in Integration) RemapsByArea() map[string][]Remap {
	out := map[string][]Remap{}
	for _, r := range in.Remaps {
		key := r.Area
		if r.Kind == KindArea {
			key = r.From
		}
		out[key] = append(out[key], r)
	}
	return out
}

type Config struct {
	Limits content.Limits
	Logger *log.Logger
}

type integrated struct {
	pkg   *content.Package // rewritten to global identifiers
	graph *graph.Graph
	in    Integration
}

// Registry is safe for concurrent use. Readers get immutable World snapshots.
type Registry struct {
	mu sync.RWMutex

	limits content.Limits
	logger *log.Logger

	locations map[string]Entry
	areas     map[string]Entry
	byOrig    map[origKey]string
	packages  map[string]*integrated
	pinned    map[string]PackageState
	world     *graph.World
}

type origKey struct {
	pkg string
	id  string
}

func New(cfg Config) *Registry {
	if cfg.Limits == (content.Limits{}) {
		cfg.Limits = content.DefaultLimits()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	return &Registry{
		limits:    cfg.Limits,
		logger:    cfg.Logger,
		locations: map[string]Entry{},
		areas:     map[string]Entry{},
		byOrig:    map[origKey]string{},
		packages:  map[string]*integrated{},
		pinned:    map[string]PackageState{},
		world:     graph.NewWorld(nil, nil),
	}
}

// Rejection is a package-local failure that did not stop discovery.
type Rejection struct {
	Key     string
	Package string
	Err     error
}

type Candidate struct {
	Key     string
	Package *content.Package
}

type Discovery struct {
	Candidates []Candidate
	Rejected   []Rejection
}

// Discover enumerates candidates in key order. Packages that cannot be read
// are recorded in Rejected; only a failure to list the store is returned.
func Discover(ctx context.Context, store content.Store) (Discovery, error) {
	var d Discovery
	keys, err := store.List(ctx)
	if err != nil {
		return d, fmt.Errorf("list content store: %w", err)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return d, err
		}
		p, err := store.Load(ctx, key)
		if err != nil {
			d.Rejected = append(d.Rejected, Rejection{Key: key, Err: err})
			continue
		}
		d.Candidates = append(d.Candidates, Candidate{Key: key, Package: p})
	}
	return d, nil
}

// Validate checks one package in isolation.
func (r *Registry) Validate(p *content.Package) error {
	problems := content.Lint(p, r.limits)
	_, gerr := graph.Build(p)
	if gerr != nil {
		problems = append(problems, gerr.Error())
	}
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Package: p.ID(), Problems: problems, Graph: gerr}
}

type Report struct {
	Integrated []Integration
	Rejected   []Rejection
}

// Load discovers, validates and integrates every package in store. A bad
// package is reported and skipped; the rest of the world still loads.
func (r *Registry) Load(ctx context.Context, store content.Store) (Report, error) {
	var rep Report
	d, err := Discover(ctx, store)
	if err != nil {
		return rep, err
	}
	rep.Rejected = append(rep.Rejected, d.Rejected...)
	for _, c := range d.Candidates {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := r.Validate(c.Package); err != nil {
			r.logger.Printf("reject package key=%s: %v", c.Key, err)
			rep.Rejected = append(rep.Rejected, Rejection{Key: c.Key, Package: c.Package.ID(), Err: err})
			continue
		}
		in, err := r.Integrate(c.Package)
		if err != nil {
			r.logger.Printf("reject package key=%s: %v", c.Key, err)
			rep.Rejected = append(rep.Rejected, Rejection{Key: c.Key, Package: c.Package.ID(), Err: err})
			continue
		}
		if len(in.Remaps) > 0 && !in.Existing {
			r.logger.Printf("integrated package=%s remaps=%d passes=%d", in.Package, len(in.Remaps), in.Passes)
		}
		rep.Integrated = append(rep.Integrated, in)
	}
	for _, rj := range d.Rejected {
		r.logger.Printf("reject package key=%s: %v", rj.Key, rj.Err)
	}
	return rep, nil
}

// Integrate merges p into the namespace. Remaps are staged against a snapshot
// and nothing is visible until the whole package commits.
func (r *Registry) Integrate(p *content.Package) (Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.ID()
	if cur, ok := r.packages[id]; ok {
		if cur.in.Digest == p.Digest {
			in := cur.in.clone()
			in.Existing = true
			return in, nil
		}
		return Integration{}, &ConflictError{Package: id, Reason: "package id already integrated with different content"}
	}

	if pin, ok := r.pinned[id]; ok && pin.Digest == p.Digest {
		staged, err := r.applyPinned(p, pin)
		if err == nil {
			r.commit(staged)
			return staged.in.clone(), nil
		}
		r.logger.Printf("persisted mapping for %s no longer applies: %v", id, err)
	}

	staged, err := r.stage(p)
	if err != nil {
		return Integration{}, err
	}
	r.commit(staged)
	return staged.in.clone(), nil
}

// taken reports whether gid is owned by a committed package or reserved by
// the pinned mapping of a package other than owner. Reserved ids stay off
// limits even when their package is absent from the store.
func (r *Registry) taken(kind Kind, gid, owner string) bool {
	if kind == KindArea {
		if _, ok := r.areas[gid]; ok {
			return true
		}
	} else if _, ok := r.locations[gid]; ok {
		return true
	}
	for id, pin := range r.pinned {
		if id == owner {
			continue
		}
		ids := pin.Locations
		if kind == KindArea {
			ids = pin.Areas
		}
		for _, g := range ids {
			if g == gid {
				return true
			}
		}
	}
	return false
}

// remapName appends the package suffix to orig, trimming orig so the result
// stays within content.MaxIDLen and never doubles a separator.
func remapName(orig, suffix string, pass int) string {
	tail := "." + suffix
	if pass > 1 {
		tail = fmt.Sprintf(".%s-%d", suffix, pass)
	}
	head := strings.TrimRight(orig, "._-")
	if room := content.MaxIDLen - len(tail); room > 0 && len(head) > room {
		head = strings.TrimRight(head[:room], "._-")
	}
	return head + tail
}

type stagedIDs struct {
	kind  Kind
	owner string
	orig  []string
	final map[string]string
	pass  map[string]int
}

func newStagedIDs(kind Kind, owner string, ids []string) *stagedIDs {
	s := &stagedIDs{kind: kind, owner: owner, orig: ids, final: map[string]string{}, pass: map[string]int{}}
	for _, id := range ids {
		s.final[id] = id
	}
	return s
}

// collisions returns the original ids whose current global name clashes with
// the committed namespace or with another id of the same package. Of two
// package ids that clash with each other, the one already remapped moves.
func (s *stagedIDs) collisions(r *Registry) []string {
	count := map[string]int{}
	for _, id := range s.orig {
		count[s.final[id]]++
	}
	var out []string
	for _, id := range s.orig {
		name := s.final[id]
		switch {
		case r.taken(s.kind, name, s.owner):
			out = append(out, id)
		case count[name] > 1 && name != id:
			out = append(out, id)
		}
	}
	return out
}

func (s *stagedIDs) mapping() map[string]string {
	out := map[string]string{}
	for id, name := range s.final {
		if name != id {
			out[id] = name
		}
	}
	return out
}

func (r *Registry) stage(p *content.Package) (*integrated, error) {
	suffix := strings.ToLower(p.ID())

	var areaIDs, locIDs []string
	locArea := map[string]string{}
	for _, a := range p.Areas {
		areaIDs = append(areaIDs, a.ID)
		for _, l := range a.Locations {
			locIDs = append(locIDs, l.ID)
			locArea[l.ID] = a.ID
		}
	}
	areas := newStagedIDs(KindArea, p.ID(), areaIDs)
	locs := newStagedIDs(KindLocation, p.ID(), locIDs)

	passes := 0
	for {
		pending := append(areas.collisions(r), locs.collisions(r)...)
		if len(pending) == 0 {
			break
		}
		if passes == MaxRemapPasses {
			sort.Strings(pending)
			return nil, &ConflictError{Package: p.ID(), IDs: pending, Reason: fmt.Sprintf("identifiers still collide after %d remap passes", MaxRemapPasses)}
		}
		passes++
		for _, s := range []*stagedIDs{areas, locs} {
			for _, id := range s.collisions(r) {
				s.final[id] = remapName(id, suffix, passes)
				s.pass[id] = passes
			}
		}
	}

	var unsafe []string
	for _, s := range []*stagedIDs{areas, locs} {
		for _, id := range s.orig {
			if name := s.final[id]; name != id && !content.SafeID(name) {
				unsafe = append(unsafe, name)
			}
		}
	}
	if len(unsafe) > 0 {
		sort.Strings(unsafe)
		return nil, &ConflictError{Package: p.ID(), IDs: unsafe, Reason: "remapped identifiers are not safe"}
	}

	rewritten := p.Rewrite(locs.mapping(), areas.mapping())
	g, err := graph.Build(rewritten)
	if err != nil {
		return nil, fmt.Errorf("rebuild graph after remap: %w", err)
	}

	in := Integration{
		Package:   p.ID(),
		Digest:    p.Digest,
		Locations: map[string]string{},
		Areas:     map[string]string{},
		Passes:    passes,
	}
	for _, id := range areaIDs {
		in.Areas[id] = areas.final[id]
		if areas.final[id] != id {
			in.Remaps = append(in.Remaps, Remap{Kind: KindArea, From: id, To: areas.final[id], Pass: areas.pass[id]})
		}
	}
	for _, id := range locIDs {
		in.Locations[id] = locs.final[id]
		if locs.final[id] != id {
			in.Remaps = append(in.Remaps, Remap{Kind: KindLocation, Area: locArea[id], From: id, To: locs.final[id], Pass: locs.pass[id]})
		}
	}
	return &integrated{pkg: rewritten, graph: g, in: in}, nil
}

// applyPinned reuses a mapping restored from disk so global identifiers stay
// stable across restarts.
func (r *Registry) applyPinned(p *content.Package, pin PackageState) (*integrated, error) {
	var clash []string
	for _, a := range p.Areas {
		gid, ok := pin.Areas[a.ID]
		if !ok {
			return nil, fmt.Errorf("area %s missing from mapping", a.ID)
		}
		if r.taken(KindArea, gid, p.ID()) {
			clash = append(clash, gid)
		}
		for _, l := range a.Locations {
			gid, ok := pin.Locations[l.ID]
			if !ok {
				return nil, fmt.Errorf("location %s missing from mapping", l.ID)
			}
			if r.taken(KindLocation, gid, p.ID()) {
				clash = append(clash, gid)
			}
		}
	}
	if len(clash) > 0 {
		return nil, fmt.Errorf("mapped ids already taken: %s", strings.Join(clash, ", "))
	}
	rewritten := p.Rewrite(pin.Locations, pin.Areas)
	g, err := graph.Build(rewritten)
	if err != nil {
		return nil, err
	}
	in := Integration{
		Package:   p.ID(),
		Digest:    p.Digest,
		Locations: copyMap(pin.Locations),
		Areas:     copyMap(pin.Areas),
		Remaps:    append([]Remap(nil), pin.Remaps...),
		Passes:    pin.Passes,
	}
	return &integrated{pkg: rewritten, graph: g, in: in}, nil
}

func (r *Registry) commit(s *integrated) {
	id := s.in.Package
	remapsOf := map[string][]Remap{}
	for _, rm := range s.in.Remaps {
		remapsOf[string(rm.Kind)+"/"+rm.From] = append(remapsOf[string(rm.Kind)+"/"+rm.From], rm)
	}
	for orig, gid := range s.in.Areas {
		r.areas[gid] = Entry{GlobalID: gid, Kind: KindArea, Package: id, OriginalID: orig, Remaps: remapsOf["area/"+orig]}
	}
	for orig, gid := range s.in.Locations {
		pl, _ := s.pkg.Location(gid)
		r.locations[gid] = Entry{GlobalID: gid, Kind: KindLocation, Package: id, OriginalID: orig, Area: pl.Area, Remaps: remapsOf["location/"+orig]}
		r.byOrig[origKey{pkg: id, id: orig}] = gid
	}
	r.packages[id] = s
	delete(r.pinned, id)
	r.rebuildWorld()
}

func (r *Registry) rebuildWorld() {
	ids := make([]string, 0, len(r.packages))
	for id := range r.packages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]*graph.Graph, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, r.packages[id].graph)
	}
	r.world = graph.NewWorld(parts, origResolver(r.byOrig))
}

type origResolver map[origKey]string

func (m origResolver) Resolve(pkg, id string) (string, bool) {
	gid, ok := m[origKey{pkg: pkg, id: id}]
	return gid, ok
}

func (in Integration) clone() Integration {
	out := in
	out.Locations = copyMap(in.Locations)
	out.Areas = copyMap(in.Areas)
	out.Remaps = append([]Remap(nil), in.Remaps...)
	return out
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
