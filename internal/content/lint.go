package content

import (
	"fmt"
	"regexp"
	"strings"

	"loreweave.ai/internal/protocol"
)

// Limits bounds what a single package may contain.
type Limits struct {
	MaxFileBytes        int
	MaxLocations        int
	MaxDescriptionBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxFileBytes:        1 << 20,
		MaxLocations:        2000,
		MaxDescriptionBytes: 16 * 1024,
	}
}

// MaxIDLen is the longest identifier SafeID accepts.
const MaxIDLen = 64

var idRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// SafeID reports whether id can be used as a global identifier and as a path
// element.
func SafeID(id string) bool {
	return idRe.MatchString(id) && !strings.Contains(id, "..")
}

// Lint checks schema conformance, identifier safety and size limits. It does
// not look at connectivity; see graph.Build.
func Lint(p *Package, lim Limits) []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	for _, name := range p.FilePaths() {
		raw := p.Files[name]
		if lim.MaxFileBytes > 0 && len(raw) > lim.MaxFileBytes {
			add("%s: %d bytes exceeds limit %d", name, len(raw), lim.MaxFileBytes)
			continue
		}
		schema := protocol.SchemaArea
		if name == ManifestFile {
			schema = protocol.SchemaManifest
		}
		if err := protocol.Validate(schema, raw); err != nil {
			add("%s: %v", name, err)
		}
	}

	if !SafeID(p.Manifest.ID) {
		add("package id %q is not a safe identifier", p.Manifest.ID)
	}

	areas := map[string]bool{}
	locs := map[string]bool{}
	count := 0
	for _, a := range p.Areas {
		if !SafeID(a.ID) {
			add("area id %q is not a safe identifier", a.ID)
		}
		if areas[a.ID] {
			add("duplicate area id %q", a.ID)
		}
		areas[a.ID] = true
		for _, l := range a.Locations {
			count++
			if !SafeID(l.ID) {
				add("location id %q is not a safe identifier", l.ID)
			}
			if locs[l.ID] {
				add("duplicate location id %q", l.ID)
			}
			locs[l.ID] = true
			if lim.MaxDescriptionBytes > 0 && len(l.Description) > lim.MaxDescriptionBytes {
				add("location %s: description exceeds %d bytes", l.ID, lim.MaxDescriptionBytes)
			}
			for _, ext := range l.External {
				if !SafeID(ext.Package) || !SafeID(ext.Location) {
					add("location %s: unsafe external reference %s/%s", l.ID, ext.Package, ext.Location)
				}
				if ext.Package == p.Manifest.ID {
					add("location %s: external reference to own package %s", l.ID, ext.Location)
				}
			}
		}
	}
	if lim.MaxLocations > 0 && count > lim.MaxLocations {
		add("%d locations exceeds limit %d", count, lim.MaxLocations)
	}
	if count == 0 {
		add("package has no locations")
	}
	for _, o := range p.Manifest.Plot.Objectives {
		if !SafeID(o.ID) {
			add("objective id %q is not a safe identifier", o.ID)
		}
	}
	for _, ev := range p.Manifest.Plot.Events {
		if !SafeID(ev.ID) {
			add("event id %q is not a safe identifier", ev.ID)
		}
	}
	return problems
}
