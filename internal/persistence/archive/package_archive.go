package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"loreweave.ai/internal/persistence/snapshot"
	"loreweave.ai/internal/sim/chronicle"
)

// VisitArchive is what a package-exit pass produced for one visit.
type VisitArchive struct {
	Package     string            `json:"package_id"`
	Visit       int               `json:"visit"`
	EnteredTurn uint64            `json:"entered_turn"`
	ExitedTurn  uint64            `json:"exited_turn"`
	Summary     string            `json:"summary"`
	Entries     []chronicle.Entry `json:"entries"`
	CreatedAt   string            `json:"created_at"`
}

type PackageArchiveMeta struct {
	Package   string `json:"package_id"`
	Visits    int    `json:"visits"`
	LastVisit string `json:"last_visit"`
	UpdatedAt string `json:"updated_at"`
}

func packageDir(saveDir, pkg string) string {
	return filepath.Join(saveDir, "archives", pkg)
}

// ArchiveVisit writes saveDir/archives/<pkg>/visit_<NNN>.json and refreshes
// meta.json next to it.
func ArchiveVisit(saveDir string, v VisitArchive) (string, error) {
	if v.Package == "" || strings.ContainsAny(v.Package, `/\`) || v.Package == "." || v.Package == ".." {
		return "", fmt.Errorf("archive: bad package id %q", v.Package)
	}
	if v.Visit <= 0 {
		return "", fmt.Errorf("archive: visit number must be positive")
	}
	if v.CreatedAt == "" {
		v.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	dir := packageDir(saveDir, v.Package)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, fmt.Sprintf("visit_%03d.json", v.Visit))
	if err := snapshot.WriteJSON(dst, v); err != nil {
		return "", err
	}

	visits, _ := ListVisits(saveDir, v.Package)
	meta := PackageArchiveMeta{
		Package:   v.Package,
		Visits:    len(visits),
		LastVisit: filepath.Base(dst),
		UpdatedAt: v.CreatedAt,
	}
	if err := snapshot.WriteJSON(filepath.Join(dir, "meta.json"), meta); err != nil {
		return dst, err
	}
	return dst, nil
}

// ListVisits returns the archived visit files of pkg in visit order.
func ListVisits(saveDir, pkg string) ([]string, error) {
	ents, err := os.ReadDir(packageDir(saveDir, pkg))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, "visit_") && strings.HasSuffix(name, ".json") {
			out = append(out, filepath.Join(packageDir(saveDir, pkg), name))
		}
	}
	sort.Strings(out)
	return out, nil
}

func ReadVisit(path string) (VisitArchive, error) {
	var v VisitArchive
	_, err := snapshot.ReadJSON(path, &v)
	return v, err
}

func ReadMeta(saveDir, pkg string) (PackageArchiveMeta, error) {
	var m PackageArchiveMeta
	_, err := snapshot.ReadJSON(filepath.Join(packageDir(saveDir, pkg), "meta.json"), &m)
	return m, err
}
