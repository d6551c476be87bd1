package content

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"
)

func TestDirStore_ListAndLoad(t *testing.T) {
	s := DirStore{FS: cryptFS()}
	keys, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 || keys[0] != "crypt" {
		t.Fatalf("keys=%v want [crypt]", keys)
	}

	p, err := s.Load(context.Background(), "crypt")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.ID() != "crypt" || len(p.Areas) != 1 || len(p.Locations()) != 4 {
		t.Fatalf("unexpected package: id=%s areas=%d locs=%d", p.ID(), len(p.Areas), len(p.Locations()))
	}
	if len(p.Digest) != 64 {
		t.Fatalf("digest=%q", p.Digest)
	}

	again, err := s.Load(context.Background(), "crypt")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Digest != p.Digest {
		t.Fatalf("digest not stable: %s vs %s", again.Digest, p.Digest)
	}

	if _, err := s.Load(context.Background(), "../crypt"); err == nil {
		t.Fatalf("expected traversal key to be refused")
	}
}

func TestLint_CleanPackage(t *testing.T) {
	p, err := DirStore{FS: cryptFS()}.Load(context.Background(), "crypt")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if problems := Lint(p, DefaultLimits()); len(problems) != 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
}

func TestLint_FlagsUnsafeAndOversized(t *testing.T) {
	p, err := DirStore{FS: cryptFS()}.Load(context.Background(), "crypt")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	p.Areas[0].Locations[1].ID = "../../etc"
	p.Areas[0].Locations[2].Description = strings.Repeat("x", 64)
	p.Areas[0].Locations = append(p.Areas[0].Locations, Location{ID: "A1", Name: "Dup"})

	problems := Lint(p, Limits{MaxDescriptionBytes: 32, MaxLocations: 3})
	joined := strings.Join(problems, "\n")
	for _, want := range []string{"not a safe identifier", "description exceeds", "duplicate location id", "exceeds limit 3"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %q in problems:\n%s", want, joined)
		}
	}
}

func TestLint_SchemaViolation(t *testing.T) {
	fsys := cryptFS()
	fsys["crypt/areas/upper.json"].Data = []byte(`{"area_id":"upper","locations":[{"location_id":"A1"}]}`)
	p, err := DirStore{FS: fsys}.Load(context.Background(), "crypt")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	problems := Lint(p, DefaultLimits())
	if len(problems) == 0 || !strings.Contains(problems[0], "areas/upper.json") {
		t.Fatalf("expected schema problem for area file, got %v", problems)
	}
}

func TestRewrite_RenamesEveryInternalReference(t *testing.T) {
	p, err := DirStore{FS: cryptFS()}.Load(context.Background(), "crypt")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	out := p.Rewrite(
		map[string]string{"A1": "A1.crypt", "A3": "A3.crypt", "A9": "A9.crypt"},
		map[string]string{"upper": "upper.crypt"},
	)

	if out.Areas[0].ID != "upper.crypt" {
		t.Fatalf("area not renamed: %s", out.Areas[0].ID)
	}
	if out.Manifest.EntryPoints[0] != "A1.crypt" {
		t.Fatalf("entry point not renamed: %v", out.Manifest.EntryPoints)
	}
	hall, ok := out.Location("A2")
	if !ok || hall.Connections[0] != "A3.crypt" {
		t.Fatalf("connection not renamed: %+v", hall)
	}
	if out.Manifest.Plot.Objectives[0].Location != "A3.crypt" {
		t.Fatalf("objective not renamed: %+v", out.Manifest.Plot.Objectives[0])
	}
	ev, _ := out.Event("trapdoor")
	if ev.From != "A2" || ev.To != "A9.crypt" {
		t.Fatalf("event not renamed: %+v", ev)
	}
	stair, _ := out.Location("A1.crypt")
	if stair.External[0].Location != "gate" {
		t.Fatalf("external ref must keep original id: %+v", stair.External)
	}

	if _, ok := p.Location("A1"); !ok {
		t.Fatalf("rewrite mutated the source package")
	}
}

func TestDirStore_RefusesOversizedFilesBeforeReading(t *testing.T) {
	fsys := cryptFS()
	limit := 0
	for _, f := range fsys {
		limit = max(limit, len(f.Data))
	}
	fsys["crypt/areas/zz_huge.json"] = &fstest.MapFile{Data: []byte(strings.Repeat("x", limit+1))}

	_, err := DirStore{FS: fsys, MaxFileBytes: limit}.Load(context.Background(), "crypt")
	if err == nil || !strings.Contains(err.Error(), "exceeds limit") {
		t.Fatalf("expected size refusal, got %v", err)
	}

	delete(fsys, "crypt/areas/zz_huge.json")
	if _, err := (DirStore{FS: fsys, MaxFileBytes: limit}).Load(context.Background(), "crypt"); err != nil {
		t.Fatalf("files within the limit: %v", err)
	}
}
