package archive

import (
	"fmt"
	"path/filepath"
	"testing"

	"loreweave.ai/internal/sim/chronicle"
)

func TestArchiveVisit_WritesVisitAndMeta(t *testing.T) {
	saveDir := filepath.Join(t.TempDir(), "saves", "s1")

	for i := 1; i <= 2; i++ {
		path, err := ArchiveVisit(saveDir, VisitArchive{
			Package:     "crypt",
			Visit:       i,
			EnteredTurn: uint64(i * 10),
			ExitedTurn:  uint64(i*10 + 5),
			Summary:     "the relic was found",
			Entries:     []chronicle.Entry{{From: 1, To: 5, Turns: 5, Package: "crypt", Summary: "s", Archive: true}},
		})
		if err != nil {
			t.Fatalf("archive visit %d: %v", i, err)
		}
		if filepath.Base(path) != fmt.Sprintf("visit_%03d.json", i) {
			t.Fatalf("path=%s", path)
		}
	}

	visits, err := ListVisits(saveDir, "crypt")
	if err != nil || len(visits) != 2 {
		t.Fatalf("visits=%v err=%v", visits, err)
	}
	v, err := ReadVisit(visits[1])
	if err != nil || v.Visit != 2 || len(v.Entries) != 1 || !v.Entries[0].Archive {
		t.Fatalf("visit=%+v err=%v", v, err)
	}
	meta, err := ReadMeta(saveDir, "crypt")
	if err != nil || meta.Visits != 2 || meta.LastVisit != "visit_002.json" {
		t.Fatalf("meta=%+v err=%v", meta, err)
	}
}

func TestArchiveVisit_RejectsBadPackage(t *testing.T) {
	if _, err := ArchiveVisit(t.TempDir(), VisitArchive{Package: "../x", Visit: 1}); err == nil {
		t.Fatalf("expected error")
	}
}
