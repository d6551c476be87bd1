package main

import (
	"bytes"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"loreweave.ai/internal/persistence/indexdb"
	"loreweave.ai/internal/persistence/snapshot"
	"loreweave.ai/internal/sim/ledger"
	"loreweave.ai/internal/sim/session"
)

func TestListSaves(t *testing.T) {
	dir := t.TempDir()
	id := "11111111-2222-3333-4444-555555555555"
	path := filepath.Join(dir, id, session.SaveFile)
	for turn := uint64(1); turn <= 2; turn++ {
		err := snapshot.WriteSave(path, snapshot.SaveV1{
			Header: snapshot.Header{SaveID: id, Turn: turn, Package: "alpha"},
			Ledger: ledger.Record{Active: "alpha", Location: "A1", Turn: turn},
		})
		if err != nil {
			t.Fatalf("write save: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := listSaves(&buf, dir); err != nil {
		t.Fatalf("list: %v", err)
	}
	want := id + "\tturn=2\tpackage=alpha\tbak\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}
}

func TestQueryIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	idx.RecordRegistry(
		[]indexdb.RegistryRow{{GlobalID: "R01.beta", Kind: "location", Package: "beta", OriginalID: "R01", Area: "hall.beta", Digest: "d2"}},
		[]indexdb.RemapRow{{Package: "beta", Kind: "location", Area: "hall", From: "R01", To: "R01.beta", Pass: 1}},
	)
	idx.RecordVisit(indexdb.VisitRow{SaveID: "s1", Package: "alpha", Number: 1, EnteredTurn: 0, ExitedTurn: 4, EntryLocation: "A1", ExitLocation: "A3"})
	idx.RecordEntry(indexdb.EntryRow{SaveID: "s1", Index: 1, From: 1, To: 3, Package: "alpha", Summary: "walked", Entities: []string{"Mira"}})
	idx.RecordTurn(indexdb.TurnRow{SaveID: "s1", Turn: 1, At: "2026-01-01T00:00:00Z", Package: "alpha", Location: "A2", Input: "go to yard", Narrative: "You cross."})
	idx.RecordTurn(indexdb.TurnRow{SaveID: "s1", Turn: 2, At: "2026-01-01T00:01:00Z", Package: "alpha", Location: "A2", Input: "go to moon", Narrative: "No road.", Rejected: "E_INVALID_DESTINATION"})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql open: %v", err)
	}
	defer db.Close()

	cases := []struct {
		q    string
		f    indexFilter
		want []string
	}{
		{"saves", indexFilter{}, []string{`"save_id":"s1","turns":2,"last_turn":2`}},
		{"turns", indexFilter{save: "s1", limit: 1}, []string{`"turn":2`, `"rejected":"E_INVALID_DESTINATION"`}},
		{"visits", indexFilter{save: "s1"}, []string{`"exit_location":"A3"`}},
		{"entries", indexFilter{save: "s1"}, []string{`"entities":["Mira"]`}},
		{"registry", indexFilter{pkg: "beta"}, []string{`"global_id":"R01.beta"`}},
		{"remaps", indexFilter{}, []string{`"to":"R01.beta"`}},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		if err := queryIndex(&buf, db, tc.q, tc.f); err != nil {
			t.Fatalf("%s: %v", tc.q, err)
		}
		for _, w := range tc.want {
			if !strings.Contains(buf.String(), w) {
				t.Fatalf("%s: missing %s in %s", tc.q, w, buf.String())
			}
		}
	}

	if err := queryIndex(&bytes.Buffer{}, db, "turns", indexFilter{}); err == nil {
		t.Fatalf("turns without -save should fail")
	}
	if err := queryIndex(&bytes.Buffer{}, db, "agents", indexFilter{}); err == nil {
		t.Fatalf("unknown query should fail")
	}
}
