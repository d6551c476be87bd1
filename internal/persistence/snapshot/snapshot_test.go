package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"loreweave.ai/internal/sim/chronicle"
	"loreweave.ai/internal/sim/ledger"
)

func sampleSave(turn uint64) SaveV1 {
	return SaveV1{
		Header:     Header{Version: Version, SaveID: "s1", Turn: turn, Package: "crypt"},
		PlayerName: "Ada",
		Packages:   map[string]string{"crypt": "abc"},
		Ledger: ledger.Record{
			Active:    "crypt",
			Location:  "A2",
			Available: []string{"crypt", "town"},
			Visits:    []ledger.Visit{{Package: "crypt", Number: 1, EnteredTurn: 1, EntryLocation: "A1"}},
			Turn:      turn,
		},
		Chronicle: chronicle.State{
			Entries: []chronicle.Entry{{From: 1, To: 3, Turns: 3, Package: "crypt", Summary: "s", Entities: []string{"Mira"}}},
			Window:  []chronicle.Turn{{Seq: 4, Role: chronicle.RolePlayer, Text: "look", Cost: 1}},
			LastSeq: 4,
		},
	}
}

func TestWriteSave_RoundTripAndBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s1", "game.sav.zst")
	if err := WriteSave(path, sampleSave(4)); err != nil {
		t.Fatalf("write 1: %v", err)
	}
	if err := WriteSave(path, sampleSave(5)); err != nil {
		t.Fatalf("write 2: %v", err)
	}

	got, err := ReadSave(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header.Turn != 5 || got.Ledger.Location != "A2" || got.Chronicle.Window[0].Text != "look" || got.Chronicle.Entries[0].Entities[0] != "Mira" {
		t.Fatalf("round trip: %+v", got)
	}
	bak, err := ReadSave(path + BackupSuffix)
	if err != nil || bak.Header.Turn != 4 {
		t.Fatalf("backup: %+v %v", bak.Header, err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
	h, err := ReadHeader(path)
	if err != nil || h.SaveID != "s1" || h.Turn != 5 {
		t.Fatalf("header: %+v %v", h, err)
	}
}

func TestLoadSave_FallsBackOnTornPrimary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game.sav.zst")
	if err := WriteSave(path, sampleSave(4)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteSave(path, sampleSave(5)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(path, []byte("torn"), 0o644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	s, fromBackup, err := LoadSave(path)
	if err != nil || !fromBackup || s.Header.Turn != 4 {
		t.Fatalf("LoadSave: turn=%d backup=%v err=%v", s.Header.Turn, fromBackup, err)
	}
}

func TestRollback_RestoresPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game.sav.zst")
	if err := Rollback(path); err == nil {
		t.Fatalf("rollback without backup should fail")
	}
	_ = WriteSave(path, sampleSave(4))
	_ = WriteSave(path, sampleSave(9))
	if err := Rollback(path); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	s, err := ReadSave(path)
	if err != nil || s.Header.Turn != 4 {
		t.Fatalf("after rollback: %d %v", s.Header.Turn, err)
	}
	if _, err := os.Stat(path + ".rolledback"); err != nil {
		t.Fatalf("discarded version not kept: %v", err)
	}
}

func TestWriteJSON_AtomicWithBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	type doc struct {
		N int `json:"n"`
	}
	var d doc
	if _, err := ReadJSON(path, &d); !os.IsNotExist(err) {
		t.Fatalf("missing file: %v", err)
	}
	if err := WriteJSON(path, doc{N: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteJSON(path, doc{N: 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadJSON(path, &d); err != nil || d.N != 2 {
		t.Fatalf("read: %+v %v", d, err)
	}
	_ = os.WriteFile(path, []byte("{"), 0o644)
	d = doc{}
	fromBackup, err := ReadJSON(path, &d)
	if err != nil || !fromBackup || d.N != 1 {
		t.Fatalf("fallback: %+v %v %v", d, fromBackup, err)
	}
}
