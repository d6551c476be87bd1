package log

import (
	"path/filepath"
	"testing"
	"time"
)

func TestTurnJournal_WriteRotateRead(t *testing.T) {
	dir := t.TempDir()
	j := NewTurnJournal(dir)
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	j.w.now = func() time.Time { return clock }

	if err := j.WriteTurn(TurnRecord{SaveID: "s", Turn: 1, Input: "look"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := j.WriteTurn(TurnRecord{SaveID: "s", Turn: 2, Input: "go hall", Path: []string{"A1", "A2"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := j.WriteTurn(TurnRecord{SaveID: "s", Turn: 3, Input: "wait"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListFiles(filepath.Join(dir, "journal"), "turns")
	if err != nil || len(files) != 2 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	if filepath.Base(files[0]) != "turns-2026-03-01-10.jsonl.zst" {
		t.Fatalf("first file %s", files[0])
	}
	var turns []uint64
	for _, f := range files {
		if err := ReadTurns(f, func(r TurnRecord) error {
			turns = append(turns, r.Turn)
			return nil
		}); err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
	}
	if len(turns) != 3 || turns[0] != 1 || turns[2] != 3 {
		t.Fatalf("turns=%v", turns)
	}
}

func TestAuditLogger_Writes(t *testing.T) {
	dir := t.TempDir()
	a := NewAuditLogger(dir)
	if err := a.WriteAudit(AuditEntry{Action: "ENTER_PACKAGE", Package: "crypt"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	files, err := ListFiles(filepath.Join(dir, "audit"), "audit")
	if err != nil || len(files) != 1 {
		t.Fatalf("files=%v err=%v", files, err)
	}
}
