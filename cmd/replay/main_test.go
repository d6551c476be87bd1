package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"testing/fstest"

	"loreweave.ai/internal/content"
	"loreweave.ai/internal/generation"
	"loreweave.ai/internal/sim/chronicle"
	"loreweave.ai/internal/sim/registry"
	"loreweave.ai/internal/sim/session"
)

func playSave(t *testing.T, inputs ...string) string {
	t.Helper()
	fsys := fstest.MapFS{
		"solo/manifest.json": &fstest.MapFile{Data: []byte(`{"package_id":"solo","title":"Solo","entry_points":["S1"]}`)},
		"solo/areas/main.json": &fstest.MapFile{Data: []byte(`{"area_id":"main","locations":[
			{"location_id":"S1","name":"Porch","connections":["S2"]},
			{"location_id":"S2","name":"Hall","connections":["S3"]},
			{"location_id":"S3","name":"Attic"}]}`)},
	}
	reg := registry.New(registry.Config{})
	if _, err := reg.Load(context.Background(), content.DirStore{FS: fsys}); err != nil {
		t.Fatalf("load: %v", err)
	}
	stub := &generation.Stub{}
	dir := t.TempDir()
	s, err := session.Start(context.Background(), session.Config{
		SaveID:     "11111111-2222-3333-4444-555555555555",
		PlayerName: "ada",
		Dir:        dir,
		Registry:   reg,
		Narrator:   stub,
		Summarizer: stub,
		Chronicle:  chronicle.Config{Threshold: 4000, Cost: chronicle.CharCost},
		Journal:    true,
	}, "solo")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, in := range inputs {
		if _, err := s.Turn(context.Background(), in); err != nil {
			t.Fatalf("turn %q: %v", in, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return dir
}

func TestReplayMatchesSave(t *testing.T) {
	dir := playSave(t, "go to hall", "go to the cellar", "go to attic")

	var buf bytes.Buffer
	res, err := replay(&buf, dir, options{transcript: true})
	if err != nil {
		t.Fatalf("replay: %v\n%s", err, buf.String())
	}
	if res.checked != 3 || res.lastTurn != 3 || res.location != "S3" {
		t.Fatalf("result=%+v", res)
	}
	out := buf.String()
	for _, want := range []string{"id=11111111-2222-3333-4444-555555555555", "> go to hall", "--- turn 3 [solo] S3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("transcript missing %q:\n%s", want, out)
		}
	}
}

func TestReplayStopsAtTurn(t *testing.T) {
	dir := playSave(t, "go to hall", "go to attic")

	var buf bytes.Buffer
	res, err := replay(&buf, dir, options{toTurn: 1})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.checked != 1 || res.location != "S2" {
		t.Fatalf("result=%+v", res)
	}
	if strings.Contains(buf.String(), "> go to hall") {
		t.Fatalf("transcript printed with transcript=false")
	}
}

func TestReplayWithoutJournal(t *testing.T) {
	dir := playSave(t)
	if _, err := replay(&bytes.Buffer{}, dir, options{}); err == nil {
		t.Fatalf("expected error for a save with no journal")
	}
}
