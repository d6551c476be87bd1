package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"loreweave.ai/internal/content"
	"loreweave.ai/internal/generation"
	"loreweave.ai/internal/persistence/indexdb"
	"loreweave.ai/internal/sim/chronicle"
	"loreweave.ai/internal/sim/registry"
	"loreweave.ai/internal/sim/session"
)

func soloStore() content.DirStore {
	return content.DirStore{FS: fstest.MapFS{
		"solo/manifest.json": &fstest.MapFile{Data: []byte(`{"package_id":"solo","title":"Solo","entry_points":["S1"]}`)},
		"solo/areas/main.json": &fstest.MapFile{Data: []byte(`{"area_id":"main","locations":[
			{"location_id":"S1","name":"Porch","connections":["S2"]},
			{"location_id":"S2","name":"Hall"}]}`)},
	}}
}

func newTestAdmin(t *testing.T) *admin {
	t.Helper()
	reg := registry.New(registry.Config{})
	stub := &generation.Stub{}
	dir := t.TempDir()
	mgr, err := session.NewManager(session.ManagerConfig{
		SavesDir:   dir,
		Registry:   reg,
		Narrator:   stub,
		Summarizer: stub,
		Chronicle:  chronicle.Config{Threshold: 4000, Cost: chronicle.CharCost},
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })
	return &admin{
		mgr:      mgr,
		reg:      reg,
		store:    soloStore(),
		index:    indexdb.Nop{},
		savesDir: dir,
		logger:   log.New(io.Discard, "", 0),
	}
}

func call(t *testing.T, a *admin, method, target string) (int, map[string]any) {
	t.Helper()
	mux := http.NewServeMux()
	a.register(mux)
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "127.0.0.1:40000"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var body map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, target, rec.Body.String(), err)
		}
	}
	return rec.Code, body
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:1234": true,
		"[::1]:80":       true,
		"::1":            true,
		"10.0.0.7:9000":  false,
		"example.com:80": false,
		"":               false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}

func TestAdminEnabledDefaults(t *testing.T) {
	cases := []struct {
		env  serverEnv
		want bool
	}{
		{serverEnv{DeployEnv: "dev"}, true},
		{serverEnv{DeployEnv: "staging"}, false},
		{serverEnv{DeployEnv: "Production "}, false},
		{serverEnv{DeployEnv: "staging", EnableAdminHTTP: "maybe"}, false},
		{serverEnv{DeployEnv: "production", EnableAdminHTTP: "true"}, true},
		{serverEnv{DeployEnv: "dev", EnableAdminHTTP: "0"}, false},
	}
	for _, tc := range cases {
		if got := tc.env.adminEnabled(); got != tc.want {
			t.Fatalf("%+v: got %v want %v", tc.env, got, tc.want)
		}
	}
}

func TestOpenRuntimeIndexNone(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	for _, e := range []serverEnv{{IndexBackend: "none"}, {IndexBackend: "sqlite"}} {
		idx, err := openRuntimeIndex(context.Background(), t.TempDir(), e, e.IndexBackend == "sqlite", logger)
		if err != nil {
			t.Fatalf("%s: %v", e.IndexBackend, err)
		}
		if _, ok := idx.(indexdb.Nop); !ok {
			t.Fatalf("%s: got %T want Nop", e.IndexBackend, idx)
		}
	}
	if _, err := openRuntimeIndex(context.Background(), t.TempDir(), serverEnv{IndexBackend: "mongo"}, false, logger); err == nil {
		t.Fatalf("mongo without uri: expected error")
	}
	if _, err := openRuntimeIndex(context.Background(), t.TempDir(), serverEnv{IndexBackend: "d1"}, false, logger); err == nil {
		t.Fatalf("unknown backend: expected error")
	}
}

func TestAdminRejectsRemoteCallers(t *testing.T) {
	a := newTestAdmin(t)
	mux := http.NewServeMux()
	a.register(mux)
	req := httptest.NewRequest(http.MethodGet, "/admin/v1/saves", nil)
	req.RemoteAddr = "203.0.113.9:5000"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d want 403", rec.Code)
	}
}

func TestAdminRescanAndMetrics(t *testing.T) {
	a := newTestAdmin(t)

	if code, _ := call(t, a, http.MethodGet, "/admin/v1/rescan"); code != http.StatusMethodNotAllowed {
		t.Fatalf("GET rescan status=%d", code)
	}
	code, body := call(t, a, http.MethodPost, "/admin/v1/rescan")
	if code != http.StatusOK {
		t.Fatalf("rescan status=%d body=%v", code, body)
	}
	added, _ := body["integrated"].([]any)
	if len(added) != 1 || added[0] != "solo" {
		t.Fatalf("integrated=%v", body["integrated"])
	}
	code, body = call(t, a, http.MethodPost, "/admin/v1/rescan")
	if code != http.StatusOK || body["integrated"] != nil {
		t.Fatalf("second rescan should add nothing: %d %v", code, body)
	}

	_, body = call(t, a, http.MethodGet, "/admin/v1/packages")
	pkgs, _ := body["packages"].([]any)
	if len(pkgs) != 1 {
		t.Fatalf("packages=%v", body["packages"])
	}
	p := pkgs[0].(map[string]any)
	if p["package_id"] != "solo" || p["title"] != "Solo" || p["entry_point"] != "S1" {
		t.Fatalf("package=%v", p)
	}

	rec := httptest.NewRecorder()
	a.handleMetrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	out := rec.Body.String()
	for _, want := range []string{
		"loreweave_packages 1\n",
		"loreweave_locations 2\n",
		"loreweave_dormant_edges 0\n",
		`loreweave_index_dropped_total{kind="turn"} 0`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics missing %q:\n%s", want, out)
		}
	}
}

func TestAdminRollback(t *testing.T) {
	a := newTestAdmin(t)
	if _, err := a.mgr.Rescan(context.Background(), a.store); err != nil {
		t.Fatalf("rescan: %v", err)
	}

	if code, _ := call(t, a, http.MethodPost, "/admin/v1/rollback?save=nope"); code != http.StatusBadRequest {
		t.Fatalf("bad id status=%d", code)
	}

	s, err := a.mgr.Create(context.Background(), "ada", "solo")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := s.ID()
	if code, _ := call(t, a, http.MethodPost, "/admin/v1/rollback?save="+id); code != http.StatusConflict {
		t.Fatalf("rollback without backup status=%d", code)
	}
	// the failed rollback released the live session
	if s, err = a.mgr.Open(id); err != nil {
		t.Fatalf("reopen: %v", err)
	}

	out, err := s.Turn(context.Background(), "go to hall")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if out.Location != "S2" {
		t.Fatalf("location=%s", out.Location)
	}

	code, body := call(t, a, http.MethodPost, "/admin/v1/rollback?save="+id)
	if code != http.StatusOK {
		t.Fatalf("rollback status=%d body=%v", code, body)
	}
	if turn, _ := body["turn"].(float64); uint64(turn) >= out.Turn {
		t.Fatalf("rolled back turn=%v, played turn=%d", body["turn"], out.Turn)
	}

	s2, err := a.mgr.Open(id)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if loc := s2.Record().Location; loc != "S1" {
		t.Fatalf("location after rollback=%s want S1", loc)
	}

	_, body = call(t, a, http.MethodGet, "/admin/v1/saves")
	saves, _ := body["saves"].([]any)
	if len(saves) != 1 {
		t.Fatalf("saves=%v", body["saves"])
	}
}
