package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"

	"loreweave.ai/internal/content"
	"loreweave.ai/internal/generation"
	"loreweave.ai/internal/protocol"
	"loreweave.ai/internal/sim/registry"
	"loreweave.ai/internal/sim/session"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	fsys := fstest.MapFS{
		"alpha/manifest.json": {Data: []byte(`{"package_id":"alpha","title":"Alpha","entry_points":["A1"]}`)},
		"alpha/areas/main.json": {Data: []byte(`{"area_id":"main","locations":[
			{"location_id":"A1","name":"Gate","connections":["A2"]},
			{"location_id":"A2","name":"Yard"}]}`)},
	}
	reg := registry.New(registry.Config{})
	if _, err := reg.Load(context.Background(), content.DirStore{FS: fsys}); err != nil {
		t.Fatalf("load: %v", err)
	}
	stub := &generation.Stub{}
	mgr, err := session.NewManager(session.ManagerConfig{
		SavesDir:   filepath.Join(t.TempDir(), "saves"),
		Registry:   reg,
		Narrator:   stub,
		Summarizer: stub,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })

	hs := httptest.NewServer(NewServer(mgr, reg, nil).Handler())
	t.Cleanup(hs.Close)
	return hs
}

func dial(t *testing.T, hs *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(hs.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv[T any](t *testing.T, conn *websocket.Conn) T {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return v
}

func TestServer_HelloTurnResume(t *testing.T) {
	hs := testServer(t)

	conn := dial(t, hs)
	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, PlayerName: "ada"})
	w := recv[protocol.WelcomeMsg](t, conn)
	if w.Type != protocol.TypeWelcome || w.SaveID == "" || w.Resumed || w.Location != "A1" {
		t.Fatalf("welcome: %+v", w)
	}
	if len(w.Packages) != 1 || w.Packages[0].Title != "Alpha" || !w.Packages[0].Visited {
		t.Fatalf("packages: %+v", w.Packages)
	}

	send(t, conn, protocol.TurnMsg{Type: protocol.TypeTurn, Ref: "t1", Text: "go Yard"})
	n := recv[protocol.NarrationMsg](t, conn)
	if n.Type != protocol.TypeNarration || n.Ref != "t1" || n.Turn != 1 || n.Location != "A2" {
		t.Fatalf("narration: %+v", n)
	}

	send(t, conn, protocol.TurnMsg{Type: protocol.TypeTurn, Ref: "t2", Text: "go Z9"})
	n = recv[protocol.NarrationMsg](t, conn)
	if n.Rejected != protocol.ErrInvalidDestination || n.Location != "A2" {
		t.Fatalf("rejected narration: %+v", n)
	}

	send(t, conn, map[string]string{"type": "TURN"})
	e := recv[protocol.ErrorMsg](t, conn)
	if e.Type != protocol.TypeError || e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("error: %+v", e)
	}
	_ = conn.Close()

	again := dial(t, hs)
	send(t, again, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, SaveID: w.SaveID})
	w2 := recv[protocol.WelcomeMsg](t, again)
	if !w2.Resumed || w2.SaveID != w.SaveID || w2.Location != "A2" {
		t.Fatalf("resume welcome: %+v", w2)
	}
}

func TestServer_HelloUnknownSave(t *testing.T) {
	hs := testServer(t)
	conn := dial(t, hs)
	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, SaveID: "00000000-0000-0000-0000-000000000009"})
	e := recv[protocol.ErrorMsg](t, conn)
	if e.Code != protocol.ErrBadRequest {
		t.Fatalf("error: %+v", e)
	}
}
