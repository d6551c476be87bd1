package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"loreweave.ai/internal/content"
	"loreweave.ai/internal/persistence/indexdb"
	plog "loreweave.ai/internal/persistence/log"
	"loreweave.ai/internal/persistence/snapshot"
	"loreweave.ai/internal/sim/registry"
	"loreweave.ai/internal/sim/session"
)

// admin serves the loopback-only operator endpoints.
type admin struct {
	mgr      *session.Manager
	reg      *registry.Registry
	store    content.Store
	index    indexdb.Sink
	audit    *plog.AuditLogger
	savesDir string
	logger   *log.Logger
}

func (a *admin) register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/v1/saves", a.loopbackOnly(a.handleSaves))
	mux.HandleFunc("/admin/v1/packages", a.loopbackOnly(a.handlePackages))
	mux.HandleFunc("/admin/v1/rescan", a.loopbackOnly(a.handleRescan))
	mux.HandleFunc("/admin/v1/rollback", a.loopbackOnly(a.handleRollback))
}

func (a *admin) loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func (a *admin) handleSaves(rw http.ResponseWriter, r *http.Request) {
	saves, err := a.mgr.Saves()
	if err != nil {
		writeJSONStatus(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if saves == nil {
		saves = []snapshot.Header{}
	}
	writeJSONStatus(rw, http.StatusOK, map[string]any{"ok": true, "saves": saves})
}

type packageStatus struct {
	PackageID  string `json:"package_id"`
	Title      string `json:"title"`
	Digest     string `json:"digest"`
	EntryPoint string `json:"entry_point"`
	Locations  int    `json:"locations"`
	Remaps     int    `json:"remaps"`
}

func (a *admin) handlePackages(rw http.ResponseWriter, r *http.Request) {
	out := []packageStatus{}
	for _, id := range a.reg.PackageIDs() {
		in, ok := a.reg.Integration(id)
		if !ok {
			continue
		}
		st := packageStatus{PackageID: id, Digest: in.Digest, Locations: len(in.Locations), Remaps: len(in.Remaps)}
		if p, ok := a.reg.Package(id); ok {
			st.Title = p.Manifest.Title
		}
		st.EntryPoint, _ = a.reg.EntryPoint(id)
		out = append(out, st)
	}
	writeJSONStatus(rw, http.StatusOK, map[string]any{"ok": true, "packages": out})
}

func (a *admin) handleRescan(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	rep, err := a.mgr.Rescan(ctx, a.store)
	if err != nil {
		writeJSONStatus(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	var added []string
	for _, in := range rep.Integrated {
		if !in.Existing {
			added = append(added, in.Package)
		}
	}
	rejected := map[string]string{}
	for _, rj := range rep.Rejected {
		key := rj.Package
		if key == "" {
			key = rj.Key
		}
		rejected[key] = rj.Err.Error()
	}
	a.logger.Printf("rescan: integrated=%d rejected=%d", len(added), len(rejected))
	writeJSONStatus(rw, http.StatusOK, map[string]any{"ok": true, "integrated": added, "rejected": rejected})
}

// handleRollback restores the previous version of a save. A live session for
// the save is released first so it cannot overwrite the restored file.
func (a *admin) handleRollback(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("save"))
	if _, err := uuid.Parse(id); err != nil {
		writeJSONStatus(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "bad save id"})
		return
	}
	if err := a.mgr.Release(id); err != nil {
		a.logger.Printf("rollback save=%s release: %v", id, err)
	}
	path := filepath.Join(a.savesDir, id, session.SaveFile)
	if err := snapshot.Rollback(path); err != nil {
		writeJSONStatus(rw, http.StatusConflict, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	h, err := snapshot.ReadHeader(path)
	if err != nil {
		writeJSONStatus(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if a.audit != nil {
		_ = a.audit.WriteAudit(plog.AuditEntry{
			At:      time.Now().UTC().Format(time.RFC3339Nano),
			SaveID:  id,
			Turn:    h.Turn,
			Action:  "rollback",
			Package: h.Package,
			Reason:  "admin",
		})
	}
	a.logger.Printf("rollback save=%s turn=%d", id, h.Turn)
	writeJSONStatus(rw, http.StatusOK, map[string]any{"ok": true, "save_id": id, "turn": h.Turn})
}

func (a *admin) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(rw, "# HELP loreweave_packages Integrated content packages.\n")
	fmt.Fprintf(rw, "# TYPE loreweave_packages gauge\n")
	fmt.Fprintf(rw, "loreweave_packages %d\n", len(a.reg.PackageIDs()))

	fmt.Fprintf(rw, "# HELP loreweave_locations Locations in the global namespace.\n")
	fmt.Fprintf(rw, "# TYPE loreweave_locations gauge\n")
	w := a.reg.World()
	fmt.Fprintf(rw, "loreweave_locations %d\n", w.Len())

	fmt.Fprintf(rw, "# HELP loreweave_dormant_edges External references waiting for their target package.\n")
	fmt.Fprintf(rw, "# TYPE loreweave_dormant_edges gauge\n")
	fmt.Fprintf(rw, "loreweave_dormant_edges %d\n", len(w.Dormant()))

	writeIndexMetrics(rw, a.index)
}

func writeIndexMetrics(rw http.ResponseWriter, idx indexdb.Sink) {
	if idx == nil {
		return
	}
	st := idx.Stats()
	fmt.Fprintf(rw, "# HELP loreweave_index_queue_depth Index writer backlog.\n")
	fmt.Fprintf(rw, "# TYPE loreweave_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "loreweave_index_queue_depth %d\n", st.QueueDepth)

	fmt.Fprintf(rw, "# HELP loreweave_index_queue_capacity Index writer queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE loreweave_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "loreweave_index_queue_capacity %d\n", st.QueueCapacity)

	fmt.Fprintf(rw, "# HELP loreweave_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE loreweave_index_dropped_total counter\n")
	fmt.Fprintf(rw, "loreweave_index_dropped_total{kind=%q} %d\n", "registry", st.DropRegistryTotal)
	fmt.Fprintf(rw, "loreweave_index_dropped_total{kind=%q} %d\n", "visit", st.DropVisitTotal)
	fmt.Fprintf(rw, "loreweave_index_dropped_total{kind=%q} %d\n", "entry", st.DropEntryTotal)
	fmt.Fprintf(rw, "loreweave_index_dropped_total{kind=%q} %d\n", "turn", st.DropTurnTotal)
}

func writeJSONStatus(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
