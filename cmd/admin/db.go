package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite index path (default: <data>/index/loreweave.sqlite)")
	saveID := fs.String("save", "", "save id (required for turns, visits, entries)")
	pkg := fs.String("package", "", "package filter (registry, remaps, turns)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "saves"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "loreweave.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := queryIndex(os.Stdout, db, q, indexFilter{save: *saveID, pkg: *pkg, limit: *limit}); err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		os.Exit(1)
	}
}

type indexFilter struct {
	save  string
	pkg   string
	limit int
}

// queryIndex prints one JSON document per row of the named read-model view.
func queryIndex(w io.Writer, db *sql.DB, q string, f indexFilter) error {
	if f.limit <= 0 {
		f.limit = 20
	}
	needSave := func() error {
		if strings.TrimSpace(f.save) == "" {
			return fmt.Errorf("missing -save")
		}
		return nil
	}

	switch q {
	case "saves":
		rows, err := db.Query(`SELECT save_id, COUNT(*), MAX(turn) FROM turns GROUP BY save_id ORDER BY save_id LIMIT ?`, f.limit)
		if err != nil {
			return err
		}
		return emit(w, rows, func(rows *sql.Rows) (any, error) {
			var r struct {
				SaveID string `json:"save_id"`
				Turns  int    `json:"turns"`
				Last   int64  `json:"last_turn"`
			}
			err := rows.Scan(&r.SaveID, &r.Turns, &r.Last)
			return r, err
		})

	case "turns":
		if err := needSave(); err != nil {
			return err
		}
		rows, err := db.Query(`SELECT turn, at, COALESCE(package_id,''), COALESCE(location,''), input, narrative, COALESCE(rejected,''), degraded
			FROM turns WHERE save_id=? AND (?='' OR package_id=?) ORDER BY turn DESC LIMIT ?`, f.save, f.pkg, f.pkg, f.limit)
		if err != nil {
			return err
		}
		return emit(w, rows, func(rows *sql.Rows) (any, error) {
			var r struct {
				Turn      int64  `json:"turn"`
				At        string `json:"at"`
				Package   string `json:"package_id"`
				Location  string `json:"location"`
				Input     string `json:"input"`
				Narrative string `json:"narrative"`
				Rejected  string `json:"rejected,omitempty"`
				Degraded  bool   `json:"degraded,omitempty"`
			}
			var degraded int
			err := rows.Scan(&r.Turn, &r.At, &r.Package, &r.Location, &r.Input, &r.Narrative, &r.Rejected, &degraded)
			r.Degraded = degraded != 0
			return r, err
		})

	case "visits":
		if err := needSave(); err != nil {
			return err
		}
		rows, err := db.Query(`SELECT package_id, number, entered_turn, exited_turn, entry_location, COALESCE(exit_location,''), COALESCE(summary,'')
			FROM visits WHERE save_id=? ORDER BY entered_turn, package_id LIMIT ?`, f.save, f.limit)
		if err != nil {
			return err
		}
		return emit(w, rows, func(rows *sql.Rows) (any, error) {
			var r struct {
				Package       string `json:"package_id"`
				Number        int    `json:"number"`
				EnteredTurn   int64  `json:"entered_turn"`
				ExitedTurn    int64  `json:"exited_turn,omitempty"`
				EntryLocation string `json:"entry_location"`
				ExitLocation  string `json:"exit_location,omitempty"`
				Summary       string `json:"summary,omitempty"`
			}
			err := rows.Scan(&r.Package, &r.Number, &r.EnteredTurn, &r.ExitedTurn, &r.EntryLocation, &r.ExitLocation, &r.Summary)
			return r, err
		})

	case "entries":
		if err := needSave(); err != nil {
			return err
		}
		rows, err := db.Query(`SELECT idx, from_turn, to_turn, package_id, summary, entities_json, archive
			FROM chronicle_entries WHERE save_id=? ORDER BY idx DESC LIMIT ?`, f.save, f.limit)
		if err != nil {
			return err
		}
		return emit(w, rows, func(rows *sql.Rows) (any, error) {
			var r struct {
				Index    int             `json:"index"`
				From     int64           `json:"from"`
				To       int64           `json:"to"`
				Package  string          `json:"package_id"`
				Summary  string          `json:"summary"`
				Entities json.RawMessage `json:"entities"`
				Archive  bool            `json:"archive,omitempty"`
			}
			var ents string
			var archive int
			err := rows.Scan(&r.Index, &r.From, &r.To, &r.Package, &r.Summary, &ents, &archive)
			r.Entities = json.RawMessage(ents)
			r.Archive = archive != 0
			return r, err
		})

	case "registry":
		rows, err := db.Query(`SELECT global_id, kind, package_id, original_id, COALESCE(area,''), digest
			FROM registry_entries WHERE (?='' OR package_id=?) ORDER BY kind, global_id LIMIT ?`, f.pkg, f.pkg, f.limit)
		if err != nil {
			return err
		}
		return emit(w, rows, func(rows *sql.Rows) (any, error) {
			var r struct {
				GlobalID   string `json:"global_id"`
				Kind       string `json:"kind"`
				Package    string `json:"package_id"`
				OriginalID string `json:"original_id"`
				Area       string `json:"area,omitempty"`
				Digest     string `json:"digest"`
			}
			err := rows.Scan(&r.GlobalID, &r.Kind, &r.Package, &r.OriginalID, &r.Area, &r.Digest)
			return r, err
		})

	case "remaps":
		rows, err := db.Query(`SELECT package_id, kind, COALESCE(area,''), from_id, to_id, pass
			FROM remaps WHERE (?='' OR package_id=?) ORDER BY package_id, kind, from_id LIMIT ?`, f.pkg, f.pkg, f.limit)
		if err != nil {
			return err
		}
		return emit(w, rows, func(rows *sql.Rows) (any, error) {
			var r struct {
				Package string `json:"package_id"`
				Kind    string `json:"kind"`
				Area    string `json:"area,omitempty"`
				From    string `json:"from"`
				To      string `json:"to"`
				Pass    int    `json:"pass"`
			}
			err := rows.Scan(&r.Package, &r.Kind, &r.Area, &r.From, &r.To, &r.Pass)
			return r, err
		})

	default:
		return fmt.Errorf("unknown query %q (saves|turns|visits|entries|registry|remaps)", q)
	}
}

func emit(w io.Writer, rows *sql.Rows, scan func(*sql.Rows) (any, error)) error {
	defer rows.Close()
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
	return rows.Err()
}
