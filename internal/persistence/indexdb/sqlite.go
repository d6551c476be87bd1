package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	defaultQueue  = 65536
	commitEvery   = 2000
	commitMaxWait = 2 * time.Second
)

type SQLiteIndex struct {
	db *sql.DB
	q  *queue

	wg   sync.WaitGroup
	once sync.Once
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, defaultQueue, true)
}

func openSQLite(path string, capacity int, start bool) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, q: newQueue(capacity)}
	if start {
		s.start()
	}
	return s, nil
}

func (s *SQLiteIndex) start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS registry_entries (
			global_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			package_id TEXT NOT NULL,
			original_id TEXT NOT NULL,
			area TEXT,
			digest TEXT NOT NULL,
			PRIMARY KEY (kind, global_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_registry_pkg ON registry_entries(package_id, original_id);`,
		`CREATE TABLE IF NOT EXISTS remaps (
			package_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			area TEXT,
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			pass INTEGER NOT NULL,
			PRIMARY KEY (package_id, kind, from_id)
		);`,
		`CREATE TABLE IF NOT EXISTS visits (
			save_id TEXT NOT NULL,
			package_id TEXT NOT NULL,
			number INTEGER NOT NULL,
			entered_turn INTEGER NOT NULL,
			exited_turn INTEGER NOT NULL,
			entry_location TEXT NOT NULL,
			exit_location TEXT,
			summary TEXT,
			PRIMARY KEY (save_id, package_id, number)
		);`,
		`CREATE TABLE IF NOT EXISTS chronicle_entries (
			save_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			from_turn INTEGER NOT NULL,
			to_turn INTEGER NOT NULL,
			package_id TEXT NOT NULL,
			summary TEXT NOT NULL,
			entities_json TEXT NOT NULL,
			archive INTEGER NOT NULL,
			PRIMARY KEY (save_id, idx)
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			save_id TEXT NOT NULL,
			turn INTEGER NOT NULL,
			at TEXT NOT NULL,
			package_id TEXT,
			location TEXT,
			input TEXT NOT NULL,
			narrative TEXT NOT NULL,
			rejected TEXT,
			degraded INTEGER NOT NULL,
			PRIMARY KEY (save_id, turn)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_pkg ON turns(save_id, package_id, turn);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.q.closed.Store(true)
		close(s.q.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() QueueStats { return s.q.stats() }

func (s *SQLiteIndex) RecordRegistry(entries []RegistryRow, remaps []RemapRow) {
	s.q.offer(req{kind: reqRegistry, registry: entries, remaps: remaps})
}

func (s *SQLiteIndex) RecordVisit(v VisitRow) { s.q.offer(req{kind: reqVisit, visit: v}) }
func (s *SQLiteIndex) RecordEntry(e EntryRow) { s.q.offer(req{kind: reqEntry, entry: e}) }
func (s *SQLiteIndex) RecordTurn(t TurnRow)   { s.q.offer(req{kind: reqTurn, turn: t}) }

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRegistry, _ := s.db.Prepare(`INSERT OR REPLACE INTO registry_entries(global_id,kind,package_id,original_id,area,digest) VALUES(?,?,?,?,?,?)`)
	insertRemap, _ := s.db.Prepare(`INSERT OR REPLACE INTO remaps(package_id,kind,area,from_id,to_id,pass) VALUES(?,?,?,?,?,?)`)
	insertVisit, _ := s.db.Prepare(`INSERT OR REPLACE INTO visits(save_id,package_id,number,entered_turn,exited_turn,entry_location,exit_location,summary) VALUES(?,?,?,?,?,?,?,?)`)
	insertEntry, _ := s.db.Prepare(`INSERT OR REPLACE INTO chronicle_entries(save_id,idx,from_turn,to_turn,package_id,summary,entities_json,archive) VALUES(?,?,?,?,?,?,?,?)`)
	insertTurn, _ := s.db.Prepare(`INSERT OR REPLACE INTO turns(save_id,turn,at,package_id,location,input,narrative,rejected,degraded) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertRegistry, insertRemap, insertVisit, insertEntry, insertTurn} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx         *sql.Tx
		opCount    int
		lastCommit = time.Now()
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return true
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-s.q.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				continue
			}
			switch r.kind {
			case reqRegistry:
				for _, e := range r.registry {
					if !exec(insertRegistry, e.GlobalID, e.Kind, e.Package, e.OriginalID, e.Area, e.Digest) {
						break
					}
				}
				if tx == nil {
					continue
				}
				for _, m := range r.remaps {
					if !exec(insertRemap, m.Package, m.Kind, m.Area, m.From, m.To, m.Pass) {
						break
					}
				}
			case reqVisit:
				v := r.visit
				exec(insertVisit, v.SaveID, v.Package, v.Number, int64(v.EnteredTurn), int64(v.ExitedTurn), v.EntryLocation, v.ExitLocation, v.Summary)
			case reqEntry:
				e := r.entry
				ents, _ := json.Marshal(e.Entities)
				exec(insertEntry, e.SaveID, e.Index, int64(e.From), int64(e.To), e.Package, e.Summary, string(ents), boolInt(e.Archive))
			case reqTurn:
				t := r.turn
				exec(insertTurn, t.SaveID, int64(t.Turn), t.At, t.Package, t.Location, t.Input, t.Narrative, t.Rejected, boolInt(t.Degraded))
			}
			if tx != nil && opCount >= commitEvery {
				commit()
			}
		case <-ticker.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// TurnCount reports how many turns of a save have been indexed.
func (s *SQLiteIndex) TurnCount(ctx context.Context, saveID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE save_id = ?`, saveID).Scan(&n)
	return n, err
}

// Visits lists the indexed visits of a save, oldest first.
func (s *SQLiteIndex) Visits(ctx context.Context, saveID string) ([]VisitRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT package_id,number,entered_turn,exited_turn,entry_location,COALESCE(exit_location,''),COALESCE(summary,'')
		FROM visits WHERE save_id = ? ORDER BY entered_turn, package_id, number`, saveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []VisitRow
	for rows.Next() {
		v := VisitRow{SaveID: saveID}
		var entered, exited int64
		if err := rows.Scan(&v.Package, &v.Number, &entered, &exited, &v.EntryLocation, &v.ExitLocation, &v.Summary); err != nil {
			return nil, err
		}
		v.EnteredTurn, v.ExitedTurn = uint64(entered), uint64(exited)
		out = append(out, v)
	}
	return out, rows.Err()
}

// PackageFor finds which package owns a global location id.
func (s *SQLiteIndex) PackageFor(ctx context.Context, globalID string) (string, error) {
	var pkg string
	err := s.db.QueryRowContext(ctx, `SELECT package_id FROM registry_entries WHERE kind = 'location' AND global_id = ?`, globalID).Scan(&pkg)
	return pkg, err
}
