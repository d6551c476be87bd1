package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// TurnRecord is one processed turn as written to the journal.
type TurnRecord struct {
	SaveID    string   `json:"save_id"`
	Turn      uint64   `json:"turn"`
	At        string   `json:"at"`
	Input     string   `json:"input"`
	Narrative string   `json:"narrative"`
	Package   string   `json:"package,omitempty"`
	From      string   `json:"from,omitempty"`
	Location  string   `json:"location,omitempty"`
	Path      []string `json:"path,omitempty"`
	Rejected  string   `json:"rejected,omitempty"`
	Degraded  bool     `json:"degraded,omitempty"`
	Compacted int      `json:"compacted,omitempty"`
	Entities  []string `json:"entities,omitempty"`
}

// AuditEntry records state transitions an operator may need to reconstruct:
// package entry/exit, completions, rollbacks, rejected content.
type AuditEntry struct {
	At      string            `json:"at"`
	SaveID  string            `json:"save_id,omitempty"`
	Turn    uint64            `json:"turn,omitempty"`
	Action  string            `json:"action"`
	Package string            `json:"package,omitempty"`
	Reason  string            `json:"reason,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// TurnJournal writes <saveDir>/journal/turns-*.jsonl.zst.
type TurnJournal struct{ w *JSONLZstdWriter }

func NewTurnJournal(saveDir string) *TurnJournal {
	return &TurnJournal{w: NewJSONLZstdWriter(filepath.Join(saveDir, "journal"), "turns")}
}

func (j *TurnJournal) WriteTurn(r TurnRecord) error { return j.w.Write(r) }
func (j *TurnJournal) Close() error                 { return j.w.Close() }

// AuditLogger writes <dir>/audit/audit-*.jsonl.zst.
type AuditLogger struct{ w *JSONLZstdWriter }

func NewAuditLogger(dir string) *AuditLogger {
	return &AuditLogger{w: NewJSONLZstdWriter(filepath.Join(dir, "audit"), "audit")}
}

func (l *AuditLogger) WriteAudit(e AuditEntry) error { return l.w.Write(e) }
func (l *AuditLogger) Close() error                  { return l.w.Close() }

// ListFiles returns <dir>/<prefix>-*.jsonl.zst in chronological order.
func ListFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, ".jsonl.zst") {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// ReadTurns decodes every record of one journal file. A truncated tail (the
// process died mid-write) ends the file without an error.
func ReadTurns(path string, fn func(TurnRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(strings.TrimSpace(sc.Text())) == 0 {
			continue
		}
		var r TurnRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	return nil
}
