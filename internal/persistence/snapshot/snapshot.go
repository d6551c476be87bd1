package snapshot

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"loreweave.ai/internal/sim/chronicle"
	"loreweave.ai/internal/sim/ledger"
)

const Version = 1

// BackupSuffix names the previous version kept next to every save.
const BackupSuffix = ".bak"

type Header struct {
	Version int    `json:"version"`
	SaveID  string `json:"save_id"`
	Turn    uint64 `json:"turn"`
	Package string `json:"package,omitempty"`
}

// SaveV1 is one playthrough: ledger record plus chronicle. The registry is
// shared between playthroughs and persisted separately; Packages records the
// digests the save was played against.
type SaveV1 struct {
	Header Header `json:"header"`

	PlayerName string            `json:"player_name,omitempty"`
	CreatedAt  int64             `json:"created_at"`
	UpdatedAt  int64             `json:"updated_at"`
	Packages   map[string]string `json:"packages,omitempty"`

	Ledger    ledger.Record   `json:"ledger"`
	Chronicle chronicle.State `json:"chronicle"`
}

// WriteSave replaces path without ever leaving a torn file behind: the new
// version goes to a temp file, is synced and read back, then the current file
// becomes the .bak and the temp file takes its place.
func WriteSave(path string, s SaveV1) error {
	if s.Header.Version == 0 {
		s.Header.Version = Version
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeSaveFile(tmp, s); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	h, err := ReadHeader(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("verify %s: %w", tmp, err)
	}
	if h != s.Header {
		_ = os.Remove(tmp)
		return fmt.Errorf("verify %s: header mismatch", tmp)
	}
	return promote(tmp, path)
}

func writeSaveFile(path string, s SaveV1) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encodeSave(f, s); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func encodeSave(w io.Writer, s SaveV1) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(s.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&s); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

// promote moves tmp into place, keeping the previous file as the backup.
func promote(tmp, path string) error {
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+BackupSuffix); err != nil {
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	syncDir(filepath.Dir(path))
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func ReadSave(path string) (SaveV1, error) {
	var s SaveV1
	f, err := os.Open(path)
	if err != nil {
		return s, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return s, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	// The header line is duplicated inside the gob body.
	if _, err := br.ReadBytes('\n'); err != nil {
		return s, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&s); err != nil {
		return s, fmt.Errorf("gob decode: %w", err)
	}
	if s.Header.Version != Version {
		return s, fmt.Errorf("unsupported save version %d", s.Header.Version)
	}
	return s, nil
}

// LoadSave reads path, falling back to the backup when the primary is
// missing or unreadable. fromBackup reports which one was used.
func LoadSave(path string) (s SaveV1, fromBackup bool, err error) {
	s, err = ReadSave(path)
	if err == nil {
		return s, false, nil
	}
	bak, bakErr := ReadSave(path + BackupSuffix)
	if bakErr != nil {
		return s, false, err
	}
	return bak, true, nil
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(bytes.TrimSpace(line), &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// Rollback discards the current version and restores the backup. The
// discarded file is kept as <path>.rolledback.
func Rollback(path string) error {
	bak := path + BackupSuffix
	if _, err := ReadSave(bak); err != nil {
		return fmt.Errorf("rollback %s: %w", path, err)
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".rolledback"); err != nil {
			return err
		}
	}
	if err := os.Rename(bak, path); err != nil {
		return err
	}
	syncDir(filepath.Dir(path))
	return nil
}
