package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteJSON writes v to path with the same temp, verify, backup and rename
// steps as WriteSave.
func WriteJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.Write(append(b, '\n'))
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(tmp)
		return werr
	}
	back, err := os.ReadFile(tmp)
	if err != nil || !json.Valid(back) {
		_ = os.Remove(tmp)
		return fmt.Errorf("verify %s: unreadable after write", tmp)
	}
	return promote(tmp, path)
}

// ReadJSON decodes path into v, falling back to the backup. A missing file
// with no backup returns os.ErrNotExist.
func ReadJSON(path string, v any) (fromBackup bool, err error) {
	err = readJSON(path, v)
	if err == nil {
		return false, nil
	}
	if bakErr := readJSON(path+BackupSuffix, v); bakErr == nil {
		return true, nil
	}
	return false, err
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}
