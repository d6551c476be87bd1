package content

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

const (
	ManifestFile = "manifest.json"
	AreasDir     = "areas"
)

// Store enumerates candidate packages. Keys are opaque to callers.
type Store interface {
	List(ctx context.Context) ([]string, error)
	Load(ctx context.Context, key string) (*Package, error)
}

// DirStore serves packages laid out as <root>/<key>/manifest.json plus
// <root>/<key>/areas/*.json.
type DirStore struct {
	FS fs.FS
	// MaxFileBytes refuses larger files before reading them. Zero means
	// DefaultLimits().MaxFileBytes.
	MaxFileBytes int
}

func NewDirStore(root string) DirStore {
	return DirStore{FS: os.DirFS(root)}
}

func (s DirStore) List(ctx context.Context) ([]string, error) {
	entries, err := fs.ReadDir(s.FS, ".")
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, err := fs.Stat(s.FS, path.Join(e.Name(), ManifestFile)); err != nil {
			continue
		}
		keys = append(keys, e.Name())
	}
	sort.Strings(keys)
	return keys, nil
}

func (s DirStore) Load(ctx context.Context, key string) (*Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !fs.ValidPath(key) || strings.Contains(key, "/") {
		return nil, fmt.Errorf("invalid package key %q", key)
	}
	sub, err := fs.Sub(s.FS, key)
	if err != nil {
		return nil, err
	}
	limit := s.MaxFileBytes
	if limit <= 0 {
		limit = DefaultLimits().MaxFileBytes
	}
	return LoadFS(sub, limit)
}

// readFile reads name unless it is larger than limit bytes.
func readFile(fsys fs.FS, name string, limit int) ([]byte, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() > int64(limit) {
		return nil, fmt.Errorf("%s: %d bytes exceeds limit %d", name, st.Size(), limit)
	}
	b, err := io.ReadAll(io.LimitReader(f, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(b) > limit {
		return nil, fmt.Errorf("%s: more than %d bytes", name, limit)
	}
	return b, nil
}

// LoadFS reads one package bundle rooted at fsys. Files over maxFileBytes are
// refused before they are read.
func LoadFS(fsys fs.FS, maxFileBytes int) (*Package, error) {
	files := map[string][]byte{}

	raw, err := readFile(fsys, ManifestFile, maxFileBytes)
	if err != nil {
		return nil, err
	}
	files[ManifestFile] = raw

	var p Package
	if err := json.Unmarshal(raw, &p.Manifest); err != nil {
		return nil, fmt.Errorf("%s: %w", ManifestFile, err)
	}

	entries, err := fs.ReadDir(fsys, AreasDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		rel := path.Join(AreasDir, name)
		b, err := readFile(fsys, rel, maxFileBytes)
		if err != nil {
			return nil, err
		}
		files[rel] = b
	}
	for _, name := range names {
		var a Area
		if err := json.Unmarshal(files[path.Join(AreasDir, name)], &a); err != nil {
			return nil, fmt.Errorf("area %s: %w", name, err)
		}
		p.Areas = append(p.Areas, a)
	}

	p.Files = files
	p.Digest = digestFiles(files)
	return &p, nil
}

func digestFiles(files map[string][]byte) string {
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var concat bytes.Buffer
	for _, k := range keys {
		concat.WriteString(k)
		concat.WriteByte(0)
		concat.Write(files[k])
		concat.WriteByte('\n')
	}
	sum := sha256.Sum256(concat.Bytes())
	return hex.EncodeToString(sum[:])
}
