package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"loreweave.ai/internal/persistence/snapshot"
	"loreweave.ai/internal/sim/session"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "rollback":
			rollbackCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "saves", "packages":
			getCmd(os.Args[1], os.Args[2:])
			return
		case "rescan":
			rescanCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	if err := listSaves(os.Stdout, filepath.Join(*dataDir, "saves")); err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
}

// listSaves prints one line per readable save under savesDir.
func listSaves(w io.Writer, savesDir string) error {
	entries, err := os.ReadDir(savesDir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(savesDir, name, session.SaveFile)
		h, err := snapshot.ReadHeader(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			fmt.Fprintf(w, "%s\tunreadable: %v\n", name, err)
			continue
		}
		backup := ""
		if _, err := os.Stat(path + snapshot.BackupSuffix); err == nil {
			backup = "\tbak"
		}
		fmt.Fprintf(w, "%s\tturn=%d\tpackage=%s%s\n", h.SaveID, h.Turn, h.Package, backup)
	}
	return nil
}

// rollbackCmd restores a save's backup while the server is stopped. A running
// server should be asked through POST /admin/v1/rollback instead.
func rollbackCmd(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	saveID := fs.String("save", "", "save id")
	_ = fs.Parse(args)

	id := strings.TrimSpace(*saveID)
	if _, err := uuid.Parse(id); err != nil {
		fmt.Fprintln(os.Stderr, "missing or bad -save")
		os.Exit(2)
	}
	path := filepath.Join(*dataDir, "saves", id, session.SaveFile)
	if err := snapshot.Rollback(path); err != nil {
		fmt.Fprintln(os.Stderr, "rollback:", err)
		os.Exit(1)
	}
	h, err := snapshot.ReadHeader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read header:", err)
		os.Exit(1)
	}
	fmt.Printf("rolled back save=%s to turn=%d package=%s\n", h.SaveID, h.Turn, h.Package)
}
