package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	plog "loreweave.ai/internal/persistence/log"
	"loreweave.ai/internal/persistence/snapshot"
	"loreweave.ai/internal/sim/session"
)

type options struct {
	fromTurn   uint64
	toTurn     uint64
	transcript bool
}

type result struct {
	checked  uint64
	lastTurn uint64
	location string
}

func main() {
	var (
		saveDir    = flag.String("save", "", "save directory (<data>/saves/<save-id>)")
		fromTurn   = flag.Uint64("from_turn", 0, "first turn to print (inclusive, optional)")
		toTurn     = flag.Uint64("to_turn", 0, "last turn to check (inclusive, optional)")
		transcript = flag.Bool("transcript", true, "print the transcript")
	)
	flag.Parse()

	if *saveDir == "" {
		fmt.Fprintln(os.Stderr, "missing -save")
		os.Exit(2)
	}
	res, err := replay(os.Stdout, *saveDir, options{fromTurn: *fromTurn, toTurn: *toTurn, transcript: *transcript})
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d turns last=%d location=%s\n", res.checked, res.lastTurn, res.location)
}

// replay walks the turn journal of one save and checks it against the save
// file: turns strictly increase, and when the whole journal is read its last
// turn and location match the saved ledger.
func replay(w io.Writer, saveDir string, opt options) (result, error) {
	var res result
	save, fromBackup, err := snapshot.LoadSave(filepath.Join(saveDir, session.SaveFile))
	if err != nil {
		return res, fmt.Errorf("read save: %w", err)
	}
	if fromBackup {
		fmt.Fprintln(w, "warning: save restored from backup")
	}
	fmt.Fprintf(w, "save v%d id=%s player=%s turn=%d package=%s location=%s visits=%d entries=%d window=%d\n",
		save.Header.Version, save.Header.SaveID, save.PlayerName, save.Header.Turn, save.Ledger.Active,
		save.Ledger.Location, len(save.Ledger.Visits), len(save.Chronicle.Entries), len(save.Chronicle.Window))

	files, err := plog.ListFiles(filepath.Join(saveDir, "journal"), "turns")
	if err != nil {
		return res, fmt.Errorf("list journal: %w", err)
	}
	if len(files) == 0 {
		return res, fmt.Errorf("no journal files in %s", filepath.Join(saveDir, "journal"))
	}

	stop := fmt.Errorf("stop")
	for _, path := range files {
		err := plog.ReadTurns(path, func(r plog.TurnRecord) error {
			if r.SaveID != "" && r.SaveID != save.Header.SaveID {
				return fmt.Errorf("%s: turn %d belongs to save %s", filepath.Base(path), r.Turn, r.SaveID)
			}
			if opt.toTurn != 0 && r.Turn > opt.toTurn {
				return stop
			}
			if res.checked > 0 && r.Turn <= res.lastTurn {
				return fmt.Errorf("%s: turn %d after turn %d", filepath.Base(path), r.Turn, res.lastTurn)
			}
			res.checked++
			res.lastTurn = r.Turn
			if r.Location != "" {
				res.location = r.Location
			}
			if opt.transcript && r.Turn >= opt.fromTurn {
				printTurn(w, r)
			}
			return nil
		})
		if err == stop {
			return res, nil
		}
		if err != nil {
			return res, err
		}
	}

	if opt.toTurn == 0 {
		if res.lastTurn != save.Header.Turn {
			return res, fmt.Errorf("journal ends at turn %d, save is at turn %d", res.lastTurn, save.Header.Turn)
		}
		if res.location != save.Ledger.Location {
			return res, fmt.Errorf("journal ends at %s, save is at %s", res.location, save.Ledger.Location)
		}
	}
	return res, nil
}

func printTurn(w io.Writer, r plog.TurnRecord) {
	fmt.Fprintf(w, "\n--- turn %d [%s] %s\n", r.Turn, r.Package, r.Location)
	fmt.Fprintf(w, "> %s\n", r.Input)
	if r.Rejected != "" {
		fmt.Fprintf(w, "  (refused: %s)\n", r.Rejected)
	}
	if len(r.Path) > 1 {
		fmt.Fprintf(w, "  (path: %s)\n", strings.Join(r.Path, " -> "))
	}
	if r.Degraded {
		fmt.Fprintln(w, "  (narration unavailable)")
	}
	fmt.Fprintln(w, r.Narrative)
}
