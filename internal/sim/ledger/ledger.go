// Package ledger tracks which content packages a playthrough may enter, has
// entered, and has completed. Records are values: every mutating call takes
// the current record and returns the next one.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"loreweave.ai/internal/protocol"
)

type Status string

const (
	StatusUnvisited Status = "unvisited"
	StatusAvailable Status = "available"
	StatusActive    Status = "active"
)

type Error struct {
	code string
	msg  string
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Code() string  { return e.code }

var (
	ErrNotAvailable    = &Error{code: protocol.ErrNotAvailable, msg: "package is not available"}
	ErrNoActivePackage = &Error{code: protocol.ErrNoActive, msg: "no active package"}
	ErrNotVisited      = &Error{code: protocol.ErrNotVisited, msg: "package was never visited"}
	ErrUnknownPackage  = &Error{code: protocol.ErrBadRequest, msg: "unknown package"}
)

// Visit is one stay in a package, with the summary carried out of it.
type Visit struct {
	Package       string `json:"package_id"`
	Number        int    `json:"number"`
	EnteredTurn   uint64 `json:"entered_turn"`
	ExitedTurn    uint64 `json:"exited_turn,omitempty"`
	EntryLocation string `json:"entry_location"`
	ExitLocation  string `json:"exit_location,omitempty"`
	Summary       string `json:"summary,omitempty"`
}

// CrossEvent happened elsewhere but concerns a package that is not active.
type CrossEvent struct {
	Turn   uint64 `json:"turn"`
	Source string `json:"source,omitempty"`
	Text   string `json:"text"`
}

type Record struct {
	Active    string                  `json:"active,omitempty"`
	Location  string                  `json:"location,omitempty"`
	Available []string                `json:"available,omitempty"`
	Completed []string                `json:"completed,omitempty"`
	Visits    []Visit                 `json:"visits,omitempty"`
	Pending   map[string][]CrossEvent `json:"pending,omitempty"`
	Turn      uint64                  `json:"turn"`
}

func (r Record) Clone() Record {
	out := r
	out.Available = append([]string(nil), r.Available...)
	out.Completed = append([]string(nil), r.Completed...)
	out.Visits = append([]Visit(nil), r.Visits...)
	if r.Pending != nil {
		out.Pending = make(map[string][]CrossEvent, len(r.Pending))
		for k, v := range r.Pending {
			out.Pending[k] = append([]CrossEvent(nil), v...)
		}
	}
	return out
}

func (r Record) IsAvailable(id string) bool { return contains(r.Available, id) }
func (r Record) IsCompleted(id string) bool { return contains(r.Completed, id) }

// LastVisit returns the most recent visit to id.
func (r Record) LastVisit(id string) (Visit, bool) {
	for i := len(r.Visits) - 1; i >= 0; i-- {
		if r.Visits[i].Package == id {
			return r.Visits[i], true
		}
	}
	return Visit{}, false
}

func (r Record) visitCount(id string) int {
	n := 0
	for _, v := range r.Visits {
		if v.Package == id {
			n++
		}
	}
	return n
}

// Seed is what a package starts (or resumes) with.
type Seed struct {
	Package   string
	Location  string
	Returning bool
	Summary   string
	Events    []CrossEvent
}

// Text renders the seed as a system turn for the narrator.
func (s Seed) Text() string {
	var b strings.Builder
	if s.Returning {
		fmt.Fprintf(&b, "Returning to %s.", s.Package)
	} else {
		fmt.Fprintf(&b, "Entering %s.", s.Package)
	}
	if s.Summary != "" {
		b.WriteString(" Previously: ")
		b.WriteString(s.Summary)
	}
	if len(s.Events) > 0 {
		b.WriteString(" Since then:")
		for _, ev := range s.Events {
			b.WriteString(" ")
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

// Archiver is the history side of package transitions.
type Archiver interface {
	// ArchivePackage compresses everything still live for pkg and returns
	// the summary carried out of it.
	ArchivePackage(ctx context.Context, pkg string) (string, error)
	// CarryForward builds the seed summary for entering pkg.
	CarryForward(pkg string) string
}

// Packages answers which package ids exist and where they start.
type Packages interface {
	EntryPoint(pkg string) (string, bool)
}

type Ledger struct {
	packages Packages
	archiver Archiver
}

func New(packages Packages, archiver Archiver) *Ledger {
	return &Ledger{packages: packages, archiver: archiver}
}

func (l *Ledger) known(id string) bool {
	_, ok := l.packages.EntryPoint(id)
	return ok
}

// MakeAvailable moves packages from unvisited to available. Already
// available packages are left as they are.
func (l *Ledger) MakeAvailable(rec Record, ids ...string) (Record, error) {
	for _, id := range ids {
		if !l.known(id) {
			return rec, fmt.Errorf("make %s available: %w", id, ErrUnknownPackage)
		}
	}
	out := rec.Clone()
	for _, id := range ids {
		out.Available = insertSorted(out.Available, id)
	}
	return out, nil
}

// EnterPackage makes id active. The previously active package is exited
// first, which runs its archival pass. Entering a package visited before
// behaves like ReturnTo.
func (l *Ledger) EnterPackage(ctx context.Context, rec Record, id, location string) (Record, Seed, error) {
	if !l.known(id) {
		return rec, Seed{}, fmt.Errorf("enter %s: %w", id, ErrUnknownPackage)
	}
	if !rec.IsAvailable(id) {
		return rec, Seed{}, fmt.Errorf("enter %s: %w", id, ErrNotAvailable)
	}
	if _, visited := rec.LastVisit(id); visited {
		return l.ReturnTo(ctx, rec, id, location)
	}
	next, loc, err := l.leaveFor(ctx, rec, id, location)
	if err != nil {
		return rec, Seed{}, err
	}
	seed := Seed{Package: id, Location: loc, Summary: l.archiver.CarryForward(id), Events: next.Pending[id]}
	delete(next.Pending, id)
	next.Visits = append(next.Visits, Visit{Package: id, Number: 1, EnteredTurn: next.Turn, EntryLocation: loc})
	next.Active = id
	next.Location = loc
	return next, seed, nil
}

// ReturnTo re-enters a package visited before, re-injecting its last exit
// summary and any cross-package events queued against it.
func (l *Ledger) ReturnTo(ctx context.Context, rec Record, id, location string) (Record, Seed, error) {
	if !l.known(id) {
		return rec, Seed{}, fmt.Errorf("return to %s: %w", id, ErrUnknownPackage)
	}
	if !rec.IsAvailable(id) {
		return rec, Seed{}, fmt.Errorf("return to %s: %w", id, ErrNotAvailable)
	}
	if _, visited := rec.LastVisit(id); !visited {
		return rec, Seed{}, fmt.Errorf("return to %s: %w", id, ErrNotVisited)
	}
	if rec.Active == id {
		return rec, Seed{}, nil
	}
	next, loc, err := l.leaveFor(ctx, rec, id, location)
	if err != nil {
		return rec, Seed{}, err
	}
	last, _ := next.LastVisit(id)
	seed := Seed{Package: id, Location: loc, Returning: true, Summary: last.Summary, Events: next.Pending[id]}
	if seed.Summary == "" {
		seed.Summary = l.archiver.CarryForward(id)
	}
	delete(next.Pending, id)
	next.Visits = append(next.Visits, Visit{Package: id, Number: next.visitCount(id) + 1, EnteredTurn: next.Turn, EntryLocation: loc})
	next.Active = id
	next.Location = loc
	return next, seed, nil
}

// leaveFor exits the active package (if any) on the way into id and resolves
// the arrival location.
func (l *Ledger) leaveFor(ctx context.Context, rec Record, id, location string) (Record, string, error) {
	if location == "" {
		location, _ = l.packages.EntryPoint(id)
	}
	if rec.Active == "" {
		return rec.Clone(), location, nil
	}
	next, err := l.ExitPackage(ctx, rec)
	if err != nil {
		return rec, "", err
	}
	return next, location, nil
}

// ExitPackage archives the active package and clears it. If archiving fails
// the record is returned unchanged.
func (l *Ledger) ExitPackage(ctx context.Context, rec Record) (Record, error) {
	if rec.Active == "" {
		return rec, ErrNoActivePackage
	}
	summary, err := l.archiver.ArchivePackage(ctx, rec.Active)
	if err != nil {
		return rec, fmt.Errorf("exit %s: %w", rec.Active, err)
	}
	out := rec.Clone()
	for i := len(out.Visits) - 1; i >= 0; i-- {
		if out.Visits[i].Package == rec.Active {
			out.Visits[i].ExitedTurn = out.Turn
			out.Visits[i].ExitLocation = out.Location
			out.Visits[i].Summary = summary
			break
		}
	}
	out.Active = ""
	return out, nil
}

// MarkCompleted is bookkeeping only; completion never gates availability.
func (l *Ledger) MarkCompleted(rec Record, id string) (Record, error) {
	if !l.known(id) {
		return rec, fmt.Errorf("complete %s: %w", id, ErrUnknownPackage)
	}
	out := rec.Clone()
	out.Completed = insertSorted(out.Completed, id)
	return out, nil
}

// RecordCrossEvent queues text against a package that is not active; it is
// delivered on the next ReturnTo. Events about the active package are already
// in the live conversation and are not queued.
func (l *Ledger) RecordCrossEvent(rec Record, pkg, text string) (Record, error) {
	if !l.known(pkg) {
		return rec, fmt.Errorf("cross event for %s: %w", pkg, ErrUnknownPackage)
	}
	if pkg == rec.Active || strings.TrimSpace(text) == "" {
		return rec, nil
	}
	out := rec.Clone()
	if out.Pending == nil {
		out.Pending = map[string][]CrossEvent{}
	}
	out.Pending[pkg] = append(out.Pending[pkg], CrossEvent{Turn: out.Turn, Source: rec.Active, Text: text})
	return out, nil
}

// Status reports the lifecycle state of id and whether it was completed.
func (l *Ledger) Status(rec Record, id string) (Status, bool) {
	st := StatusUnvisited
	switch {
	case rec.Active == id:
		st = StatusActive
	case rec.IsAvailable(id):
		st = StatusAvailable
	}
	return st, rec.IsCompleted(id)
}

func contains(list []string, id string) bool {
	i := sort.SearchStrings(list, id)
	return i < len(list) && list[i] == id
}

func insertSorted(list []string, id string) []string {
	i := sort.SearchStrings(list, id)
	if i < len(list) && list[i] == id {
		return list
	}
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = id
	return list
}
