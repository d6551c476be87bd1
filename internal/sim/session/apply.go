package session

import (
	"context"
	"fmt"

	"loreweave.ai/internal/persistence/archive"
	plog "loreweave.ai/internal/persistence/log"
	"loreweave.ai/internal/protocol"
	"loreweave.ai/internal/sim/chronicle"
	"loreweave.ai/internal/sim/graph"
	"loreweave.ai/internal/sim/ledger"
)

// effects are side outputs of a turn written only after the save succeeded.
type effects struct {
	archives []archive.VisitArchive
	visits   []ledger.Visit
	audits   []plog.AuditEntry
}

type directiveError struct {
	code string
	msg  string
}

func (e *directiveError) Error() string { return e.msg }
func (e *directiveError) Code() string  { return e.code }

func rejectDirective(code, format string, args ...any) error {
	return &directiveError{code: code, msg: fmt.Sprintf(format, args...)}
}

// apply runs the validated player move and then the narrator's directives in
// order. Directives come from an untrusted generator: each one is validated
// against the current record and dropped on failure without affecting the
// others.
func (s *Session) apply(ctx context.Context, w *graph.World, rec ledger.Record, in intent, narr protocol.Narration, out *Outcome, fx *effects) ledger.Record {
	directives := narr.Directives
	if in.rejection == "" && in.kind == intentMove {
		directives = append([]protocol.Directive{{Type: protocol.DirectiveMove, Location: in.dest}}, without(directives, protocol.DirectiveMove, in.dest)...)
	}
	for _, d := range directives {
		next, err := s.applyOne(ctx, w, rec, d, out, fx)
		if err != nil {
			out.Ignored = append(out.Ignored, fmt.Sprintf("%s: %v", d.Type, err))
			s.logger.Printf("save=%s turn=%d drop directive %s: %v", s.id, rec.Turn, d.Type, err)
			continue
		}
		rec = next
	}
	return rec
}

// without drops directives that repeat the player's own move.
func without(ds []protocol.Directive, typ, target string) []protocol.Directive {
	out := make([]protocol.Directive, 0, len(ds))
	for _, d := range ds {
		if d.Type == typ && d.Location == target {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (s *Session) applyOne(ctx context.Context, w *graph.World, rec ledger.Record, d protocol.Directive, out *Outcome, fx *effects) (ledger.Record, error) {
	switch d.Type {
	case protocol.DirectiveMove:
		return s.move(ctx, w, rec, d.Location, out, fx)

	case protocol.DirectiveEnterPackage:
		if d.Package == rec.Active {
			return rec, nil
		}
		dest := d.Location
		if dest == "" || w.Package(dest) != d.Package {
			dest, _ = s.reg.EntryPoint(d.Package)
		}
		if dest == "" {
			return rec, rejectDirective(protocol.ErrInvalidDestination, "no package %q", d.Package)
		}
		return s.move(ctx, w, rec, dest, out, fx)

	case protocol.DirectiveScriptedMove:
		p, ok := s.reg.Package(rec.Active)
		if !ok {
			return rec, ledger.ErrNoActivePackage
		}
		ev, ok := p.Event(d.Event)
		if !ok {
			return rec, rejectDirective(protocol.ErrBadRequest, "no event %q in %s", d.Event, rec.Active)
		}
		if ev.From != "" && ev.From != rec.Location {
			return rec, rejectDirective(protocol.ErrUnreachable, "event %s does not start at %s", ev.ID, rec.Location)
		}
		if !w.Has(ev.To) {
			return rec, rejectDirective(protocol.ErrInvalidDestination, "event %s leads to unknown %s", ev.ID, ev.To)
		}
		out.Path = []string{rec.Location, ev.To}
		next := rec.Clone()
		next.Location = ev.To
		return next, nil

	case protocol.DirectiveCompletePackage:
		pkg := d.Package
		if pkg == "" {
			pkg = rec.Active
		}
		if rec.IsCompleted(pkg) {
			return rec, nil
		}
		next, err := s.led.MarkCompleted(rec, pkg)
		if err != nil {
			return rec, err
		}
		fx.audits = append(fx.audits, s.auditEntry(rec.Turn, "complete", pkg, "", nil))
		return next, nil

	case protocol.DirectiveCrossEvent:
		return s.led.RecordCrossEvent(rec, d.Package, d.Text)

	case protocol.DirectiveEntities:
		return rec, nil
	}
	return rec, rejectDirective(protocol.ErrBadRequest, "unknown directive %q", d.Type)
}

// move re-validates a walk and, when it ends in another package, hands the
// player over to that package.
func (s *Session) move(ctx context.Context, w *graph.World, rec ledger.Record, dest string, out *Outcome, fx *effects) (ledger.Record, error) {
	if !w.Has(dest) {
		if m := w.FindByName(dest); len(m) > 0 {
			dest = m[0]
		}
	}
	tr := w.ValidateTransition(rec.Location, dest)
	if !tr.OK() {
		return rec, rejectDirective(tr.Code(), "move %s -> %s: %s", tr.From, tr.To, tr.Status)
	}
	if dest == rec.Location {
		return rec, nil
	}
	if pkg := w.Package(dest); pkg != rec.Active {
		next, err := s.cross(ctx, rec, pkg, dest, out, fx)
		if err != nil {
			return rec, err
		}
		out.Path = tr.Path
		return next, nil
	}
	next := rec.Clone()
	next.Location = dest
	out.Path = tr.Path
	return next, nil
}

// cross leaves the active package (archiving it) and enters pkg at dest. The
// seed the ledger hands back is added to the window as a system turn.
func (s *Session) cross(ctx context.Context, rec ledger.Record, pkg, dest string, out *Outcome, fx *effects) (ledger.Record, error) {
	old := rec.Active
	mark := len(s.hist.Entries())

	next, seed, err := s.led.EnterPackage(ctx, rec, pkg, dest)
	if err != nil {
		return rec, err
	}

	if old != "" {
		if v, ok := next.LastVisit(old); ok {
			var entries []chronicle.Entry
			for _, e := range s.hist.Entries()[mark:] {
				if e.Archive && e.Package == old {
					entries = append(entries, e)
				}
			}
			fx.archives = append(fx.archives, archive.VisitArchive{
				Package:     old,
				Visit:       v.Number,
				EnteredTurn: v.EnteredTurn,
				ExitedTurn:  v.ExitedTurn,
				Summary:     v.Summary,
				Entries:     entries,
			})
			fx.visits = append(fx.visits, v)
			fx.audits = append(fx.audits, s.auditEntry(rec.Turn, "exit", old, "", map[string]string{"location": v.ExitLocation}))
		}
	}
	if v, ok := next.LastVisit(pkg); ok {
		fx.visits = append(fx.visits, v)
	}
	action := "enter"
	if seed.Returning {
		action = "return"
	}
	fx.audits = append(fx.audits, s.auditEntry(rec.Turn, action, pkg, "", map[string]string{"location": next.Location}))

	if _, err := s.hist.Append(ctx, chronicle.Turn{Role: chronicle.RoleSystem, Text: seed.Text(), Package: pkg}); err != nil {
		s.logger.Printf("save=%s turn=%d compress: %v", s.id, rec.Turn, err)
	}
	out.Entered = pkg
	return next, nil
}
