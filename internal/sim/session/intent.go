package session

import (
	"fmt"
	"strings"

	"loreweave.ai/internal/sim/graph"
)

var moveVerbs = []string{"go to ", "walk to ", "travel to ", "move to ", "head to ", "go ", "enter "}

// parseMove extracts the target of a movement command. Anything else is free
// text for the narrator.
func parseMove(input string) (string, bool) {
	s := strings.TrimSpace(input)
	lower := strings.ToLower(s)
	for _, v := range moveVerbs {
		if strings.HasPrefix(lower, v) {
			target := strings.TrimSpace(s[len(v):])
			target = strings.TrimRight(target, ".!? ")
			if strings.HasPrefix(strings.ToLower(target), "the ") {
				target = strings.TrimSpace(target[4:])
			}
			if target == "" {
				return "", false
			}
			return target, true
		}
	}
	return "", false
}

type intentKind int

const (
	intentNone intentKind = iota
	intentMove
)

type intent struct {
	kind   intentKind
	target string
	dest   string
	path   []string
	// rejection is set when the request cannot be honoured.
	rejection string
	code      string
}

// resolveIntent turns a movement target into a validated intent. A target is
// tried as a global location id, then as a package id (meaning its entry
// point), then as a display name (preferring matches in the active package).
// Every destination, a package's entry point included, must be reachable.
func (s *Session) resolveIntent(w *graph.World, active, location, target string) intent {
	in := intent{kind: intentMove, target: target}

	dest := ""
	switch {
	case w.Has(target):
		dest = target
	case s.isPackage(target):
		dest, _ = s.reg.EntryPoint(target)
	default:
		matches := w.FindByName(target)
		for _, m := range matches {
			if w.Package(m) == active {
				dest = m
				break
			}
		}
		if dest == "" && len(matches) > 0 {
			dest = matches[0]
		}
	}
	if dest == "" {
		dest = target
	}

	tr := w.ValidateTransition(location, dest)
	in.dest = dest
	if !tr.OK() {
		in.code = tr.Code()
		in.rejection = rejectionText(w, tr, target)
		return in
	}
	in.path = tr.Path
	if dest == location {
		in.kind = intentNone
	}
	return in
}

func (s *Session) isPackage(id string) bool {
	_, ok := s.reg.EntryPoint(id)
	return ok
}

func rejectionText(w *graph.World, tr graph.Transition, target string) string {
	switch tr.Status {
	case graph.StatusInvalidDestination:
		return fmt.Sprintf("there is no place called %q anywhere you know of", target)
	case graph.StatusUnreachable:
		return fmt.Sprintf("no way leads from %s to %s", placeName(w, tr.From), placeName(w, tr.To))
	default:
		return "the way is unclear"
	}
}

func placeName(w *graph.World, id string) string {
	if n := w.Name(id); n != "" {
		return n
	}
	return id
}
