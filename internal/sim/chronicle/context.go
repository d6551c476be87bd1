package chronicle

import (
	"fmt"
	"strings"
)

// Digest is a chronicle entry as handed to the narrator. Entities lists only
// names not already introduced by an earlier digest.
type Digest struct {
	From     uint64
	To       uint64
	Package  string
	Summary  string
	Entities []string
	Events   []Event
	Archive  bool
}

// Context is everything the narrator sees: the compacted chronicle followed
// by the live window.
type Context struct {
	Chronicle []Digest
	Window    []Turn
}

// AssembleContext has no side effects; two calls without an intervening
// mutation return equal values.
func (c *Compressor) AssembleContext() Context {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ctx Context
	seen := map[string]bool{}
	for _, e := range c.entries {
		d := Digest{From: e.From, To: e.To, Package: e.Package, Summary: e.Summary, Archive: e.Archive}
		for _, name := range e.Entities {
			if !seen[name] {
				seen[name] = true
				d.Entities = append(d.Entities, name)
			}
		}
		if len(e.Events) > 0 {
			d.Events = append([]Event(nil), e.Events...)
		}
		ctx.Chronicle = append(ctx.Chronicle, d)
	}
	for _, t := range c.window {
		t.Entities = append([]string(nil), t.Entities...)
		ctx.Window = append(ctx.Window, t)
	}
	return ctx
}

// Reduce keeps the newer half of the window (at least one turn) and the newer
// half of the chronicle. Used to retry a narration that failed on the full
// context.
func (x Context) Reduce() Context {
	out := Context{}
	if n := len(x.Chronicle); n > 0 {
		out.Chronicle = append([]Digest(nil), x.Chronicle[n-(n+1)/2:]...)
	}
	if n := len(x.Window); n > 0 {
		keep := n / 2
		if keep < 1 {
			keep = 1
		}
		out.Window = append([]Turn(nil), x.Window[n-keep:]...)
	}
	return out
}

// Entities returns every entity name the context introduces, in order.
func (x Context) Entities() []string {
	var out []string
	for _, d := range x.Chronicle {
		out = append(out, d.Entities...)
	}
	for _, t := range x.Window {
		out = append(out, t.Entities...)
	}
	return dedupe(out)
}

// Render formats the context as plain text for a prompt.
func (x Context) Render() string {
	var b strings.Builder
	if len(x.Chronicle) > 0 {
		b.WriteString("CHRONICLE\n")
		for _, d := range x.Chronicle {
			fmt.Fprintf(&b, "[turns %d-%d", d.From, d.To)
			if d.Package != "" {
				fmt.Fprintf(&b, " in %s", d.Package)
			}
			b.WriteString("] ")
			b.WriteString(d.Summary)
			if len(d.Entities) > 0 {
				fmt.Fprintf(&b, " (introduces: %s)", strings.Join(d.Entities, ", "))
			}
			b.WriteByte('\n')
			for _, ev := range d.Events {
				fmt.Fprintf(&b, "  - %s: %s\n", ev.Kind, ev.Text)
			}
		}
		b.WriteByte('\n')
	}
	if len(x.Window) > 0 {
		b.WriteString("RECENT TURNS\n")
		for _, t := range x.Window {
			fmt.Fprintf(&b, "%d %s: %s\n", t.Seq, t.Role, t.Text)
		}
	}
	return b.String()
}
