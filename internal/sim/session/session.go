// Package session runs one playthrough: it validates movement, drives the
// narrator, applies its directives to the campaign ledger and chronicle, and
// persists the result after every turn.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"loreweave.ai/internal/generation"
	"loreweave.ai/internal/persistence/indexdb"
	plog "loreweave.ai/internal/persistence/log"
	"loreweave.ai/internal/persistence/snapshot"
	"loreweave.ai/internal/protocol"
	"loreweave.ai/internal/sim/chronicle"
	"loreweave.ai/internal/sim/graph"
	"loreweave.ai/internal/sim/ledger"
	"loreweave.ai/internal/sim/registry"
)

const (
	SaveFile = "game.sav.zst"

	defaultNarrationTimeout = 45 * time.Second

	fallbackNarrative = "The story falters for a moment, as if the world is catching its breath. Try again."
	unavailableNote   = "narration unavailable"
)

type Config struct {
	SaveID     string
	PlayerName string
	// Dir is the save directory (saves/<id>).
	Dir string

	Registry   *registry.Registry
	Narrator   generation.Narrator
	Summarizer chronicle.Summarizer
	Chronicle  chronicle.Config

	NarrationTimeout time.Duration
	Journal          bool

	Index  indexdb.Sink
	Audit  *plog.AuditLogger
	Logger *log.Logger
	Now    func() time.Time
}

// Session is a single-writer playthrough. Turn calls are serialized.
type Session struct {
	mu sync.Mutex

	cfg     Config
	id      string
	dir     string
	reg     *registry.Registry
	hist    *chronicle.Compressor
	led     *ledger.Ledger
	rec     ledger.Record
	journal *plog.TurnJournal
	index   indexdb.Sink
	logger  *log.Logger
	now     func() time.Time

	createdAt int64
	closed    bool
}

// Outcome is what one turn produced.
type Outcome struct {
	Turn      uint64
	Narrative string
	Package   string
	From      string
	Location  string
	Path      []string
	// Entered is set when the turn moved the player into another package.
	Entered string
	// Rejected carries the code of a movement request the world refused.
	Rejected string
	// Degraded is set when narration failed and the fallback text was used.
	Degraded bool
	Err      error
	// Compacted counts chronicle entries written during the turn.
	Compacted int
	// Ignored lists directives that failed re-validation.
	Ignored []string
}

func newSession(cfg Config) (*Session, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("session: nil registry")
	}
	if cfg.Narrator == nil || cfg.Summarizer == nil {
		return nil, fmt.Errorf("session: narrator and summarizer are required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("session: empty save dir")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Index == nil {
		cfg.Index = indexdb.Nop{}
	}
	if cfg.NarrationTimeout <= 0 {
		cfg.NarrationTimeout = defaultNarrationTimeout
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	s := &Session{
		cfg:    cfg,
		id:     cfg.SaveID,
		dir:    cfg.Dir,
		reg:    cfg.Registry,
		index:  cfg.Index,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	s.hist = chronicle.New(cfg.Chronicle, cfg.Summarizer, cfg.Logger)
	s.led = ledger.New(cfg.Registry, s.hist)
	if cfg.Journal {
		s.journal = plog.NewTurnJournal(cfg.Dir)
	}
	return s, nil
}

// Start begins a new playthrough in pkg (the first package when empty). Every
// loaded package is playable from the start.
func Start(ctx context.Context, cfg Config, pkg string) (*Session, error) {
	if cfg.SaveID == "" {
		cfg.SaveID = uuid.NewString()
	}
	ids := cfg.Registry.PackageIDs()
	if len(ids) == 0 {
		return nil, ErrNoPackages
	}
	if pkg == "" {
		pkg = ids[0]
	}
	s, err := newSession(cfg)
	if err != nil {
		return nil, err
	}
	s.createdAt = s.now().Unix()

	rec, err := s.led.MakeAvailable(ledger.Record{}, ids...)
	if err != nil {
		return nil, err
	}
	rec, seed, err := s.led.EnterPackage(ctx, rec, pkg, "")
	if err != nil {
		return nil, err
	}
	if _, err := s.hist.Append(ctx, chronicle.Turn{Role: chronicle.RoleSystem, Text: seed.Text(), Package: pkg}); err != nil {
		s.logger.Printf("save=%s start: %v", s.id, err)
	}
	s.rec = rec
	if err := s.persist(); err != nil {
		return nil, err
	}
	s.audit("start", pkg, "", map[string]string{"location": rec.Location})
	s.index.RecordVisit(visitRow(s.id, rec, pkg))
	s.logger.Printf("save=%s started package=%s location=%s", s.id, pkg, rec.Location)
	return s, nil
}

// Resume loads the save in cfg.Dir, falling back to its backup when the
// primary file is torn. Packages discovered since the last session become
// available.
func Resume(cfg Config) (*Session, error) {
	path := filepath.Join(cfg.Dir, SaveFile)
	save, fromBackup, err := snapshot.LoadSave(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSave
		}
		return nil, fmt.Errorf("load save: %w", err)
	}
	if cfg.SaveID == "" {
		cfg.SaveID = save.Header.SaveID
	}
	if cfg.PlayerName == "" {
		cfg.PlayerName = save.PlayerName
	}
	s, err := newSession(cfg)
	if err != nil {
		return nil, err
	}
	if fromBackup {
		s.logger.Printf("save=%s primary unreadable, resumed from backup", s.id)
		s.audit("resume_backup", "", "primary save unreadable", nil)
	}
	s.createdAt = save.CreatedAt
	s.hist.Restore(save.Chronicle)

	rec := save.Ledger.Clone()
	for pkg, digest := range save.Packages {
		if in, ok := s.reg.Integration(pkg); ok && in.Digest != digest {
			s.logger.Printf("save=%s package=%s changed since last save", s.id, pkg)
		}
	}
	var fresh []string
	for _, id := range s.reg.PackageIDs() {
		if !rec.IsAvailable(id) {
			fresh = append(fresh, id)
		}
	}
	if len(fresh) > 0 {
		if rec, err = s.led.MakeAvailable(rec, fresh...); err != nil {
			return nil, err
		}
	}
	if w := s.reg.World(); rec.Active != "" && !w.Has(rec.Location) {
		entry, ok := s.reg.EntryPoint(rec.Active)
		if !ok {
			return nil, &OriginError{Location: rec.Location}
		}
		s.logger.Printf("save=%s location %s vanished, moved to %s", s.id, rec.Location, entry)
		rec.Location = entry
	}
	s.rec = rec
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Record() ledger.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Clone()
}

func (s *Session) Chronicle() chronicle.Context {
	return s.hist.AssembleContext()
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.journal != nil {
		return s.journal.Close()
	}
	return nil
}

// Turn processes one player input. Recoverable problems (refused movement,
// narration failure) are reported in the Outcome; a returned error means the
// turn was discarded and the previous save is untouched.
func (s *Session) Turn(ctx context.Context, input string) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Outcome{}, ErrSessionGone
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return Outcome{}, ErrEmptyInput
	}
	if s.rec.Active == "" {
		return Outcome{}, ledger.ErrNoActivePackage
	}

	w := s.reg.World()
	if !w.Has(s.rec.Location) {
		return Outcome{}, &OriginError{Location: s.rec.Location}
	}

	before := s.hist.State()
	rec := s.rec.Clone()
	rec.Turn++
	out := Outcome{Turn: rec.Turn, From: rec.Location}

	var (
		in intent
		fx effects
	)
	if target, ok := parseMove(input); ok {
		in = s.resolveIntent(w, rec.Active, rec.Location, target)
		if pkg := w.Package(in.dest); in.rejection == "" && pkg != rec.Active && !rec.IsAvailable(pkg) {
			in.rejection = "that road is closed to you for now"
			in.code = protocol.ErrNotAvailable
		}
		out.Rejected = in.code
	}

	if _, err := s.hist.Append(ctx, chronicle.Turn{Role: chronicle.RolePlayer, Text: input, Package: rec.Active}); err != nil {
		s.logger.Printf("save=%s turn=%d compress: %v", s.id, rec.Turn, err)
	}

	req := s.request(w, rec, input, in)
	narr, err := s.narrate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			s.hist.Restore(before)
			return Outcome{}, ctx.Err()
		}
		s.logger.Printf("save=%s turn=%d narration failed: %v", s.id, rec.Turn, err)
		out.Degraded = true
		out.Err = &NarrationError{Cause: err}
		out.Narrative = fallbackNarrative
		if _, err := s.hist.Append(ctx, chronicle.Turn{Role: chronicle.RoleSystem, Text: unavailableNote, Package: rec.Active}); err != nil {
			s.logger.Printf("save=%s turn=%d compress: %v", s.id, rec.Turn, err)
		}
	} else {
		rec = s.apply(ctx, w, rec, in, narr, &out, &fx)
		out.Narrative = narr.Narrative
		var ents []string
		for _, d := range narr.Directives {
			if d.Type == protocol.DirectiveEntities {
				ents = append(ents, d.Names...)
			}
		}
		if _, err := s.hist.Append(ctx, chronicle.Turn{Role: chronicle.RoleNarrator, Text: narr.Narrative, Package: rec.Active, Entities: ents}); err != nil {
			s.logger.Printf("save=%s turn=%d compress: %v", s.id, rec.Turn, err)
		}
	}

	out.Package = rec.Active
	out.Location = rec.Location
	entries := s.hist.Entries()
	out.Compacted = len(entries) - len(before.Entries)

	prev := s.rec
	s.rec = rec
	if err := s.persist(); err != nil {
		s.rec = prev
		s.hist.Restore(before)
		return Outcome{}, fmt.Errorf("persist turn %d: %w", rec.Turn, err)
	}
	s.flush(fx)
	s.record(input, out, entries[len(before.Entries):])
	return out, nil
}

func (s *Session) request(w *graph.World, rec ledger.Record, input string, in intent) generation.NarrationRequest {
	req := generation.NarrationRequest{
		Context:   s.hist.AssembleContext(),
		Input:     input,
		Package:   rec.Active,
		Location:  generation.Place{ID: rec.Location, Name: w.Name(rec.Location)},
		Rejection: in.rejection,
	}
	for _, n := range w.Neighbors(rec.Location) {
		req.Neighbors = append(req.Neighbors, generation.Place{ID: n, Name: w.Name(n)})
	}
	if p, ok := s.reg.Package(rec.Active); ok {
		for _, o := range p.Manifest.Plot.Objectives {
			req.Objectives = append(req.Objectives, o.Text)
		}
	}
	if in.rejection == "" && in.kind != intentNone {
		req.Move = &generation.Move{To: in.dest, Path: in.path}
	}
	return req
}

// narrate makes one attempt with the full context and one with a reduced
// context. A cancelled caller is not retried.
func (s *Session) narrate(ctx context.Context, req generation.NarrationRequest) (protocol.Narration, error) {
	n, err := s.narrateOnce(ctx, req)
	if err == nil || ctx.Err() != nil {
		return n, err
	}
	s.logger.Printf("save=%s narration retry with reduced context: %v", s.id, err)
	req.Context = req.Context.Reduce()
	req.Reduced = true
	return s.narrateOnce(ctx, req)
}

func (s *Session) narrateOnce(ctx context.Context, req generation.NarrationRequest) (protocol.Narration, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.NarrationTimeout)
	defer cancel()
	n, err := s.cfg.Narrator.Narrate(cctx, req)
	if err != nil {
		return n, err
	}
	if strings.TrimSpace(n.Narrative) == "" {
		return n, &protocol.MalformedError{Schema: "narration", Err: errors.New("empty narrative")}
	}
	return n, nil
}
