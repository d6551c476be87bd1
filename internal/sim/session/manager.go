package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"loreweave.ai/internal/content"
	"loreweave.ai/internal/generation"
	"loreweave.ai/internal/persistence/indexdb"
	plog "loreweave.ai/internal/persistence/log"
	"loreweave.ai/internal/persistence/snapshot"
	"loreweave.ai/internal/sim/chronicle"
	"loreweave.ai/internal/sim/registry"
)

const defaultRegistryDebounce = 500 * time.Millisecond

type ManagerConfig struct {
	SavesDir string
	// RegistryFile holds the registry mapping; empty disables persistence.
	RegistryFile     string
	RegistryDebounce time.Duration

	Registry   *registry.Registry
	Narrator   generation.Narrator
	Summarizer chronicle.Summarizer
	Chronicle  chronicle.Config

	NarrationTimeout time.Duration
	Journal          bool

	Index  indexdb.Sink
	Audit  *plog.AuditLogger
	Logger *log.Logger
}

// Manager owns every open playthrough. Sessions are independent; they share
// only the registry, whose world snapshots are immutable.
type Manager struct {
	mu sync.Mutex

	cfg      ManagerConfig
	sessions map[string]*Session

	persistCh    chan struct{}
	persistFlush chan chan error
	persistStop  chan struct{}
	persistWG    sync.WaitGroup
	closeOnce    sync.Once
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("manager: nil registry")
	}
	if cfg.SavesDir == "" {
		return nil, fmt.Errorf("manager: empty saves dir")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.Index == nil {
		cfg.Index = indexdb.Nop{}
	}
	if cfg.RegistryDebounce <= 0 {
		cfg.RegistryDebounce = defaultRegistryDebounce
	}
	if err := os.MkdirAll(cfg.SavesDir, 0o755); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:          cfg,
		sessions:     map[string]*Session{},
		persistCh:    make(chan struct{}, 1),
		persistFlush: make(chan chan error),
		persistStop:  make(chan struct{}),
	}
	m.persistWG.Add(1)
	go m.persistLoop()
	return m, nil
}

func (m *Manager) sessionConfig(id string) Config {
	return Config{
		SaveID:           id,
		Dir:              filepath.Join(m.cfg.SavesDir, id),
		Registry:         m.cfg.Registry,
		Narrator:         m.cfg.Narrator,
		Summarizer:       m.cfg.Summarizer,
		Chronicle:        m.cfg.Chronicle,
		NarrationTimeout: m.cfg.NarrationTimeout,
		Journal:          m.cfg.Journal,
		Index:            m.cfg.Index,
		Audit:            m.cfg.Audit,
		Logger:           m.cfg.Logger,
	}
}

// Create starts a new playthrough under a fresh save id.
func (m *Manager) Create(ctx context.Context, player, pkg string) (*Session, error) {
	id := uuid.NewString()
	cfg := m.sessionConfig(id)
	cfg.PlayerName = player
	s, err := Start(ctx, cfg, pkg)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s, nil
}

// Open returns the live session for id, resuming it from disk if needed.
func (m *Manager) Open(id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrBadSaveID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	s, err := Resume(m.sessionConfig(id))
	if err != nil {
		return nil, err
	}
	m.sessions[id] = s
	return s, nil
}

// Release closes and forgets a live session. Its save stays on disk.
func (m *Manager) Release(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close()
}

// Saves lists the save ids found on disk with their headers.
func (m *Manager) Saves() ([]snapshot.Header, error) {
	entries, err := os.ReadDir(m.cfg.SavesDir)
	if err != nil {
		return nil, err
	}
	var out []snapshot.Header
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		h, err := snapshot.ReadHeader(filepath.Join(m.cfg.SavesDir, e.Name(), SaveFile))
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				m.cfg.Logger.Printf("save=%s unreadable header: %v", e.Name(), err)
			}
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SaveID < out[j].SaveID })
	return out, nil
}

// Rescan integrates packages added to store since the last scan and
// schedules a registry write.
func (m *Manager) Rescan(ctx context.Context, store content.Store) (registry.Report, error) {
	rep, err := m.cfg.Registry.Load(ctx, store)
	if err != nil {
		return rep, err
	}
	for _, rj := range rep.Rejected {
		m.audit("reject_package", rj.Package, rj.Err.Error())
	}
	for _, in := range rep.Integrated {
		if !in.Existing {
			m.IndexRegistry()
			m.SchedulePersist()
			break
		}
	}
	return rep, nil
}

// IndexRegistry pushes the current mapping to the read-model index.
func (m *Manager) IndexRegistry() {
	reg := m.cfg.Registry
	var rows []indexdb.RegistryRow
	var remaps []indexdb.RemapRow
	for _, pkg := range reg.PackageIDs() {
		in, ok := reg.Integration(pkg)
		if !ok {
			continue
		}
		for orig, gid := range in.Locations {
			e, _ := reg.Lookup(gid)
			rows = append(rows, indexdb.RegistryRow{GlobalID: gid, Kind: string(registry.KindLocation), Package: pkg, OriginalID: orig, Area: e.Area, Digest: in.Digest})
		}
		for orig, gid := range in.Areas {
			rows = append(rows, indexdb.RegistryRow{GlobalID: gid, Kind: string(registry.KindArea), Package: pkg, OriginalID: orig, Digest: in.Digest})
		}
		for _, r := range in.Remaps {
			remaps = append(remaps, indexdb.RemapRow{Package: pkg, Kind: string(r.Kind), Area: r.Area, From: r.From, To: r.To, Pass: r.Pass})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Kind != rows[j].Kind {
			return rows[i].Kind < rows[j].Kind
		}
		return rows[i].GlobalID < rows[j].GlobalID
	})
	m.cfg.Index.RecordRegistry(rows, remaps)
}

func (m *Manager) audit(action, pkg, reason string) {
	if m.cfg.Audit == nil {
		return
	}
	_ = m.cfg.Audit.WriteAudit(plog.AuditEntry{
		At:      time.Now().UTC().Format(time.RFC3339Nano),
		Action:  action,
		Package: pkg,
		Reason:  reason,
	})
}

func (m *Manager) SchedulePersist() {
	if m.cfg.RegistryFile == "" {
		return
	}
	select {
	case m.persistCh <- struct{}{}:
	default:
	}
}

// FlushRegistry writes the registry state now and waits for it.
func (m *Manager) FlushRegistry(ctx context.Context) error {
	if m.cfg.RegistryFile == "" {
		return nil
	}
	ack := make(chan error, 1)
	select {
	case m.persistFlush <- ack:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) persistLoop() {
	defer m.persistWG.Done()
	var timer *time.Timer
	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
	}
	for {
		var timerCh <-chan time.Time
		if timer != nil {
			timerCh = timer.C
		}
		select {
		case <-m.persistStop:
			pending := timer != nil
			stopTimer()
			if pending {
				m.persistNow()
			}
			return
		case <-m.persistCh:
			if timer == nil {
				timer = time.NewTimer(m.cfg.RegistryDebounce)
			} else {
				stopTimer()
				timer = time.NewTimer(m.cfg.RegistryDebounce)
			}
		case ack := <-m.persistFlush:
			stopTimer()
			ack <- m.persistNow()
		case <-timerCh:
			timer = nil
			m.persistNow()
		}
	}
}

func (m *Manager) persistNow() error {
	if m.cfg.RegistryFile == "" {
		return nil
	}
	if err := snapshot.WriteJSON(m.cfg.RegistryFile, m.cfg.Registry.State()); err != nil {
		m.cfg.Logger.Printf("registry persist: %v", err)
		return err
	}
	return nil
}

// LoadRegistryState pins the mapping stored in path so ids stay stable across
// restarts. A missing file is not an error.
func LoadRegistryState(reg *registry.Registry, path string) (fromBackup bool, err error) {
	var st registry.State
	fromBackup, err = snapshot.ReadJSON(path, &st)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	reg.Restore(st)
	return fromBackup, nil
}

// Close flushes pending registry writes and closes every live session.
func (m *Manager) Close() error {
	var errs []error
	m.closeOnce.Do(func() {
		close(m.persistStop)
		m.persistWG.Wait()
		m.mu.Lock()
		defer m.mu.Unlock()
		for id, s := range m.sessions {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
			delete(m.sessions, id)
		}
	})
	return errors.Join(errs...)
}
