package session

import (
	"path/filepath"
	"time"

	"loreweave.ai/internal/persistence/archive"
	"loreweave.ai/internal/persistence/indexdb"
	plog "loreweave.ai/internal/persistence/log"
	"loreweave.ai/internal/persistence/snapshot"
	"loreweave.ai/internal/sim/chronicle"
	"loreweave.ai/internal/sim/ledger"
)

func (s *Session) savePath() string { return filepath.Join(s.dir, SaveFile) }

// persist writes the current record and chronicle. The previous save stays
// in place (and as .bak) until the new one has been verified.
func (s *Session) persist() error {
	save := snapshot.SaveV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			SaveID:  s.id,
			Turn:    s.rec.Turn,
			Package: s.rec.Active,
		},
		PlayerName: s.cfg.PlayerName,
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.now().Unix(),
		Packages:   map[string]string{},
		Ledger:     s.rec.Clone(),
		Chronicle:  s.hist.State(),
	}
	for _, id := range s.rec.Available {
		if in, ok := s.reg.Integration(id); ok {
			save.Packages[id] = in.Digest
		}
	}
	return snapshot.WriteSave(s.savePath(), save)
}

// flush writes the turn's secondary outputs. None of them is authoritative,
// so failures are logged and the turn stands.
func (s *Session) flush(fx effects) {
	for _, va := range fx.archives {
		va.CreatedAt = s.now().UTC().Format(time.RFC3339)
		if _, err := archive.ArchiveVisit(s.dir, va); err != nil {
			s.logger.Printf("save=%s archive %s visit %d: %v", s.id, va.Package, va.Visit, err)
		}
	}
	for _, v := range fx.visits {
		s.index.RecordVisit(indexVisit(s.id, v))
	}
	for _, a := range fx.audits {
		s.writeAudit(a)
	}
}

func (s *Session) record(input string, out Outcome, entries []chronicle.Entry) {
	at := s.now().UTC().Format(time.RFC3339Nano)
	if s.journal != nil {
		var ents []string
		for _, e := range entries {
			ents = append(ents, e.Entities...)
		}
		err := s.journal.WriteTurn(plog.TurnRecord{
			SaveID:    s.id,
			Turn:      out.Turn,
			At:        at,
			Input:     input,
			Narrative: out.Narrative,
			Package:   out.Package,
			From:      out.From,
			Location:  out.Location,
			Path:      out.Path,
			Rejected:  out.Rejected,
			Degraded:  out.Degraded,
			Compacted: out.Compacted,
			Entities:  ents,
		})
		if err != nil {
			s.logger.Printf("save=%s journal turn %d: %v", s.id, out.Turn, err)
		}
	}
	s.index.RecordTurn(indexdb.TurnRow{
		SaveID:    s.id,
		Turn:      out.Turn,
		At:        at,
		Package:   out.Package,
		Location:  out.Location,
		Input:     input,
		Narrative: out.Narrative,
		Rejected:  out.Rejected,
		Degraded:  out.Degraded,
	})
	for _, e := range entries {
		s.index.RecordEntry(indexdb.EntryRow{
			SaveID:   s.id,
			Index:    e.Index,
			From:     e.From,
			To:       e.To,
			Package:  e.Package,
			Summary:  e.Summary,
			Entities: e.Entities,
			Archive:  e.Archive,
		})
	}
}

func (s *Session) auditEntry(turn uint64, action, pkg, reason string, details map[string]string) plog.AuditEntry {
	return plog.AuditEntry{
		At:      s.now().UTC().Format(time.RFC3339Nano),
		SaveID:  s.id,
		Turn:    turn,
		Action:  action,
		Package: pkg,
		Reason:  reason,
		Details: details,
	}
}

func (s *Session) audit(action, pkg, reason string, details map[string]string) {
	s.writeAudit(s.auditEntry(s.rec.Turn, action, pkg, reason, details))
}

func (s *Session) writeAudit(e plog.AuditEntry) {
	if s.cfg.Audit == nil {
		return
	}
	if err := s.cfg.Audit.WriteAudit(e); err != nil {
		s.logger.Printf("save=%s audit %s: %v", s.id, e.Action, err)
	}
}

func indexVisit(saveID string, v ledger.Visit) indexdb.VisitRow {
	return indexdb.VisitRow{
		SaveID:        saveID,
		Package:       v.Package,
		Number:        v.Number,
		EnteredTurn:   v.EnteredTurn,
		ExitedTurn:    v.ExitedTurn,
		EntryLocation: v.EntryLocation,
		ExitLocation:  v.ExitLocation,
		Summary:       v.Summary,
	}
}

func visitRow(saveID string, rec ledger.Record, pkg string) indexdb.VisitRow {
	v, _ := rec.LastVisit(pkg)
	return indexVisit(saveID, v)
}
