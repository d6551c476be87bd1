// Package indexdb maintains a queryable read model of registries, visits,
// chronicle entries and turns. Saves and journals stay authoritative: writes
// are queued and dropped when the indexer falls behind.
package indexdb

import (
	"sync/atomic"
)

type RegistryRow struct {
	GlobalID   string `bson:"global_id" json:"global_id"`
	Kind       string `bson:"kind" json:"kind"`
	Package    string `bson:"package_id" json:"package_id"`
	OriginalID string `bson:"original_id" json:"original_id"`
	Area       string `bson:"area,omitempty" json:"area,omitempty"`
	Digest     string `bson:"digest" json:"digest"`
}

type RemapRow struct {
	Package string `bson:"package_id" json:"package_id"`
	Kind    string `bson:"kind" json:"kind"`
	Area    string `bson:"area,omitempty" json:"area,omitempty"`
	From    string `bson:"from" json:"from"`
	To      string `bson:"to" json:"to"`
	Pass    int    `bson:"pass" json:"pass"`
}

type VisitRow struct {
	SaveID        string `bson:"save_id" json:"save_id"`
	Package       string `bson:"package_id" json:"package_id"`
	Number        int    `bson:"number" json:"number"`
	EnteredTurn   uint64 `bson:"entered_turn" json:"entered_turn"`
	ExitedTurn    uint64 `bson:"exited_turn" json:"exited_turn"`
	EntryLocation string `bson:"entry_location" json:"entry_location"`
	ExitLocation  string `bson:"exit_location,omitempty" json:"exit_location,omitempty"`
	Summary       string `bson:"summary,omitempty" json:"summary,omitempty"`
}

type EntryRow struct {
	SaveID   string   `bson:"save_id" json:"save_id"`
	Index    int      `bson:"index" json:"index"`
	From     uint64   `bson:"from" json:"from"`
	To       uint64   `bson:"to" json:"to"`
	Package  string   `bson:"package_id" json:"package_id"`
	Summary  string   `bson:"summary" json:"summary"`
	Entities []string `bson:"entities" json:"entities"`
	Archive  bool     `bson:"archive" json:"archive"`
}

type TurnRow struct {
	SaveID    string `bson:"save_id" json:"save_id"`
	Turn      uint64 `bson:"turn" json:"turn"`
	At        string `bson:"at" json:"at"`
	Package   string `bson:"package_id,omitempty" json:"package_id,omitempty"`
	Location  string `bson:"location,omitempty" json:"location,omitempty"`
	Input     string `bson:"input" json:"input"`
	Narrative string `bson:"narrative" json:"narrative"`
	Rejected  string `bson:"rejected,omitempty" json:"rejected,omitempty"`
	Degraded  bool   `bson:"degraded,omitempty" json:"degraded,omitempty"`
}

// Sink is implemented by every backend. Record* calls never block.
type Sink interface {
	RecordRegistry(entries []RegistryRow, remaps []RemapRow)
	RecordVisit(VisitRow)
	RecordEntry(EntryRow)
	RecordTurn(TurnRow)
	Stats() QueueStats
	Close() error
}

type QueueStats struct {
	QueueDepth    int
	QueueCapacity int

	DropRegistryTotal uint64
	DropVisitTotal    uint64
	DropEntryTotal    uint64
	DropTurnTotal     uint64
}

type reqKind int

const (
	reqRegistry reqKind = iota + 1
	reqVisit
	reqEntry
	reqTurn
)

type req struct {
	kind reqKind

	registry []RegistryRow
	remaps   []RemapRow
	visit    VisitRow
	entry    EntryRow
	turn     TurnRow
}

// queue is the non-blocking hand-off shared by the backends.
type queue struct {
	ch     chan req
	closed atomic.Bool

	dropRegistry atomic.Uint64
	dropVisit    atomic.Uint64
	dropEntry    atomic.Uint64
	dropTurn     atomic.Uint64
}

func newQueue(capacity int) *queue {
	return &queue{ch: make(chan req, capacity)}
}

func (q *queue) offer(r req) {
	if q == nil || q.closed.Load() {
		return
	}
	select {
	case q.ch <- r:
	default:
		switch r.kind {
		case reqRegistry:
			q.dropRegistry.Add(1)
		case reqVisit:
			q.dropVisit.Add(1)
		case reqEntry:
			q.dropEntry.Add(1)
		case reqTurn:
			q.dropTurn.Add(1)
		}
	}
}

func (q *queue) stats() QueueStats {
	if q == nil {
		return QueueStats{}
	}
	return QueueStats{
		QueueDepth:        len(q.ch),
		QueueCapacity:     cap(q.ch),
		DropRegistryTotal: q.dropRegistry.Load(),
		DropVisitTotal:    q.dropVisit.Load(),
		DropEntryTotal:    q.dropEntry.Load(),
		DropTurnTotal:     q.dropTurn.Load(),
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordRegistry([]RegistryRow, []RemapRow) {}
func (Nop) RecordVisit(VisitRow)                     {}
func (Nop) RecordEntry(EntryRow)                     {}
func (Nop) RecordTurn(TurnRow)                       {}
func (Nop) Stats() QueueStats                        { return QueueStats{} }
func (Nop) Close() error                             { return nil }
