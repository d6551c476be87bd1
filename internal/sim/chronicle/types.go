package chronicle

import (
	"context"
	"fmt"

	"loreweave.ai/internal/protocol"
)

type Role string

const (
	RolePlayer   Role = "player"
	RoleNarrator Role = "narrator"
	RoleSystem   Role = "system"
)

type Turn struct {
	Seq      uint64   `json:"seq"`
	Role     Role     `json:"role"`
	Text     string   `json:"text"`
	Package  string   `json:"package_id,omitempty"`
	Entities []string `json:"entities,omitempty"`
	Cost     int      `json:"cost"`
}

type Event struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject,omitempty"`
	Text    string `json:"text"`
}

// Entry replaces a contiguous run of turns [From, To]. Entries are never
// removed or re-expanded.
type Entry struct {
	Index    int      `json:"index"`
	From     uint64   `json:"from"`
	To       uint64   `json:"to"`
	Turns    int      `json:"turns"`
	Package  string   `json:"package_id,omitempty"`
	Summary  string   `json:"summary"`
	Entities []string `json:"entities,omitempty"`
	Events   []Event  `json:"events,omitempty"`
	// Archive marks entries written by a package-exit pass.
	Archive bool `json:"archive,omitempty"`
}

type SummaryRequest struct {
	Package       string
	Turns         []Turn
	KnownEntities []string
	Archive       bool
}

// Summarizer condenses a run of turns. Implementations are remote and may
// time out or return malformed output.
type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) (protocol.SummaryOutput, error)
}

// UnavailableError means no summary could be produced; nothing was changed.
type UnavailableError struct {
	Package string
	Turns   int
	Cause   error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("summary unavailable for %d turns of %q: %v", e.Turns, e.Package, e.Cause)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }
func (e *UnavailableError) Code() string  { return protocol.ErrSummaryUnavailable }
