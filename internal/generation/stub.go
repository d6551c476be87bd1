package generation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"loreweave.ai/internal/protocol"
	"loreweave.ai/internal/sim/chronicle"
)

// Stub is a deterministic Narrator and Summarizer for tests and offline play.
// Queued narrations are returned first; after that it describes the scene and
// echoes any validated move as a directive.
type Stub struct {
	mu sync.Mutex

	Queue []protocol.Narration
	// FailNarrate makes the next N narration calls return Err.
	FailNarrate int
	// FailSummarize makes the next N summary calls return Err.
	FailSummarize int
	Err           error

	// Record keeps every request in Requests and Summaries. Leave it off
	// outside tests; the slices grow with each turn.
	Record    bool
	Requests  []NarrationRequest
	Summaries []chronicle.SummaryRequest
}

func (s *Stub) err() error {
	if s.Err != nil {
		return s.Err
	}
	return fmt.Errorf("stub: scripted failure")
}

func (s *Stub) Narrate(ctx context.Context, req NarrationRequest) (protocol.Narration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Record {
		s.Requests = append(s.Requests, req)
	}
	if err := ctx.Err(); err != nil {
		return protocol.Narration{}, err
	}
	if s.FailNarrate > 0 {
		s.FailNarrate--
		return protocol.Narration{}, s.err()
	}
	if len(s.Queue) > 0 {
		n := s.Queue[0]
		s.Queue = s.Queue[1:]
		return n, nil
	}

	var n protocol.Narration
	switch {
	case req.Rejection != "":
		n.Narrative = fmt.Sprintf("You consider it, but %s. You remain at %s.", req.Rejection, req.Location.Name)
	case req.Move != nil:
		n.Narrative = fmt.Sprintf("You set off from %s.", req.Location.Name)
		n.Directives = append(n.Directives, protocol.Directive{Type: protocol.DirectiveMove, Location: req.Move.To})
	default:
		n.Narrative = fmt.Sprintf("You are at %s. %s", req.Location.Name, strings.TrimSpace(req.Input))
	}
	return n, nil
}

func (s *Stub) Summarize(ctx context.Context, req chronicle.SummaryRequest) (protocol.SummaryOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Record {
		s.Summaries = append(s.Summaries, req)
	}
	if err := ctx.Err(); err != nil {
		return protocol.SummaryOutput{}, err
	}
	if s.FailSummarize > 0 {
		s.FailSummarize--
		return protocol.SummaryOutput{}, s.err()
	}
	out := protocol.SummaryOutput{
		Summary: fmt.Sprintf("%d turns passed", len(req.Turns)),
	}
	if req.Package != "" {
		out.Summary += " in " + req.Package
	}
	out.Summary += "."
	seen := map[string]bool{}
	for _, t := range req.Turns {
		for _, name := range t.Entities {
			if !seen[name] {
				seen[name] = true
				out.Entities = append(out.Entities, name)
			}
		}
	}
	out.Events = []protocol.SummaryEvent{{Kind: "progress", Subject: req.Package, Text: out.Summary}}
	return out, nil
}
