package generation

import (
	"context"
	"strings"
	"testing"

	"loreweave.ai/internal/protocol"
	"loreweave.ai/internal/sim/chronicle"
)

func TestStub_EchoesValidatedMove(t *testing.T) {
	s := &Stub{}
	n, err := s.Narrate(context.Background(), NarrationRequest{
		Input:    "go hall",
		Location: Place{ID: "A1", Name: "Stair"},
		Move:     &Move{To: "A2", Path: []string{"A1", "A2"}},
	})
	if err != nil {
		t.Fatalf("Narrate: %v", err)
	}
	if len(n.Directives) != 1 || n.Directives[0].Type != protocol.DirectiveMove || n.Directives[0].Location != "A2" {
		t.Fatalf("directives=%+v", n.Directives)
	}
	if len(s.Requests) != 0 {
		t.Fatalf("requests kept without Record: %d", len(s.Requests))
	}
}

func TestStub_FailuresThenQueue(t *testing.T) {
	s := &Stub{Record: true, FailNarrate: 1, Queue: []protocol.Narration{{Narrative: "scripted"}}}
	if _, err := s.Narrate(context.Background(), NarrationRequest{}); err == nil {
		t.Fatalf("expected scripted failure")
	}
	n, err := s.Narrate(context.Background(), NarrationRequest{})
	if err != nil || n.Narrative != "scripted" {
		t.Fatalf("queued narration: %+v %v", n, err)
	}
	if len(s.Requests) != 2 {
		t.Fatalf("requests=%d", len(s.Requests))
	}
}

func TestStub_SummaryKeepsEntities(t *testing.T) {
	s := &Stub{}
	out, err := s.Summarize(context.Background(), chronicle.SummaryRequest{
		Package: "crypt",
		Turns: []chronicle.Turn{
			{Seq: 1, Text: "a", Entities: []string{"Mira"}},
			{Seq: 2, Text: "b", Entities: []string{"Mira", "Gorran"}},
		},
	})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if out.Summary != "2 turns passed in crypt." || len(out.Entities) != 2 {
		t.Fatalf("summary=%+v", out)
	}
	if len(s.Summaries) != 0 {
		t.Fatalf("summaries kept without Record: %d", len(s.Summaries))
	}
}

func TestNarrationPrompt_CarriesSceneAndRejection(t *testing.T) {
	p := narrationPrompt(NarrationRequest{
		Input:     "go north",
		Package:   "crypt",
		Location:  Place{ID: "A1", Name: "Stair"},
		Neighbors: []Place{{ID: "A2", Name: "Hall"}},
		Rejection: "there is no way north from here",
	})
	for _, want := range []string{"location: Stair (A1)", "exits: Hall (A2)", "cannot do this: there is no way north", "PLAYER\ngo north"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestSummaryPrompt_ListsKnownEntities(t *testing.T) {
	p := summaryPrompt(chronicle.SummaryRequest{
		Package:       "crypt",
		Archive:       true,
		KnownEntities: []string{"Mira"},
		Turns:         []chronicle.Turn{{Seq: 4, Role: chronicle.RolePlayer, Text: "look"}},
	})
	if !strings.Contains(p, "Already known: Mira") || !strings.Contains(p, "leaving crypt") || !strings.Contains(p, "4 player: look") {
		t.Fatalf("prompt:\n%s", p)
	}
}

func TestGeminiSchemas_MatchProtocol(t *testing.T) {
	typ := narrationSchema.Properties["directives"].Items.Properties["type"]
	want := []string{
		protocol.DirectiveMove,
		protocol.DirectiveEnterPackage,
		protocol.DirectiveScriptedMove,
		protocol.DirectiveCompletePackage,
		protocol.DirectiveCrossEvent,
		protocol.DirectiveEntities,
	}
	if strings.Join(typ.Enum, ",") != strings.Join(want, ",") {
		t.Fatalf("directive enum=%v", typ.Enum)
	}
	if strings.Join(summarySchema.Required, ",") != "summary,entities,events" {
		t.Fatalf("summary required=%v", summarySchema.Required)
	}
	for name := range summarySchema.Properties["events"].Items.Properties {
		if name != "kind" && name != "subject" && name != "text" {
			t.Fatalf("unexpected event field %q", name)
		}
	}
}
