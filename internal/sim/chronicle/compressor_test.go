package chronicle

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"loreweave.ai/internal/protocol"
)

type stubSummarizer struct {
	calls    []SummaryRequest
	failOver int // fail requests with more turns than this (0: never)
	failAll  error
	entities []string
}

func (s *stubSummarizer) Summarize(ctx context.Context, req SummaryRequest) (protocol.SummaryOutput, error) {
	s.calls = append(s.calls, req)
	if err := ctx.Err(); err != nil {
		return protocol.SummaryOutput{}, err
	}
	if s.failAll != nil {
		return protocol.SummaryOutput{}, s.failAll
	}
	if s.failOver > 0 && len(req.Turns) > s.failOver {
		return protocol.SummaryOutput{}, errors.New("too long")
	}
	return protocol.SummaryOutput{
		Summary:  fmt.Sprintf("turns %d-%d", req.Turns[0].Seq, req.Turns[len(req.Turns)-1].Seq),
		Entities: s.entities,
		Events:   []protocol.SummaryEvent{{Kind: "progress", Text: "things happened"}},
	}, nil
}

func twentyChars(i int) string { return fmt.Sprintf("turn %015d", i) }

func TestAppend_CompressesAfterTurn50(t *testing.T) {
	sum := &stubSummarizer{}
	c := New(Config{Threshold: 990, SegmentFraction: 0.25, Cost: CharCost}, sum, nil)
	ctx := context.Background()

	for i := 1; i <= 49; i++ {
		if _, err := c.Append(ctx, Turn{Role: RolePlayer, Text: twentyChars(i), Package: "crypt"}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if len(c.Entries()) != 0 || c.WindowCost() != 980 {
		t.Fatalf("compressed early: entries=%d cost=%d", len(c.Entries()), c.WindowCost())
	}
	if _, err := c.Append(ctx, Turn{Role: RoleNarrator, Text: twentyChars(50), Package: "crypt"}); err != nil {
		t.Fatalf("append 50: %v", err)
	}

	entries := c.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries=%d", len(entries))
	}
	e := entries[0]
	// Segment is ceil(0.25*990)=248, i.e. 13 turns of 20.
	if e.From != 1 || e.To != 13 || e.Turns != 13 || e.Summary != "turns 1-13" {
		t.Fatalf("entry: %+v", e)
	}
	if cost := c.WindowCost(); cost >= 990 || cost != 740 {
		t.Fatalf("window cost after compress=%d", cost)
	}
	if w := c.Window(); w[0].Seq != 14 || w[len(w)-1].Seq != 50 {
		t.Fatalf("window range %d..%d", w[0].Seq, w[len(w)-1].Seq)
	}
}

func TestCompress_EntitySuperset(t *testing.T) {
	sum := &stubSummarizer{entities: []string{"Old Tom"}}
	c := New(Config{Threshold: 1000, SegmentFraction: 0.5, Cost: CharCost}, sum, nil)
	ctx := context.Background()

	c.Append(ctx, Turn{Role: RolePlayer, Text: strings.Repeat("a", 300), Entities: []string{"Mira", "Old Tom"}})
	c.Append(ctx, Turn{Role: RoleNarrator, Text: strings.Repeat("b", 300), Entities: []string{"Gorran"}})
	c.Append(ctx, Turn{Role: RolePlayer, Text: strings.Repeat("c", 100), Entities: []string{"Mira"}})

	e, ok, err := c.Compress(ctx)
	if err != nil || !ok {
		t.Fatalf("Compress: %v %v", ok, err)
	}
	// Run is the first two turns (600 >= 500). Mira is still referenced;
	// Gorran is not and was dropped by the summarizer.
	if !reflect.DeepEqual(e.Entities, []string{"Old Tom", "Mira"}) {
		t.Fatalf("entities=%v", e.Entities)
	}

	listed := map[string]bool{}
	for _, en := range c.Entries() {
		for _, name := range en.Entities {
			listed[name] = true
		}
	}
	for _, turn := range c.Window() {
		for _, name := range turn.Entities {
			if name == "Mira" && !listed[name] {
				t.Fatalf("%s referenced in window but lost from chronicle", name)
			}
		}
	}
}

func TestCompress_FailureLeavesWindowUnchanged(t *testing.T) {
	sum := &stubSummarizer{failAll: errors.New("model offline")}
	c := New(Config{Threshold: 1000, Cost: CharCost}, sum, nil)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		c.Append(ctx, Turn{Role: RolePlayer, Text: strings.Repeat("x", 100)})
	}
	before := c.State()

	_, ok, err := c.Compress(ctx)
	var ue *UnavailableError
	if ok || !errors.As(err, &ue) || protocol.CodeOf(err) != protocol.ErrSummaryUnavailable {
		t.Fatalf("Compress: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(before, c.State()) {
		t.Fatalf("state changed after failed compress")
	}
	if len(sum.calls) != 2 || len(sum.calls[1].Turns) != len(sum.calls[0].Turns)/2 {
		t.Fatalf("expected one reduced retry, calls=%d", len(sum.calls))
	}
}

func TestCompress_CancelledDoesNotRetry(t *testing.T) {
	sum := &stubSummarizer{}
	c := New(Config{Threshold: 1000, Cost: CharCost}, sum, nil)
	for i := 0; i < 4; i++ {
		c.Append(context.Background(), Turn{Text: strings.Repeat("x", 100)})
	}
	before := c.State()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := c.Compress(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Compress on cancelled ctx: %v", err)
	}
	if len(sum.calls) != 1 || !reflect.DeepEqual(before, c.State()) {
		t.Fatalf("calls=%d or state changed", len(sum.calls))
	}
}

func TestCompress_RetryWithHalfRun(t *testing.T) {
	sum := &stubSummarizer{failOver: 3}
	c := New(Config{Threshold: 1000, SegmentFraction: 0.5, Cost: CharCost}, sum, nil)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		c.Append(ctx, Turn{Text: strings.Repeat("x", 100)})
	}
	e, ok, err := c.Compress(ctx)
	if err != nil || !ok {
		t.Fatalf("Compress: %v", err)
	}
	if e.Turns != 2 || e.From != 1 || e.To != 2 {
		t.Fatalf("entry after reduced retry: %+v", e)
	}
	if len(c.Window()) != 6 {
		t.Fatalf("window=%d", len(c.Window()))
	}
}

func TestAssembleContext_IdempotentAndCompacted(t *testing.T) {
	sum := &stubSummarizer{entities: []string{"Mira"}}
	c := New(Config{Threshold: 1000, SegmentFraction: 0.2, Cost: CharCost}, sum, nil)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		c.Append(ctx, Turn{Text: strings.Repeat("x", 100), Entities: []string{"Mira"}})
	}
	c.Compress(ctx)
	c.Compress(ctx)

	a := c.AssembleContext()
	b := c.AssembleContext()
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("AssembleContext not idempotent")
	}
	if len(a.Chronicle) != 2 {
		t.Fatalf("digests=%d", len(a.Chronicle))
	}
	if !reflect.DeepEqual(a.Chronicle[0].Entities, []string{"Mira"}) || len(a.Chronicle[1].Entities) != 0 {
		t.Fatalf("compaction: %+v", a.Chronicle)
	}
	if got := c.Entries()[1].Entities; !reflect.DeepEqual(got, []string{"Mira"}) {
		t.Fatalf("stored entry lost entities: %v", got)
	}
	if !strings.Contains(a.Render(), "introduces: Mira") {
		t.Fatalf("render:\n%s", a.Render())
	}
	r := a.Reduce()
	if len(r.Chronicle) != 1 || len(r.Window) != len(a.Window)/2 {
		t.Fatalf("reduce: %d digests %d turns", len(r.Chronicle), len(r.Window))
	}
}

func archiveFixture(sum Summarizer) *Compressor {
	c := New(Config{Threshold: 100, Cost: CharCost}, sum, nil)
	var window []Turn
	for i := 1; i <= 10; i++ {
		window = append(window, Turn{Seq: uint64(i), Text: strings.Repeat("c", 30), Cost: 30, Package: "crypt"})
	}
	window = append(window, Turn{Seq: 11, Text: "Entering town.", Cost: 14, Package: "town", Role: RoleSystem})
	c.Restore(State{Window: window})
	return c
}

func TestForceArchive_ChunksByThreshold(t *testing.T) {
	c := archiveFixture(&stubSummarizer{})
	entries, err := c.ForceArchive(context.Background(), "crypt")
	if err != nil {
		t.Fatalf("ForceArchive: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("entries=%d", len(entries))
	}
	for i, e := range entries {
		if !e.Archive || e.Package != "crypt" || e.Index != i {
			t.Fatalf("entry %d: %+v", i, e)
		}
	}
	if entries[3].From != 10 || entries[3].To != 10 {
		t.Fatalf("last chunk: %+v", entries[3])
	}
	w := c.Window()
	if len(w) != 1 || w[0].Package != "town" {
		t.Fatalf("window after archive: %+v", w)
	}
	if got := c.CarryForward("crypt"); got != "turns 1-3 turns 4-6 turns 7-9 turns 10-10" {
		t.Fatalf("carry forward: %q", got)
	}
	if got := c.CarryForward("moon"); got == "" {
		t.Fatalf("carry forward for new package should fall back to the chronicle")
	}
}

type failNth struct {
	stubSummarizer
	n int
}

func (f *failNth) Summarize(ctx context.Context, req SummaryRequest) (protocol.SummaryOutput, error) {
	if req.Turns[0].Seq == uint64(f.n) {
		return protocol.SummaryOutput{}, errors.New("boom")
	}
	return f.stubSummarizer.Summarize(ctx, req)
}

func TestForceArchive_AllOrNothing(t *testing.T) {
	c := archiveFixture(&failNth{n: 7})
	before := c.State()
	if _, err := c.ForceArchive(context.Background(), "crypt"); err == nil {
		t.Fatalf("expected failure")
	}
	if !reflect.DeepEqual(before, c.State()) {
		t.Fatalf("partial archive committed")
	}
}

func TestCheckSummary_RejectsMalformed(t *testing.T) {
	bad := []protocol.SummaryOutput{
		{Summary: "  "},
		{Summary: "ok", Entities: []string{""}},
		{Summary: "ok", Events: []protocol.SummaryEvent{{Text: "no kind"}}},
	}
	for i, out := range bad {
		var me *protocol.MalformedError
		if err := checkSummary(out); !errors.As(err, &me) {
			t.Fatalf("case %d: %v", i, err)
		}
	}
}

func TestCostByName(t *testing.T) {
	for name, want := range map[string]int{"chars": 11, "words": 2, "tokens": 3} {
		f, err := CostByName(name)
		if err != nil || f("hello world") != want {
			t.Fatalf("%s: err=%v", name, err)
		}
	}
	if _, err := CostByName("bytes"); err == nil {
		t.Fatalf("unknown unit accepted")
	}
}
