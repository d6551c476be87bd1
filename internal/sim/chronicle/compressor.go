// Package chronicle keeps a playthrough's conversation as a bounded active
// window plus an append-only sequence of summarized entries.
package chronicle

import (
	"context"
	"errors"
	"io"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"loreweave.ai/internal/protocol"
)

const (
	defaultThreshold       = 6000
	defaultSegmentFraction = 0.25
	defaultMaxEntities     = 32
	defaultSummaryTimeout  = 30 * time.Second
	carryForwardEntries    = 8
)

type Config struct {
	Threshold       int
	SegmentFraction float64
	MaxEntities     int
	SummaryTimeout  time.Duration
	Cost            CostFunc
}

func (c Config) withDefaults() Config {
	cfg := c
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.SegmentFraction <= 0 || cfg.SegmentFraction > 1 {
		cfg.SegmentFraction = defaultSegmentFraction
	}
	if cfg.MaxEntities <= 0 {
		cfg.MaxEntities = defaultMaxEntities
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = defaultSummaryTimeout
	}
	if cfg.Cost == nil {
		cfg.Cost = TokenEstimate
	}
	return cfg
}

// Segment is the minimum cost a compression removes.
func (c Config) Segment() int {
	return int(math.Ceil(c.SegmentFraction * float64(c.Threshold)))
}

// Compressor is safe for concurrent use, although a playthrough drives it
// from a single goroutine.
type Compressor struct {
	mu      sync.Mutex
	cfg     Config
	sum     Summarizer
	logger  *log.Logger
	window  []Turn
	entries []Entry
	lastSeq uint64
}

func New(cfg Config, sum Summarizer, logger *log.Logger) *Compressor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Compressor{cfg: cfg.withDefaults(), sum: sum, logger: logger}
}

func (c *Compressor) Config() Config { return c.cfg }

// Append adds t to the window and compresses while the window is over the
// threshold. The turn is kept even when compression fails; the error is
// then an *UnavailableError and the window stays over budget until a later
// attempt succeeds.
func (c *Compressor) Append(ctx context.Context, t Turn) (Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastSeq++
	t.Seq = c.lastSeq
	t.Entities = dedupe(t.Entities)
	if t.Cost <= 0 {
		t.Cost = c.cfg.Cost(t.Text)
	}
	c.window = append(c.window, t)

	for c.windowCost() > c.cfg.Threshold {
		_, ok, err := c.compressLocked(ctx)
		if err != nil {
			return t, err
		}
		if !ok {
			break
		}
	}
	return t, nil
}

// Compress replaces the oldest contiguous run of same-package turns with one
// entry. The run costs at least one segment, or enough to bring the window
// back under the threshold if that is more. The newest turn always stays in
// the window. ok is false when there was nothing to compress.
func (c *Compressor) Compress(ctx context.Context) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compressLocked(ctx)
}

func (c *Compressor) compressLocked(ctx context.Context) (Entry, bool, error) {
	if len(c.window) < 2 {
		return Entry{}, false, nil
	}
	target := c.cfg.Segment()
	if over := c.windowCost() - c.cfg.Threshold + 1; over > target {
		target = over
	}
	pkg := c.window[0].Package
	n, cost := 0, 0
	for n < len(c.window)-1 && c.window[n].Package == pkg {
		cost += c.window[n].Cost
		n++
		if cost >= target {
			break
		}
	}

	run := c.window[:n]
	out, used, err := c.summarizeWithRetry(ctx, pkg, run)
	if err != nil {
		return Entry{}, false, err
	}
	e := c.buildEntry(pkg, run[:used], c.window[used:], out, false)
	c.commit(used, e)
	c.logger.Printf("compressed turns=%d..%d cost=%d package=%s", e.From, e.To, sumCost(run[:used]), pkg)
	return e, true, nil
}

// ForceArchive compresses every window turn of pkg regardless of the
// threshold. Turns are chunked so no chunk costs more than the threshold
// (a single oversized turn is its own chunk). Either every chunk is
// committed or nothing is.
func (c *Compressor) ForceArchive(ctx context.Context, pkg string) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keep, mine []Turn
	for _, t := range c.window {
		if t.Package == pkg {
			mine = append(mine, t)
		} else {
			keep = append(keep, t)
		}
	}
	if len(mine) == 0 {
		return nil, nil
	}

	var chunks [][]Turn
	start, cost := 0, 0
	for i, t := range mine {
		if i > start && cost+t.Cost > c.cfg.Threshold {
			chunks = append(chunks, mine[start:i])
			start, cost = i, 0
		}
		cost += t.Cost
	}
	chunks = append(chunks, mine[start:])

	staged := make([]Entry, 0, len(chunks))
	known := c.knownEntities()
	for i, chunk := range chunks {
		out, err := c.summarizeOnce(ctx, SummaryRequest{Package: pkg, Turns: chunk, KnownEntities: known, Archive: true})
		if err != nil && ctx.Err() == nil {
			out, err = c.summarizeOnce(ctx, SummaryRequest{Package: pkg, Turns: chunk, KnownEntities: known, Archive: true})
		}
		if err != nil {
			return nil, &UnavailableError{Package: pkg, Turns: len(mine), Cause: err}
		}
		rest := append(append([]Turn(nil), keep...), flatten(chunks[i+1:])...)
		e := c.buildEntry(pkg, chunk, rest, out, true)
		e.Index = len(c.entries) + i
		staged = append(staged, e)
		known = mergeEntities(known, e.Entities)
	}

	c.entries = append(c.entries, staged...)
	c.window = keep
	c.logger.Printf("archived package=%s turns=%d entries=%d", pkg, len(mine), len(staged))
	return append([]Entry(nil), staged...), nil
}

// ArchivePackage runs ForceArchive and returns the text carried out of the
// package.
func (c *Compressor) ArchivePackage(ctx context.Context, pkg string) (string, error) {
	entries, err := c.ForceArchive(ctx, pkg)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.carryForwardLocked(pkg, true), nil
	}
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, e.Summary)
	}
	return strings.Join(parts, " "), nil
}

// CarryForward builds the summary that seeds entry into pkg: the package's
// own archive entries when it has any, otherwise the recent chronicle.
func (c *Compressor) CarryForward(pkg string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.carryForwardLocked(pkg, false)
}

func (c *Compressor) carryForwardLocked(pkg string, ownOnly bool) string {
	var own []string
	for _, e := range c.entries {
		if e.Archive && e.Package == pkg {
			own = append(own, e.Summary)
		}
	}
	if len(own) > 0 || ownOnly {
		return joinTail(own, carryForwardEntries)
	}
	all := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		all = append(all, e.Summary)
	}
	return joinTail(all, carryForwardEntries)
}

// summarizeWithRetry tries the whole run, then once more with the older half
// of it. used is how many turns of run the returned summary covers.
func (c *Compressor) summarizeWithRetry(ctx context.Context, pkg string, run []Turn) (protocol.SummaryOutput, int, error) {
	known := c.knownEntities()
	out, err := c.summarizeOnce(ctx, SummaryRequest{Package: pkg, Turns: run, KnownEntities: known})
	if err == nil {
		return out, len(run), nil
	}
	first := err
	if ctx.Err() != nil || len(run) < 2 {
		return out, 0, &UnavailableError{Package: pkg, Turns: len(run), Cause: first}
	}
	half := len(run) / 2
	c.logger.Printf("summary failed for %d turns, retrying with %d: %v", len(run), half, first)
	out, err = c.summarizeOnce(ctx, SummaryRequest{Package: pkg, Turns: run[:half], KnownEntities: known})
	if err != nil {
		return out, 0, &UnavailableError{Package: pkg, Turns: len(run), Cause: errors.Join(first, err)}
	}
	return out, half, nil
}

func (c *Compressor) summarizeOnce(ctx context.Context, req SummaryRequest) (protocol.SummaryOutput, error) {
	if c.sum == nil {
		return protocol.SummaryOutput{}, errors.New("no summarizer configured")
	}
	cctx, cancel := context.WithTimeout(ctx, c.cfg.SummaryTimeout)
	defer cancel()
	out, err := c.sum.Summarize(cctx, req)
	if err != nil {
		return out, err
	}
	if err := checkSummary(out); err != nil {
		return out, err
	}
	return out, nil
}

func checkSummary(out protocol.SummaryOutput) error {
	if strings.TrimSpace(out.Summary) == "" {
		return &protocol.MalformedError{Schema: protocol.SchemaSummary, Err: errors.New("empty summary")}
	}
	for _, name := range out.Entities {
		if strings.TrimSpace(name) == "" {
			return &protocol.MalformedError{Schema: protocol.SchemaSummary, Err: errors.New("blank entity name")}
		}
	}
	for _, ev := range out.Events {
		if strings.TrimSpace(ev.Kind) == "" {
			return &protocol.MalformedError{Schema: protocol.SchemaSummary, Err: errors.New("event without kind")}
		}
	}
	return nil
}

// buildEntry turns summarizer output into an entry. Any entity named in run
// that is still referenced by a turn in rest is added if the summarizer
// dropped it; other names are capped at MaxEntities.
func (c *Compressor) buildEntry(pkg string, run, rest []Turn, out protocol.SummaryOutput, archive bool) Entry {
	live := map[string]bool{}
	for _, t := range rest {
		for _, name := range t.Entities {
			live[name] = true
		}
	}
	required := map[string]bool{}
	var missing []string
	for _, t := range run {
		for _, name := range t.Entities {
			if live[name] && !required[name] {
				required[name] = true
				missing = append(missing, name)
			}
		}
	}

	budget := c.cfg.MaxEntities - len(required)
	var entities []string
	listed := map[string]bool{}
	for _, name := range dedupe(out.Entities) {
		if !required[name] {
			if budget <= 0 {
				continue
			}
			budget--
		}
		entities = append(entities, name)
		listed[name] = true
	}
	sort.Strings(missing)
	for _, name := range missing {
		if !listed[name] {
			entities = append(entities, name)
		}
	}

	events := make([]Event, 0, len(out.Events))
	for _, ev := range out.Events {
		events = append(events, Event{Kind: ev.Kind, Subject: ev.Subject, Text: ev.Text})
	}
	return Entry{
		Index:    len(c.entries),
		From:     run[0].Seq,
		To:       run[len(run)-1].Seq,
		Turns:    len(run),
		Package:  pkg,
		Summary:  strings.TrimSpace(out.Summary),
		Entities: entities,
		Events:   events,
		Archive:  archive,
	}
}

func (c *Compressor) commit(n int, e Entry) {
	c.entries = append(c.entries, e)
	c.window = append([]Turn(nil), c.window[n:]...)
}

func (c *Compressor) windowCost() int { return sumCost(c.window) }

// WindowCost is the summed cost of the active window.
func (c *Compressor) WindowCost() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.windowCost()
}

func (c *Compressor) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

func (c *Compressor) Window() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Turn(nil), c.window...)
}

func (c *Compressor) knownEntities() []string {
	var out []string
	for _, e := range c.entries {
		out = mergeEntities(out, e.Entities)
	}
	return out
}

func sumCost(turns []Turn) int {
	total := 0
	for _, t := range turns {
		total += t.Cost
	}
	return total
}

func flatten(chunks [][]Turn) []Turn {
	var out []Turn
	for _, ch := range chunks {
		out = append(out, ch...)
	}
	return out
}

func mergeEntities(known, more []string) []string {
	return dedupe(append(append([]string(nil), known...), more...))
}

func dedupe(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func joinTail(parts []string, n int) string {
	if len(parts) > n {
		parts = parts[len(parts)-n:]
	}
	return strings.Join(parts, " ")
}
