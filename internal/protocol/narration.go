package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Directive types emitted by the narrating agent.
const (
	DirectiveMove            = "move"
	DirectiveEnterPackage    = "enter_package"
	DirectiveScriptedMove    = "scripted_move"
	DirectiveCompletePackage = "complete_package"
	DirectiveCrossEvent      = "cross_event"
	DirectiveEntities        = "entities"
)

// Narration is the structured output of one narration call.
type Narration struct {
	Narrative  string      `json:"narrative"`
	Directives []Directive `json:"directives,omitempty"`
}

// Directive is a state-mutation request. Which fields are set depends on Type.
type Directive struct {
	Type     string   `json:"type"`
	Location string   `json:"location,omitempty"`
	Package  string   `json:"package,omitempty"`
	Event    string   `json:"event,omitempty"`
	Text     string   `json:"text,omitempty"`
	Names    []string `json:"names,omitempty"`
}

// SummaryOutput is the structured output of one summarization call.
type SummaryOutput struct {
	Summary  string         `json:"summary"`
	Entities []string       `json:"entities"`
	Events   []SummaryEvent `json:"events"`
}

type SummaryEvent struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject,omitempty"`
	Text    string `json:"text"`
}

// MalformedError reports generation output that failed the schema check.
type MalformedError struct {
	Schema string
	Err    error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s: %v", e.Schema, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }
func (e *MalformedError) Code() string  { return ErrMalformedOutput }

const (
	SchemaNarration = "narration.schema.json"
	SchemaSummary   = "summary.schema.json"
	SchemaHello     = "hello.schema.json"
	SchemaTurn      = "turn.schema.json"
	SchemaManifest  = "manifest.schema.json"
	SchemaArea      = "area.schema.json"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	schemaOnce sync.Once
	schemas    map[string]*jsonschema.Schema
	schemaErr  error
)

func compileSchemas() {
	schemas = map[string]*jsonschema.Schema{}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	names := []string{SchemaNarration, SchemaSummary, SchemaHello, SchemaTurn, SchemaManifest, SchemaArea}
	for _, name := range names {
		raw, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			schemaErr = err
			return
		}
		if err := c.AddResource(schemaURL(name), bytes.NewReader(raw)); err != nil {
			schemaErr = fmt.Errorf("%s: %w", name, err)
			return
		}
	}
	for _, name := range names {
		s, err := c.Compile(schemaURL(name))
		if err != nil {
			schemaErr = fmt.Errorf("compile %s: %w", name, err)
			return
		}
		schemas[name] = s
	}
}

func schemaURL(name string) string {
	return "https://loreweave.ai/schemas/" + name
}

// Validate checks raw JSON against one of the embedded schemas.
func Validate(name string, raw []byte) error {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return schemaErr
	}
	s, ok := schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return &MalformedError{Schema: strings.TrimSuffix(name, ".schema.json"), Err: err}
	}
	if err := s.Validate(v); err != nil {
		return &MalformedError{Schema: strings.TrimSuffix(name, ".schema.json"), Err: err}
	}
	return nil
}

// DecodeNarration validates and decodes narrator output. Models sometimes wrap
// JSON in a markdown fence; that wrapper is stripped before the check.
func DecodeNarration(raw []byte) (Narration, error) {
	var n Narration
	raw = stripFence(raw)
	if err := Validate(SchemaNarration, raw); err != nil {
		return n, err
	}
	if err := json.Unmarshal(raw, &n); err != nil {
		return n, &MalformedError{Schema: "narration", Err: err}
	}
	return n, nil
}

// DecodeSummary validates and decodes summarizer output.
func DecodeSummary(raw []byte) (SummaryOutput, error) {
	var s SummaryOutput
	raw = stripFence(raw)
	if err := Validate(SchemaSummary, raw); err != nil {
		return s, err
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, &MalformedError{Schema: "summary", Err: err}
	}
	return s, nil
}

func stripFence(raw []byte) []byte {
	t := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(t, []byte("```")) {
		return t
	}
	t = bytes.TrimPrefix(t, []byte("```"))
	if i := bytes.IndexByte(t, '\n'); i >= 0 {
		t = t[i+1:]
	}
	t = bytes.TrimSuffix(bytes.TrimSpace(t), []byte("```"))
	return bytes.TrimSpace(t)
}
