package protocol

import (
	"errors"
	"testing"
)

func TestDecodeNarration_AcceptsDirectives(t *testing.T) {
	raw := []byte("```json\n" + `{
	  "narrative":"You push through the reeds toward the old mill.",
	  "directives":[
	    {"type":"move","location":"mill.marsh"},
	    {"type":"entities","names":["Old Miller","Brass Key"]},
	    {"type":"cross_event","package":"town","text":"The bell tower fell silent."}
	  ]
	}` + "\n```")
	n, err := DecodeNarration(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(n.Directives) != 3 || n.Directives[0].Location != "mill.marsh" {
		t.Fatalf("unexpected directives: %+v", n.Directives)
	}
}

func TestDecodeNarration_RejectsStructurallyInvalidOutput(t *testing.T) {
	cases := map[string]string{
		"not json":           `The narrator forgot the format.`,
		"missing narrative":  `{"directives":[]}`,
		"unknown directive":  `{"narrative":"x","directives":[{"type":"teleport","location":"A1"}]}`,
		"move sans location": `{"narrative":"x","directives":[{"type":"move"}]}`,
		"unsafe id":          `{"narrative":"x","directives":[{"type":"move","location":"../etc"}]}`,
		"extra field":        `{"narrative":"x","mood":"grim"}`,
	}
	for name, raw := range cases {
		_, err := DecodeNarration([]byte(raw))
		var me *MalformedError
		if !errors.As(err, &me) {
			t.Fatalf("%s: expected MalformedError, got %v", name, err)
		}
		if CodeOf(err) != ErrMalformedOutput {
			t.Fatalf("%s: code=%q", name, CodeOf(err))
		}
	}
}

func TestDecodeSummary(t *testing.T) {
	s, err := DecodeSummary([]byte(`{
	  "summary":"Mara bargained with the ferryman and crossed the river.",
	  "entities":["Mara","Ferryman","River Crossing"],
	  "events":[{"kind":"location_entered","subject":"River Crossing","text":"Mara reached the far bank."}]
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(s.Entities) != 3 || s.Events[0].Kind != "location_entered" {
		t.Fatalf("unexpected summary: %+v", s)
	}

	if _, err := DecodeSummary([]byte(`{"summary":"","entities":[],"events":[]}`)); err == nil {
		t.Fatalf("expected empty summary to be rejected")
	}
	if _, err := DecodeSummary([]byte(`{"summary":"ok","entities":[""],"events":[]}`)); err == nil {
		t.Fatalf("expected empty entity name to be rejected")
	}
}

func TestValidate_WireMessages(t *testing.T) {
	if err := Validate(SchemaHello, []byte(`{"type":"HELLO","protocol_version":"1.0","save_id":"c0ffee-01"}`)); err != nil {
		t.Fatalf("hello: %v", err)
	}
	if err := Validate(SchemaTurn, []byte(`{"type":"TURN","text":"go mill"}`)); err != nil {
		t.Fatalf("turn: %v", err)
	}
	if err := Validate(SchemaTurn, []byte(`{"type":"TURN","text":""}`)); err == nil {
		t.Fatalf("expected empty turn text to be rejected")
	}
	if err := Validate("nope.schema.json", []byte(`{}`)); err == nil {
		t.Fatalf("expected unknown schema error")
	}
}
