package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"alchemy.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compile("hello.schema.json")
	welcomeSchema := compile("welcome.schema.json")
	actSchema := compile("act.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "client_name":"bot1",
	  "capabilities":{"max_queue":8}
	}`), &hello)
	validate(helloSchema, hello)

	var welcome any
	_ = json.Unmarshal([]byte(`{
	  "type":"WELCOME",
	  "protocol_version":"1.0",
	  "session_id":"s1",
	  "client_id":"c1",
	  "params":{"tick_rate_hz":10,"duration_scale":1},
	  "catalog":{"variant":"universe","digest":"deadbeef","count":40}
	}`), &welcome)
	validate(welcomeSchema, welcome)

	var act any
	_ = json.Unmarshal([]byte(`{
	  "type":"ACT",
	  "protocol_version":"1.0",
	  "act_id":"a1",
	  "op":"START",
	  "task_id":"fire"
	}`), &act)
	validate(actSchema, act)

	var badAct any
	_ = json.Unmarshal([]byte(`{"type":"ACT","protocol_version":"1.0","act_id":"a1","op":"FINISH","task_id":"fire"}`), &badAct)
	if err := actSchema.Validate(badAct); err == nil {
		t.Fatalf("expected FINISH op rejected")
	}
}

// The Go structs must marshal into documents the schemas accept.
func TestSchemas_ValidateMarshaledMessages(t *testing.T) {
	cases := []struct {
		schema string
		msg    any
	}{
		{"catalog.schema.json", protocol.CatalogMsg{
			Type:            protocol.TypeCatalog,
			ProtocolVersion: protocol.Version,
			Variant:         "starter",
			Digest:          "deadbeef",
			Tasks: []protocol.TaskDef{
				{ID: "A", Name: "Light Fire", Limit: 1, DurationMs: 1000,
					Outputs:    []protocol.Output{{ID: "fire", Count: 5}},
					OnComplete: &protocol.Effect{Kind: "ACHIEVEMENT", ID: "first_flame"}},
				{ID: "B", Name: "Bake Stone", Limit: -1, DurationMs: 2000,
					Requirements: []protocol.Requirement{{Kind: "CONSUMES", ID: "fire", Amount: 2}}},
				{ID: "religion", Name: "Religion", Limit: 1, DurationMs: 1000,
					Requirements: []protocol.Requirement{{Kind: "FORBIDS_PRESENCE", ID: "atheism"}}},
			},
		}},
		{"state.schema.json", protocol.StateMsg{
			Type:            protocol.TypeState,
			ProtocolVersion: protocol.Version,
			Seq:             3,
			TimeMs:          1000,
			Cause:           "FINISH",
			TaskID:          "A",
			Ledger:          map[string]int{"A": 1, "fire": 5},
			Todo:            []protocol.TodoItem{{Key: "B#0", ID: "B", Name: "Bake Stone", DurationMs: 2000, Limit: -1}},
			Diff:            &protocol.TodoDiff{Added: []string{"B#0"}, Removed: []string{"A#0"}},
			Delta:           map[string]int{"A": 1, "fire": 5},
			Digest:          "deadbeef",
		}},
		{"ack.schema.json", protocol.AckMsg{
			Type:            protocol.TypeAck,
			ProtocolVersion: protocol.Version,
			AckFor:          "a1",
			Accepted:        false,
			Code:            protocol.ErrUnknownTask,
			Message:         "unknown task",
			Suggestion:      "fire",
		}},
		{"event.schema.json", protocol.EventMsg{
			Type:            protocol.TypeEvent,
			ProtocolVersion: protocol.Version,
			Seq:             2,
			TimeMs:          1000,
			Kind:            "EFFECT",
			TaskID:          "religion",
			Effect:          &protocol.Effect{Kind: "HOOK", ID: "choice_religion"},
		}},
	}
	for _, tc := range cases {
		s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", tc.schema))
		if err != nil {
			t.Fatalf("compile %s: %v", tc.schema, err)
		}
		b, err := json.Marshal(tc.msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var doc any
		if err := json.Unmarshal(b, &doc); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := s.Validate(doc); err != nil {
			t.Fatalf("%s: %v\n%s", tc.schema, err, b)
		}
	}
}
