package entry

import (
	"encoding/json"
	"testing"
	"time"

	apperrors "github.com/louisbranch/audittrail/internal/platform/errors"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
}

func TestNormalizeInputTrimsAndDefaults(t *testing.T) {
	rid := "  doc-1 "
	got, err := NormalizeInput(Input{
		ActorID:      " user-1 ",
		Action:       " note.update ",
		ResourceType: " note ",
		ResourceID:   &rid,
		Metadata:     json.RawMessage(`{"b": 2, "a": 1}`),
	}, fixedNow)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got.ActorID != "user-1" || got.Action != "note.update" || got.ResourceType != "note" {
		t.Fatalf("expected trimmed fields, got %+v", got)
	}
	if got.ResourceIDValue() != "doc-1" {
		t.Fatalf("resource id = %q, want doc-1", got.ResourceIDValue())
	}
	if string(got.Metadata) != `{"a":1,"b":2}` {
		t.Fatalf("metadata = %s, want sorted compact object", got.Metadata)
	}
	if got.CreatedAt != fixedNow().Unix() {
		t.Fatalf("created at = %d, want %d", got.CreatedAt, fixedNow().Unix())
	}
	if got.Hash != "" || got.PrevHash != "" || got.SecretVersion != "" {
		t.Fatal("expected chain fields to stay empty")
	}
}

func TestNormalizeInputBlankResourceIDBecomesAbsent(t *testing.T) {
	blank := "   "
	got, err := NormalizeInput(Input{ActorID: "a", Action: "x", ResourceType: "r", ResourceID: &blank, CreatedAt: 10}, fixedNow)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got.ResourceID != nil {
		t.Fatalf("expected nil resource id, got %q", *got.ResourceID)
	}
	if string(got.Metadata) != "{}" {
		t.Fatalf("metadata = %s, want {}", got.Metadata)
	}
	if got.CreatedAt != 10 {
		t.Fatalf("created at = %d, want 10", got.CreatedAt)
	}
}

func TestNormalizeInputValidation(t *testing.T) {
	tests := []struct {
		name  string
		input Input
	}{
		{name: "missing actor", input: Input{Action: "x", ResourceType: "r"}},
		{name: "missing action", input: Input{ActorID: "a", ResourceType: "r"}},
		{name: "missing resource type", input: Input{ActorID: "a", Action: "x"}},
		{name: "array metadata", input: Input{ActorID: "a", Action: "x", ResourceType: "r", Metadata: json.RawMessage(`[1,2]`)}},
		{name: "invalid metadata", input: Input{ActorID: "a", Action: "x", ResourceType: "r", Metadata: json.RawMessage(`{"a":`)}},
		{name: "trailing metadata", input: Input{ActorID: "a", Action: "x", ResourceType: "r", Metadata: json.RawMessage(`{} {}`)}},
		{name: "negative timestamp", input: Input{ActorID: "a", Action: "x", ResourceType: "r", CreatedAt: -1}},
		{name: "non utf8 actor", input: Input{ActorID: "a\xff", Action: "x", ResourceType: "r"}},
		{name: "non utf8 action", input: Input{ActorID: "a", Action: "grant\xff", ResourceType: "r"}},
		{name: "non utf8 resource type", input: Input{ActorID: "a", Action: "x", ResourceType: "r\xfe"}},
		{name: "non utf8 resource id", input: Input{ActorID: "a", Action: "x", ResourceType: "r", ResourceID: ptrString("doc\xc3")}},
		{name: "non utf8 metadata", input: Input{ActorID: "a", Action: "x", ResourceType: "r", Metadata: json.RawMessage("{\"k\":\"v\xff\"}")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeInput(tt.input, fixedNow)
			if !apperrors.HasCode(err, apperrors.CodeEntryInvalid) {
				t.Fatalf("expected %s, got %v", apperrors.CodeEntryInvalid, err)
			}
		})
	}
}

func TestCanonicalMetadataIsStable(t *testing.T) {
	a, err := CanonicalMetadata([]byte(`{"z":{"y":1,"x":[3,{"b":true,"a":null}]},"a":"<tag>&"}`))
	if err != nil {
		t.Fatalf("canonical a: %v", err)
	}
	b, err := CanonicalMetadata([]byte("{\n  \"a\": \"<tag>&\",\n  \"z\": {\"x\": [3, {\"a\": null, \"b\": true}], \"y\": 1}\n}"))
	if err != nil {
		t.Fatalf("canonical b: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("expected equal canonical forms:\n%s\n%s", a, b)
	}
	if string(a) != `{"a":"<tag>&","z":{"x":[3,{"a":null,"b":true}],"y":1}}` {
		t.Fatalf("unexpected canonical form %s", a)
	}
}

func TestCanonicalMetadataPreservesNumberLiterals(t *testing.T) {
	got, err := CanonicalMetadata([]byte(`{"big":12345678901234567890,"f":1.50}`))
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if string(got) != `{"big":12345678901234567890,"f":1.50}` {
		t.Fatalf("expected literal numbers, got %s", got)
	}
}

func TestCanonicalLayout(t *testing.T) {
	rid := "doc-1"
	e := LogEntry{
		ActorID:      "user-1",
		Action:       "note.update",
		ResourceType: "note",
		ResourceID:   &rid,
		Metadata:     json.RawMessage(`{"b":1,"a":2}`),
		CreatedAt:    1700000000,
	}
	got, err := Canonical("abc", e)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	want := `["abc","user-1","note.update","note","doc-1",{"a":2,"b":1},1700000000]`
	if string(got) != want {
		t.Fatalf("canonical = %s, want %s", got, want)
	}

	e.ResourceID = nil
	got, err = Canonical("", e)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	want = `["","user-1","note.update","note",null,{"a":2,"b":1},1700000000]`
	if string(got) != want {
		t.Fatalf("canonical = %s, want %s", got, want)
	}
}

func TestCanonicalIgnoresUnsignedFields(t *testing.T) {
	base := LogEntry{ActorID: "a", Action: "x", ResourceType: "r", Metadata: json.RawMessage(`{}`), CreatedAt: 1}
	first, err := Canonical("p", base)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	changed := base
	changed.ID = 99
	changed.SecretVersion = "v9"
	changed.Hash = "deadbeef"
	second, err := Canonical("p", changed)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if string(first) != string(second) {
		t.Fatal("expected id, secret version and hash to stay outside the canonical form")
	}
}

func ptrString(s string) *string {
	return &s
}

func TestCanonicalRejectsNonUTF8Fields(t *testing.T) {
	base := LogEntry{ActorID: "a", Action: "x", ResourceType: "r", Metadata: json.RawMessage(`{}`), CreatedAt: 1}
	tests := map[string]func(e *LogEntry) string{
		"actor":         func(e *LogEntry) string { e.ActorID = "a\xff"; return "p" },
		"action":        func(e *LogEntry) string { e.Action = "grant\xff"; return "p" },
		"resource type": func(e *LogEntry) string { e.ResourceType = "r\xfe"; return "p" },
		"resource id":   func(e *LogEntry) string { e.ResourceID = ptrString("doc\xc3"); return "p" },
		"prev hash":     func(e *LogEntry) string { return "p\xff" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			e := base
			prev := mutate(&e)
			if _, err := Canonical(prev, e); !apperrors.HasCode(err, apperrors.CodeEntryInvalid) {
				t.Fatalf("expected %s, got %v", apperrors.CodeEntryInvalid, err)
			}
		})
	}
}

func TestCanonicalMetadataRejectsNonUTF8(t *testing.T) {
	if _, err := CanonicalMetadata([]byte("{\"k\":\"v\xff\"}")); err == nil {
		t.Fatal("expected error for metadata that is not valid UTF-8")
	}
}
