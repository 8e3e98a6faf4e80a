package audit

import (
	"testing"
)

func TestBuildBaseQuery(t *testing.T) {
	query, args := buildBaseQuery("SELECT COUNT(1)", Filter{})
	if query != "SELECT COUNT(1) FROM audit_events WHERE 1=1" || len(args) != 0 {
		t.Fatalf("unexpected unfiltered query %q %v", query, args)
	}

	query, args = buildBaseQuery("SELECT id", Filter{Action: "stage.advance.auto", EntityID: "42"})
	want := "SELECT id FROM audit_events WHERE 1=1 AND action = $1 AND entity_id = $2"
	if query != want {
		t.Fatalf("expected %q, got %q", want, query)
	}
	if len(args) != 2 || args[0] != "stage.advance.auto" || args[1] != "42" {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestEncode(t *testing.T) {
	raw, err := encode(nil)
	if err != nil || raw != nil {
		t.Fatalf("nil should encode to nil, got %q %v", raw, err)
	}
	raw, err = encode(map[string]int{"stage": 2})
	if err != nil || string(raw) != `{"stage":2}` {
		t.Fatalf("unexpected encoding %q %v", raw, err)
	}
	if _, err := encode(func() {}); err == nil {
		t.Fatal("expected error for unmarshalable value")
	}
}
