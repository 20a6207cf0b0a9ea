package messagequeue

import (
	"strings"
	"testing"
)

func TestValidateCardEvent(t *testing.T) {
	data := []byte(`{"id":"e1","card_id":"c1","board_id":"b1","type":"created","to_column":"todo","occurred_at":"2025-03-01T09:00:00Z"}`)
	if err := Validate(SubjectCardEvents, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateCardEventBatch(t *testing.T) {
	data := []byte(` [{"card_id":"c1","board_id":"b1","type":"created","to_column":"todo","occurred_at":"2025-03-01T09:00:00Z"},
		{"card_id":"c1","board_id":"b1","type":"moved","to_column":"doing","occurred_at":"2025-03-02T09:00:00Z"}]`)
	events, err := DecodeCardEvents(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 || events[1].ToColumn != "doing" {
		t.Fatalf("unexpected batch %+v", events)
	}
}

func TestValidateCardEventBadTimestamp(t *testing.T) {
	data := []byte(`{"card_id":"c1","board_id":"b1","type":"created","occurred_at":"yesterday"}`)
	if err := Validate(SubjectCardEvents, data); err == nil {
		t.Fatal("expected schema validation error")
	}
}

func TestValidateSnapshotRecorded(t *testing.T) {
	ok := []byte(`{"board_id":"b1","date":"2025-03-01","fingerprint":"abc","cards_completed":1,"total_wip":3}`)
	if err := Validate(SubjectSnapshotsRecorded, ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	missing := []byte(`{"fingerprint":"abc"}`)
	if err := Validate(SubjectSnapshotsRecorded, missing); err == nil {
		t.Fatal("expected error for missing board_id")
	}
}

func TestValidateUnknownSubject(t *testing.T) {
	data := []byte(`{"foo":"bar"}`)
	if err := Validate("unknown.subject", data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	err := Validate(SubjectCardEvents, []byte(`{not valid json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !strings.Contains(err.Error(), "invalid JSON") {
		t.Fatalf("expected 'invalid JSON' in error, got: %v", err)
	}
}

func TestValidateInvalidSchema(t *testing.T) {
	if err := Validate(SubjectCardEvents, []byte(`"just a string"`)); err == nil {
		t.Fatal("expected schema validation error")
	}
}
