package kafka

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDeterministicEventIDStable(t *testing.T) {
	a := DeterministicEventID("access_requests.submitted", "req-1", "3")
	b := DeterministicEventID("access_requests.submitted", "req-1", "3")
	c := DeterministicEventID("access_requests.submitted", "req-1", "4")
	if a != b {
		t.Fatalf("expected stable id")
	}
	if a == c {
		t.Fatalf("expected different id for different parts")
	}
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := NewEnvelopeWithID("id-1", "access_requests.returned", 1, "corr", time.Now())
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	raw, _ := json.Marshal(struct {
		Envelope
		RequestID string `json:"request_id"`
	}{Envelope: env, RequestID: "r"})

	decoded, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.EventType != "access_requests.returned" || decoded.CorrelationID != "corr" {
		t.Fatalf("unexpected envelope %+v", decoded)
	}

	if _, err := DecodeEnvelope([]byte(`{"event_type":"x"}`)); err == nil {
		t.Fatalf("expected validation error for incomplete envelope")
	}
	if _, err := NewEnvelopeWithID("", "x", 1, "", time.Time{}); err == nil {
		t.Fatalf("expected error for missing id")
	}
}
