package store

import (
	"encoding/json"
	"testing"

	"github.com/conciergestack/schedmate/internal/models"
)

func TestMarshalNullable(t *testing.T) {
	var assessment *models.ConfidenceAssessment
	raw, err := marshalNullable(assessment)
	if err != nil {
		t.Fatalf("nil pointer: %v", err)
	}
	if raw != nil {
		t.Fatalf("nil pointer should encode as NULL, got %q", raw)
	}

	raw, err = marshalNullable(map[string]string{})
	if err != nil {
		t.Fatalf("empty map: %v", err)
	}
	if raw != nil {
		t.Fatalf("empty map should encode as NULL, got %q", raw)
	}

	raw, err = marshalNullable(&models.ConfidenceAssessment{Overall: 0.92})
	if err != nil {
		t.Fatalf("assessment: %v", err)
	}
	var decoded models.ConfidenceAssessment
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode assessment: %v", err)
	}
	if decoded.Overall != 0.92 {
		t.Fatalf("expected overall 0.92, got %v", decoded.Overall)
	}

	raw, err = marshalNullable(map[string]string{"last_action": "sent_email"})
	if err != nil {
		t.Fatalf("context snapshot: %v", err)
	}
	var snapshot map[string]string
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		t.Fatalf("decode context snapshot: %v", err)
	}
	if snapshot["last_action"] != "sent_email" {
		t.Fatalf("unexpected snapshot: %v", snapshot)
	}
}
