package fhir

import (
	"encoding/json"
	"testing"
)

func TestResource_JSONSerialization(t *testing.T) {
	r := Resource{
		ResourceType: "Observation",
		ID:           "test-123",
		Meta: &Meta{
			VersionID: "1",
			Profile:   []string{"http://hl7.org/fhir/StructureDefinition/Observation"},
		},
	}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if parsed["resourceType"] != "Observation" {
		t.Errorf("expected Observation, got %v", parsed["resourceType"])
	}
	if parsed["id"] != "test-123" {
		t.Errorf("expected test-123, got %v", parsed["id"])
	}
}

func TestObservation_OmitsEmptyRanges(t *testing.T) {
	obs := Observation{
		ResourceType: "Observation",
		Status:       "final",
		Code:         CodeableConcept{Text: "E"},
	}

	data, err := json.Marshal(obs)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	for _, field := range []string{"referenceRange", "interpretation", "valueQuantity", "id"} {
		if _, ok := parsed[field]; ok {
			t.Errorf("expected %s to be omitted", field)
		}
	}
}

func TestOperationOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		outcome  *OperationOutcome
		wantCode string
	}{
		{"error", ErrorOutcome("boom"), "processing"},
		{"invalid", InvalidOutcome("bad body"), "invalid"},
		{"not found", NotFoundOutcome("Observation", "1"), "not-found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.outcome.ResourceType != "OperationOutcome" {
				t.Errorf("expected OperationOutcome, got %s", tt.outcome.ResourceType)
			}
			if len(tt.outcome.Issue) != 1 {
				t.Fatalf("expected 1 issue, got %d", len(tt.outcome.Issue))
			}
			if tt.outcome.Issue[0].Severity != "error" {
				t.Errorf("expected severity error, got %s", tt.outcome.Issue[0].Severity)
			}
			if tt.outcome.Issue[0].Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, tt.outcome.Issue[0].Code)
			}
		})
	}

	nf := NotFoundOutcome("Observation", "1")
	if nf.Issue[0].Diagnostics != "Observation/1 not found" {
		t.Errorf("unexpected diagnostics %q", nf.Issue[0].Diagnostics)
	}
}
