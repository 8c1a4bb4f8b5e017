package fhir

import (
	"encoding/json"
	"testing"
)

func TestNewSearchBundle(t *testing.T) {
	resources := []interface{}{
		map[string]string{"id": "1", "resourceType": "Observation"},
		map[string]string{"id": "2", "resourceType": "Observation"},
	}

	bundle := NewSearchBundle(resources, 10, "/fhir/Observation/$interpret")

	if bundle.ResourceType != "Bundle" {
		t.Errorf("expected resourceType Bundle, got %s", bundle.ResourceType)
	}
	if bundle.Type != "searchset" {
		t.Errorf("expected type searchset, got %s", bundle.Type)
	}
	if *bundle.Total != 10 {
		t.Errorf("expected total 10, got %d", *bundle.Total)
	}
	if len(bundle.Entry) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(bundle.Entry))
	}
	if bundle.Entry[0].Search == nil || bundle.Entry[0].Search.Mode != "match" {
		t.Error("expected search mode 'match'")
	}
	if bundle.Timestamp == nil {
		t.Error("expected timestamp to be set")
	}
	if len(bundle.Link) < 1 {
		t.Fatal("expected at least 1 link (self)")
	}
	if bundle.Link[0].Relation != "self" {
		t.Errorf("expected first link relation 'self', got %q", bundle.Link[0].Relation)
	}
}

func TestNewSearchBundle_FullURL(t *testing.T) {
	resources := []interface{}{
		map[string]interface{}{"resourceType": "Observation", "id": "abc-123"},
		map[string]interface{}{"resourceType": "Observation"},
	}

	bundle := NewSearchBundle(resources, 2, "/fhir/Observation")

	if bundle.Entry[0].FullURL != "Observation/abc-123" {
		t.Errorf("expected fullUrl 'Observation/abc-123', got '%s'", bundle.Entry[0].FullURL)
	}
	if bundle.Entry[1].FullURL != "" {
		t.Errorf("expected empty fullUrl without id, got '%s'", bundle.Entry[1].FullURL)
	}
}

func TestNewSearchBundle_Empty(t *testing.T) {
	bundle := NewSearchBundle(nil, 0, "/fhir/Observation")

	if *bundle.Total != 0 {
		t.Errorf("expected total 0, got %d", *bundle.Total)
	}
	if len(bundle.Entry) != 0 {
		t.Errorf("expected 0 entries, got %d", len(bundle.Entry))
	}
}

func TestNewSearchBundle_StructResource(t *testing.T) {
	obs := Observation{
		ResourceType: "Observation",
		ID:           "obs-1",
		Status:       "final",
		Code:         CodeableConcept{Text: "LVIDd"},
		ValueQuantity: &Quantity{
			Value: 3.1, Unit: "cm", System: UCUMSystem, Code: "cm",
		},
	}

	bundle := NewSearchBundle([]interface{}{obs}, 1, "/fhir/Observation")

	if bundle.Entry[0].FullURL != "Observation/obs-1" {
		t.Errorf("expected fullUrl from struct, got '%s'", bundle.Entry[0].FullURL)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(bundle.Entry[0].Resource, &parsed); err != nil {
		t.Fatalf("failed to parse resource JSON: %v", err)
	}
	vq, ok := parsed["valueQuantity"].(map[string]interface{})
	if !ok {
		t.Fatal("expected valueQuantity object")
	}
	if vq["value"] != 3.1 {
		t.Errorf("expected value 3.1, got %v", vq["value"])
	}
}

func TestFormatReference(t *testing.T) {
	if got := FormatReference("Observation", "x"); got != "Observation/x" {
		t.Errorf("expected Observation/x, got %s", got)
	}
}
