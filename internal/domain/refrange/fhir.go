package refrange

import (
	"github.com/google/uuid"

	"github.com/echovet/echovet/internal/platform/fhir"
)

const (
	interpretationSystem = "http://terminology.hl7.org/CodeSystem/v3-ObservationInterpretation"
	categorySystem       = "http://terminology.hl7.org/CodeSystem/observation-category"
	parameterSystem      = "urn:echovet:parameter"
	speciesSystem        = "urn:echovet:species"
)

// interpretationCoding maps a band onto the v3 ObservationInterpretation
// codes L, N and H.
func interpretationCoding(b Band) (fhir.Coding, bool) {
	switch b {
	case BandBelow:
		return fhir.Coding{System: interpretationSystem, Code: "L", Display: "Low"}, true
	case BandWithin:
		return fhir.Coding{System: interpretationSystem, Code: "N", Display: "Normal"}, true
	case BandAbove:
		return fhir.Coding{System: interpretationSystem, Code: "H", Display: "High"}, true
	}
	return fhir.Coding{}, false
}

func ucumCode(unit string) string {
	if unit == "" {
		return "1"
	}
	return unit
}

func quantity(v float64, unit string) *fhir.Quantity {
	return &fhir.Quantity{Value: v, Unit: unit, System: fhir.UCUMSystem, Code: ucumCode(unit)}
}

// ToFHIRObservation renders r as an R4 Observation. Unavailable results
// carry no interpretation and no reference range.
func ToFHIRObservation(r Result, species Species) fhir.Observation {
	display := r.Name
	if display == "" {
		display = r.Key
	}
	obs := fhir.Observation{
		ResourceType: "Observation",
		ID:           uuid.New().String(),
		Status:       "final",
		Category: []fhir.CodeableConcept{{
			Coding: []fhir.Coding{{System: categorySystem, Code: "imaging", Display: "Imaging"}},
		}},
		Code: fhir.CodeableConcept{
			Coding: []fhir.Coding{
				{System: parameterSystem, Code: r.Key, Display: display},
				{System: speciesSystem, Code: string(species)},
			},
			Text: display,
		},
		ValueQuantity: quantity(r.Value, r.Unit),
	}

	if coding, ok := interpretationCoding(r.Band); ok {
		obs.Interpretation = []fhir.CodeableConcept{{
			Coding: []fhir.Coding{coding},
			Text:   string(r.Interpretation),
		}}
	}
	if r.Range != nil && r.Interpretation != LabelUnavailable {
		obs.ReferenceRange = []fhir.ObservationReferenceRange{{
			Low:  quantity(r.Range.Min, r.Unit),
			High: quantity(r.Range.Max, r.Unit),
		}}
	}
	if r.Derived {
		obs.Note = []fhir.Annotation{{Text: "derived from submitted measurements"}}
	}
	return obs
}
