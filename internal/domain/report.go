package domain

import (
	"time"
)

// SafetyRequest is the intake handed to the safety orchestrator.
type SafetyRequest struct {
	PatientRef   string               `json:"patient_ref,omitempty"`
	Drugs        []DrugIdentity       `json:"drugs,omitempty"`
	Observations []GenomicObservation `json:"observations,omitempty"`
	Opioids      []OpioidDose         `json:"opioids,omitempty"`
}

// SafetyReport merges the outputs of all four components.
type SafetyReport struct {
	ID           string                  `json:"id"`
	PatientRef   string                  `json:"patient_ref,omitempty"`
	Interactions []InteractionFinding    `json:"interactions"`
	Alternatives []AlternativeSuggestion `json:"alternatives"`
	Phenotypes   []PhenotypeObservation  `json:"phenotypes"`
	MME          *MMEResult              `json:"mme,omitempty"`
	Diagnostics  []Diagnostic            `json:"diagnostics,omitempty"`
	SnapshotAt   *time.Time              `json:"snapshot_at,omitempty"`
	GeneratedAt  time.Time               `json:"generated_at"`
}
