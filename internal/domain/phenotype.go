package domain

import "regexp"

// Coding is a single coded value with its display text.
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// CodeableConcept is a set of codings plus free text.
type CodeableConcept struct {
	Text   string   `json:"text,omitempty"`
	Coding []Coding `json:"coding,omitempty"`
}

// ObservationComponent is a sub-observation carried inside a genomic report,
// such as a diplotype or a phenotype line.
type ObservationComponent struct {
	Code                 CodeableConcept   `json:"code"`
	ValueString          string            `json:"valueString,omitempty"`
	ValueCodeableConcept *CodeableConcept  `json:"valueCodeableConcept,omitempty"`
	Interpretation       []CodeableConcept `json:"interpretation,omitempty"`
}

// GenomicObservation is a loosely structured lab-report observation. Only its
// text-bearing fields matter to phenotype derivation.
type GenomicObservation struct {
	ID                   string                 `json:"id,omitempty"`
	Code                 CodeableConcept        `json:"code"`
	ValueString          string                 `json:"valueString,omitempty"`
	ValueCodeableConcept *CodeableConcept       `json:"valueCodeableConcept,omitempty"`
	Interpretation       []CodeableConcept      `json:"interpretation,omitempty"`
	Note                 string                 `json:"note,omitempty"`
	Component            []ObservationComponent `json:"component,omitempty"`
}

// GenePhenotypeRule maps a corpus pattern to a metabolizer phenotype.
type GenePhenotypeRule struct {
	Gene      string
	Pattern   *regexp.Regexp
	Phenotype string
}

// GeneRules is the ordered rule list of one gene. The first matching rule wins.
type GeneRules struct {
	Gene  string
	Rules []GenePhenotypeRule
}

// PhenotypeObservation is the derived phenotype of one gene.
type PhenotypeObservation struct {
	Gene      string `json:"gene"`
	Phenotype string `json:"phenotype"`
}
