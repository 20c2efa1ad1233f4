// Package domain contains the core entities of the clinical-safety rule engine:
// drug identities, interaction evidence, pharmacogenomic phenotype rules and
// opioid dose-equivalence inputs and results.
//
// Every type here is plain data. Behaviour lives in internal/service, static
// tables in internal/rules.
package domain

import (
	"errors"
)

// SourceType identifies where an interaction claim was published.
type SourceType string

const (
	TRIAL            SourceType = "trial"
	REGULATORY_LABEL SourceType = "regulatory-label"
	PUBLICATION      SourceType = "publication"
)

// Severity is the interaction severity as reported by a source. Raw records may
// carry free text ("severe", "high"); StandardizeSeverity maps it onto the
// four-level scale used for ranking.
type Severity string

const (
	CONTRAINDICATED Severity = "contraindicated"
	MAJOR           Severity = "major"
	MODERATE        Severity = "moderate"
	MINOR           Severity = "minor"
	UNKNOWN         Severity = "unknown"
)

// EvidenceLevel grades the strength of the evidence behind a claim.
type EvidenceLevel string

const (
	HIGH   EvidenceLevel = "high"
	MEDIUM EvidenceLevel = "medium"
	LOW    EvidenceLevel = "low"
)

// OpioidKind selects the conversion mode of an opioid table entry.
type OpioidKind string

const (
	LINEAR           OpioidKind = "linear"
	TRANSDERMAL      OpioidKind = "transdermal"
	METHADONE_TIERED OpioidKind = "methadone-tiered"
)

// Sentinel errors shared across packages.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidRuleTable  = errors.New("invalid rule table")
	ErrSnapshotNotReady  = errors.New("interaction snapshot not built yet")
	ErrInvalidSourceType = errors.New("invalid evidence source type")
	ErrInvalidOpioidKind = errors.New("invalid opioid conversion kind")
)

// IsValid reports whether the source type is one of the known publishers.
func (s SourceType) IsValid() bool {
	switch s {
	case TRIAL, REGULATORY_LABEL, PUBLICATION:
		return true
	default:
		return false
	}
}

func (s SourceType) String() string {
	return string(s)
}

// IsValid reports whether the severity is one of the five recognised values.
func (s Severity) IsValid() bool {
	switch s {
	case CONTRAINDICATED, MAJOR, MODERATE, MINOR, UNKNOWN:
		return true
	default:
		return false
	}
}

func (s Severity) String() string {
	return string(s)
}

// Rank orders standardized severities for tie-breaking and display.
// Higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case CONTRAINDICATED, MAJOR:
		return 3
	case MODERATE:
		return 2
	case MINOR:
		return 1
	default:
		return 0
	}
}

// IsValid reports whether the evidence level is known.
func (l EvidenceLevel) IsValid() bool {
	switch l {
	case HIGH, MEDIUM, LOW:
		return true
	default:
		return false
	}
}

func (l EvidenceLevel) String() string {
	return string(l)
}

// IsValid reports whether the opioid kind selects a known conversion mode.
func (k OpioidKind) IsValid() bool {
	switch k {
	case LINEAR, TRANSDERMAL, METHADONE_TIERED:
		return true
	default:
		return false
	}
}

func (k OpioidKind) String() string {
	return string(k)
}
