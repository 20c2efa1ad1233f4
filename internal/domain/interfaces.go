package domain

import (
	"context"
)

// EvidenceNormalizer collapses raw evidence records into one judgment per drug pair.
type EvidenceNormalizer interface {
	CanonicalKey(record InteractionEvidenceRecord) string
	QualityScore(record InteractionEvidenceRecord) int
	StandardizeSeverity(raw string) Severity
	ConflictsWith(a, b InteractionEvidenceRecord) bool
	Aggregate(records []InteractionEvidenceRecord) *NormalizationResult
}

// InteractionMatcher pairs a drug list against curated alternative rules.
type InteractionMatcher interface {
	Match(drugs []DrugIdentity) ([]AlternativeSuggestion, []Diagnostic)
}

// PhenotypeDeriver extracts per-gene metabolizer phenotypes from observations.
type PhenotypeDeriver interface {
	Derive(observations []GenomicObservation) []PhenotypeObservation
}

// DoseCalculator converts an opioid regimen into a daily MME total.
type DoseCalculator interface {
	Calculate(doses []OpioidDose) *MMEResult
}

// InteractionLookup answers pair queries against the current normalized snapshot.
type InteractionLookup interface {
	Lookup(a, b DrugIdentity) (*NormalizedInteraction, error)
}

// ReportRepository persists safety reports on behalf of the caller.
type ReportRepository interface {
	Save(ctx context.Context, report *SafetyReport) error
	GetByID(ctx context.Context, id string) (*SafetyReport, error)
	ListByPatient(ctx context.Context, patientRef string, limit int) ([]*SafetyReport, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetDatabaseConfig() *DatabaseConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
