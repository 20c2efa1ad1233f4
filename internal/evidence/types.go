// Package evidence stores raw drug-interaction evidence records as they arrive
// from ingestion. The normalized snapshot is always rebuilt from the full set
// held here; records are never edited in place by the engine.
package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rx-safety-engine/internal/domain"
)

// Record is a stored evidence record.
type Record struct {
	ID           int64  `json:"id,omitempty"`
	CanonicalKey string `json:"canonical_key"`
	domain.InteractionEvidenceRecord
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord wraps an evidence record for storage.
func NewRecord(r domain.InteractionEvidenceRecord) *Record {
	return &Record{CanonicalKey: r.Key(), InteractionEvidenceRecord: r}
}

// Store defines the interface for evidence storage operations.
type Store interface {
	// Save stores a record. A record with the same source type, source id and
	// canonical key replaces the earlier one.
	Save(ctx context.Context, record *Record) error

	// Get returns the record for a natural key, or nil when absent.
	Get(ctx context.Context, sourceType domain.SourceType, sourceID, canonicalKey string) (*Record, error)

	// List returns records newest first.
	List(ctx context.Context, limit, offset int) ([]*Record, error)

	// All returns every record in insertion order, ready for aggregation.
	All(ctx context.Context) ([]domain.InteractionEvidenceRecord, error)

	Count(ctx context.Context) (int64, error)

	// Delete removes a record by ID. Missing IDs return domain.ErrNotFound.
	Delete(ctx context.Context, id int64) error

	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON loads an export, skipping records whose natural key already exists.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	Close() error
}

// Export represents the JSON export format.
type Export struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Records    []*Record `json:"records"`
}

const (
	exportVersion = "1.0"

	// maxExportLimit is the maximum number of entries to export at once.
	maxExportLimit = 1000000
)

func validate(record *Record) error {
	if record == nil {
		return domain.NewValidationError("record", "record is required", nil)
	}
	if record.IsMalformed() {
		return domain.NewValidationError("drug_a/drug_b", "both drugs need a name or rxcui", record.SourceID)
	}
	if record.SourceID == "" {
		return domain.NewValidationError("source_id", "source id is required", nil)
	}
	record.CanonicalKey = record.Key()
	return nil
}

func exportJSON(ctx context.Context, s Store, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list evidence: %w", err)
	}

	export := &Export{
		Version:    exportVersion,
		ExportedAt: time.Now().UTC(),
		Count:      len(all),
		Records:    all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func importJSON(ctx context.Context, s Store, reader io.Reader) (imported int, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, rec := range export.Records {
		if rec == nil || rec.IsMalformed() {
			skipped++
			continue
		}

		existing, err := s.Get(ctx, rec.SourceType, rec.SourceID, rec.Key())
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}
		if existing != nil {
			skipped++
			continue
		}

		rec.ID = 0
		if err := s.Save(ctx, rec); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

const selectColumns = `id, canonical_key, source_type, source_id,
	drug_a_name, drug_a_rxcui, drug_b_name, drug_b_rxcui,
	mechanism, enzyme_pathway, severity, evidence_level, study_type,
	raw_source_text, created_at, updated_at`

func scanRecord(s scanner) (*Record, error) {
	rec := &Record{}
	var sourceType, severity, level string

	err := s.Scan(
		&rec.ID, &rec.CanonicalKey, &sourceType, &rec.SourceID,
		&rec.DrugA.Name, &rec.DrugA.RxCUI, &rec.DrugB.Name, &rec.DrugB.RxCUI,
		&rec.Mechanism, &rec.EnzymePathway, &severity, &level, &rec.StudyType,
		&rec.RawSourceText, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.SourceType = domain.SourceType(sourceType)
	rec.Severity = domain.Severity(severity)
	rec.EvidenceLevel = domain.EvidenceLevel(level)
	return rec, nil
}
