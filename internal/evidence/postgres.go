package evidence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rx-safety-engine/internal/domain"

	_ "github.com/lib/pq"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL evidence store.
// It expects the evidence_records table to exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL evidence store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Save upserts an evidence record on its natural key.
func (s *PostgresStore) Save(ctx context.Context, record *Record) error {
	if err := validate(record); err != nil {
		return err
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO evidence_records (
			canonical_key, source_type, source_id,
			drug_a_name, drug_a_rxcui, drug_b_name, drug_b_rxcui,
			mechanism, enzyme_pathway, severity, evidence_level, study_type,
			raw_source_text, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (source_type, source_id, canonical_key) DO UPDATE SET
			drug_a_name = EXCLUDED.drug_a_name,
			drug_a_rxcui = EXCLUDED.drug_a_rxcui,
			drug_b_name = EXCLUDED.drug_b_name,
			drug_b_rxcui = EXCLUDED.drug_b_rxcui,
			mechanism = EXCLUDED.mechanism,
			enzyme_pathway = EXCLUDED.enzyme_pathway,
			severity = EXCLUDED.severity,
			evidence_level = EXCLUDED.evidence_level,
			study_type = EXCLUDED.study_type,
			raw_source_text = EXCLUDED.raw_source_text,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		record.CanonicalKey, string(record.SourceType), record.SourceID,
		record.DrugA.Name, record.DrugA.RxCUI, record.DrugB.Name, record.DrugB.RxCUI,
		record.Mechanism, record.EnzymePathway, string(record.Severity), string(record.EvidenceLevel), record.StudyType,
		record.RawSourceText, now, now,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save evidence: %w", err)
	}

	record.UpdatedAt = now
	return nil
}

// Get retrieves a record by natural key.
func (s *PostgresStore) Get(ctx context.Context, sourceType domain.SourceType, sourceID, canonicalKey string) (*Record, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM evidence_records
		WHERE source_type = $1 AND source_id = $2 AND canonical_key = $3
		LIMIT 1
	`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, string(sourceType), sourceID, canonicalKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evidence: %w", err)
	}
	return rec, nil
}

// List returns evidence records with pagination, newest first.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Record, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM evidence_records
		ORDER BY id DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, rec)
	}

	return result, rows.Err()
}

// All returns every record in insertion order.
func (s *PostgresStore) All(ctx context.Context) ([]domain.InteractionEvidenceRecord, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM evidence_records
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load evidence: %w", err)
	}
	defer rows.Close()

	result := make([]domain.InteractionEvidenceRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, rec.InteractionEvidenceRecord)
	}

	return result, rows.Err()
}

// Count returns the total number of evidence records.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM evidence_records").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count evidence: %w", err)
	}
	return count, nil
}

// Delete removes an evidence record by ID.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM evidence_records WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete evidence: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ExportJSON exports all evidence to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

// ImportJSON imports evidence from a JSON reader.
func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (int, int, error) {
	return importJSON(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
