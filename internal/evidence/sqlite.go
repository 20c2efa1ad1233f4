package evidence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rx-safety-engine/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite evidence store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS evidence_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		canonical_key TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		drug_a_name TEXT NOT NULL DEFAULT '',
		drug_a_rxcui TEXT NOT NULL DEFAULT '',
		drug_b_name TEXT NOT NULL DEFAULT '',
		drug_b_rxcui TEXT NOT NULL DEFAULT '',
		mechanism TEXT NOT NULL DEFAULT '',
		enzyme_pathway TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL DEFAULT '',
		evidence_level TEXT NOT NULL DEFAULT '',
		study_type TEXT NOT NULL DEFAULT '',
		raw_source_text TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source_type, source_id, canonical_key)
	);

	CREATE INDEX IF NOT EXISTS idx_evidence_canonical_key ON evidence_records(canonical_key);
	CREATE INDEX IF NOT EXISTS idx_evidence_created_at ON evidence_records(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Save stores or updates an evidence record.
func (s *SQLiteStore) Save(ctx context.Context, record *Record) error {
	if err := validate(record); err != nil {
		return err
	}
	now := time.Now().UTC()

	var existingID int64
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT id, created_at FROM evidence_records WHERE source_type = ? AND source_id = ? AND canonical_key = ?",
		string(record.SourceType), record.SourceID, record.CanonicalKey,
	).Scan(&existingID, &createdAt)

	if err == nil {
		record.ID = existingID
		record.CreatedAt = createdAt
		record.UpdatedAt = now

		_, err = s.db.ExecContext(ctx, `
			UPDATE evidence_records SET
				drug_a_name = ?, drug_a_rxcui = ?, drug_b_name = ?, drug_b_rxcui = ?,
				mechanism = ?, enzyme_pathway = ?, severity = ?, evidence_level = ?,
				study_type = ?, raw_source_text = ?, updated_at = ?
			WHERE id = ?
		`,
			record.DrugA.Name, record.DrugA.RxCUI, record.DrugB.Name, record.DrugB.RxCUI,
			record.Mechanism, record.EnzymePathway, string(record.Severity), string(record.EvidenceLevel),
			record.StudyType, record.RawSourceText, now,
			existingID,
		)
		if err != nil {
			return fmt.Errorf("failed to update: %w", err)
		}
		return nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check existing: %w", err)
	}

	record.CreatedAt = now
	record.UpdatedAt = now

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence_records (
			canonical_key, source_type, source_id,
			drug_a_name, drug_a_rxcui, drug_b_name, drug_b_rxcui,
			mechanism, enzyme_pathway, severity, evidence_level, study_type,
			raw_source_text, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.CanonicalKey, string(record.SourceType), record.SourceID,
		record.DrugA.Name, record.DrugA.RxCUI, record.DrugB.Name, record.DrugB.RxCUI,
		record.Mechanism, record.EnzymePathway, string(record.Severity), string(record.EvidenceLevel), record.StudyType,
		record.RawSourceText, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	record.ID = id

	return nil
}

// Get retrieves a record by natural key.
func (s *SQLiteStore) Get(ctx context.Context, sourceType domain.SourceType, sourceID, canonicalKey string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM evidence_records
		WHERE source_type = ? AND source_id = ? AND canonical_key = ?
		LIMIT 1
	`, string(sourceType), sourceID, canonicalKey)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return rec, nil
}

// List returns evidence records with pagination, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM evidence_records
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
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
func (s *SQLiteStore) All(ctx context.Context) ([]domain.InteractionEvidenceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM evidence_records
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
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
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM evidence_records").Scan(&count)
	return count, err
}

// Delete removes an evidence record by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM evidence_records WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ExportJSON exports all evidence to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

// ImportJSON imports evidence from a JSON reader.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (int, int, error) {
	return importJSON(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
