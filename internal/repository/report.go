// Package repository persists safety reports in Postgres on behalf of callers
// that opt in; the evaluation pipeline itself never writes.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/rx-safety-engine/internal/domain"
)

const defaultListLimit = 50

// ReportRepository handles safety report persistence. The full report is
// stored as JSONB; a few columns are extracted for filtering.
type ReportRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *pgxpool.Pool, logger *logrus.Logger) *ReportRepository {
	return &ReportRepository{
		db:  db,
		log: logger,
	}
}

// Save inserts a report, replacing an earlier copy with the same ID.
func (r *ReportRepository) Save(ctx context.Context, report *domain.SafetyReport) error {
	if report == nil {
		return domain.NewValidationError("report", "report is required", nil)
	}
	id, err := uuid.Parse(report.ID)
	if err != nil {
		return domain.NewValidationError("id", "report id must be a UUID", report.ID)
	}

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	var totalMME *float64
	if report.MME != nil {
		totalMME = &report.MME.TotalMME
	}

	query := `
		INSERT INTO safety_reports (
			id, patient_ref, interaction_count, total_mme, report, generated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		ON CONFLICT (id) DO UPDATE SET
			patient_ref = EXCLUDED.patient_ref,
			interaction_count = EXCLUDED.interaction_count,
			total_mme = EXCLUDED.total_mme,
			report = EXCLUDED.report,
			generated_at = EXCLUDED.generated_at`

	_, err = r.db.Exec(ctx, query,
		id,
		report.PatientRef,
		len(report.Interactions),
		totalMME,
		body,
		report.GeneratedAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"report_id": report.ID,
			"error":     err,
		}).Error("Failed to save safety report")
		return fmt.Errorf("saving report: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"report_id":    report.ID,
		"interactions": len(report.Interactions),
	}).Debug("Safety report saved")

	return nil
}

// GetByID retrieves a report by its ID
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*domain.SafetyReport, error) {
	reportID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("report %q not found: %w", id, domain.ErrNotFound)
	}

	var body []byte
	err = r.db.QueryRow(ctx, `SELECT report FROM safety_reports WHERE id = $1`, reportID).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("report %q not found: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting report by ID: %w", err)
	}

	var report domain.SafetyReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	return &report, nil
}

// ListByPatient returns a patient's reports, newest first.
func (r *ReportRepository) ListByPatient(ctx context.Context, patientRef string, limit int) ([]*domain.SafetyReport, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT report
		FROM safety_reports
		WHERE patient_ref = $1
		ORDER BY generated_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, patientRef, limit)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	defer rows.Close()

	reports := make([]*domain.SafetyReport, 0)
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		var report domain.SafetyReport
		if err := json.Unmarshal(body, &report); err != nil {
			return nil, fmt.Errorf("decoding report: %w", err)
		}
		reports = append(reports, &report)
	}

	return reports, rows.Err()
}
