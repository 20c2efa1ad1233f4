package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rx-safety-engine/internal/database"
	"github.com/rx-safety-engine/internal/domain"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := domain.DatabaseConfig{
		Host:           host,
		Port:           port.Int(),
		Database:       "testdb",
		Username:       "testuser",
		Password:       "testpass",
		SSLMode:        "disable",
		MaxConns:       5,
		MigrationsPath: "../../migrations",
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := database.NewConnection(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	runner, err := database.NewMigrationRunnerFromConfig(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { runner.Close() })
	require.NoError(t, runner.Up())

	return db
}

func sampleReport(patientRef string, generatedAt time.Time) *domain.SafetyReport {
	return &domain.SafetyReport{
		ID:         uuid.New().String(),
		PatientRef: patientRef,
		Interactions: []domain.InteractionFinding{{
			DrugA:    domain.DrugIdentity{Name: "warfarin"},
			DrugB:    domain.DrugIdentity{Name: "amiodarone"},
			Key:      "amiodarone::warfarin",
			Severity: domain.MAJOR,
		}},
		Alternatives: []domain.AlternativeSuggestion{},
		Phenotypes:   []domain.PhenotypeObservation{{Gene: "CYP2D6", Phenotype: "Poor metabolizer"}},
		MME:          &domain.MMEResult{TotalMME: 60, Details: []domain.MMELineItem{}, Notes: []string{}},
		GeneratedAt:  generatedAt.UTC().Truncate(time.Microsecond),
	}
}

func TestReportRepository_SaveAndGet(t *testing.T) {
	db := setupTestDB(t)
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	repo := NewReportRepository(db.Pool, logger)
	ctx := context.Background()

	report := sampleReport("patient-1", time.Now())
	require.NoError(t, repo.Save(ctx, report))

	got, err := repo.GetByID(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, report.ID, got.ID)
	assert.Equal(t, "amiodarone::warfarin", got.Interactions[0].Key)
	assert.Equal(t, 60.0, got.MME.TotalMME)
	assert.True(t, report.GeneratedAt.Equal(got.GeneratedAt))

	// Saving again replaces the stored copy.
	report.PatientRef = "patient-2"
	require.NoError(t, repo.Save(ctx, report))
	got, err = repo.GetByID(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, "patient-2", got.PatientRef)
}

func TestReportRepository_GetByID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewReportRepository(db.Pool, logrus.New())

	_, err := repo.GetByID(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.GetByID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReportRepository_ListByPatient(t *testing.T) {
	db := setupTestDB(t)
	repo := NewReportRepository(db.Pool, logrus.New())
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Save(ctx, sampleReport("patient-1", base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, repo.Save(ctx, sampleReport("patient-9", base)))

	reports, err := repo.ListByPatient(ctx, "patient-1", 2)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.True(t, reports[0].GeneratedAt.After(reports[1].GeneratedAt), "newest first")

	reports, err = repo.ListByPatient(ctx, "nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestReportRepository_Save_Validation(t *testing.T) {
	repo := NewReportRepository(nil, logrus.New())

	var verr *domain.ValidationError
	assert.ErrorAs(t, repo.Save(context.Background(), nil), &verr)
	assert.ErrorAs(t, repo.Save(context.Background(), &domain.SafetyReport{ID: "abc"}), &verr)
	assert.Equal(t, "id", verr.Field)
}
