package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rx-safety-engine/internal/cache"
	"github.com/rx-safety-engine/internal/domain"
	"github.com/rx-safety-engine/internal/metrics"
	"github.com/rx-safety-engine/internal/rules"
)

type fakeIndex struct {
	interactions map[string]*domain.NormalizedInteraction
	builtAt      time.Time
	err          error
}

func (f *fakeIndex) Lookup(a, b domain.DrugIdentity) (*domain.NormalizedInteraction, error) {
	if f.err != nil {
		return nil, f.err
	}
	if ni, ok := f.interactions[domain.CanonicalKey(a, b)]; ok {
		return ni, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeIndex) BuiltAt() (time.Time, bool) {
	if f.err != nil {
		return time.Time{}, false
	}
	return f.builtAt, true
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		builtAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		interactions: map[string]*domain.NormalizedInteraction{
			"clopidogrel::omeprazole": {
				Key:          "clopidogrel::omeprazole",
				Severity:     domain.MODERATE,
				QualityScore: 70,
				Records:      make([]domain.InteractionEvidenceRecord, 1),
			},
			"amiodarone::warfarin": {
				Key:          "amiodarone::warfarin",
				Severity:     domain.MAJOR,
				QualityScore: 95,
				Conflicted:   true,
				Records:      make([]domain.InteractionEvidenceRecord, 2),
			},
		},
	}
}

func newTestSafetyService(index InteractionIndex) *SafetyService {
	logger, _ := test.NewNullLogger()
	provider := rules.NewStaticProvider(rules.MustDefault())
	return NewSafetyService(
		NewInteractionMatcher(provider, logger),
		NewPhenotypeDeriver(provider, logger),
		NewDoseCalculator(provider, logger),
		index,
		logger,
	)
}

func fullRequest() domain.SafetyRequest {
	return domain.SafetyRequest{
		PatientRef: "patient-42",
		Drugs: []domain.DrugIdentity{
			{Name: "clopidogrel"},
			{Name: "omeprazole"},
			{Name: "warfarin"},
			{Name: "amiodarone"},
		},
		Observations: []domain.GenomicObservation{{
			Code:        domain.CodeableConcept{Text: "CYP2C19 genotype"},
			ValueString: "Result: *2/*2",
		}},
		Opioids: []domain.OpioidDose{
			{Name: "oxycodone", DoseMgPerDose: f(10), DosesPerDay: f(4)},
			{Name: "buprenorphine", DoseMgPerDose: f(8), DosesPerDay: f(2)},
		},
	}
}

func TestEvaluate_RejectsEmptyRequest(t *testing.T) {
	s := newTestSafetyService(nil)

	_, err := s.Evaluate(context.Background(), domain.SafetyRequest{PatientRef: "p"})

	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "request", verr.Field)
}

func TestEvaluate_FullReport(t *testing.T) {
	s := newTestSafetyService(newFakeIndex())
	s.SetReportCache(cache.NewMemoryCache[*domain.SafetyReport](10, time.Minute))
	s.SetMetrics(metrics.NewEngineMetrics(domain.MetricsConfig{Namespace: "test"}, prometheus.NewRegistry()))

	report, err := s.Evaluate(context.Background(), fullRequest())
	require.NoError(t, err)

	_, err = uuid.Parse(report.ID)
	assert.NoError(t, err)
	assert.Equal(t, "patient-42", report.PatientRef)
	assert.False(t, report.GeneratedAt.IsZero())
	require.NotNil(t, report.SnapshotAt)

	// Major first even though the clopidogrel pair comes first in pair order.
	require.Len(t, report.Interactions, 2)
	assert.Equal(t, "amiodarone::warfarin", report.Interactions[0].Key)
	assert.Equal(t, "warfarin", report.Interactions[0].DrugA.Name)
	assert.Equal(t, 2, report.Interactions[0].SourceCount)
	assert.True(t, report.Interactions[0].Conflicted)
	assert.Equal(t, "clopidogrel::omeprazole", report.Interactions[1].Key)

	require.Len(t, report.Alternatives, 2)
	assert.Equal(t, "pantoprazole", report.Alternatives[0].Alternative.Name)
	assert.Equal(t, "omeprazole", report.Alternatives[0].ForDrug.Name)
	assert.Equal(t, "apixaban", report.Alternatives[1].Alternative.Name)

	assert.Equal(t, []domain.PhenotypeObservation{{Gene: "CYP2C19", Phenotype: rules.PoorMetabolizer}}, report.Phenotypes)

	require.NotNil(t, report.MME)
	assert.Equal(t, 60.0, report.MME.TotalMME)
	assert.True(t, report.MME.Thresholds.CautionAt50)

	require.Len(t, report.Diagnostics, 1)
	assert.Equal(t, domain.ComponentDoseCalculator, report.Diagnostics[0].Component)
	assert.Equal(t, 1, report.Diagnostics[0].Index)
	assert.Equal(t, "buprenorphine", report.Diagnostics[0].Subject)

	cached, ok := s.Report(report.ID)
	require.True(t, ok)
	assert.Same(t, report, cached)
}

func TestEvaluate_DrugsOnly(t *testing.T) {
	s := newTestSafetyService(newFakeIndex())

	report, err := s.Evaluate(context.Background(), domain.SafetyRequest{
		Drugs: []domain.DrugIdentity{{Name: "Warfarin"}, {Name: "Amiodarone"}},
	})
	require.NoError(t, err)

	assert.Nil(t, report.MME)
	assert.NotNil(t, report.Phenotypes)
	assert.Empty(t, report.Phenotypes)
	require.Len(t, report.Interactions, 1)
	assert.Equal(t, domain.MAJOR, report.Interactions[0].Severity)
}

func TestEvaluate_SnapshotNotReady(t *testing.T) {
	s := newTestSafetyService(&fakeIndex{err: domain.ErrSnapshotNotReady})

	report, err := s.Evaluate(context.Background(), fullRequest())
	require.NoError(t, err)

	assert.Empty(t, report.Interactions)
	assert.Nil(t, report.SnapshotAt)

	var orchestrator []domain.Diagnostic
	for _, d := range report.Diagnostics {
		if d.Component == domain.ComponentSafetyOrchestrator {
			orchestrator = append(orchestrator, d)
		}
	}
	require.Len(t, orchestrator, 1, "reported once, not per pair")
	assert.Contains(t, orchestrator[0].Reason, "snapshot")
}

func TestEvaluate_LookupFailureIsDiagnostic(t *testing.T) {
	s := newTestSafetyService(&fakeIndex{err: errors.New("redis timeout")})

	report, err := s.Evaluate(context.Background(), domain.SafetyRequest{
		Drugs: []domain.DrugIdentity{{Name: "warfarin"}, {Name: "amiodarone"}},
	})
	require.NoError(t, err)

	require.Len(t, report.Diagnostics, 1)
	assert.Equal(t, "warfarin + amiodarone", report.Diagnostics[0].Subject)
	assert.Contains(t, report.Diagnostics[0].Reason, "redis timeout")
}

func TestEvaluate_WithoutIndex(t *testing.T) {
	s := newTestSafetyService(nil)

	report, err := s.Evaluate(context.Background(), fullRequest())
	require.NoError(t, err)

	assert.NotNil(t, report.Interactions)
	assert.Empty(t, report.Interactions)
	assert.Len(t, report.Alternatives, 2)

	_, ok := s.Report(report.ID)
	assert.False(t, ok, "no cache configured")
}

func TestEvaluate_CancelledContext(t *testing.T) {
	s := newTestSafetyService(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Evaluate(ctx, fullRequest())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluate_DoesNotLogPatientRef(t *testing.T) {
	logger, hook := test.NewNullLogger()
	provider := rules.NewStaticProvider(rules.MustDefault())
	s := NewSafetyService(
		NewInteractionMatcher(provider, logger),
		NewPhenotypeDeriver(provider, logger),
		NewDoseCalculator(provider, logger),
		nil,
		logger,
	)

	_, err := s.Evaluate(context.Background(), fullRequest())
	require.NoError(t, err)

	require.NotEmpty(t, hook.Entries)
	for _, entry := range hook.AllEntries() {
		for _, v := range entry.Data {
			assert.NotEqual(t, "patient-42", v)
		}
	}
}
