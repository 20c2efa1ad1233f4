package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rx-safety-engine/internal/cache"
	"github.com/rx-safety-engine/internal/domain"
	"github.com/rx-safety-engine/internal/evidence"
	"github.com/rx-safety-engine/internal/metrics"
	"github.com/rx-safety-engine/internal/rules"
	"github.com/rx-safety-engine/internal/service"
	"github.com/rx-safety-engine/internal/snapshot"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	server    *Server
	store     *evidence.SQLiteStore
	snapshots *snapshot.Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()

	store, err := evidence.NewSQLiteStore(filepath.Join(t.TempDir(), "evidence.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	provider := rules.NewStaticProvider(rules.MustDefault())
	normalizer := service.NewEvidenceNormalizer(logger)
	matcher := service.NewInteractionMatcher(provider, logger)
	deriver := service.NewPhenotypeDeriver(provider, logger)
	calculator := service.NewDoseCalculator(provider, logger)

	builder := snapshot.NewBuilder(store, normalizer, domain.SnapshotConfig{}, logger)

	registry := prometheus.NewRegistry()
	m := metrics.NewEngineMetrics(domain.MetricsConfig{Namespace: "test"}, registry)

	safety := service.NewSafetyService(matcher, deriver, calculator, builder, logger)
	safety.SetReportCache(cache.NewMemoryCache[*domain.SafetyReport](10, time.Minute))
	safety.SetMetrics(m)

	server := NewServer(domain.ServerConfig{}, Dependencies{
		Normalizer: normalizer,
		Matcher:    matcher,
		Deriver:    deriver,
		Calculator: calculator,
		Safety:     safety,
		Evidence:   store,
		Snapshots:  builder,
		Metrics:    m,
		Registry:   registry,
		Logger:     logger,
	})

	return &fixture{server: server, store: store, snapshots: builder}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst))
}

func sampleEvidence() []domain.InteractionEvidenceRecord {
	return []domain.InteractionEvidenceRecord{
		{
			SourceType:    domain.REGULATORY_LABEL,
			SourceID:      "label-1",
			DrugA:         domain.DrugIdentity{Name: "warfarin"},
			DrugB:         domain.DrugIdentity{Name: "amiodarone"},
			Severity:      domain.MAJOR,
			EvidenceLevel: domain.HIGH,
		},
		{
			SourceType:    domain.PUBLICATION,
			SourceID:      "pub-1",
			DrugA:         domain.DrugIdentity{Name: "clopidogrel"},
			DrugB:         domain.DrugIdentity{Name: "omeprazole"},
			Severity:      domain.MODERATE,
			EvidenceLevel: domain.MEDIUM,
		},
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, Version, body["version"])
	assert.Nil(t, body["snapshot_built_at"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestNormalize(t *testing.T) {
	f := newFixture(t)

	records := append(sampleEvidence(), domain.InteractionEvidenceRecord{
		SourceType: domain.TRIAL,
		SourceID:   "broken",
		DrugA:      domain.DrugIdentity{Name: "simvastatin"},
	})
	w := f.do(t, http.MethodPost, "/api/v1/evidence/normalize", evidenceRequest{Records: records})
	require.Equal(t, http.StatusOK, w.Code)

	var resp normalizeResponse
	decode(t, w, &resp)
	require.Len(t, resp.Interactions, 2)
	assert.Equal(t, "amiodarone::warfarin", resp.Interactions[0].Key)
	require.Len(t, resp.Skipped, 1)
	assert.Equal(t, 2, resp.Skipped[0].Index)
}

func TestNormalize_InvalidBody(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/evidence/normalize", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var serr domain.SafetyError
	decode(t, w, &serr)
	assert.Equal(t, domain.ErrInvalidInput, serr.Code)
	assert.Equal(t, w.Header().Get("X-Request-ID"), serr.RequestID)
}

func TestEvidenceIngestRebuildAndLookup(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/interactions?drug_a=warfarin&drug_b=amiodarone", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	records := append(sampleEvidence(), domain.InteractionEvidenceRecord{
		SourceType: domain.TRIAL,
		SourceID:   "no-pair",
		DrugA:      domain.DrugIdentity{Name: "simvastatin"},
	})
	w = f.do(t, http.MethodPost, "/api/v1/evidence/records", evidenceRequest{Records: records})
	require.Equal(t, http.StatusCreated, w.Code)

	var saved struct {
		Saved    int                 `json:"saved"`
		Rejected []domain.Diagnostic `json:"rejected"`
	}
	decode(t, w, &saved)
	assert.Equal(t, 2, saved.Saved)
	require.Len(t, saved.Rejected, 1)
	assert.Equal(t, "no-pair", saved.Rejected[0].Subject)

	w = f.do(t, http.MethodPost, "/api/v1/snapshot/rebuild", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/interactions?drug_a=Amiodarone&drug_b=Warfarin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ni domain.NormalizedInteraction
	decode(t, w, &ni)
	assert.Equal(t, domain.MAJOR, ni.Severity)

	w = f.do(t, http.MethodGet, "/api/v1/interactions?drug_a=aspirin&drug_b=warfarin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/interactions?drug_a=aspirin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAlternatives(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/alternatives", alternativesRequest{
		Drugs: []domain.DrugIdentity{{Name: "Clopidogrel"}, {Name: "Omeprazole 20mg"}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Alternatives []domain.AlternativeSuggestion `json:"alternatives"`
		Diagnostics  []domain.Diagnostic            `json:"diagnostics"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Alternatives, 1)
	assert.Equal(t, "pantoprazole", resp.Alternatives[0].Alternative.Name)
	assert.Empty(t, resp.Diagnostics)
}

func TestPhenotypes(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/phenotypes", phenotypesRequest{
		Observations: []domain.GenomicObservation{{
			Code:        domain.CodeableConcept{Text: "CYP2C19 genotype"},
			ValueString: "Result: *2/*2",
		}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Phenotypes []domain.PhenotypeObservation `json:"phenotypes"`
	}
	decode(t, w, &resp)
	assert.Equal(t, []domain.PhenotypeObservation{{Gene: "CYP2C19", Phenotype: rules.PoorMetabolizer}}, resp.Phenotypes)
}

func TestMME(t *testing.T) {
	f := newFixture(t)

	dose, perDay := 10.0, 4.0
	w := f.do(t, http.MethodPost, "/api/v1/mme", mmeRequest{
		Opioids: []domain.OpioidDose{{Name: "oxycodone", DoseMgPerDose: &dose, DosesPerDay: &perDay}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result domain.MMEResult
	decode(t, w, &result)
	assert.Equal(t, 60.0, result.TotalMME)
	assert.True(t, result.Thresholds.CautionAt50)
	assert.False(t, result.Thresholds.AvoidAbove90)
}

func TestReports(t *testing.T) {
	f := newFixture(t)

	for _, r := range sampleEvidence() {
		require.NoError(t, f.store.Save(context.Background(), evidence.NewRecord(r)))
	}
	_, err := f.snapshots.Rebuild(context.Background())
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/api/v1/reports", domain.SafetyRequest{
		PatientRef: "patient-7",
		Drugs:      []domain.DrugIdentity{{Name: "warfarin"}, {Name: "amiodarone"}},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var report domain.SafetyReport
	decode(t, w, &report)
	require.Len(t, report.Interactions, 1)
	assert.Equal(t, "amiodarone::warfarin", report.Interactions[0].Key)
	require.Len(t, report.Alternatives, 1)
	assert.Equal(t, "apixaban", report.Alternatives[0].Alternative.Name)
	assert.NotNil(t, report.SnapshotAt)

	w = f.do(t, http.MethodGet, "/api/v1/reports/"+report.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var fetched domain.SafetyReport
	decode(t, w, &fetched)
	assert.Equal(t, report.ID, fetched.ID)

	w = f.do(t, http.MethodGet, "/api/v1/reports/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReports_EmptyRequest(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/reports", domain.SafetyRequest{PatientRef: "p"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var serr domain.SafetyError
	decode(t, w, &serr)
	assert.Equal(t, domain.ErrValidation, serr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodGet, "/health", nil)
	w := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_http_requests_total")
}

func TestOptionalDependenciesAbsent(t *testing.T) {
	logger, _ := test.NewNullLogger()
	provider := rules.NewStaticProvider(rules.MustDefault())
	server := NewServer(domain.ServerConfig{}, Dependencies{
		Normalizer: service.NewEvidenceNormalizer(logger),
		Matcher:    service.NewInteractionMatcher(provider, logger),
		Deriver:    service.NewPhenotypeDeriver(provider, logger),
		Calculator: service.NewDoseCalculator(provider, logger),
		Logger:     logger,
	})
	f := &fixture{server: server}

	w := f.do(t, http.MethodPost, "/api/v1/evidence/records", evidenceRequest{Records: sampleEvidence()})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/snapshot/rebuild", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLookup_FallsBackToSharedCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	shared := cache.NewInteractionCacheFromClient(client, time.Hour)

	require.NoError(t, shared.Publish(context.Background(), []domain.NormalizedInteraction{{
		Key:      "amiodarone::warfarin",
		DrugA:    domain.DrugIdentity{Name: "amiodarone"},
		DrugB:    domain.DrugIdentity{Name: "warfarin"},
		Severity: domain.MAJOR,
	}}, time.Hour))

	f := newFixture(t)
	f.server.deps.Cache = shared

	w := f.do(t, http.MethodGet, "/api/v1/interactions?drug_a=warfarin&drug_b=amiodarone", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ni domain.NormalizedInteraction
	decode(t, w, &ni)
	assert.Equal(t, domain.MAJOR, ni.Severity)

	w = f.do(t, http.MethodGet, "/api/v1/interactions?drug_a=aspirin&drug_b=warfarin", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEvidenceRecords_ListGetDelete(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/evidence/records", evidenceRequest{Records: sampleEvidence()})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/evidence/records?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Records []evidence.Record `json:"records"`
		Total   int64             `json:"total"`
		Limit   int               `json:"limit"`
	}
	decode(t, w, &page)
	assert.Len(t, page.Records, 1)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, 1, page.Limit)

	w = f.do(t, http.MethodGet, "/api/v1/evidence/records?source_type=regulatory-label&source_id=label-1&drug_a=amiodarone&drug_b=warfarin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec evidence.Record
	decode(t, w, &rec)
	assert.Equal(t, "amiodarone::warfarin", rec.CanonicalKey)
	require.NotZero(t, rec.ID)

	w = f.do(t, http.MethodGet, "/api/v1/evidence/records?source_type=trial&source_id=label-1&drug_a=amiodarone&drug_b=warfarin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/evidence/records?source_id=label-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/evidence/records?offset=-3", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	path := "/api/v1/evidence/records/" + strconv.FormatInt(rec.ID, 10)
	w = f.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodDelete, "/api/v1/evidence/records/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	count, err := f.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestEvidenceExportImport(t *testing.T) {
	source := newFixture(t)
	w := source.do(t, http.MethodPost, "/api/v1/evidence/records", evidenceRequest{Records: sampleEvidence()})
	require.Equal(t, http.StatusCreated, w.Code)

	w = source.do(t, http.MethodGet, "/api/v1/evidence/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "evidence-export.json")
	var export evidence.Export
	decode(t, w, &export)
	assert.Equal(t, 2, export.Count)
	exported := w.Body.Bytes()

	target := newFixture(t)
	importBody := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/evidence/import", bytes.NewReader(exported))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		target.server.Handler().ServeHTTP(rec, req)
		return rec
	}

	var result struct {
		Imported int `json:"imported"`
		Skipped  int `json:"skipped"`
	}
	w = importBody()
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &result)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 0, result.Skipped)

	w = importBody()
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &result)
	assert.Equal(t, 0, result.Imported)
	assert.Equal(t, 2, result.Skipped)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/evidence/import", strings.NewReader("{not json"))
	bad := httptest.NewRecorder()
	target.server.Handler().ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

type memoryReports struct {
	saved []*domain.SafetyReport
}

func (m *memoryReports) Save(_ context.Context, report *domain.SafetyReport) error {
	m.saved = append(m.saved, report)
	return nil
}

func (m *memoryReports) GetByID(_ context.Context, id string) (*domain.SafetyReport, error) {
	for _, r := range m.saved {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memoryReports) ListByPatient(_ context.Context, patientRef string, limit int) ([]*domain.SafetyReport, error) {
	var out []*domain.SafetyReport
	for i := len(m.saved) - 1; i >= 0; i-- {
		if m.saved[i].PatientRef == patientRef {
			out = append(out, m.saved[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func TestListReportsByPatient(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/reports?patient_ref=p-1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "persistence disabled")

	repo := &memoryReports{}
	f.server.deps.Reports = repo

	dose, perDay := 10.0, 4.0
	for _, ref := range []string{"p-1", "p-2", "p-1"} {
		w = f.do(t, http.MethodPost, "/api/v1/reports", domain.SafetyRequest{
			PatientRef: ref,
			Opioids:    []domain.OpioidDose{{Name: "oxycodone", DoseMgPerDose: &dose, DosesPerDay: &perDay}},
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	require.Len(t, repo.saved, 3)

	w = f.do(t, http.MethodGet, "/api/v1/reports?patient_ref=p-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		PatientRef string                `json:"patient_ref"`
		Reports    []domain.SafetyReport `json:"reports"`
	}
	decode(t, w, &body)
	assert.Equal(t, "p-1", body.PatientRef)
	require.Len(t, body.Reports, 2)
	assert.Equal(t, repo.saved[2].ID, body.Reports[0].ID)

	w = f.do(t, http.MethodGet, "/api/v1/reports?patient_ref=p-1&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	assert.Len(t, body.Reports, 1)

	w = f.do(t, http.MethodGet, "/api/v1/reports?patient_ref=nobody", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reports":[]`)

	w = f.do(t, http.MethodGet, "/api/v1/reports", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
