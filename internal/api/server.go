// Package api exposes the safety engine over HTTP with gin.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/rx-safety-engine/internal/domain"
	"github.com/rx-safety-engine/internal/evidence"
	"github.com/rx-safety-engine/internal/metrics"
	"github.com/rx-safety-engine/internal/middleware"
	"github.com/rx-safety-engine/internal/service"
	"github.com/rx-safety-engine/internal/snapshot"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

const defaultPageSize = 50

// InteractionCache reads interactions published by another replica.
type InteractionCache interface {
	Get(ctx context.Context, key string) (*domain.NormalizedInteraction, bool, error)
}

// Dependencies are the components served over HTTP. Evidence, Snapshots,
// Reports and Registry are optional; their routes answer 503 when absent.
// Cache, when set, answers interaction lookups until the local snapshot is built.
type Dependencies struct {
	Normalizer domain.EvidenceNormalizer
	Matcher    domain.InteractionMatcher
	Deriver    domain.PhenotypeDeriver
	Calculator domain.DoseCalculator
	Safety     *service.SafetyService
	Evidence   evidence.Store
	Snapshots  *snapshot.Builder
	Reports    domain.ReportRepository
	Cache      InteractionCache
	Metrics    *metrics.EngineMetrics
	Registry   *prometheus.Registry
	Logger     *logrus.Logger
}

// Server represents the HTTP server
type Server struct {
	config domain.ServerConfig
	deps   Dependencies
	router *gin.Engine
	server *http.Server
	log    *logrus.Logger
}

// NewServer creates a new HTTP server instance
func NewServer(config domain.ServerConfig, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestLogger(deps.Logger, deps.Metrics))

	s := &Server{
		config: config,
		deps:   deps,
		router: router,
		log:    deps.Logger,
	}
	s.setupRoutes()

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.log.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.deps.Registry != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{})))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/evidence/normalize", s.handleNormalize)
		v1.POST("/evidence/records", s.handleSaveEvidence)
		v1.GET("/evidence/records", s.handleListEvidence)
		v1.DELETE("/evidence/records/:id", s.handleDeleteEvidence)
		v1.GET("/evidence/export", s.handleExportEvidence)
		v1.POST("/evidence/import", s.handleImportEvidence)
		v1.POST("/snapshot/rebuild", s.handleRebuild)
		v1.GET("/interactions", s.handleLookup)
		v1.POST("/alternatives", s.handleAlternatives)
		v1.POST("/phenotypes", s.handlePhenotypes)
		v1.POST("/mme", s.handleMME)
		v1.POST("/reports", s.handleCreateReport)
		v1.GET("/reports", s.handleListReports)
		v1.GET("/reports/:id", s.handleGetReport)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   Version,
	}
	if s.deps.Snapshots != nil {
		if builtAt, ok := s.deps.Snapshots.BuiltAt(); ok {
			body["snapshot_built_at"] = builtAt
		} else {
			body["snapshot_built_at"] = nil
		}
	}
	c.JSON(http.StatusOK, body)
}

type evidenceRequest struct {
	Records []domain.InteractionEvidenceRecord `json:"records" binding:"required"`
}

type normalizeResponse struct {
	Interactions []domain.NormalizedInteraction `json:"interactions"`
	Skipped      []domain.Diagnostic            `json:"skipped"`
}

func (s *Server) handleNormalize(c *gin.Context) {
	var req evidenceRequest
	if !s.bind(c, &req) {
		return
	}

	result := s.deps.Normalizer.Aggregate(req.Records)
	s.deps.Metrics.RecordDiagnostics(domain.ComponentEvidenceNormalizer, len(result.Skipped))

	c.JSON(http.StatusOK, normalizeResponse{
		Interactions: result.List(),
		Skipped:      nonNilDiagnostics(result.Skipped),
	})
}

func (s *Server) handleSaveEvidence(c *gin.Context) {
	if s.deps.Evidence == nil {
		s.respondError(c, http.StatusServiceUnavailable, domain.ErrStorage, "evidence store not configured", "")
		return
	}

	var req evidenceRequest
	if !s.bind(c, &req) {
		return
	}

	saved := 0
	rejected := make([]domain.Diagnostic, 0)
	for i, record := range req.Records {
		err := s.deps.Evidence.Save(c.Request.Context(), evidence.NewRecord(record))
		var verr *domain.ValidationError
		switch {
		case err == nil:
			saved++
		case errors.As(err, &verr):
			rejected = append(rejected, domain.Diagnostic{
				Component: domain.ComponentEvidenceNormalizer,
				Index:     i,
				Subject:   record.SourceID,
				Reason:    verr.Message,
			})
		default:
			s.respondError(c, http.StatusInternalServerError, domain.ErrStorage, "failed to save evidence", err.Error())
			return
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"saved":    saved,
		"rejected": rejected,
	})
}

// handleListEvidence pages through stored records, newest first. With
// source_type and source_id it returns the single record for that natural key.
func (s *Server) handleListEvidence(c *gin.Context) {
	if !s.requireEvidence(c) {
		return
	}
	ctx := c.Request.Context()

	if sourceID := c.Query("source_id"); sourceID != "" {
		a := domain.DrugIdentity{Name: c.Query("drug_a"), RxCUI: c.Query("rxcui_a")}
		b := domain.DrugIdentity{Name: c.Query("drug_b"), RxCUI: c.Query("rxcui_b")}
		if a.IsEmpty() || b.IsEmpty() {
			s.respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "drug_a and drug_b are required with source_id", "")
			return
		}
		record, err := s.deps.Evidence.Get(ctx, domain.SourceType(c.Query("source_type")), sourceID, domain.CanonicalKey(a, b))
		switch {
		case err != nil:
			s.respondError(c, http.StatusInternalServerError, domain.ErrStorage, "failed to load evidence", err.Error())
		case record == nil:
			s.respondError(c, http.StatusNotFound, domain.ErrNotFoundCode, "evidence record not found", sourceID)
		default:
			c.JSON(http.StatusOK, record)
		}
		return
	}

	limit, ok := s.queryInt(c, "limit", defaultPageSize)
	if !ok {
		return
	}
	if limit == 0 {
		limit = defaultPageSize
	}
	offset, ok := s.queryInt(c, "offset", 0)
	if !ok {
		return
	}

	records, err := s.deps.Evidence.List(ctx, limit, offset)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, domain.ErrStorage, "failed to list evidence", err.Error())
		return
	}
	total, err := s.deps.Evidence.Count(ctx)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, domain.ErrStorage, "failed to count evidence", err.Error())
		return
	}
	if records == nil {
		records = make([]*evidence.Record, 0)
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

func (s *Server) handleDeleteEvidence(c *gin.Context) {
	if !s.requireEvidence(c) {
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "record id must be a positive integer", c.Param("id"))
		return
	}

	err = s.deps.Evidence.Delete(c.Request.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.respondError(c, http.StatusNotFound, domain.ErrNotFoundCode, "evidence record not found", c.Param("id"))
	case err != nil:
		s.respondError(c, http.StatusInternalServerError, domain.ErrStorage, "failed to delete evidence", err.Error())
	default:
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleExportEvidence(c *gin.Context) {
	if !s.requireEvidence(c) {
		return
	}

	var buf bytes.Buffer
	if err := s.deps.Evidence.ExportJSON(c.Request.Context(), &buf); err != nil {
		s.respondError(c, http.StatusInternalServerError, domain.ErrStorage, "failed to export evidence", err.Error())
		return
	}

	c.Header("Content-Disposition", `attachment; filename="evidence-export.json"`)
	c.Data(http.StatusOK, "application/json", buf.Bytes())
}

func (s *Server) handleImportEvidence(c *gin.Context) {
	if !s.requireEvidence(c) {
		return
	}

	imported, skipped, err := s.deps.Evidence.ImportJSON(c.Request.Context(), c.Request.Body)
	if err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "failed to import evidence", err.Error())
		return
	}

	s.log.WithFields(logrus.Fields{
		"imported": imported,
		"skipped":  skipped,
	}).Info("Evidence imported")

	c.JSON(http.StatusOK, gin.H{
		"imported": imported,
		"skipped":  skipped,
	})
}

func (s *Server) requireEvidence(c *gin.Context) bool {
	if s.deps.Evidence == nil {
		s.respondError(c, http.StatusServiceUnavailable, domain.ErrStorage, "evidence store not configured", "")
		return false
	}
	return true
}

func (s *Server) handleRebuild(c *gin.Context) {
	if s.deps.Snapshots == nil {
		s.respondError(c, http.StatusServiceUnavailable, domain.ErrSnapshotUnavailable, "interaction snapshot not configured", "")
		return
	}

	snap, err := s.deps.Snapshots.Rebuild(c.Request.Context())
	if err != nil {
		s.respondError(c, http.StatusServiceUnavailable, domain.ErrSnapshotUnavailable, "snapshot rebuild failed", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"built_at":     snap.BuiltAt,
		"records":      snap.RecordCount,
		"interactions": len(snap.Index.Keys),
		"skipped":      nonNilDiagnostics(snap.Skipped),
	})
}

func (s *Server) handleLookup(c *gin.Context) {
	if s.deps.Snapshots == nil {
		s.respondError(c, http.StatusServiceUnavailable, domain.ErrSnapshotUnavailable, "interaction snapshot not configured", "")
		return
	}

	a := domain.DrugIdentity{Name: c.Query("drug_a"), RxCUI: c.Query("rxcui_a")}
	b := domain.DrugIdentity{Name: c.Query("drug_b"), RxCUI: c.Query("rxcui_b")}
	if a.IsEmpty() || b.IsEmpty() {
		s.respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "drug_a and drug_b are required", "")
		return
	}

	ni, err := s.deps.Snapshots.Lookup(a, b)
	if errors.Is(err, domain.ErrSnapshotNotReady) && s.deps.Cache != nil {
		ni, err = s.cachedLookup(c.Request.Context(), a, b)
	}
	switch {
	case errors.Is(err, domain.ErrSnapshotNotReady):
		s.respondError(c, http.StatusServiceUnavailable, domain.ErrSnapshotUnavailable, err.Error(), "")
	case errors.Is(err, domain.ErrNotFound):
		s.respondError(c, http.StatusNotFound, domain.ErrNotFoundCode, "no interaction recorded for this pair", "")
	case err != nil:
		s.respondError(c, http.StatusInternalServerError, domain.ErrInternalServer, "interaction lookup failed", err.Error())
	default:
		c.JSON(http.StatusOK, ni)
	}
}

// cachedLookup consults the shared cache by exact canonical key.
func (s *Server) cachedLookup(ctx context.Context, a, b domain.DrugIdentity) (*domain.NormalizedInteraction, error) {
	ni, ok, err := s.deps.Cache.Get(ctx, domain.CanonicalKey(a, b))
	switch {
	case err != nil:
		s.deps.Metrics.RecordCache("interactions", "error")
		s.log.WithError(err).Warn("Interaction cache lookup failed")
		return nil, domain.ErrSnapshotNotReady
	case !ok:
		s.deps.Metrics.RecordCache("interactions", "miss")
		return nil, domain.ErrSnapshotNotReady
	}
	s.deps.Metrics.RecordCache("interactions", "hit")
	return ni, nil
}

type alternativesRequest struct {
	Drugs []domain.DrugIdentity `json:"drugs"`
}

func (s *Server) handleAlternatives(c *gin.Context) {
	var req alternativesRequest
	if !s.bind(c, &req) {
		return
	}

	suggestions, diagnostics := s.deps.Matcher.Match(req.Drugs)
	s.deps.Metrics.RecordSuggestions(len(suggestions))

	c.JSON(http.StatusOK, gin.H{
		"alternatives": suggestions,
		"diagnostics":  nonNilDiagnostics(diagnostics),
	})
}

type phenotypesRequest struct {
	Observations []domain.GenomicObservation `json:"observations"`
}

func (s *Server) handlePhenotypes(c *gin.Context) {
	var req phenotypesRequest
	if !s.bind(c, &req) {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"phenotypes": s.deps.Deriver.Derive(req.Observations),
	})
}

type mmeRequest struct {
	Opioids []domain.OpioidDose `json:"opioids"`
}

func (s *Server) handleMME(c *gin.Context) {
	var req mmeRequest
	if !s.bind(c, &req) {
		return
	}

	result := s.deps.Calculator.Calculate(req.Opioids)
	s.deps.Metrics.ObserveMME(result.TotalMME)

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleCreateReport(c *gin.Context) {
	var req domain.SafetyRequest
	if !s.bind(c, &req) {
		return
	}

	report, err := s.deps.Safety.Evaluate(c.Request.Context(), req)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			s.respondError(c, http.StatusBadRequest, domain.ErrValidation, verr.Message, verr.Field)
			return
		}
		s.respondError(c, http.StatusInternalServerError, domain.ErrInternalServer, "safety evaluation failed", err.Error())
		return
	}

	if s.deps.Reports != nil {
		if err := s.deps.Reports.Save(c.Request.Context(), report); err != nil {
			s.respondError(c, http.StatusInternalServerError, domain.ErrStorage, "failed to persist report", err.Error())
			return
		}
	}

	c.JSON(http.StatusCreated, report)
}

// handleListReports returns a patient's persisted reports, newest first.
func (s *Server) handleListReports(c *gin.Context) {
	if s.deps.Reports == nil {
		s.respondError(c, http.StatusServiceUnavailable, domain.ErrStorage, "report persistence not configured", "")
		return
	}

	patientRef := c.Query("patient_ref")
	if patientRef == "" {
		s.respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "patient_ref is required", "")
		return
	}
	limit, ok := s.queryInt(c, "limit", 0)
	if !ok {
		return
	}

	reports, err := s.deps.Reports.ListByPatient(c.Request.Context(), patientRef, limit)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, domain.ErrStorage, "failed to list reports", err.Error())
		return
	}
	if reports == nil {
		reports = make([]*domain.SafetyReport, 0)
	}

	c.JSON(http.StatusOK, gin.H{
		"patient_ref": patientRef,
		"reports":     reports,
	})
}

func (s *Server) handleGetReport(c *gin.Context) {
	id := c.Param("id")

	if report, ok := s.deps.Safety.Report(id); ok {
		c.JSON(http.StatusOK, report)
		return
	}

	if s.deps.Reports != nil {
		report, err := s.deps.Reports.GetByID(c.Request.Context(), id)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, report)
			return
		case !errors.Is(err, domain.ErrNotFound):
			s.respondError(c, http.StatusInternalServerError, domain.ErrStorage, "failed to load report", err.Error())
			return
		}
	}

	s.respondError(c, http.StatusNotFound, domain.ErrNotFoundCode, "report not found", id)
}

func (s *Server) bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "invalid request body", err.Error())
		return false
	}
	return true
}

// queryInt reads a non-negative integer query parameter, answering 400 when
// it is malformed.
func (s *Server) queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		s.respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, name+" must be a non-negative integer", raw)
		return 0, false
	}
	return v, true
}

func (s *Server) respondError(c *gin.Context, status int, code, message, details string) {
	c.AbortWithStatusJSON(status, domain.NewSafetyError(code, message, details, c.GetString(middleware.RequestIDKey)))
}

func nonNilDiagnostics(in []domain.Diagnostic) []domain.Diagnostic {
	if in == nil {
		return make([]domain.Diagnostic, 0)
	}
	return in
}
