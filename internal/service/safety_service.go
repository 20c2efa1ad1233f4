package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rx-safety-engine/internal/cache"
	"github.com/rx-safety-engine/internal/domain"
	"github.com/rx-safety-engine/internal/metrics"
)

// InteractionIndex answers pair queries against the current evidence snapshot.
type InteractionIndex interface {
	domain.InteractionLookup
	BuiltAt() (time.Time, bool)
}

// SafetyService runs the four rule components over one patient intake and
// merges their outputs into a SafetyReport. It never persists anything.
type SafetyService struct {
	matcher    domain.InteractionMatcher
	deriver    domain.PhenotypeDeriver
	calculator domain.DoseCalculator
	index      InteractionIndex
	reports    *cache.MemoryCache[*domain.SafetyReport]
	metrics    *metrics.EngineMetrics
	logger     *logrus.Logger
}

// NewSafetyService creates a new safety orchestrator. index may be nil, in
// which case reports carry no interaction findings.
func NewSafetyService(
	matcher domain.InteractionMatcher,
	deriver domain.PhenotypeDeriver,
	calculator domain.DoseCalculator,
	index InteractionIndex,
	logger *logrus.Logger,
) *SafetyService {
	if logger == nil {
		logger = logrus.New()
	}
	return &SafetyService{
		matcher:    matcher,
		deriver:    deriver,
		calculator: calculator,
		index:      index,
		logger:     logger,
	}
}

// SetReportCache keeps generated reports retrievable by ID for a while.
func (s *SafetyService) SetReportCache(c *cache.MemoryCache[*domain.SafetyReport]) {
	s.reports = c
}

// SetMetrics attaches evaluation metrics.
func (s *SafetyService) SetMetrics(m *metrics.EngineMetrics) {
	s.metrics = m
}

// Evaluate produces the safety report for req.
func (s *SafetyService) Evaluate(ctx context.Context, req domain.SafetyRequest) (*domain.SafetyReport, error) {
	if err := validateRequest(req); err != nil {
		s.metrics.RecordEvaluation("invalid")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		phenotypes   []domain.PhenotypeObservation
		mme          *domain.MMEResult
		alternatives []domain.AlternativeSuggestion
		matchDiags   []domain.Diagnostic
		g            errgroup.Group
	)

	g.Go(func() error {
		start := time.Now()
		phenotypes = s.deriver.Derive(req.Observations)
		s.metrics.ObserveComponent(domain.ComponentPhenotypeDeriver, time.Since(start))
		return nil
	})
	g.Go(func() error {
		if len(req.Opioids) == 0 {
			return nil
		}
		start := time.Now()
		mme = s.calculator.Calculate(req.Opioids)
		s.metrics.ObserveComponent(domain.ComponentDoseCalculator, time.Since(start))
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		alternatives, matchDiags = s.matcher.Match(req.Drugs)
		s.metrics.ObserveComponent(domain.ComponentInteractionMatcher, time.Since(start))
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	findings, findingDiags := s.findInteractions(req.Drugs)

	report := &domain.SafetyReport{
		ID:           uuid.NewString(),
		PatientRef:   req.PatientRef,
		Interactions: findings,
		Alternatives: nonNilSuggestions(alternatives),
		Phenotypes:   nonNilPhenotypes(phenotypes),
		MME:          mme,
		GeneratedAt:  time.Now().UTC(),
	}
	if s.index != nil {
		if builtAt, ok := s.index.BuiltAt(); ok {
			report.SnapshotAt = &builtAt
		}
	}

	doseDiags := excludedDoses(mme)
	report.Diagnostics = append(report.Diagnostics, matchDiags...)
	report.Diagnostics = append(report.Diagnostics, doseDiags...)
	report.Diagnostics = append(report.Diagnostics, findingDiags...)

	s.metrics.RecordEvaluation("success")
	s.metrics.RecordSuggestions(len(report.Alternatives))
	s.metrics.RecordDiagnostics(domain.ComponentInteractionMatcher, len(matchDiags))
	s.metrics.RecordDiagnostics(domain.ComponentDoseCalculator, len(doseDiags))
	s.metrics.RecordDiagnostics(domain.ComponentSafetyOrchestrator, len(findingDiags))
	if mme != nil {
		s.metrics.ObserveMME(mme.TotalMME)
	}

	if s.reports != nil {
		s.reports.Set(report.ID, report)
	}

	s.logger.WithFields(logrus.Fields{
		"report_id":    report.ID,
		"drugs":        len(req.Drugs),
		"observations": len(req.Observations),
		"opioids":      len(req.Opioids),
		"interactions": len(report.Interactions),
		"alternatives": len(report.Alternatives),
		"phenotypes":   len(report.Phenotypes),
		"diagnostics":  len(report.Diagnostics),
	}).Info("Safety evaluation completed")

	return report, nil
}

// Report returns a recently generated report from the in-memory cache.
func (s *SafetyService) Report(id string) (*domain.SafetyReport, bool) {
	if s.reports == nil {
		return nil, false
	}
	report, ok := s.reports.Get(id)
	if ok {
		s.metrics.RecordCache("reports", "hit")
	} else {
		s.metrics.RecordCache("reports", "miss")
	}
	return report, ok
}

// findInteractions attaches the snapshot's judgment for every drug pair,
// ordered by severity rank (most severe first) then pair order. Two patient
// drugs resolving to the same interaction are reported once.
func (s *SafetyService) findInteractions(drugs []domain.DrugIdentity) ([]domain.InteractionFinding, []domain.Diagnostic) {
	findings := make([]domain.InteractionFinding, 0)
	if s.index == nil || len(drugs) < 2 {
		return findings, nil
	}

	var diagnostics []domain.Diagnostic
	seen := make(map[string]bool)

pairs:
	for i := 0; i < len(drugs); i++ {
		for j := i + 1; j < len(drugs); j++ {
			ni, err := s.index.Lookup(drugs[i], drugs[j])
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrNotFound):
				continue
			case errors.Is(err, domain.ErrSnapshotNotReady):
				diagnostics = append(diagnostics, domain.Diagnostic{
					Component: domain.ComponentSafetyOrchestrator,
					Index:     -1,
					Reason:    "interaction snapshot not built yet; interaction findings omitted",
				})
				break pairs
			default:
				diagnostics = append(diagnostics, domain.Diagnostic{
					Component: domain.ComponentSafetyOrchestrator,
					Index:     i,
					Subject:   drugs[i].Name + " + " + drugs[j].Name,
					Reason:    "interaction lookup failed: " + err.Error(),
				})
				continue
			}

			if seen[ni.Key] {
				continue
			}
			seen[ni.Key] = true
			findings = append(findings, domain.InteractionFinding{
				DrugA:        drugs[i],
				DrugB:        drugs[j],
				Key:          ni.Key,
				Severity:     ni.Severity,
				QualityScore: ni.QualityScore,
				Conflicted:   ni.Conflicted,
				SourceCount:  len(ni.Records),
			})
		}
	}

	sort.SliceStable(findings, func(a, b int) bool {
		return findings[a].Severity.Rank() > findings[b].Severity.Rank()
	})
	return findings, diagnostics
}

func validateRequest(req domain.SafetyRequest) error {
	if len(req.Drugs) == 0 && len(req.Observations) == 0 && len(req.Opioids) == 0 {
		return domain.NewValidationError("request", "at least one of drugs, observations or opioids is required", nil)
	}
	return nil
}

func excludedDoses(mme *domain.MMEResult) []domain.Diagnostic {
	if mme == nil {
		return nil
	}
	var diagnostics []domain.Diagnostic
	for i, item := range mme.Details {
		if item.Included {
			continue
		}
		diagnostics = append(diagnostics, domain.Diagnostic{
			Component: domain.ComponentDoseCalculator,
			Index:     i,
			Subject:   item.Name,
			Reason:    item.Note,
		})
	}
	return diagnostics
}

func nonNilSuggestions(in []domain.AlternativeSuggestion) []domain.AlternativeSuggestion {
	if in == nil {
		return make([]domain.AlternativeSuggestion, 0)
	}
	return in
}

func nonNilPhenotypes(in []domain.PhenotypeObservation) []domain.PhenotypeObservation {
	if in == nil {
		return make([]domain.PhenotypeObservation, 0)
	}
	return in
}
