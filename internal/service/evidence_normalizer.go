package service

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rx-safety-engine/internal/domain"
)

// Quality score components. The total is a ranking heuristic, not a probability.
var (
	sourceTypeScores = map[domain.SourceType]int{
		domain.REGULATORY_LABEL: 40,
		domain.TRIAL:            30,
		domain.PUBLICATION:      25,
	}

	evidenceLevelScores = map[domain.EvidenceLevel]int{
		domain.HIGH:   30,
		domain.MEDIUM: 20,
		domain.LOW:    10,
	}

	studyTypeScores = map[string]int{
		"rct":                         20,
		"randomized-controlled-trial": 20,
		"randomised-controlled-trial": 20,
		"randomized-trial":            20,
		"dedicated-ddi-study":         15,
		"dedicated-ddi":               15,
		"ddi-study":                   15,
		"pharmacokinetic-ddi-study":   15,
		"observational":               10,
		"observational-study":         10,
		"cohort":                      10,
		"case-control":                10,
		"case-report":                 5,
		"case-series":                 5,
	}
)

const unknownSourceScore = 10

// EvidenceNormalizerService collapses raw interaction evidence into one
// normalized judgment per canonical drug pair. It holds no state between calls.
type EvidenceNormalizerService struct {
	logger *logrus.Logger
}

// NewEvidenceNormalizer creates a new evidence normalizer
func NewEvidenceNormalizer(logger *logrus.Logger) *EvidenceNormalizerService {
	if logger == nil {
		logger = logrus.New()
	}
	return &EvidenceNormalizerService{logger: logger}
}

// CanonicalKey returns the order-independent key of the record's drug pair.
func (n *EvidenceNormalizerService) CanonicalKey(record domain.InteractionEvidenceRecord) string {
	return record.Key()
}

// QualityScore grades a record 0..100 from its source type, evidence level,
// study type and severity.
func (n *EvidenceNormalizerService) QualityScore(record domain.InteractionEvidenceRecord) int {
	score, ok := sourceTypeScores[domain.SourceType(normalizeToken(string(record.SourceType)))]
	if !ok {
		score = unknownSourceScore
	}

	score += evidenceLevelScores[domain.EvidenceLevel(normalizeToken(string(record.EvidenceLevel)))]
	score += studyTypeScores[normalizeToken(record.StudyType)]

	switch n.StandardizeSeverity(string(record.Severity)) {
	case domain.MAJOR:
		score += 10
	case domain.MODERATE:
		score += 5
	}

	return score
}

// StandardizeSeverity maps free-text severity onto major, moderate, minor or unknown.
func (n *EvidenceNormalizerService) StandardizeSeverity(raw string) domain.Severity {
	switch normalizeToken(raw) {
	case "contraindicated", "high", "severe", "major":
		return domain.MAJOR
	case "moderate", "medium":
		return domain.MODERATE
	case "minor", "low", "mild":
		return domain.MINOR
	default:
		return domain.UNKNOWN
	}
}

// ConflictsWith reports whether two records describe the same pair with
// opposite extreme severities. Moderate never conflicts.
func (n *EvidenceNormalizerService) ConflictsWith(a, b domain.InteractionEvidenceRecord) bool {
	if a.IsMalformed() || b.IsMalformed() || a.Key() != b.Key() {
		return false
	}

	sa := n.StandardizeSeverity(string(a.Severity))
	sb := n.StandardizeSeverity(string(b.Severity))
	return (sa == domain.MAJOR && sb == domain.MINOR) || (sa == domain.MINOR && sb == domain.MAJOR)
}

// Aggregate groups records by canonical key and folds each group into one
// NormalizedInteraction. Records without a usable identity on both sides are
// skipped with a diagnostic. The input slice is not modified.
func (n *EvidenceNormalizerService) Aggregate(records []domain.InteractionEvidenceRecord) *domain.NormalizationResult {
	result := &domain.NormalizationResult{
		Interactions: make(map[string]*domain.NormalizedInteraction),
		Keys:         make([]string, 0),
	}

	groups := make(map[string][]domain.InteractionEvidenceRecord)
	for i, record := range records {
		if record.IsMalformed() {
			result.Skipped = append(result.Skipped, domain.Diagnostic{
				Component: domain.ComponentEvidenceNormalizer,
				Index:     i,
				Subject:   record.SourceID,
				Reason:    "record is missing a drug identity and cannot be keyed",
			})
			continue
		}

		key := record.Key()
		if _, seen := groups[key]; !seen {
			result.Keys = append(result.Keys, key)
		}
		groups[key] = append(groups[key], record)
	}

	for _, key := range result.Keys {
		result.Interactions[key] = n.fold(key, groups[key])
	}

	n.logger.WithFields(logrus.Fields{
		"records":      len(records),
		"interactions": len(result.Keys),
		"skipped":      len(result.Skipped),
	}).Debug("Aggregated interaction evidence")

	return result
}

// fold reduces one key group. The surfaced severity comes from the
// highest-scoring record; ties go to the more severe record, then to the
// earlier one.
func (n *EvidenceNormalizerService) fold(key string, group []domain.InteractionEvidenceRecord) *domain.NormalizedInteraction {
	best := 0
	bestScore := n.QualityScore(group[0])
	bestRank := n.StandardizeSeverity(string(group[0].Severity)).Rank()

	hasMajor, hasMinor := false, false
	for i, record := range group {
		severity := n.StandardizeSeverity(string(record.Severity))
		switch severity {
		case domain.MAJOR:
			hasMajor = true
		case domain.MINOR:
			hasMinor = true
		}

		if i == 0 {
			continue
		}
		score := n.QualityScore(record)
		if score > bestScore || (score == bestScore && severity.Rank() > bestRank) {
			best, bestScore, bestRank = i, score, severity.Rank()
		}
	}

	winner := group[best]
	drugA, drugB := winner.DrugA, winner.DrugB
	if drugA.Identity() > drugB.Identity() {
		drugA, drugB = drugB, drugA
	}

	return &domain.NormalizedInteraction{
		Key:          key,
		DrugA:        drugA,
		DrugB:        drugB,
		Severity:     n.StandardizeSeverity(string(winner.Severity)),
		QualityScore: bestScore,
		Mechanism:    winner.Mechanism,
		Records:      append([]domain.InteractionEvidenceRecord(nil), group...),
		Conflicted:   hasMajor && hasMinor,
	}
}

// normalizeToken lower-cases a free-text enum value and folds spaces and
// underscores to hyphens.
func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "-", " ", "-").Replace(s)
}
