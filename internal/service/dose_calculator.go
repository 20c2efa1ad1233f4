package service

import (
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rx-safety-engine/internal/domain"
)

const (
	// TransdermalFactor converts a fentanyl patch rate in mcg/hr to daily MME.
	TransdermalFactor = 2.4

	CautionThresholdMME = 50.0
	AvoidThresholdMME   = 90.0

	CautionNote = "Total daily MME is 50 or more: reassess benefit and risk, consider offering naloxone."
	AvoidNote   = "Total daily MME is 90 or more: avoid, or document a careful justification for this dose."
)

// MethadoneTierFactor returns the conversion factor for a methadone total
// daily dose. Each boundary belongs to the lower tier.
func MethadoneTierFactor(totalDailyMg float64) float64 {
	switch {
	case totalDailyMg <= 20:
		return 4
	case totalDailyMg <= 40:
		return 8
	case totalDailyMg <= 60:
		return 10
	default:
		return 12
	}
}

// DoseCalculatorService converts an opioid regimen into a cumulative daily
// morphine milligram equivalent.
type DoseCalculatorService struct {
	rules  RuleSource
	logger *logrus.Logger
}

// NewDoseCalculator creates a new dose-equivalence calculator
func NewDoseCalculator(source RuleSource, logger *logrus.Logger) *DoseCalculatorService {
	if logger == nil {
		logger = logrus.New()
	}
	return &DoseCalculatorService{rules: source, logger: logger}
}

// Calculate converts each dose, rounds every contribution to one decimal and
// sums the rounded figures. Unmatched or unusable doses contribute zero and
// are marked excluded; they never fail the calculation.
func (c *DoseCalculatorService) Calculate(doses []domain.OpioidDose) *domain.MMEResult {
	result := &domain.MMEResult{
		Details: make([]domain.MMELineItem, 0, len(doses)),
		Notes:   make([]string, 0),
	}

	var conversions []domain.OpioidConversion
	if rs := c.rules.Current(); rs != nil {
		conversions = rs.Opioids
	}

	sum := 0.0
	for _, dose := range doses {
		item := c.convert(dose, conversions)
		if item.Included {
			next := sum + item.Contribution
			if isFinite(round1(next)) {
				sum = next
			} else {
				item.Included = false
				item.Contribution = 0
				item.Note = "total out of range; excluded from total"
			}
		}
		result.Details = append(result.Details, item)
	}

	result.TotalMME = round1(sum)
	result.Thresholds = domain.MMEThresholds{
		CautionAt50:  result.TotalMME >= CautionThresholdMME,
		AvoidAbove90: result.TotalMME >= AvoidThresholdMME,
	}
	if result.Thresholds.CautionAt50 {
		result.Notes = append(result.Notes, CautionNote)
	}
	if result.Thresholds.AvoidAbove90 {
		result.Notes = append(result.Notes, AvoidNote)
	}

	c.logger.WithFields(logrus.Fields{
		"medications": len(doses),
		"total_mme":   result.TotalMME,
	}).Debug("Calculated MME")

	return result
}

func (c *DoseCalculatorService) convert(dose domain.OpioidDose, conversions []domain.OpioidConversion) domain.MMELineItem {
	item := domain.MMELineItem{Name: dose.Name, Route: dose.Route}

	conv, ok := matchOpioid(dose.Name, conversions)
	if !ok {
		item.Note = fmt.Sprintf("%q has no MME conversion factor; excluded from total", dose.Name)
		return item
	}
	item.MatchedName = conv.Name
	item.Kind = conv.Kind

	var (
		daily  float64
		factor float64
		reason string
	)
	switch conv.Kind {
	case domain.LINEAR:
		daily, reason = dailyMg(dose)
		factor = conv.Factor
	case domain.TRANSDERMAL:
		daily, reason = readAmount(dose.StrengthMcgPerHr, "strength_mcg_per_hr")
		factor = TransdermalFactor
	case domain.METHADONE_TIERED:
		if dose.TotalDailyDoseMg != nil {
			daily, reason = readAmount(dose.TotalDailyDoseMg, "total_daily_dose_mg")
		} else {
			daily, reason = dailyMg(dose)
		}
		if reason == "" {
			factor = MethadoneTierFactor(daily)
		}
	default:
		reason = fmt.Sprintf("unsupported conversion kind %q", conv.Kind)
	}

	if reason != "" {
		item.Note = reason + "; excluded from total"
		return item
	}

	contribution := round1(daily * factor)
	if !isFinite(contribution) {
		item.Note = "dose out of range; excluded from total"
		return item
	}

	item.DailyAmount = daily
	item.Factor = factor
	item.Contribution = contribution
	item.Included = true
	return item
}

// dailyMg prefers dose × frequency and falls back to an explicit daily total.
func dailyMg(dose domain.OpioidDose) (float64, string) {
	if dose.DoseMgPerDose != nil || dose.DosesPerDay != nil {
		perDose, reason := readAmount(dose.DoseMgPerDose, "dose_mg_per_dose")
		if reason != "" {
			return 0, reason
		}
		perDay, reason := readAmount(dose.DosesPerDay, "doses_per_day")
		if reason != "" {
			return 0, reason
		}
		return perDose * perDay, ""
	}
	if dose.TotalDailyDoseMg != nil {
		return readAmount(dose.TotalDailyDoseMg, "total_daily_dose_mg")
	}
	return 0, "missing dose_mg_per_dose and doses_per_day or total_daily_dose_mg"
}

func readAmount(v *float64, field string) (float64, string) {
	switch {
	case v == nil:
		return 0, "missing " + field
	case math.IsNaN(*v) || math.IsInf(*v, 0):
		return 0, field + " is not a finite number"
	case *v < 0:
		return 0, field + " is negative"
	default:
		return *v, ""
	}
}

// matchOpioid returns the first table entry whose name occurs in the
// medication name.
func matchOpioid(name string, conversions []domain.OpioidConversion) (domain.OpioidConversion, bool) {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return domain.OpioidConversion{}, false
	}
	for _, conv := range conversions {
		if strings.Contains(lower, conv.Name) {
			return conv, true
		}
	}
	return domain.OpioidConversion{}, false
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
