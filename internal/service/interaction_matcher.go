package service

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rx-safety-engine/internal/domain"
	"github.com/rx-safety-engine/internal/rules"
)

// RuleSource supplies the active rule tables.
type RuleSource interface {
	Current() *rules.RuleSet
}

// InteractionMatcherService pairs a patient's drugs against the curated
// alternative-suggestion table.
//
// Names are matched by case-insensitive substring, so a rule for "warfarin"
// also fires for "Warfarin Sodium" and for any combination product containing it.
type InteractionMatcherService struct {
	rules  RuleSource
	logger *logrus.Logger
}

// NewInteractionMatcher creates a new interaction matcher
func NewInteractionMatcher(source RuleSource, logger *logrus.Logger) *InteractionMatcherService {
	if logger == nil {
		logger = logrus.New()
	}
	return &InteractionMatcherService{rules: source, logger: logger}
}

// Match evaluates every unordered pair of drugs, in input order, against every
// rule, in table order. Output keeps that insertion order and holds at most one
// suggestion per (for, with, alternative) name triple.
func (m *InteractionMatcherService) Match(drugs []domain.DrugIdentity) ([]domain.AlternativeSuggestion, []domain.Diagnostic) {
	suggestions := make([]domain.AlternativeSuggestion, 0)
	var diagnostics []domain.Diagnostic

	rs := m.rules.Current()
	if rs == nil || len(drugs) < 2 {
		return suggestions, nil
	}

	names := make([]string, len(drugs))
	for i, d := range drugs {
		names[i] = strings.ToLower(strings.TrimSpace(d.Name))
	}

	seen := make(map[string]bool)
	for i := 0; i < len(drugs); i++ {
		for j := i + 1; j < len(drugs); j++ {
			for r, rule := range rs.Alternatives {
				if !ruleFires(rule, names[i], names[j]) {
					continue
				}

				var forDrug, withDrug domain.DrugIdentity
				switch target := strings.ToLower(rule.ForDrug); {
				case strings.Contains(names[i], target):
					forDrug, withDrug = drugs[i], drugs[j]
				case strings.Contains(names[j], target):
					forDrug, withDrug = drugs[j], drugs[i]
				default:
					diagnostics = append(diagnostics, domain.Diagnostic{
						Component: domain.ComponentInteractionMatcher,
						Index:     r,
						Subject:   fmt.Sprintf("%s + %s", drugs[i].Name, drugs[j].Name),
						Reason:    fmt.Sprintf("rule target %q matches neither drug of the pair", rule.ForDrug),
					})
					continue
				}

				alternative := domain.Alternative{
					Name:  rule.Suggestion.Name,
					RxCUI: resolveRxCUI(rs.RxCUI, rule.Suggestion),
				}

				dedupKey := strings.ToLower(forDrug.Name) + "\x00" +
					strings.ToLower(withDrug.Name) + "\x00" +
					strings.ToLower(alternative.Name)
				if seen[dedupKey] {
					continue
				}
				seen[dedupKey] = true

				suggestions = append(suggestions, domain.AlternativeSuggestion{
					ForDrug:     forDrug,
					WithDrug:    withDrug,
					Alternative: alternative,
					Rationale:   rule.Rationale,
					Citations:   append(make([]string, 0, len(rule.Citations)), rule.Citations...),
				})
			}
		}
	}

	m.logger.WithFields(logrus.Fields{
		"drugs":       len(drugs),
		"suggestions": len(suggestions),
	}).Debug("Matched alternative rules")

	return suggestions, diagnostics
}

// ruleFires reports whether the pair matches the rule in either assignment.
// Symmetric assignments of the same pair count once.
func ruleFires(rule domain.AlternativeRule, first, second string) bool {
	if first == "" || second == "" {
		return false
	}
	a := strings.ToLower(rule.MatchA)
	b := strings.ToLower(rule.MatchB)
	return (strings.Contains(first, a) && strings.Contains(second, b)) ||
		(strings.Contains(first, b) && strings.Contains(second, a))
}

// resolveRxCUI prefers the lookup table, then the rule's own code.
func resolveRxCUI(lookup map[string]string, suggestion domain.DrugIdentity) *string {
	if rxcui, ok := lookup[strings.ToLower(strings.TrimSpace(suggestion.Name))]; ok && rxcui != "" {
		return &rxcui
	}
	if rxcui := strings.TrimSpace(suggestion.RxCUI); rxcui != "" {
		return &rxcui
	}
	return nil
}
