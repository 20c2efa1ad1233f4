// Package rules loads and compiles the static tables the safety engine needs:
// alternative-suggestion rules, the name→rxcui lookup, per-gene phenotype
// patterns and the opioid conversion table.
//
// Tables are compiled once and never mutated. A reload builds a new RuleSet and
// swaps it in whole.
package rules

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rx-safety-engine/internal/domain"
)

// BuiltinSource names the rule set compiled from DefaultDefinition.
const BuiltinSource = "built-in"

// Definition is the YAML shape of a rule file.
type Definition struct {
	Alternatives []domain.AlternativeRule  `yaml:"alternatives"`
	RxCUI        map[string]string         `yaml:"rxcui"`
	Phenotypes   []GeneDefinition          `yaml:"phenotypes"`
	Opioids      []domain.OpioidConversion `yaml:"opioids"`
}

// GeneDefinition is the ordered pattern list of one gene.
type GeneDefinition struct {
	Gene  string              `yaml:"gene"`
	Rules []PatternDefinition `yaml:"rules"`
}

// PatternDefinition maps one regular expression to a phenotype.
type PatternDefinition struct {
	Pattern   string `yaml:"pattern"`
	Phenotype string `yaml:"phenotype"`
}

// RuleSet is a compiled, read-only set of tables.
type RuleSet struct {
	Alternatives []domain.AlternativeRule
	RxCUI        map[string]string
	Phenotypes   []domain.GeneRules
	// GeneSymbols finds any phenotype table gene symbol in a corpus.
	GeneSymbols  *regexp.Regexp
	Opioids      []domain.OpioidConversion
	Source       string
	LoadedAt     time.Time
}

// Compile validates a definition and compiles its patterns. Any problem in the
// tables is reported here, before patient data is seen.
func Compile(def *Definition, source string) (*RuleSet, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: definition is nil", domain.ErrInvalidRuleTable)
	}

	rs := &RuleSet{
		Alternatives: make([]domain.AlternativeRule, 0, len(def.Alternatives)),
		RxCUI:        make(map[string]string, len(def.RxCUI)),
		Phenotypes:   make([]domain.GeneRules, 0, len(def.Phenotypes)),
		Opioids:      make([]domain.OpioidConversion, 0, len(def.Opioids)),
		Source:       source,
		LoadedAt:     time.Now().UTC(),
	}

	for i, rule := range def.Alternatives {
		if strings.TrimSpace(rule.MatchA) == "" || strings.TrimSpace(rule.MatchB) == "" {
			return nil, fmt.Errorf("%w: alternative rule %d needs match_a and match_b", domain.ErrInvalidRuleTable, i)
		}
		if strings.TrimSpace(rule.ForDrug) == "" {
			return nil, fmt.Errorf("%w: alternative rule %d needs for_drug", domain.ErrInvalidRuleTable, i)
		}
		if strings.TrimSpace(rule.Suggestion.Name) == "" {
			return nil, fmt.Errorf("%w: alternative rule %d needs a suggestion name", domain.ErrInvalidRuleTable, i)
		}
		rule.MatchA = strings.TrimSpace(rule.MatchA)
		rule.MatchB = strings.TrimSpace(rule.MatchB)
		rule.ForDrug = strings.TrimSpace(rule.ForDrug)
		rule.Citations = append([]string(nil), rule.Citations...)
		rs.Alternatives = append(rs.Alternatives, rule)
	}

	for name, rxcui := range def.RxCUI {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || strings.TrimSpace(rxcui) == "" {
			return nil, fmt.Errorf("%w: rxcui entry %q is empty", domain.ErrInvalidRuleTable, name)
		}
		rs.RxCUI[key] = strings.TrimSpace(rxcui)
	}

	seenGenes := make(map[string]bool)
	for _, gene := range def.Phenotypes {
		symbol := strings.ToUpper(strings.TrimSpace(gene.Gene))
		if symbol == "" {
			return nil, fmt.Errorf("%w: phenotype table with empty gene", domain.ErrInvalidRuleTable)
		}
		if seenGenes[symbol] {
			return nil, fmt.Errorf("%w: gene %s defined twice", domain.ErrInvalidRuleTable, symbol)
		}
		seenGenes[symbol] = true

		compiled := domain.GeneRules{Gene: symbol, Rules: make([]domain.GenePhenotypeRule, 0, len(gene.Rules))}
		for j, p := range gene.Rules {
			if strings.TrimSpace(p.Phenotype) == "" {
				return nil, fmt.Errorf("%w: %s rule %d has no phenotype", domain.ErrInvalidRuleTable, symbol, j)
			}
			re, err := regexp.Compile("(?i)" + p.Pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: %s rule %d: %v", domain.ErrInvalidRuleTable, symbol, j, err)
			}
			compiled.Rules = append(compiled.Rules, domain.GenePhenotypeRule{
				Gene:      symbol,
				Pattern:   re,
				Phenotype: p.Phenotype,
			})
		}
		if len(compiled.Rules) == 0 {
			return nil, fmt.Errorf("%w: gene %s has no rules", domain.ErrInvalidRuleTable, symbol)
		}
		rs.Phenotypes = append(rs.Phenotypes, compiled)
	}
	rs.GeneSymbols = symbolPattern(rs.Phenotypes)

	for i, op := range def.Opioids {
		op.Name = strings.ToLower(strings.TrimSpace(op.Name))
		if op.Name == "" {
			return nil, fmt.Errorf("%w: opioid entry %d has no name", domain.ErrInvalidRuleTable, i)
		}
		if !op.Kind.IsValid() {
			return nil, fmt.Errorf("%w: opioid %s: %w", domain.ErrInvalidRuleTable, op.Name, domain.ErrInvalidOpioidKind)
		}
		if op.Kind == domain.LINEAR && op.Factor <= 0 {
			return nil, fmt.Errorf("%w: opioid %s needs a positive factor", domain.ErrInvalidRuleTable, op.Name)
		}
		rs.Opioids = append(rs.Opioids, op)
	}

	return rs, nil
}

// Parse decodes a YAML rule file body.
func Parse(data []byte) (*Definition, error) {
	def := &Definition{}
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, fmt.Errorf("%w: decoding yaml: %v", domain.ErrInvalidRuleTable, err)
	}
	return def, nil
}

// LoadFile reads and compiles a rule file. An empty path yields the built-in tables.
func LoadFile(path string) (*RuleSet, error) {
	if strings.TrimSpace(path) == "" {
		return Compile(DefaultDefinition(), BuiltinSource)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file %s: %w", path, err)
	}

	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing rule file %s: %w", path, err)
	}

	return Compile(def, path)
}

// MustDefault compiles the built-in tables and panics if they are broken.
func MustDefault() *RuleSet {
	rs, err := Compile(DefaultDefinition(), BuiltinSource)
	if err != nil {
		panic(fmt.Sprintf("built-in rule tables do not compile: %v", err))
	}
	return rs
}

// symbolPattern matches whole gene symbols, longest first so that no symbol
// shadows a longer one sharing its prefix.
func symbolPattern(genes []domain.GeneRules) *regexp.Regexp {
	if len(genes) == 0 {
		return nil
	}
	symbols := make([]string, 0, len(genes))
	for _, g := range genes {
		symbols = append(symbols, regexp.QuoteMeta(g.Gene))
	}
	sort.Slice(symbols, func(i, j int) bool { return len(symbols[i]) > len(symbols[j]) })
	return regexp.MustCompile(`\b(?:` + strings.Join(symbols, "|") + `)\b`)
}
