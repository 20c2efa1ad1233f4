package service

import (
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rx-safety-engine/internal/domain"
)

// CorpusSeparator joins per-observation texts into the matching corpus.
const CorpusSeparator = " | "

// PhenotypeDeriverService derives per-gene metabolizer phenotypes from
// loosely structured genomic observations.
//
// Matching runs over one corpus built from every observation, so a gene's
// evidence may span several records. Each gene sees the corpus with the
// stretches that follow other genes' symbols masked out; text from an
// observation that names no gene still belongs to whichever symbol precedes it.
type PhenotypeDeriverService struct {
	rules  RuleSource
	logger *logrus.Logger
}

// NewPhenotypeDeriver creates a new phenotype deriver
func NewPhenotypeDeriver(source RuleSource, logger *logrus.Logger) *PhenotypeDeriverService {
	if logger == nil {
		logger = logrus.New()
	}
	return &PhenotypeDeriverService{rules: source, logger: logger}
}

// Derive returns at most one phenotype per gene, in gene table order. Genes
// with no matching pattern are omitted.
func (p *PhenotypeDeriverService) Derive(observations []domain.GenomicObservation) []domain.PhenotypeObservation {
	result := make([]domain.PhenotypeObservation, 0)

	rs := p.rules.Current()
	if rs == nil {
		return result
	}

	corpus := JoinedCorpus(observations)
	if corpus == "" {
		return result
	}

	for _, gene := range rs.Phenotypes {
		view := GeneView(corpus, rs.GeneSymbols, gene.Gene)
		for _, rule := range gene.Rules {
			if rule.Pattern.MatchString(view) {
				result = append(result, domain.PhenotypeObservation{
					Gene:      gene.Gene,
					Phenotype: rule.Phenotype,
				})
				break
			}
		}
	}

	p.logger.WithFields(logrus.Fields{
		"observations": len(observations),
		"phenotypes":   len(result),
	}).Debug("Derived phenotypes")

	return result
}

// JoinedCorpus extracts every observation's text and joins them. Texts are
// sorted first so the corpus does not depend on input order.
func JoinedCorpus(observations []domain.GenomicObservation) string {
	texts := make([]string, 0, len(observations))
	for _, obs := range observations {
		if text := ExtractText(obs); text != "" {
			texts = append(texts, text)
		}
	}
	sort.Strings(texts)
	return strings.Join(texts, CorpusSeparator)
}

// GeneView returns the corpus with every stretch attributed to another gene
// removed. A stretch runs from a gene symbol to the next symbol; text before
// the first symbol is kept for every gene.
func GeneView(corpus string, symbols *regexp.Regexp, gene string) string {
	if symbols == nil {
		return corpus
	}
	locs := symbols.FindAllStringIndex(corpus, -1)
	if len(locs) == 0 {
		return corpus
	}

	var b strings.Builder
	b.WriteString(corpus[:locs[0][0]])
	for i, loc := range locs {
		end := len(corpus)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if corpus[loc[0]:loc[1]] == gene {
			b.WriteString(corpus[loc[0]:end])
		}
	}
	return b.String()
}

// ExtractText flattens the text-bearing fields of an observation into one
// upper-cased, whitespace-normalized string. Structure is discarded.
func ExtractText(obs domain.GenomicObservation) string {
	var parts []string
	parts = appendConcept(parts, &obs.Code)
	parts = append(parts, obs.ValueString)
	parts = appendConcept(parts, obs.ValueCodeableConcept)
	for i := range obs.Interpretation {
		parts = appendConcept(parts, &obs.Interpretation[i])
	}
	parts = append(parts, obs.Note)

	for _, c := range obs.Component {
		parts = appendConcept(parts, &c.Code)
		parts = append(parts, c.ValueString)
		parts = appendConcept(parts, c.ValueCodeableConcept)
		for i := range c.Interpretation {
			parts = appendConcept(parts, &c.Interpretation[i])
		}
	}

	return strings.ToUpper(strings.Join(strings.Fields(strings.Join(parts, " ")), " "))
}

func appendConcept(parts []string, cc *domain.CodeableConcept) []string {
	if cc == nil {
		return parts
	}
	parts = append(parts, cc.Text)
	for _, coding := range cc.Coding {
		parts = append(parts, coding.Display)
	}
	return parts
}
