package rules

import (
	"github.com/rx-safety-engine/internal/domain"
)

// Phenotype labels emitted by the built-in gene tables.
const (
	UltrarapidMetabolizer   = "Ultrarapid metabolizer"
	RapidMetabolizer        = "Rapid metabolizer"
	NormalMetabolizer       = "Normal metabolizer"
	IntermediateMetabolizer = "Intermediate metabolizer"
	PoorMetabolizer         = "Poor metabolizer"
)

// DefaultDefinition returns the built-in tables. Each call returns a fresh copy.
//
// Gene rule order is a precedence policy: the more specific phenotypes are
// listed before the broad normal-metabolizer patterns so they are never masked.
func DefaultDefinition() *Definition {
	return &Definition{
		Alternatives: []domain.AlternativeRule{
			{
				MatchA:     "clopidogrel",
				MatchB:     "omeprazole",
				ForDrug:    "omeprazole",
				Suggestion: domain.DrugIdentity{Name: "pantoprazole"},
				Rationale:  "Omeprazole inhibits CYP2C19 activation of clopidogrel; pantoprazole has minimal CYP2C19 inhibition.",
				Citations:  []string{"FDA Plavix label, boxed warning (2016)", "CPIC guideline for CYP2C19 and clopidogrel (2022)"},
			},
			{
				MatchA:     "clopidogrel",
				MatchB:     "esomeprazole",
				ForDrug:    "esomeprazole",
				Suggestion: domain.DrugIdentity{Name: "pantoprazole"},
				Rationale:  "Esomeprazole reduces clopidogrel active metabolite exposure via CYP2C19 inhibition.",
				Citations:  []string{"FDA Plavix label, boxed warning (2016)"},
			},
			{
				MatchA:     "simvastatin",
				MatchB:     "clarithromycin",
				ForDrug:    "clarithromycin",
				Suggestion: domain.DrugIdentity{Name: "azithromycin", RxCUI: "18631"},
				Rationale:  "Clarithromycin is a strong CYP3A4 inhibitor and raises simvastatin exposure; azithromycin does not inhibit CYP3A4.",
				Citations:  []string{"FDA Zocor label, contraindications"},
			},
			{
				MatchA:     "simvastatin",
				MatchB:     "amiodarone",
				ForDrug:    "simvastatin",
				Suggestion: domain.DrugIdentity{Name: "pravastatin"},
				Rationale:  "Amiodarone increases simvastatin myopathy risk; pravastatin is not CYP3A4 dependent.",
				Citations:  []string{"FDA drug safety communication on simvastatin dose limits (2011)"},
			},
			{
				MatchA:     "warfarin",
				MatchB:     "amiodarone",
				ForDrug:    "warfarin",
				Suggestion: domain.DrugIdentity{Name: "apixaban"},
				Rationale:  "Amiodarone inhibits CYP2C9 and potentiates warfarin; if anticoagulation can be switched, apixaban avoids INR instability.",
				Citations:  []string{"Coumadin label, drug interactions", "ACC expert consensus on DOAC management (2020)"},
			},
			{
				MatchA:     "codeine",
				MatchB:     "fluoxetine",
				ForDrug:    "codeine",
				Suggestion: domain.DrugIdentity{Name: "morphine"},
				Rationale:  "Fluoxetine inhibits CYP2D6 conversion of codeine to morphine, reducing analgesia.",
				Citations:  []string{"CPIC guideline for CYP2D6 and opioids (2021)"},
			},
			{
				MatchA:     "tramadol",
				MatchB:     "paroxetine",
				ForDrug:    "tramadol",
				Suggestion: domain.DrugIdentity{Name: "morphine"},
				Rationale:  "Paroxetine blocks CYP2D6 activation of tramadol and adds serotonergic risk.",
				Citations:  []string{"CPIC guideline for CYP2D6 and opioids (2021)"},
			},
		},
		RxCUI: map[string]string{
			"pantoprazole": "40790",
			"azithromycin": "18631",
			"pravastatin":  "42463",
			"apixaban":     "1364430",
			"morphine":     "7052",
			"warfarin":     "11289",
			"amiodarone":   "703",
			"clopidogrel":  "32968",
			"omeprazole":   "7646",
			"simvastatin":  "36567",
		},
		Phenotypes: []GeneDefinition{
			{
				Gene: "CYP2D6",
				Rules: []PatternDefinition{
					{Pattern: `CYP2D6.*(ULTRA[\s-]?RAPID|\*\d+\s*X\s*(N|\d))`, Phenotype: UltrarapidMetabolizer},
					{Pattern: `CYP2D6.*(POOR\s+METABOLI[ZS]ER|\*(3|4|5|6)/\*(3|4|5|6)\b)`, Phenotype: PoorMetabolizer},
					{Pattern: `CYP2D6.*(INTERMEDIATE\s+METABOLI[ZS]ER|\*(1|2)/\*(4|5|10|41)\b|\*(3|4|5|6)/\*(10|41)\b|\*(10|41)/\*(10|41)\b)`, Phenotype: IntermediateMetabolizer},
					{Pattern: `CYP2D6.*(NORMAL\s+METABOLI[ZS]ER|EXTENSIVE\s+METABOLI[ZS]ER|\*(1|2)/\*(1|2)\b)`, Phenotype: NormalMetabolizer},
				},
			},
			{
				Gene: "CYP2C19",
				Rules: []PatternDefinition{
					{Pattern: `CYP2C19.*(ULTRA[\s-]?RAPID|\*17/\*17\b)`, Phenotype: UltrarapidMetabolizer},
					{Pattern: `CYP2C19.*(POOR\s+METABOLI[ZS]ER|\*(2|3)/\*(2|3)\b)`, Phenotype: PoorMetabolizer},
					{Pattern: `CYP2C19.*(\bRAPID\s+METABOLI[ZS]ER|\*1/\*17\b)`, Phenotype: RapidMetabolizer},
					{Pattern: `CYP2C19.*(INTERMEDIATE\s+METABOLI[ZS]ER|\*1/\*(2|3)\b|\*(2|3)/\*17\b)`, Phenotype: IntermediateMetabolizer},
					{Pattern: `CYP2C19.*(NORMAL\s+METABOLI[ZS]ER|EXTENSIVE\s+METABOLI[ZS]ER|\*1/\*1\b)`, Phenotype: NormalMetabolizer},
				},
			},
			{
				Gene: "UGT1A1",
				Rules: []PatternDefinition{
					{Pattern: `UGT1A1.*(POOR\s+METABOLI[ZS]ER|\*(6|28)/\*(6|28)\b)`, Phenotype: PoorMetabolizer},
					{Pattern: `UGT1A1.*(INTERMEDIATE\s+METABOLI[ZS]ER|\*1/\*(6|28)\b|\*(6|28)/\*1\b)`, Phenotype: IntermediateMetabolizer},
					{Pattern: `UGT1A1.*(NORMAL\s+METABOLI[ZS]ER|\*1/\*1\b)`, Phenotype: NormalMetabolizer},
				},
			},
			{
				Gene: "TPMT",
				Rules: []PatternDefinition{
					{Pattern: `TPMT.*(POOR\s+METABOLI[ZS]ER|LOW\s+ACTIVITY|\*(2|3A|3B|3C)/\*(2|3A|3B|3C)\b)`, Phenotype: PoorMetabolizer},
					{Pattern: `TPMT.*(INTERMEDIATE\s+METABOLI[ZS]ER|\*1/\*(2|3A|3B|3C)\b)`, Phenotype: IntermediateMetabolizer},
					{Pattern: `TPMT.*(NORMAL\s+METABOLI[ZS]ER|\*1/\*1\b)`, Phenotype: NormalMetabolizer},
				},
			},
			{
				Gene: "DPYD",
				Rules: []PatternDefinition{
					{Pattern: `DPYD.*(POOR\s+METABOLI[ZS]ER|\*2A/\*2A\b|\*13/\*13\b|ACTIVITY\s+SCORE\s*:?\s*0(\.0|\.5)?\b)`, Phenotype: PoorMetabolizer},
					{Pattern: `DPYD.*(INTERMEDIATE\s+METABOLI[ZS]ER|\*1/\*(2A|13)\b|ACTIVITY\s+SCORE\s*:?\s*1(\.0|\.5)?\b)`, Phenotype: IntermediateMetabolizer},
					{Pattern: `DPYD.*(NORMAL\s+METABOLI[ZS]ER|\*1/\*1\b|ACTIVITY\s+SCORE\s*:?\s*2(\.0)?\b)`, Phenotype: NormalMetabolizer},
				},
			},
		},
		// CDC 2016 conversion factors. Buprenorphine is deliberately absent.
		Opioids: []domain.OpioidConversion{
			{Name: "hydromorphone", Kind: domain.LINEAR, Factor: 4},
			{Name: "oxymorphone", Kind: domain.LINEAR, Factor: 3},
			{Name: "hydrocodone", Kind: domain.LINEAR, Factor: 1},
			{Name: "oxycodone", Kind: domain.LINEAR, Factor: 1.5},
			{Name: "codeine", Kind: domain.LINEAR, Factor: 0.15},
			{Name: "morphine", Kind: domain.LINEAR, Factor: 1},
			{Name: "tapentadol", Kind: domain.LINEAR, Factor: 0.4},
			{Name: "tramadol", Kind: domain.LINEAR, Factor: 0.1},
			{Name: "meperidine", Kind: domain.LINEAR, Factor: 0.1},
			{Name: "fentanyl", Kind: domain.TRANSDERMAL},
			{Name: "methadone", Kind: domain.METHADONE_TIERED},
		},
	}
}
