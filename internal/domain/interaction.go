package domain

// InteractionEvidenceRecord is one claim about a drug pair from one source.
// Records are immutable once created.
type InteractionEvidenceRecord struct {
	SourceType    SourceType    `json:"source_type"`
	SourceID      string        `json:"source_id"`
	DrugA         DrugIdentity  `json:"drug_a"`
	DrugB         DrugIdentity  `json:"drug_b"`
	Mechanism     string        `json:"mechanism,omitempty"`
	EnzymePathway string        `json:"enzyme_pathway,omitempty"`
	Severity      Severity      `json:"severity"`
	EvidenceLevel EvidenceLevel `json:"evidence_level"`
	StudyType     string        `json:"study_type,omitempty"`
	RawSourceText string        `json:"raw_source_text,omitempty"`
}

// Key returns the canonical interaction key of the record.
func (r InteractionEvidenceRecord) Key() string {
	return CanonicalKey(r.DrugA, r.DrugB)
}

// IsMalformed reports whether the record lacks a usable identity on either side
// of the pair, in which case it cannot be keyed.
func (r InteractionEvidenceRecord) IsMalformed() bool {
	return r.DrugA.IsEmpty() || r.DrugB.IsEmpty()
}

// NormalizedInteraction is the aggregated judgment for one canonical key.
type NormalizedInteraction struct {
	Key          string                      `json:"key"`
	DrugA        DrugIdentity                `json:"drug_a"`
	DrugB        DrugIdentity                `json:"drug_b"`
	Severity     Severity                    `json:"severity"`
	QualityScore int                         `json:"quality_score"`
	Mechanism    string                      `json:"mechanism,omitempty"`
	Records      []InteractionEvidenceRecord `json:"records"`
	Conflicted   bool                        `json:"conflicted"`
}

// AlternativeRule is one curated entry of the alternative-suggestion table.
// MatchA and MatchB are substrings matched case-insensitively against drug names.
type AlternativeRule struct {
	MatchA     string       `json:"match_a" yaml:"match_a"`
	MatchB     string       `json:"match_b" yaml:"match_b"`
	ForDrug    string       `json:"for_drug" yaml:"for_drug"`
	Suggestion DrugIdentity `json:"suggestion" yaml:"suggestion"`
	Rationale  string       `json:"rationale" yaml:"rationale"`
	Citations  []string     `json:"citations,omitempty" yaml:"citations,omitempty"`
}

// Alternative is a suggested replacement drug. RxCUI is nil when neither the
// lookup table nor the rule could resolve it.
type Alternative struct {
	Name  string  `json:"name"`
	RxCUI *string `json:"rxcui"`
}

// AlternativeSuggestion proposes replacing ForDrug, which interacts with
// WithDrug, by Alternative.
type AlternativeSuggestion struct {
	ForDrug     DrugIdentity `json:"for_drug"`
	WithDrug    DrugIdentity `json:"with_drug"`
	Alternative Alternative  `json:"alternative"`
	Rationale   string       `json:"rationale"`
	Citations   []string     `json:"citations"`
}

// InteractionFinding reports the normalized interaction found for a pair of
// the patient's drugs.
type InteractionFinding struct {
	DrugA        DrugIdentity `json:"drug_a"`
	DrugB        DrugIdentity `json:"drug_b"`
	Key          string       `json:"key"`
	Severity     Severity     `json:"severity"`
	QualityScore int          `json:"quality_score"`
	Conflicted   bool         `json:"conflicted"`
	SourceCount  int          `json:"source_count"`
}

// NormalizationResult is the output of aggregating a batch of evidence records.
type NormalizationResult struct {
	Interactions map[string]*NormalizedInteraction `json:"interactions"`
	Keys         []string                          `json:"keys"` // first-seen order
	Skipped      []Diagnostic                      `json:"skipped,omitempty"`
}

// Lookup returns the normalized interaction for a drug pair, in either order.
func (r *NormalizationResult) Lookup(a, b DrugIdentity) (*NormalizedInteraction, bool) {
	if r == nil || a.IsEmpty() || b.IsEmpty() {
		return nil, false
	}
	ni, ok := r.Interactions[CanonicalKey(a, b)]
	return ni, ok
}

// List returns the interactions in first-seen key order.
func (r *NormalizationResult) List() []NormalizedInteraction {
	if r == nil {
		return nil
	}
	out := make([]NormalizedInteraction, 0, len(r.Keys))
	for _, key := range r.Keys {
		out = append(out, *r.Interactions[key])
	}
	return out
}
