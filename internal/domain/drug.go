package domain

import (
	"sort"
	"strings"
)

// KeySeparator joins the two identities of a canonical interaction key.
const KeySeparator = "::"

// DrugIdentity names a drug, optionally with its RxNorm concept identifier.
type DrugIdentity struct {
	Name  string `json:"name" yaml:"name"`
	RxCUI string `json:"rxcui,omitempty" yaml:"rxcui,omitempty"`
}

// IsEmpty reports whether the identity carries neither a name nor an rxcui.
func (d DrugIdentity) IsEmpty() bool {
	return strings.TrimSpace(d.Name) == "" && strings.TrimSpace(d.RxCUI) == ""
}

// Identity returns the string used for keying: the rxcui when present,
// otherwise the trimmed, lower-cased name.
func (d DrugIdentity) Identity() string {
	if rxcui := strings.TrimSpace(d.RxCUI); rxcui != "" {
		return rxcui
	}
	return strings.ToLower(strings.TrimSpace(d.Name))
}

// SameDrug reports whether two identities refer to the same drug: equal rxcui
// when both carry one, otherwise a case-insensitive substring match on names
// in either direction.
func (d DrugIdentity) SameDrug(other DrugIdentity) bool {
	a, b := strings.TrimSpace(d.RxCUI), strings.TrimSpace(other.RxCUI)
	if a != "" && b != "" {
		return a == b
	}

	left := strings.ToLower(strings.TrimSpace(d.Name))
	right := strings.ToLower(strings.TrimSpace(other.Name))
	if left == "" || right == "" {
		return false
	}
	return strings.Contains(left, right) || strings.Contains(right, left)
}

// CanonicalKey builds the order-independent key of a drug pair.
// CanonicalKey(a, b) == CanonicalKey(b, a) for every a and b.
func CanonicalKey(a, b DrugIdentity) string {
	ids := []string{a.Identity(), b.Identity()}
	sort.Strings(ids)
	return ids[0] + KeySeparator + ids[1]
}
