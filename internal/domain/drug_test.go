package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalKey_Symmetric(t *testing.T) {
	pairs := []struct {
		name string
		a, b DrugIdentity
	}{
		{"names only", DrugIdentity{Name: "Warfarin"}, DrugIdentity{Name: "Amiodarone"}},
		{"rxcui on both", DrugIdentity{Name: "warfarin", RxCUI: "11289"}, DrugIdentity{Name: "amiodarone", RxCUI: "703"}},
		{"mixed identity", DrugIdentity{Name: "Simvastatin", RxCUI: "36567"}, DrugIdentity{Name: "clarithromycin"}},
		{"same drug twice", DrugIdentity{Name: "aspirin"}, DrugIdentity{Name: "ASPIRIN"}},
	}

	for _, tt := range pairs {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, CanonicalKey(tt.a, tt.b), CanonicalKey(tt.b, tt.a))
		})
	}
}

func TestCanonicalKey_PrefersRxCUI(t *testing.T) {
	key := CanonicalKey(
		DrugIdentity{Name: "Warfarin Sodium", RxCUI: "11289"},
		DrugIdentity{Name: "  Amiodarone  "},
	)
	assert.Equal(t, "11289::amiodarone", key)
}

func TestDrugIdentity_SameDrug(t *testing.T) {
	tests := []struct {
		name string
		a, b DrugIdentity
		want bool
	}{
		{"rxcui match", DrugIdentity{Name: "x", RxCUI: "1"}, DrugIdentity{Name: "y", RxCUI: "1"}, true},
		{"rxcui mismatch wins over name", DrugIdentity{Name: "warfarin", RxCUI: "1"}, DrugIdentity{Name: "warfarin", RxCUI: "2"}, false},
		{"substring name", DrugIdentity{Name: "Warfarin Sodium"}, DrugIdentity{Name: "warfarin"}, true},
		{"substring reversed", DrugIdentity{Name: "warfarin"}, DrugIdentity{Name: "WARFARIN SODIUM"}, true},
		{"one rxcui missing falls back to name", DrugIdentity{Name: "warfarin", RxCUI: "11289"}, DrugIdentity{Name: "Warfarin"}, true},
		{"different names", DrugIdentity{Name: "warfarin"}, DrugIdentity{Name: "apixaban"}, false},
		{"empty name", DrugIdentity{}, DrugIdentity{Name: "apixaban"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.SameDrug(tt.b))
		})
	}
}

func TestInteractionEvidenceRecord_IsMalformed(t *testing.T) {
	ok := InteractionEvidenceRecord{DrugA: DrugIdentity{Name: "a"}, DrugB: DrugIdentity{RxCUI: "2"}}
	missingB := InteractionEvidenceRecord{DrugA: DrugIdentity{Name: "a"}, DrugB: DrugIdentity{Name: "  "}}
	missingBoth := InteractionEvidenceRecord{}

	assert.False(t, ok.IsMalformed())
	assert.True(t, missingB.IsMalformed())
	assert.True(t, missingBoth.IsMalformed())
}

func TestNormalizationResult_Lookup(t *testing.T) {
	a := DrugIdentity{Name: "warfarin"}
	b := DrugIdentity{Name: "amiodarone"}
	key := CanonicalKey(a, b)
	result := &NormalizationResult{
		Interactions: map[string]*NormalizedInteraction{key: {Key: key, Severity: MAJOR}},
		Keys:         []string{key},
	}

	found, ok := result.Lookup(b, a)
	assert.True(t, ok)
	assert.Equal(t, MAJOR, found.Severity)

	_, ok = result.Lookup(a, DrugIdentity{})
	assert.False(t, ok)

	var empty *NormalizationResult
	_, ok = empty.Lookup(a, b)
	assert.False(t, ok)
	assert.Nil(t, empty.List())
	assert.Len(t, result.List(), 1)
}
