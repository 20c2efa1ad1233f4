package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rx-safety-engine/internal/domain"
	"github.com/rx-safety-engine/internal/rules"
	"github.com/rx-safety-engine/internal/service"
)

func newTestDependencies() Dependencies {
	logger, _ := test.NewNullLogger()
	provider := rules.NewStaticProvider(rules.MustDefault())
	matcher := service.NewInteractionMatcher(provider, logger)
	deriver := service.NewPhenotypeDeriver(provider, logger)
	calculator := service.NewDoseCalculator(provider, logger)
	return Dependencies{
		Normalizer: service.NewEvidenceNormalizer(logger),
		Matcher:    matcher,
		Deriver:    deriver,
		Calculator: calculator,
		Safety:     service.NewSafetyService(matcher, deriver, calculator, nil, logger),
	}
}

func connect(t *testing.T, deps Dependencies) *mcp.ClientSession {
	t.Helper()
	logger, _ := test.NewNullLogger()
	server := NewServer(domain.MCPConfig{}, deps, logger)

	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.Connect(ctx, serverTransport)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	return result
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestNewServer_RegistersTools(t *testing.T) {
	session := connect(t, newTestDependencies())

	list, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"normalize_evidence",
		"suggest_alternatives",
		"derive_phenotypes",
		"calculate_mme",
		"evaluate_safety",
	}, names, "lookup_interaction needs a snapshot")
}

func TestSuggestAlternativesTool(t *testing.T) {
	session := connect(t, newTestDependencies())

	result := callTool(t, session, "suggest_alternatives", map[string]any{
		"drugs": []map[string]any{{"name": "simvastatin"}, {"name": "clarithromycin"}},
	})
	require.False(t, result.IsError)

	var body struct {
		Alternatives []domain.AlternativeSuggestion `json:"alternatives"`
	}
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &body))
	require.Len(t, body.Alternatives, 1)
	assert.Equal(t, "azithromycin", body.Alternatives[0].Alternative.Name)
	require.NotNil(t, body.Alternatives[0].Alternative.RxCUI)
	assert.Equal(t, "18631", *body.Alternatives[0].Alternative.RxCUI)
}

func TestDerivePhenotypesTool(t *testing.T) {
	session := connect(t, newTestDependencies())

	result := callTool(t, session, "derive_phenotypes", map[string]any{
		"observations": []map[string]any{{
			"code":        map[string]any{"text": "CYP2C19 genotype"},
			"valueString": "Result: *2/*2",
		}},
	})
	require.False(t, result.IsError)

	var body struct {
		Phenotypes []domain.PhenotypeObservation `json:"phenotypes"`
	}
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &body))
	assert.Equal(t, []domain.PhenotypeObservation{{Gene: "CYP2C19", Phenotype: rules.PoorMetabolizer}}, body.Phenotypes)
}

func TestCalculateMMETool(t *testing.T) {
	session := connect(t, newTestDependencies())

	result := callTool(t, session, "calculate_mme", map[string]any{
		"opioids": []map[string]any{{"name": "oxycodone", "dose_mg_per_dose": 10, "doses_per_day": 4}},
	})
	require.False(t, result.IsError)

	var mme domain.MMEResult
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &mme))
	assert.Equal(t, 60.0, mme.TotalMME)
}

func TestNormalizeEvidenceTool(t *testing.T) {
	session := connect(t, newTestDependencies())

	result := callTool(t, session, "normalize_evidence", map[string]any{
		"records": []map[string]any{
			{
				"source_type":    "regulatory-label",
				"source_id":      "label-1",
				"drug_a":         map[string]any{"name": "warfarin"},
				"drug_b":         map[string]any{"name": "amiodarone"},
				"severity":       "major",
				"evidence_level": "high",
			},
		},
	})
	require.False(t, result.IsError)

	var body struct {
		Interactions []domain.NormalizedInteraction `json:"interactions"`
	}
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &body))
	require.Len(t, body.Interactions, 1)
	assert.Equal(t, "amiodarone::warfarin", body.Interactions[0].Key)
}

func TestEvaluateSafetyTool_EmptyRequest(t *testing.T) {
	session := connect(t, newTestDependencies())

	result := callTool(t, session, "evaluate_safety", map[string]any{"patient_ref": "p"})
	assert.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), "at least one of drugs")
}
