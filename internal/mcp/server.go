// Package mcp exposes the safety engine as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/rx-safety-engine/internal/domain"
	"github.com/rx-safety-engine/internal/service"
	"github.com/rx-safety-engine/internal/snapshot"
)

// Dependencies are the components backing the tools. Snapshots is optional;
// without it lookup_interaction is not registered.
type Dependencies struct {
	Normalizer domain.EvidenceNormalizer
	Matcher    domain.InteractionMatcher
	Deriver    domain.PhenotypeDeriver
	Calculator domain.DoseCalculator
	Safety     *service.SafetyService
	Snapshots  *snapshot.Builder
}

// Server represents the rx-safety MCP server
type Server struct {
	mcpServer *mcp.Server
	deps      Dependencies
	logger    *logrus.Logger
}

// NewServer creates a new MCP server instance and registers its tools.
func NewServer(cfg domain.MCPConfig, deps Dependencies, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}

	name, version := cfg.ServerName, cfg.ServerVersion
	if name == "" {
		name = "rx-safety-engine"
	}
	if version == "" {
		version = "1.0.0"
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		deps:      deps,
		logger:    logger,
	}
	s.registerTools()

	return s
}

// Start runs the server over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting rx-safety MCP server on stdio")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Connect attaches the server to an arbitrary transport, mainly for tests.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcpServer.Connect(ctx, t, nil)
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "normalize_evidence",
		Description: "Aggregate raw drug-interaction evidence records into one judgment per drug pair",
	}, s.handleNormalizeEvidence)

	if s.deps.Snapshots != nil {
		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name:        "lookup_interaction",
			Description: "Look up the normalized interaction for a drug pair in the current evidence snapshot",
		}, s.handleLookupInteraction)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "suggest_alternatives",
		Description: "Suggest safer alternatives for interacting drug pairs in a medication list",
	}, s.handleSuggestAlternatives)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "derive_phenotypes",
		Description: "Derive CYP2C19, CYP2C9 and CYP2D6 metabolizer phenotypes from genomic observations",
	}, s.handleDerivePhenotypes)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "calculate_mme",
		Description: "Calculate the daily morphine milligram equivalent of an opioid regimen",
	}, s.handleCalculateMME)

	if s.deps.Safety != nil {
		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name:        "evaluate_safety",
			Description: "Run all safety checks over a patient's drugs, genomic observations and opioid regimen",
		}, s.handleEvaluateSafety)
	}

	s.logger.Debug("Registered MCP tools")
}

// NormalizeEvidenceParams defines parameters for normalize_evidence
type NormalizeEvidenceParams struct {
	Records []domain.InteractionEvidenceRecord `json:"records"`
}

// LookupInteractionParams defines parameters for lookup_interaction
type LookupInteractionParams struct {
	DrugA domain.DrugIdentity `json:"drug_a"`
	DrugB domain.DrugIdentity `json:"drug_b"`
}

// SuggestAlternativesParams defines parameters for suggest_alternatives
type SuggestAlternativesParams struct {
	Drugs []domain.DrugIdentity `json:"drugs"`
}

// DerivePhenotypesParams defines parameters for derive_phenotypes
type DerivePhenotypesParams struct {
	Observations []domain.GenomicObservation `json:"observations"`
}

// CalculateMMEParams defines parameters for calculate_mme
type CalculateMMEParams struct {
	Opioids []domain.OpioidDose `json:"opioids"`
}

func (s *Server) handleNormalizeEvidence(ctx context.Context, req *mcp.CallToolRequest, params NormalizeEvidenceParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "normalize_evidence").Info("Tool invoked")

	result := s.deps.Normalizer.Aggregate(params.Records)
	return s.jsonResult(map[string]interface{}{
		"interactions": result.List(),
		"skipped":      result.Skipped,
	}), nil, nil
}

func (s *Server) handleLookupInteraction(ctx context.Context, req *mcp.CallToolRequest, params LookupInteractionParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "lookup_interaction").Info("Tool invoked")

	if params.DrugA.IsEmpty() || params.DrugB.IsEmpty() {
		return s.createErrorResult("Missing required parameter", errors.New("drug_a and drug_b need a name or rxcui")), nil, nil
	}

	ni, err := s.deps.Snapshots.Lookup(params.DrugA, params.DrugB)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return s.jsonResult(map[string]interface{}{"found": false}), nil, nil
	case err != nil:
		return s.createErrorResult("Interaction lookup failed", err), nil, nil
	}

	return s.jsonResult(map[string]interface{}{"found": true, "interaction": ni}), nil, nil
}

func (s *Server) handleSuggestAlternatives(ctx context.Context, req *mcp.CallToolRequest, params SuggestAlternativesParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "suggest_alternatives").Info("Tool invoked")

	suggestions, diagnostics := s.deps.Matcher.Match(params.Drugs)
	return s.jsonResult(map[string]interface{}{
		"alternatives": suggestions,
		"diagnostics":  diagnostics,
	}), nil, nil
}

func (s *Server) handleDerivePhenotypes(ctx context.Context, req *mcp.CallToolRequest, params DerivePhenotypesParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "derive_phenotypes").Info("Tool invoked")

	return s.jsonResult(map[string]interface{}{
		"phenotypes": s.deps.Deriver.Derive(params.Observations),
	}), nil, nil
}

func (s *Server) handleCalculateMME(ctx context.Context, req *mcp.CallToolRequest, params CalculateMMEParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "calculate_mme").Info("Tool invoked")

	return s.jsonResult(s.deps.Calculator.Calculate(params.Opioids)), nil, nil
}

func (s *Server) handleEvaluateSafety(ctx context.Context, req *mcp.CallToolRequest, params domain.SafetyRequest) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "evaluate_safety").Info("Tool invoked")

	report, err := s.deps.Safety.Evaluate(ctx, params)
	if err != nil {
		return s.createErrorResult("Safety evaluation failed", err), nil, nil
	}
	return s.jsonResult(report), nil, nil
}

// jsonResult renders v as the single text content of a tool result.
func (s *Server) jsonResult(v interface{}) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return s.createErrorResult("Failed to encode result", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}
}

// createErrorResult creates a standardized error result for tool calls
func (s *Server) createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}
