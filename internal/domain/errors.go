package domain

import (
	"fmt"
	"time"
)

// SafetyError represents a standardized error response
type SafetyError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Error implements the error interface
func (e *SafetyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrInvalidInput        = "INVALID_INPUT"
	ErrValidation          = "VALIDATION_ERROR"
	ErrRuleTable           = "RULE_TABLE_ERROR"
	ErrStorage             = "STORAGE_ERROR"
	ErrSnapshotUnavailable = "SNAPSHOT_UNAVAILABLE"
	ErrNotFoundCode        = "NOT_FOUND"
	ErrInternalServer      = "INTERNAL_SERVER_ERROR"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewSafetyError creates a new SafetyError with timestamp
func NewSafetyError(code, message, details, requestID string) *SafetyError {
	return &SafetyError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// Diagnostic records an input item that was skipped or degraded instead of
// failing the computation.
type Diagnostic struct {
	Component string `json:"component"`
	Index     int    `json:"index"`
	Subject   string `json:"subject,omitempty"`
	Reason    string `json:"reason"`
}

// Components that emit diagnostics.
const (
	ComponentEvidenceNormalizer = "evidence_normalizer"
	ComponentInteractionMatcher = "interaction_matcher"
	ComponentPhenotypeDeriver   = "phenotype_deriver"
	ComponentDoseCalculator     = "dose_calculator"
	ComponentSafetyOrchestrator = "safety_orchestrator"
)
