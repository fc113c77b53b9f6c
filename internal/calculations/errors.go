package calculations

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/structfin/deal-reporting/internal/catalog"
)

// ValidationError represents a single field-scoped validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult collects the validation failures of one request.
type ValidationResult struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

func (r *ValidationResult) AddError(field, code, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Code: code, Message: message})
	r.IsValid = false
}

// Err converts an invalid result into an error; valid results return nil.
func (r *ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return &InvalidInputError{Result: r, msg: strings.Join(msgs, "; ")}
}

// InvalidInputError wraps a failed ValidationResult as an error.
type InvalidInputError struct {
	Result *ValidationResult
	msg    string
}

func (e *InvalidInputError) Error() string {
	return "validation failed: " + e.msg
}

// UniquenessError reports a duplicate output column name within a group
// level.
type UniquenessError struct {
	Column string
	Level  catalog.GroupLevel
}

func (e *UniquenessError) Error() string {
	return fmt.Sprintf("output column %q already exists at %s level", e.Column, e.Level)
}

// InUseError blocks deletion of a calculation that is still referenced.
// The blocking reports and calculations are listed so the caller can act.
type InUseError struct {
	CalculationID uuid.UUID
	Usage         *Usage
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("calculation %s is in use by %d report(s) and %d calculation(s)",
		e.CalculationID, len(e.Usage.Reports), len(e.Usage.Calculations))
}

// ApprovalRequiredError reports use of a system SQL calculation that has
// no recorded approver.
type ApprovalRequiredError struct {
	CalculationID uuid.UUID
	Name          string
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("system SQL calculation %q requires approval before use", e.Name)
}

// NotFoundError reports a missing calculation.
type NotFoundError struct {
	CalculationID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("calculation not found: %s", e.CalculationID)
}
