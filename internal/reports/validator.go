package reports

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/structfin/deal-reporting/internal/calculations"
	"github.com/structfin/deal-reporting/internal/catalog"
)

// CalculationSource resolves the calculations referenced by report
// columns. Implemented by the calculations service.
type CalculationSource interface {
	GetCalculation(ctx context.Context, id uuid.UUID) (*calculations.Calculation, error)
}

// Validator checks report configurations at save time.
type Validator struct {
	catalog *catalog.FieldCatalog
	calcs   CalculationSource
}

// NewValidator creates a report validator.
func NewValidator(fieldCatalog *catalog.FieldCatalog, calcs CalculationSource) *Validator {
	return &Validator{catalog: fieldCatalog, calcs: calcs}
}

// ValidateConfig validates a report configuration before any write. All
// failures are collected; nothing partial is ever stored.
func (v *Validator) ValidateConfig(ctx context.Context, config *ReportConfig) *calculations.ValidationResult {
	result := &calculations.ValidationResult{IsValid: true}

	if config.Name == "" {
		result.AddError("name", "required", "Report name is required")
	}
	if !config.Scope.Valid() {
		result.AddError("scope", "invalid", "Scope must be DEAL or TRANCHE")
		return result
	}

	v.validateSelection(config, result)
	v.validateColumns(ctx, config, result)

	return result
}

// validateSelection enforces the deal/tranche selection rules: at least
// one deal always; for TRANCHE scope, at least one tranche overall and
// every tranche's owning deal among the selected deals.
func (v *Validator) validateSelection(config *ReportConfig, result *calculations.ValidationResult) {
	if len(config.SelectedDeals) == 0 {
		result.AddError("selected_deals", "required", "At least one deal must be selected")
	}

	selectedDeals := make(map[int64]bool, len(config.SelectedDeals))
	for _, id := range config.SelectedDeals {
		selectedDeals[id] = true
	}

	if config.Scope == ScopeDeal {
		if len(config.SelectedTranches) > 0 {
			result.AddError("selected_tranches", "invalid", "Tranche selection is not allowed for DEAL scope")
		}
		return
	}

	total := 0
	for dealID, tranches := range config.SelectedTranches {
		if !selectedDeals[dealID] {
			result.AddError("selected_tranches", "invalid",
				fmt.Sprintf("Tranches selected under deal %d, which is not in the selected deals", dealID))
		}
		total += len(tranches)
	}
	if total == 0 {
		result.AddError("selected_tranches", "required",
			"At least one tranche must be selected for TRANCHE scope")
	}
}

// validateColumns checks that every selected column exists and is
// compatible with the report scope: deal-level columns are usable
// everywhere; tranche-level columns only in TRANCHE reports.
func (v *Validator) validateColumns(ctx context.Context, config *ReportConfig, result *calculations.ValidationResult) {
	if len(config.Columns) == 0 {
		result.AddError("columns", "required", "At least one column is required")
		return
	}

	for i, col := range config.Columns {
		fieldPath := fmt.Sprintf("columns[%d]", i)

		switch col.Kind {
		case ColumnKindField:
			field, err := v.catalog.Lookup(col.FieldKey)
			if err != nil {
				result.AddError(fieldPath+".field_key", "invalid", err.Error())
				continue
			}
			if !levelCompatible(field.Level, config.Scope) {
				result.AddError(fieldPath+".field_key", "incompatible_level",
					fmt.Sprintf("Field %q is tranche-level and not usable in a DEAL report", col.FieldKey))
			}

		case ColumnKindCalculation:
			if col.CalculationID == nil {
				result.AddError(fieldPath+".calculation_id", "required", "Calculation id is required")
				continue
			}
			calc, err := v.calcs.GetCalculation(ctx, *col.CalculationID)
			if err != nil {
				result.AddError(fieldPath+".calculation_id", "not_found",
					fmt.Sprintf("Calculation %s does not exist", col.CalculationID))
				continue
			}
			if !calc.IsActive {
				result.AddError(fieldPath+".calculation_id", "inactive",
					fmt.Sprintf("Calculation %q is inactive", calc.Name))
			}
			if !levelCompatible(calc.GroupLevel, config.Scope) {
				result.AddError(fieldPath+".calculation_id", "incompatible_level",
					fmt.Sprintf("Calculation %q is tranche-level and not usable in a DEAL report", calc.Name))
			}

		default:
			result.AddError(fieldPath+".kind", "invalid",
				fmt.Sprintf("Unknown column kind: %s", col.Kind))
		}
	}
}

// levelCompatible implements the column compatibility rule: deal-level is
// always compatible; tranche-level only matches TRANCHE scope.
func levelCompatible(level catalog.GroupLevel, scope Scope) bool {
	return level == catalog.LevelDeal || level == scope.Level()
}
