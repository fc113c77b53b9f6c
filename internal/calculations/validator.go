package calculations

import (
	"fmt"
	"regexp"

	"github.com/structfin/deal-reporting/internal/catalog"
	"github.com/structfin/deal-reporting/internal/sqlcheck"
)

var variableNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Validator checks calculation payloads per variant before any write.
type Validator struct {
	catalog *catalog.FieldCatalog
}

// NewValidator creates a calculation validator over the static field
// catalog.
func NewValidator(fieldCatalog *catalog.FieldCatalog) *Validator {
	return &Validator{catalog: fieldCatalog}
}

// ValidateCalculation validates a fully assembled calculation record.
// Expression-level checks (variable resolution, cycles) are separate
// concerns handled by the expression engine and the service.
func (v *Validator) ValidateCalculation(calc *Calculation) *ValidationResult {
	result := &ValidationResult{IsValid: true}

	if calc.Name == "" {
		result.AddError("name", "required", "Name is required")
	}
	if !calc.Type.Valid() {
		result.AddError("type", "invalid", fmt.Sprintf("Unknown calculation type: %s", calc.Type))
		return result
	}
	if !calc.GroupLevel.Valid() {
		result.AddError("group_level", "invalid", "Group level must be 'deal' or 'tranche'")
		return result
	}

	switch calc.Type {
	case TypeUserDefined:
		v.validateUserDefined(calc, result)
	case TypeSystemField:
		v.validateSystemField(calc, result)
	case TypeSystemSql:
		v.validateSystemSql(calc, result)
	case TypeDependent:
		v.validateDependent(calc, result)
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

func (v *Validator) validateUserDefined(calc *Calculation, result *ValidationResult) {
	if calc.Aggregation == nil {
		result.AddError("aggregation", "required", "Aggregation function is required")
	} else if !calc.Aggregation.Valid() {
		result.AddError("aggregation", "invalid", fmt.Sprintf("Invalid aggregation function: %s", *calc.Aggregation))
	}

	if calc.SourceModel == nil || *calc.SourceModel == "" {
		result.AddError("source_model", "required", "Source model is required")
	}
	if calc.SourceField == nil || *calc.SourceField == "" {
		result.AddError("source_field", "required", "Source field is required")
	}

	if calc.SourceModel != nil && calc.SourceField != nil {
		if _, err := v.catalog.SourceFieldColumn(*calc.SourceModel, *calc.SourceField); err != nil {
			result.AddError("source_field", "invalid", err.Error())
		}
	}

	// Weight field is required exactly when the function is a weighted
	// average.
	weighted := calc.Aggregation != nil && *calc.Aggregation == AggWeightedAvg
	hasWeight := calc.WeightField != nil && *calc.WeightField != ""
	if weighted && !hasWeight {
		result.AddError("weight_field", "required", "Weight field is required for WEIGHTED_AVG")
	}
	if !weighted && hasWeight {
		result.AddError("weight_field", "invalid", "Weight field is only valid for WEIGHTED_AVG")
	}
	if hasWeight && calc.SourceModel != nil {
		if _, err := v.catalog.SourceFieldColumn(*calc.SourceModel, *calc.WeightField); err != nil {
			result.AddError("weight_field", "invalid", err.Error())
		}
	}
}

func (v *Validator) validateSystemField(calc *Calculation, result *ValidationResult) {
	if calc.SourceModel == nil || *calc.SourceModel == "" {
		result.AddError("source_model", "required", "Source model is required")
	}
	if calc.FieldName == nil || *calc.FieldName == "" {
		result.AddError("field_name", "required", "Field name is required")
	}
	if calc.FieldType == nil || *calc.FieldType == "" {
		result.AddError("field_type", "required", "Declared field type is required")
	} else {
		switch catalog.FieldType(*calc.FieldType) {
		case catalog.FieldTypeString, catalog.FieldTypeNumber, catalog.FieldTypeInteger,
			catalog.FieldTypeDate, catalog.FieldTypeTimestamp:
		default:
			result.AddError("field_type", "invalid", fmt.Sprintf("Unknown field type: %s", *calc.FieldType))
		}
	}
}

func (v *Validator) validateSystemSql(calc *Calculation, result *ValidationResult) {
	if calc.SqlText == nil || *calc.SqlText == "" {
		result.AddError("sql_text", "required", "SQL text is required")
	}
	if calc.ResultColumn == nil || *calc.ResultColumn == "" {
		result.AddError("result_column", "required", "Result column name is required")
	}
	if len(result.Errors) > 0 {
		return
	}

	sqlResult := sqlcheck.Validate(*calc.SqlText, *calc.ResultColumn)
	for _, msg := range sqlResult.Errors {
		result.AddError("sql_text", "invalid_sql", msg)
	}
}

func (v *Validator) validateDependent(calc *Calculation, result *ValidationResult) {
	if calc.ResultColumn == nil || *calc.ResultColumn == "" {
		result.AddError("result_column", "required", "Result column name is required")
	}
	if calc.Expression == nil || *calc.Expression == "" {
		result.AddError("expression", "required", "Expression is required")
	}
	if len(calc.Dependencies) == 0 {
		result.AddError("dependencies", "required", "At least one dependency is required")
	}

	seen := make(map[string]bool)
	for i, dep := range calc.Dependencies {
		fieldPath := fmt.Sprintf("dependencies[%d]", i)
		if dep.Variable == "" {
			result.AddError(fieldPath+".variable", "required", "Variable name is required")
			continue
		}
		if !variableNameRe.MatchString(dep.Variable) {
			result.AddError(fieldPath+".variable", "invalid_format",
				"Variable name must start with a letter and contain only letters, numbers, and underscores")
		}
		if seen[dep.Variable] {
			result.AddError(fieldPath+".variable", "duplicate",
				fmt.Sprintf("Variable %q is declared more than once", dep.Variable))
		}
		seen[dep.Variable] = true
	}
}
