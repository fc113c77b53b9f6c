package calculations

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/structfin/deal-reporting/internal/catalog"
)

// =====================================================
// Enums and Constants
// =====================================================

// CalculationType discriminates the calculation variants.
type CalculationType string

const (
	TypeUserDefined CalculationType = "user_defined"
	TypeSystemField CalculationType = "system_field"
	TypeSystemSql   CalculationType = "system_sql"
	TypeDependent   CalculationType = "dependent"
)

// Valid reports whether the type is a known variant.
func (t CalculationType) Valid() bool {
	switch t {
	case TypeUserDefined, TypeSystemField, TypeSystemSql, TypeDependent:
		return true
	}
	return false
}

// AggregationFunc represents the aggregation applied by a user-defined
// calculation.
type AggregationFunc string

const (
	AggSum         AggregationFunc = "SUM"
	AggAvg         AggregationFunc = "AVG"
	AggMin         AggregationFunc = "MIN"
	AggMax         AggregationFunc = "MAX"
	AggCount       AggregationFunc = "COUNT"
	AggWeightedAvg AggregationFunc = "WEIGHTED_AVG"
)

// Valid reports whether the function is supported.
func (f AggregationFunc) Valid() bool {
	switch f {
	case AggSum, AggAvg, AggMin, AggMax, AggCount, AggWeightedAvg:
		return true
	}
	return false
}

// =====================================================
// Core Model
// =====================================================

// Dependency references another calculation by id under a local variable
// name. Order is significant for editing round-trips.
type Dependency struct {
	CalculationID uuid.UUID `json:"calculation_id" db:"calculation_id"`
	Variable      string    `json:"variable" db:"variable"`
	Position      int       `json:"position" db:"position"`
}

// DependencyList is the JSONB-stored ordered dependency list of a
// dependent calculation.
type DependencyList []Dependency

// Value implements driver.Valuer
func (d DependencyList) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner
func (d *DependencyList) Scan(value interface{}) error {
	if value == nil {
		*d = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("expected []byte for dependency list, got %T", value)
	}
	return json.Unmarshal(bytes, d)
}

// Calculation is a reusable analyst-defined computation over the
// deal/tranche model. It is a tagged union over CalculationType: the
// variant-specific fields are pointers and populated only for their
// variant; dispatch is by a switch on Type, never by embedding.
type Calculation struct {
	ID          uuid.UUID          `json:"id" db:"id"`
	Name        string             `json:"name" db:"name"`
	Description *string            `json:"description,omitempty" db:"description"`
	Type        CalculationType    `json:"type" db:"type"`
	GroupLevel  catalog.GroupLevel `json:"group_level" db:"group_level"`
	CreatedBy   *uuid.UUID         `json:"created_by,omitempty" db:"created_by"`
	IsActive    bool               `json:"is_active" db:"is_active"`

	// UserDefined
	Aggregation *AggregationFunc `json:"aggregation,omitempty" db:"aggregation"`
	SourceModel *string          `json:"source_model,omitempty" db:"source_model"`
	SourceField *string          `json:"source_field,omitempty" db:"source_field"`
	WeightField *string          `json:"weight_field,omitempty" db:"weight_field"`

	// SystemField
	FieldName *string `json:"field_name,omitempty" db:"field_name"`
	FieldType *string `json:"field_type,omitempty" db:"field_type"`

	// SystemSql
	SqlText    *string    `json:"sql_text,omitempty" db:"sql_text"`
	ApprovedBy *uuid.UUID `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt *time.Time `json:"approved_at,omitempty" db:"approved_at"`

	// SystemSql and Dependent
	ResultColumn *string `json:"result_column,omitempty" db:"result_column"`

	// Dependent
	Dependencies DependencyList `json:"dependencies,omitempty" db:"dependencies"`
	Expression   *string        `json:"expression,omitempty" db:"expression"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// OutputColumn returns the column name this calculation projects into
// report output. Uniqueness of this value per group level is enforced at
// save time.
func (c *Calculation) OutputColumn() string {
	switch c.Type {
	case TypeUserDefined:
		if c.Aggregation == nil || c.SourceField == nil {
			return ""
		}
		return strings.ToLower(string(*c.Aggregation)) + "_" + *c.SourceField
	case TypeSystemField:
		if c.FieldName == nil {
			return ""
		}
		return *c.FieldName
	case TypeSystemSql, TypeDependent:
		if c.ResultColumn == nil {
			return ""
		}
		return *c.ResultColumn
	}
	return ""
}

// IsApproved reports whether a system SQL calculation has a recorded
// approver. Other variants need no approval.
func (c *Calculation) IsApproved() bool {
	if c.Type != TypeSystemSql {
		return true
	}
	return c.ApprovedBy != nil
}

// ResultType returns the declared output type used for skeleton previews
// and column formatting.
func (c *Calculation) ResultType() catalog.FieldType {
	switch c.Type {
	case TypeSystemField:
		if c.FieldType != nil {
			return catalog.FieldType(*c.FieldType)
		}
		return catalog.FieldTypeString
	default:
		return catalog.FieldTypeNumber
	}
}

// =====================================================
// Request Types
// =====================================================

// CreateRequest carries the fields for creating a calculation. Variant
// fields beyond the common set are validated per Type.
type CreateRequest struct {
	Name        string             `json:"name" binding:"required,min=1,max=255"`
	Description *string            `json:"description,omitempty"`
	Type        CalculationType    `json:"type" binding:"required"`
	GroupLevel  catalog.GroupLevel `json:"group_level" binding:"required"`

	Aggregation  *AggregationFunc `json:"aggregation,omitempty"`
	SourceModel  *string          `json:"source_model,omitempty"`
	SourceField  *string          `json:"source_field,omitempty"`
	WeightField  *string          `json:"weight_field,omitempty"`
	FieldName    *string          `json:"field_name,omitempty"`
	FieldType    *string          `json:"field_type,omitempty"`
	SqlText      *string          `json:"sql_text,omitempty"`
	ResultColumn *string          `json:"result_column,omitempty"`
	Dependencies []Dependency     `json:"dependencies,omitempty"`
	Expression   *string          `json:"expression,omitempty"`
}

// UpdateRequest carries the editable fields of a calculation. The variant
// type itself cannot change after creation.
type UpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`

	Aggregation  *AggregationFunc `json:"aggregation,omitempty"`
	SourceModel  *string          `json:"source_model,omitempty"`
	SourceField  *string          `json:"source_field,omitempty"`
	WeightField  *string          `json:"weight_field,omitempty"`
	FieldName    *string          `json:"field_name,omitempty"`
	FieldType    *string          `json:"field_type,omitempty"`
	SqlText      *string          `json:"sql_text,omitempty"`
	ResultColumn *string          `json:"result_column,omitempty"`
	Dependencies []Dependency     `json:"dependencies,omitempty"`
	Expression   *string          `json:"expression,omitempty"`
}

// ValidateExpressionRequest is the payload for advisory expression
// validation.
type ValidateExpressionRequest struct {
	Expression   string       `json:"expression" binding:"required"`
	Dependencies []Dependency `json:"dependencies"`
}

// ValidateSqlRequest is the payload for static SQL validation.
type ValidateSqlRequest struct {
	SqlText      string `json:"sql_text" binding:"required"`
	ResultColumn string `json:"result_column" binding:"required"`
}

// ListFilters narrows calculation listings.
type ListFilters struct {
	GroupLevel *catalog.GroupLevel `json:"group_level,omitempty"`
	Type       *CalculationType    `json:"type,omitempty"`
	ActiveOnly bool                `json:"active_only,omitempty"`
}

// =====================================================
// Usage Types
// =====================================================

// UsageRef identifies a report or calculation that references a
// calculation and therefore blocks its deletion.
type UsageRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Usage is the reverse-reference set for one calculation.
type Usage struct {
	IsInUse      bool       `json:"is_in_use"`
	ReportCount  int        `json:"report_count"`
	Reports      []UsageRef `json:"reports"`
	Calculations []UsageRef `json:"calculations"`
}
