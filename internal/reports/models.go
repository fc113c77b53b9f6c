package reports

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/structfin/deal-reporting/internal/catalog"
)

// =====================================================
// Enums and Constants
// =====================================================

// Scope determines the granularity of a report's output rows.
type Scope string

const (
	ScopeDeal    Scope = "DEAL"
	ScopeTranche Scope = "TRANCHE"
)

// Valid reports whether the scope is known.
func (s Scope) Valid() bool {
	return s == ScopeDeal || s == ScopeTranche
}

// Level returns the hierarchy level matching the scope.
func (s Scope) Level() catalog.GroupLevel {
	if s == ScopeTranche {
		return catalog.LevelTranche
	}
	return catalog.LevelDeal
}

// ColumnKind discriminates report column references.
type ColumnKind string

const (
	ColumnKindField       ColumnKind = "field"
	ColumnKindCalculation ColumnKind = "calculation"
)

// =====================================================
// Column and Selection Types
// =====================================================

// ColumnRef selects one report column: either a static catalog field by
// key or a calculation by id.
type ColumnRef struct {
	Kind          ColumnKind `json:"kind"`
	FieldKey      string     `json:"field_key,omitempty"`
	CalculationID *uuid.UUID `json:"calculation_id,omitempty"`
	Position      int        `json:"position"`
}

// ColumnList is the JSONB-stored ordered column selection of a report.
type ColumnList []ColumnRef

// Value implements driver.Valuer
func (c ColumnList) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner
func (c *ColumnList) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("expected []byte for column list, got %T", value)
	}
	return json.Unmarshal(bytes, c)
}

// TrancheSelection maps selected deal ids to the tranche ids chosen under
// each. Empty when scope is DEAL. Stored as JSONB; object keys are the
// deal ids as decimal strings.
type TrancheSelection map[int64][]int64

// Value implements driver.Valuer
func (t TrancheSelection) Value() (driver.Value, error) {
	if t == nil {
		return nil, nil
	}
	m := make(map[string][]int64, len(t))
	for dealID, tranches := range t {
		m[fmt.Sprintf("%d", dealID)] = tranches
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (t *TrancheSelection) Scan(value interface{}) error {
	if value == nil {
		*t = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("expected []byte for tranche selection, got %T", value)
	}
	var m map[string][]int64
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	out := make(TrancheSelection, len(m))
	for key, tranches := range m {
		var dealID int64
		if _, err := fmt.Sscanf(key, "%d", &dealID); err != nil {
			return fmt.Errorf("invalid deal id key %q: %w", key, err)
		}
		out[dealID] = tranches
	}
	*t = out
	return nil
}

// AllTrancheIDs flattens the selection into a single id list.
func (t TrancheSelection) AllTrancheIDs() []int64 {
	var ids []int64
	for _, tranches := range t {
		ids = append(ids, tranches...)
	}
	return ids
}

// =====================================================
// Core Model
// =====================================================

// ReportConfig is a saved report template: scope, entity selection, and
// column selection. Persisted records round-trip losslessly through
// edit, save, and reload.
type ReportConfig struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	Name             string           `json:"name" db:"name"`
	Scope            Scope            `json:"scope" db:"scope"`
	CreatedBy        *uuid.UUID       `json:"created_by,omitempty" db:"created_by"`
	SelectedDeals    pq.Int64Array    `json:"selected_deals" db:"selected_deals"`
	SelectedTranches TrancheSelection `json:"selected_tranches,omitempty" db:"selected_tranches"`
	Columns          ColumnList       `json:"columns" db:"columns"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
}

// =====================================================
// Request/Response Types
// =====================================================

// CreateReportRequest is the payload to create a report configuration.
type CreateReportRequest struct {
	Name             string           `json:"name" binding:"required,min=1,max=255"`
	Scope            Scope            `json:"scope" binding:"required"`
	SelectedDeals    []int64          `json:"selected_deals"`
	SelectedTranches TrancheSelection `json:"selected_tranches,omitempty"`
	Columns          []ColumnRef      `json:"columns"`
}

// UpdateReportRequest is the payload to update a report configuration.
type UpdateReportRequest struct {
	Name             *string          `json:"name,omitempty"`
	Scope            *Scope           `json:"scope,omitempty"`
	SelectedDeals    []int64          `json:"selected_deals,omitempty"`
	SelectedTranches TrancheSelection `json:"selected_tranches,omitempty"`
	Columns          []ColumnRef      `json:"columns,omitempty"`
}

// ColumnMeta describes one output column of an executed report.
type ColumnMeta struct {
	Field        string `json:"field"`
	Header       string `json:"header"`
	FormatType   string `json:"format_type"`
	DisplayOrder int    `json:"display_order"`
}

// Result is the tabular output of a report execution.
type Result struct {
	Rows      []map[string]interface{} `json:"rows"`
	Columns   []ColumnMeta             `json:"columns"`
	TotalRows int                      `json:"total_rows"`
}

// NotFoundError reports a missing report configuration.
type NotFoundError struct {
	ReportID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("report not found: %s", e.ReportID)
}

// ExecutionError wraps a failure from the external data engine. Runs are
// never retried; the underlying message surfaces to the caller.
type ExecutionError struct {
	ReportID uuid.UUID
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("report %s execution failed: %v", e.ReportID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
