package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/structfin/deal-reporting/internal/calculations"
	"github.com/structfin/deal-reporting/internal/catalog"
	"github.com/structfin/deal-reporting/internal/reports"
)

func dealConfig(columns ...reports.ColumnRef) *reports.ReportConfig {
	return &reports.ReportConfig{
		ID:            uuid.New(),
		Name:          "Deal Summary",
		Scope:         reports.ScopeDeal,
		SelectedDeals: pq.Int64Array{1, 2},
		Columns:       columns,
	}
}

func TestBuildPlanWeightedAverage(t *testing.T) {
	agg := calculations.AggWeightedAvg
	calc := &calculations.Calculation{
		ID:          uuid.New(),
		Name:        "WA Coupon",
		Type:        calculations.TypeUserDefined,
		GroupLevel:  catalog.LevelDeal,
		IsActive:    true,
		Aggregation: &agg,
		SourceModel: strPtr("Tranche"),
		SourceField: strPtr("interest_rate"),
		WeightField: strPtr("principal_amount"),
	}
	config := dealConfig(
		reports.ColumnRef{Kind: reports.ColumnKindField, FieldKey: "deal.issuer", Position: 0},
		reports.ColumnRef{Kind: reports.ColumnKindCalculation, CalculationID: &calc.ID, Position: 1},
	)

	plan, err := buildPlan(catalog.NewFieldCatalog(), config,
		map[uuid.UUID]*calculations.Calculation{calc.ID: calc}, "2026-Q2")
	require.NoError(t, err)

	assert.Contains(t, plan.SQL,
		"SUM(t.interest_rate * t.tranche_principal_amount) / NULLIF(SUM(t.tranche_principal_amount), 0) AS weighted_avg_interest_rate")
	assert.Contains(t, plan.SQL, "LEFT JOIN tranche_facts t")
	assert.Contains(t, plan.SQL, "GROUP BY d.deal_id, d.issuer")
	require.Len(t, plan.Args, 2)
	assert.Equal(t, "2026-Q2", plan.Args[0])
}

func TestBuildPlanSystemSqlJoin(t *testing.T) {
	calc := &calculations.Calculation{
		ID:           uuid.New(),
		Name:         "Collateral Balance",
		Type:         calculations.TypeSystemSql,
		GroupLevel:   catalog.LevelDeal,
		IsActive:     true,
		SqlText:      strPtr("SELECT deal_id, SUM(bal) AS total_bal FROM collateral GROUP BY deal_id;"),
		ResultColumn: strPtr("total_bal"),
		ApprovedBy:   func() *uuid.UUID { id := uuid.New(); return &id }(),
	}
	config := dealConfig(
		reports.ColumnRef{Kind: reports.ColumnKindCalculation, CalculationID: &calc.ID, Position: 0},
	)

	plan, err := buildPlan(catalog.NewFieldCatalog(), config,
		map[uuid.UUID]*calculations.Calculation{calc.ID: calc}, "2026-Q2")
	require.NoError(t, err)

	// trailing semicolon must be stripped before embedding
	assert.Contains(t, plan.SQL,
		"LEFT JOIN (SELECT deal_id, SUM(bal) AS total_bal FROM collateral GROUP BY deal_id) sq0 ON sq0.deal_id = d.deal_id")
	assert.Contains(t, plan.SQL, "sq0.total_bal AS total_bal")
	assert.NotContains(t, plan.SQL, ";")
}

func TestBuildPlanDependentWrapsInnerQuery(t *testing.T) {
	agg := calculations.AggSum
	base := &calculations.Calculation{
		ID:          uuid.New(),
		Name:        "Total Principal",
		Type:        calculations.TypeUserDefined,
		GroupLevel:  catalog.LevelDeal,
		IsActive:    true,
		Aggregation: &agg,
		SourceModel: strPtr("Tranche"),
		SourceField: strPtr("principal_amount"),
	}
	dependent := &calculations.Calculation{
		ID:           uuid.New(),
		Name:         "Principal Less Fees",
		Type:         calculations.TypeDependent,
		GroupLevel:   catalog.LevelDeal,
		IsActive:     true,
		Expression:   strPtr("${total} - 1000"),
		ResultColumn: strPtr("principal_less_fees"),
		Dependencies: calculations.DependencyList{
			{CalculationID: base.ID, Variable: "total"},
		},
	}
	config := dealConfig(
		reports.ColumnRef{Kind: reports.ColumnKindCalculation, CalculationID: &dependent.ID, Position: 0},
	)

	plan, err := buildPlan(catalog.NewFieldCatalog(), config,
		map[uuid.UUID]*calculations.Calculation{base.ID: base, dependent.ID: dependent}, "2026-Q2")
	require.NoError(t, err)

	assert.Contains(t, plan.SQL, "SELECT base.*, (sum_principal_amount - 1000) AS principal_less_fees FROM (")
	assert.Contains(t, plan.SQL, "SUM(t.tranche_principal_amount) AS sum_principal_amount")
	assert.Contains(t, plan.SQL, ") base")
}

func TestBuildPlanRejectsNestedDependents(t *testing.T) {
	inner := &calculations.Calculation{
		ID:           uuid.New(),
		Name:         "Inner",
		Type:         calculations.TypeDependent,
		GroupLevel:   catalog.LevelDeal,
		IsActive:     true,
		Expression:   strPtr("${x} * 2"),
		ResultColumn: strPtr("inner_col"),
	}
	outer := &calculations.Calculation{
		ID:           uuid.New(),
		Name:         "Outer",
		Type:         calculations.TypeDependent,
		GroupLevel:   catalog.LevelDeal,
		IsActive:     true,
		Expression:   strPtr("${y} + 1"),
		ResultColumn: strPtr("outer_col"),
		Dependencies: calculations.DependencyList{
			{CalculationID: inner.ID, Variable: "y"},
		},
	}
	config := dealConfig(
		reports.ColumnRef{Kind: reports.ColumnKindCalculation, CalculationID: &outer.ID, Position: 0},
	)

	_, err := buildPlan(catalog.NewFieldCatalog(), config,
		map[uuid.UUID]*calculations.Calculation{inner.ID: inner, outer.ID: outer}, "2026-Q2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot depend on another dependent")
}
