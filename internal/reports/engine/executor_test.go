package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/structfin/deal-reporting/internal/calculations"
	"github.com/structfin/deal-reporting/internal/catalog"
	"github.com/structfin/deal-reporting/internal/reports"
)

// MockConfigSource mocks report configuration loading.
type MockConfigSource struct {
	mock.Mock
}

func (m *MockConfigSource) Get(ctx context.Context, id uuid.UUID) (*reports.ReportConfig, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reports.ReportConfig), args.Error(1)
}

// MockCalculationLoader mocks bulk calculation resolution.
type MockCalculationLoader struct {
	mock.Mock
}

func (m *MockCalculationLoader) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*calculations.Calculation, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).(map[uuid.UUID]*calculations.Calculation), args.Error(1)
}

// MockWarehouse mocks the external data engine.
type MockWarehouse struct {
	mock.Mock
}

func (m *MockWarehouse) Query(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	called := m.Called(ctx, query, args)
	if called.Get(0) == nil {
		return nil, called.Error(1)
	}
	return called.Get(0).([]map[string]interface{}), called.Error(1)
}

func strPtr(s string) *string { return &s }

func sumPrincipalCalc() *calculations.Calculation {
	agg := calculations.AggSum
	return &calculations.Calculation{
		ID:          uuid.New(),
		Name:        "Total Principal",
		Type:        calculations.TypeUserDefined,
		GroupLevel:  catalog.LevelTranche,
		IsActive:    true,
		Aggregation: &agg,
		SourceModel: strPtr("Tranche"),
		SourceField: strPtr("principal_amount"),
	}
}

func trancheConfig(calcID *uuid.UUID) *reports.ReportConfig {
	columns := reports.ColumnList{
		{Kind: reports.ColumnKindField, FieldKey: "tranche.class_name", Position: 0},
	}
	if calcID != nil {
		columns = append(columns, reports.ColumnRef{
			Kind: reports.ColumnKindCalculation, CalculationID: calcID, Position: 1,
		})
	}
	return &reports.ReportConfig{
		ID:               uuid.New(),
		Name:             "Tranche Summary",
		Scope:            reports.ScopeTranche,
		SelectedDeals:    pq.Int64Array{1},
		SelectedTranches: reports.TrancheSelection{1: {10, 11}},
		Columns:          columns,
	}
}

func TestRunExecutesPlan(t *testing.T) {
	configs := new(MockConfigSource)
	loader := new(MockCalculationLoader)
	wh := new(MockWarehouse)
	executor := NewExecutor(configs, loader, catalog.NewFieldCatalog(), wh, zap.NewNop())
	ctx := context.Background()

	calc := sumPrincipalCalc()
	config := trancheConfig(&calc.ID)

	configs.On("Get", ctx, config.ID).Return(config, nil)
	loader.On("GetMany", ctx, []uuid.UUID{calc.ID}).
		Return(map[uuid.UUID]*calculations.Calculation{calc.ID: calc}, nil)
	wh.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return([]map[string]interface{}{
			{"deal_id": int64(1), "tranche_id": int64(10), "class_name": "A", "sum_principal_amount": 1000.0},
			{"deal_id": int64(1), "tranche_id": int64(11), "class_name": "B", "sum_principal_amount": 500.0},
		}, nil)

	result, exec, err := executor.Run(ctx, config.ID, "2026-Q2")
	require.NoError(t, err)

	assert.Equal(t, StateDone, exec.State)
	assert.NotNil(t, exec.EndedAt)
	assert.Equal(t, 2, result.TotalRows)
	require.Len(t, result.Columns, 2)
	assert.Equal(t, "class_name", result.Columns[0].Field)
	assert.Equal(t, "sum_principal_amount", result.Columns[1].Field)
	assert.Equal(t, "Total Principal", result.Columns[1].Header)

	query := wh.Calls[0].Arguments.String(1)
	assert.Contains(t, query, "SUM(t.tranche_principal_amount) AS sum_principal_amount")
	assert.Contains(t, query, "FROM tranche_facts t")
	assert.Contains(t, query, "t.cycle_id = $1")
}

func TestRunWrapsWarehouseFailure(t *testing.T) {
	configs := new(MockConfigSource)
	loader := new(MockCalculationLoader)
	wh := new(MockWarehouse)
	executor := NewExecutor(configs, loader, catalog.NewFieldCatalog(), wh, zap.NewNop())
	ctx := context.Background()

	config := trancheConfig(nil)
	configs.On("Get", ctx, config.ID).Return(config, nil)
	wh.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("relation tranche_facts does not exist"))

	_, exec, err := executor.Run(ctx, config.ID, "2026-Q2")
	require.Error(t, err)

	var execErr *reports.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, err.Error(), "relation tranche_facts does not exist")
	assert.Equal(t, StateFailed, exec.State)
	assert.NotEmpty(t, exec.Error)
}

func TestRunRejectsUnapprovedSystemSql(t *testing.T) {
	configs := new(MockConfigSource)
	loader := new(MockCalculationLoader)
	wh := new(MockWarehouse)
	executor := NewExecutor(configs, loader, catalog.NewFieldCatalog(), wh, zap.NewNop())
	ctx := context.Background()

	calc := &calculations.Calculation{
		ID:           uuid.New(),
		Name:         "Pending Balance",
		Type:         calculations.TypeSystemSql,
		GroupLevel:   catalog.LevelTranche,
		IsActive:     true,
		SqlText:      strPtr("SELECT tranche_id, SUM(bal) AS total_bal FROM tranchebal GROUP BY tranche_id"),
		ResultColumn: strPtr("total_bal"),
	}
	config := trancheConfig(&calc.ID)

	configs.On("Get", ctx, config.ID).Return(config, nil)
	loader.On("GetMany", ctx, []uuid.UUID{calc.ID}).
		Return(map[uuid.UUID]*calculations.Calculation{calc.ID: calc}, nil)

	_, exec, err := executor.Run(ctx, config.ID, "2026-Q2")
	require.Error(t, err)

	var approval *calculations.ApprovalRequiredError
	require.ErrorAs(t, err, &approval)
	assert.Equal(t, StateFailed, exec.State)
	wh.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything)
}

func TestPreviewNeverTouchesWarehouse(t *testing.T) {
	configs := new(MockConfigSource)
	loader := new(MockCalculationLoader)
	wh := new(MockWarehouse)
	executor := NewExecutor(configs, loader, catalog.NewFieldCatalog(), wh, zap.NewNop())
	ctx := context.Background()

	calc := sumPrincipalCalc()
	config := trancheConfig(&calc.ID)
	config.Columns = append(config.Columns, reports.ColumnRef{
		Kind: reports.ColumnKindField, FieldKey: "deal.closing_date", Position: 2,
	})

	configs.On("Get", ctx, config.ID).Return(config, nil)
	loader.On("GetMany", ctx, []uuid.UUID{calc.ID}).
		Return(map[uuid.UUID]*calculations.Calculation{calc.ID: calc}, nil)

	result, exec, err := executor.Preview(ctx, config.ID)
	require.NoError(t, err)

	assert.Equal(t, StateDone, exec.State)
	assert.Equal(t, 2, result.TotalRows) // one per selected tranche
	require.NotEmpty(t, result.Rows)

	row := result.Rows[0]
	assert.Equal(t, "", row["class_name"])
	assert.Equal(t, 0, row["sum_principal_amount"])
	assert.IsType(t, time.Time{}, row["closing_date"])

	wh.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything)
}

func TestStateMachineRejectsSkippingBuild(t *testing.T) {
	sm := newStateMachine()

	assert.True(t, sm.CanTransition(StateIdle, StateResolving))
	assert.True(t, sm.CanTransition(StateResolving, StateBuilding))
	assert.True(t, sm.CanTransition(StateResolving, StateDone)) // skeleton preview
	assert.True(t, sm.CanTransition(StateExecuting, StateFailed))

	assert.False(t, sm.CanTransition(StateIdle, StateExecuting))
	assert.False(t, sm.CanTransition(StateBuilding, StateDone))
	assert.False(t, sm.CanTransition(StateDone, StateResolving))
	assert.False(t, sm.CanTransition(StateFailed, StateResolving))
}
