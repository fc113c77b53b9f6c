package calculations

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/structfin/deal-reporting/internal/catalog"
	"github.com/structfin/deal-reporting/internal/expression"
)

// MockRepository is a mock implementation of the Repository interface
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, calc *Calculation) error {
	args := m.Called(ctx, calc)
	return args.Error(0)
}

func (m *MockRepository) Get(ctx context.Context, id uuid.UUID) (*Calculation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Calculation), args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, calc *Calculation) error {
	args := m.Called(ctx, calc)
	return args.Error(0)
}

func (m *MockRepository) DeleteIfUnused(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) List(ctx context.Context, filters *ListFilters) ([]*Calculation, error) {
	args := m.Called(ctx, filters)
	return args.Get(0).([]*Calculation), args.Error(1)
}

func (m *MockRepository) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Calculation, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).(map[uuid.UUID]*Calculation), args.Error(1)
}

func (m *MockRepository) DependentsReferencing(ctx context.Context, id uuid.UUID) ([]UsageRef, error) {
	args := m.Called(ctx, id)
	return args.Get(0).([]UsageRef), args.Error(1)
}

func (m *MockRepository) DependencyIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockRepository) RecordApproval(ctx context.Context, id, approverID uuid.UUID) error {
	args := m.Called(ctx, id, approverID)
	return args.Error(0)
}

// MockReportSource mocks the reverse-reference scan over report configs.
type MockReportSource struct {
	mock.Mock
}

func (m *MockReportSource) ReportsReferencingCalculation(ctx context.Context, id uuid.UUID) ([]UsageRef, error) {
	args := m.Called(ctx, id)
	return args.Get(0).([]UsageRef), args.Error(1)
}

func newTestService(repo *MockRepository, reports *MockReportSource) *Service {
	usage := NewUsageIndex(repo, reports)
	validator := NewValidator(catalog.NewFieldCatalog())
	return NewService(repo, usage, validator, zap.NewNop())
}

func TestCreateCalculation(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(mockRepo, new(MockReportSource))
	ctx := context.Background()

	mockRepo.On("Create", ctx, mock.AnythingOfType("*calculations.Calculation")).Return(nil)

	calc, err := service.CreateCalculation(ctx, uuid.New(), &CreateRequest{
		Name:        "Total Principal",
		Type:        TypeUserDefined,
		GroupLevel:  catalog.LevelTranche,
		Aggregation: aggPtr(AggSum),
		SourceModel: strPtr("Tranche"),
		SourceField: strPtr("principal_amount"),
	})

	require.NoError(t, err)
	assert.Equal(t, "Total Principal", calc.Name)
	assert.Equal(t, "sum_principal_amount", calc.OutputColumn())
	assert.True(t, calc.IsActive)

	mockRepo.AssertExpectations(t)
}

func TestCreateCalculationValidationPrecedesWrite(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(mockRepo, new(MockReportSource))

	_, err := service.CreateCalculation(context.Background(), uuid.New(), &CreateRequest{
		Name:       "Broken",
		Type:       TypeUserDefined,
		GroupLevel: catalog.LevelTranche,
	})

	require.Error(t, err)
	var invalidInput *InvalidInputError
	assert.ErrorAs(t, err, &invalidInput)
	mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateDependentRejectsUndeclaredVariable(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(mockRepo, new(MockReportSource))
	ctx := context.Background()

	depID := uuid.New()
	dep := userDefinedCalc()
	dep.ID = depID

	mockRepo.On("GetMany", ctx, []uuid.UUID{depID}).
		Return(map[uuid.UUID]*Calculation{depID: dep}, nil)

	_, err := service.CreateCalculation(ctx, uuid.New(), &CreateRequest{
		Name:         "Net of Fees",
		Type:         TypeDependent,
		GroupLevel:   catalog.LevelTranche,
		ResultColumn: strPtr("net_of_fees"),
		Expression:   strPtr("${unknown} + 1"),
		Dependencies: DependencyList{{CalculationID: depID, Variable: "principal_total"}},
	})

	require.Error(t, err)
	var exprErr *expression.Error
	require.ErrorAs(t, err, &exprErr)
	assert.Equal(t, []string{"unknown"}, exprErr.UndeclaredVariables)
	mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestUpdateDependentDetectsCycle(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(mockRepo, new(MockReportSource))
	ctx := context.Background()

	aID := uuid.New()
	bID := uuid.New()

	existing := &Calculation{
		ID:           aID,
		Name:         "A",
		Type:         TypeDependent,
		GroupLevel:   catalog.LevelTranche,
		IsActive:     true,
		ResultColumn: strPtr("a_col"),
		Expression:   strPtr("${b} + 1"),
	}
	other := &Calculation{
		ID:           bID,
		Name:         "B",
		Type:         TypeDependent,
		GroupLevel:   catalog.LevelTranche,
		IsActive:     true,
		ResultColumn: strPtr("b_col"),
		Expression:   strPtr("${a} + 1"),
		Dependencies: DependencyList{{CalculationID: aID, Variable: "a"}},
	}

	mockRepo.On("Get", ctx, aID).Return(existing, nil)
	mockRepo.On("GetMany", ctx, []uuid.UUID{bID}).
		Return(map[uuid.UUID]*Calculation{bID: other}, nil)
	mockRepo.On("DependencyIDs", ctx, bID).Return([]uuid.UUID{aID}, nil)

	_, err := service.UpdateCalculation(ctx, aID, &UpdateRequest{
		Dependencies: DependencyList{{CalculationID: bID, Variable: "b"}},
	})

	require.Error(t, err)
	var cycleErr *expression.CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []uuid.UUID{aID, bID, aID}, cycleErr.Path)
	mockRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestCreateDependentRejectsNestedDependent(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(mockRepo, new(MockReportSource))
	ctx := context.Background()

	baseID := uuid.New()
	nestedID := uuid.New()

	nested := &Calculation{
		ID:           nestedID,
		Name:         "Principal Less Fees",
		Type:         TypeDependent,
		GroupLevel:   catalog.LevelTranche,
		IsActive:     true,
		ResultColumn: strPtr("principal_less_fees"),
		Expression:   strPtr("${principal_total} - 1000"),
		Dependencies: DependencyList{{CalculationID: baseID, Variable: "principal_total"}},
	}

	mockRepo.On("GetMany", ctx, []uuid.UUID{nestedID}).
		Return(map[uuid.UUID]*Calculation{nestedID: nested}, nil)
	mockRepo.On("DependencyIDs", ctx, nestedID).Return([]uuid.UUID{baseID}, nil)
	mockRepo.On("DependencyIDs", ctx, baseID).Return([]uuid.UUID{}, nil)

	_, err := service.CreateCalculation(ctx, uuid.New(), &CreateRequest{
		Name:         "Net After Reserve",
		Type:         TypeDependent,
		GroupLevel:   catalog.LevelTranche,
		ResultColumn: strPtr("net_after_reserve"),
		Expression:   strPtr("${pl_fees} - 500"),
		Dependencies: DependencyList{{CalculationID: nestedID, Variable: "pl_fees"}},
	})

	require.Error(t, err)
	var invalidInput *InvalidInputError
	require.ErrorAs(t, err, &invalidInput)
	require.Len(t, invalidInput.Result.Errors, 1)
	assert.Equal(t, "dependencies[0].calculation_id", invalidInput.Result.Errors[0].Field)
	assert.Equal(t, "nested_dependent", invalidInput.Result.Errors[0].Code)
	mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestDeleteCalculationBlockedWhenInUse(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(mockRepo, new(MockReportSource))
	ctx := context.Background()

	calcID := uuid.New()
	reportID := uuid.New()

	mockRepo.On("DeleteIfUnused", ctx, calcID).Return(&InUseError{
		CalculationID: calcID,
		Usage: &Usage{
			IsInUse:     true,
			ReportCount: 1,
			Reports:     []UsageRef{{ID: reportID, Name: "Quarterly Tranche Summary"}},
		},
	})

	err := service.DeleteCalculation(ctx, calcID)
	require.Error(t, err)

	var inUse *InUseError
	require.ErrorAs(t, err, &inUse)
	require.Len(t, inUse.Usage.Reports, 1)
	assert.Equal(t, reportID, inUse.Usage.Reports[0].ID)
}

func TestDeleteCalculationSucceedsAfterReferenceRemoved(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(mockRepo, new(MockReportSource))
	ctx := context.Background()

	calcID := uuid.New()

	mockRepo.On("DeleteIfUnused", ctx, calcID).Return(&InUseError{
		CalculationID: calcID,
		Usage: &Usage{
			IsInUse:      true,
			Calculations: []UsageRef{{ID: uuid.New(), Name: "Principal Less Fees"}},
		},
	}).Once()
	mockRepo.On("DeleteIfUnused", ctx, calcID).Return(nil).Once()

	require.Error(t, service.DeleteCalculation(ctx, calcID))
	require.NoError(t, service.DeleteCalculation(ctx, calcID))
	mockRepo.AssertExpectations(t)
}

func TestUpdateSqlTextClearsApproval(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(mockRepo, new(MockReportSource))
	ctx := context.Background()

	calcID := uuid.New()
	approver := uuid.New()
	existing := &Calculation{
		ID:           calcID,
		Name:         "Tranche Balance",
		Type:         TypeSystemSql,
		GroupLevel:   catalog.LevelTranche,
		IsActive:     true,
		SqlText:      strPtr("SELECT tranche_id, SUM(bal) AS total_bal FROM tranchebal GROUP BY tranche_id"),
		ResultColumn: strPtr("total_bal"),
		ApprovedBy:   &approver,
	}

	mockRepo.On("Get", ctx, calcID).Return(existing, nil)
	mockRepo.On("Update", ctx, mock.AnythingOfType("*calculations.Calculation")).Return(nil)

	updated, err := service.UpdateCalculation(ctx, calcID, &UpdateRequest{
		SqlText: strPtr("SELECT tranche_id, AVG(bal) AS total_bal FROM tranchebal GROUP BY tranche_id"),
	})

	require.NoError(t, err)
	assert.Nil(t, updated.ApprovedBy)
	assert.Nil(t, updated.ApprovedAt)
	assert.False(t, updated.IsApproved())
}

func TestApproveSystemSqlRejectsOtherVariants(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(mockRepo, new(MockReportSource))
	ctx := context.Background()

	calc := userDefinedCalc()
	mockRepo.On("Get", ctx, calc.ID).Return(calc, nil)

	_, err := service.ApproveSystemSql(ctx, calc.ID, uuid.New())
	require.Error(t, err)

	var invalidInput *InvalidInputError
	assert.ErrorAs(t, err, &invalidInput)
}

func TestListAvailableExcludesUnapprovedSystemSql(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(mockRepo, new(MockReportSource))
	ctx := context.Background()

	approver := uuid.New()
	approved := &Calculation{
		ID: uuid.New(), Name: "Approved", Type: TypeSystemSql, IsActive: true,
		GroupLevel: catalog.LevelTranche, ApprovedBy: &approver,
	}
	unapproved := &Calculation{
		ID: uuid.New(), Name: "Pending", Type: TypeSystemSql, IsActive: true,
		GroupLevel: catalog.LevelTranche,
	}
	plain := userDefinedCalc()

	mockRepo.On("List", ctx, mock.AnythingOfType("*calculations.ListFilters")).
		Return([]*Calculation{approved, unapproved, plain}, nil)

	available, err := service.ListAvailable(ctx, nil)
	require.NoError(t, err)
	require.Len(t, available, 2)
	assert.Equal(t, "Approved", available[0].Name)
	assert.Equal(t, plain.Name, available[1].Name)
}
