package calculations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/structfin/deal-reporting/internal/expression"
	"github.com/structfin/deal-reporting/internal/sqlcheck"
)

// Service provides business logic for calculation management.
type Service struct {
	repo      Repository
	usage     *UsageIndex
	validator *Validator
	logger    *zap.Logger
}

// NewService creates a new calculations service.
func NewService(repo Repository, usage *UsageIndex, validator *Validator, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		usage:     usage,
		validator: validator,
		logger:    logger,
	}
}

// CreateCalculation validates and persists a new calculation. Validation
// always precedes the write; nothing partial is ever stored.
func (s *Service) CreateCalculation(ctx context.Context, userID uuid.UUID, req *CreateRequest) (*Calculation, error) {
	now := time.Now()
	calc := &Calculation{
		ID:           uuid.New(),
		Name:         req.Name,
		Description:  req.Description,
		Type:         req.Type,
		GroupLevel:   req.GroupLevel,
		CreatedBy:    &userID,
		IsActive:     true,
		Aggregation:  req.Aggregation,
		SourceModel:  req.SourceModel,
		SourceField:  req.SourceField,
		WeightField:  req.WeightField,
		FieldName:    req.FieldName,
		FieldType:    req.FieldType,
		SqlText:      req.SqlText,
		ResultColumn: req.ResultColumn,
		Dependencies: req.Dependencies,
		Expression:   req.Expression,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for i := range calc.Dependencies {
		calc.Dependencies[i].Position = i
	}

	if err := s.validate(ctx, calc); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, calc); err != nil {
		return nil, err
	}

	s.logger.Info("Calculation created",
		zap.String("calculation_id", calc.ID.String()),
		zap.String("name", calc.Name),
		zap.String("type", string(calc.Type)),
		zap.String("group_level", string(calc.GroupLevel)))

	return calc, nil
}

// UpdateCalculation re-validates and rewrites an existing calculation.
// The variant type is fixed at creation. Concurrent edits are last write
// wins; callers re-fetch before editing.
func (s *Service) UpdateCalculation(ctx context.Context, id uuid.UUID, req *UpdateRequest) (*Calculation, error) {
	calc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		calc.Name = *req.Name
	}
	if req.Description != nil {
		calc.Description = req.Description
	}
	if req.IsActive != nil {
		calc.IsActive = *req.IsActive
	}
	if req.Aggregation != nil {
		calc.Aggregation = req.Aggregation
	}
	if req.SourceModel != nil {
		calc.SourceModel = req.SourceModel
	}
	if req.SourceField != nil {
		calc.SourceField = req.SourceField
	}
	if req.WeightField != nil {
		calc.WeightField = req.WeightField
	}
	if req.FieldName != nil {
		calc.FieldName = req.FieldName
	}
	if req.FieldType != nil {
		calc.FieldType = req.FieldType
	}
	if req.SqlText != nil {
		calc.SqlText = req.SqlText
		// Edited SQL loses its approval until re-approved.
		calc.ApprovedBy = nil
		calc.ApprovedAt = nil
	}
	if req.ResultColumn != nil {
		calc.ResultColumn = req.ResultColumn
	}
	if req.Dependencies != nil {
		calc.Dependencies = req.Dependencies
		for i := range calc.Dependencies {
			calc.Dependencies[i].Position = i
		}
	}
	if req.Expression != nil {
		calc.Expression = req.Expression
	}
	calc.UpdatedAt = time.Now()

	if err := s.validate(ctx, calc); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, calc); err != nil {
		return nil, err
	}

	s.logger.Info("Calculation updated",
		zap.String("calculation_id", id.String()),
		zap.String("name", calc.Name))

	return calc, nil
}

// DeleteCalculation removes a calculation unless anything still
// references it; the blocking set is returned inside InUseError. The
// reference check and the delete run in one repository transaction.
func (s *Service) DeleteCalculation(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteIfUnused(ctx, id); err != nil {
		return err
	}

	s.logger.Info("Calculation deleted", zap.String("calculation_id", id.String()))
	return nil
}

// GetCalculation retrieves a calculation by id.
func (s *Service) GetCalculation(ctx context.Context, id uuid.UUID) (*Calculation, error) {
	return s.repo.Get(ctx, id)
}

// ListCalculations lists calculations ordered by name.
func (s *Service) ListCalculations(ctx context.Context, filters *ListFilters) ([]*Calculation, error) {
	return s.repo.List(ctx, filters)
}

// ListAvailable returns the calculations usable as report columns at the
// given scope level: active, and for system SQL, approved.
func (s *Service) ListAvailable(ctx context.Context, filters *ListFilters) ([]*Calculation, error) {
	if filters == nil {
		filters = &ListFilters{}
	}
	filters.ActiveOnly = true

	calcs, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, err
	}

	available := make([]*Calculation, 0, len(calcs))
	for _, calc := range calcs {
		if !calc.IsApproved() {
			continue
		}
		available = append(available, calc)
	}
	return available, nil
}

// GetUsage returns the reverse-reference set for a calculation.
func (s *Service) GetUsage(ctx context.Context, id uuid.UUID) (*Usage, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.usage.GetUsageFor(ctx, id)
}

// ValidateExpression runs advisory expression validation against a
// declared dependency list, resolving display names and output columns
// from the store.
func (s *Service) ValidateExpression(ctx context.Context, req *ValidateExpressionRequest) (*expression.Result, error) {
	deps, _, err := s.resolveDependencies(ctx, req.Dependencies)
	if err != nil {
		return nil, err
	}
	return expression.Validate(req.Expression, deps)
}

// ValidateSystemSql statically validates raw SQL without executing it.
func (s *Service) ValidateSystemSql(_ context.Context, req *ValidateSqlRequest) *sqlcheck.Result {
	return sqlcheck.Validate(req.SqlText, req.ResultColumn)
}

// ApproveSystemSql records an approver on a system SQL calculation after
// re-running shape validation.
func (s *Service) ApproveSystemSql(ctx context.Context, id, approverID uuid.UUID) (*Calculation, error) {
	calc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if calc.Type != TypeSystemSql {
		result := &ValidationResult{IsValid: true}
		result.AddError("type", "invalid", "Only system SQL calculations require approval")
		return nil, result.Err()
	}

	sqlResult := sqlcheck.Validate(*calc.SqlText, *calc.ResultColumn)
	if err := sqlResult.Err(); err != nil {
		return nil, err
	}

	if err := s.repo.RecordApproval(ctx, id, approverID); err != nil {
		return nil, err
	}

	s.logger.Info("System SQL calculation approved",
		zap.String("calculation_id", id.String()),
		zap.String("approved_by", approverID.String()))

	return s.repo.Get(ctx, id)
}

// validate runs variant validation plus the cross-record checks that need
// the store: dependency existence/activity, expression resolution, and
// cycle detection.
func (s *Service) validate(ctx context.Context, calc *Calculation) error {
	if err := s.validator.ValidateCalculation(calc).Err(); err != nil {
		return err
	}

	if calc.Type != TypeDependent {
		return nil
	}

	deps, byID, err := s.resolveDependencies(ctx, calc.Dependencies)
	if err != nil {
		return err
	}

	if _, err := expression.Validate(*calc.Expression, deps); err != nil {
		return err
	}

	if err := expression.DetectCycle(ctx, calc.ID, deps, s.repo.DependencyIDs); err != nil {
		return err
	}

	// Dependents resolve one level deep, against concrete columns of the
	// inner query. A reference to another dependent is rejected here so
	// the save fails with a field-scoped error instead of surfacing at
	// report run time. Cycles are checked first: a self-referencing chain
	// reports as a cycle, not as nesting.
	result := &ValidationResult{IsValid: true}
	for i, d := range calc.Dependencies {
		if ref, ok := byID[d.CalculationID]; ok && ref.Type == TypeDependent {
			result.AddError(fmt.Sprintf("dependencies[%d].calculation_id", i), "nested_dependent",
				fmt.Sprintf("Referenced calculation %q is a dependent calculation; dependents may only reference user-defined, system field, or system SQL calculations", ref.Name))
		}
	}
	return result.Err()
}

// resolveDependencies loads each referenced calculation and binds its
// display name and output column to the declared variable. Missing or
// inactive references fail validation. The loaded records are returned
// alongside the bindings for any checks that need the referenced type.
func (s *Service) resolveDependencies(ctx context.Context, deps []Dependency) ([]expression.Dependency, map[uuid.UUID]*Calculation, error) {
	ids := make([]uuid.UUID, len(deps))
	for i, d := range deps {
		ids[i] = d.CalculationID
	}

	byID, err := s.repo.GetMany(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	result := &ValidationResult{IsValid: true}
	resolved := make([]expression.Dependency, 0, len(deps))
	for i, d := range deps {
		fieldPath := fmt.Sprintf("dependencies[%d]", i)
		ref, ok := byID[d.CalculationID]
		if !ok {
			result.AddError(fieldPath+".calculation_id", "not_found",
				fmt.Sprintf("Referenced calculation %s does not exist", d.CalculationID))
			continue
		}
		if !ref.IsActive {
			result.AddError(fieldPath+".calculation_id", "inactive",
				fmt.Sprintf("Referenced calculation %q is inactive", ref.Name))
			continue
		}
		resolved = append(resolved, expression.Dependency{
			CalculationID: d.CalculationID,
			Variable:      d.Variable,
			DisplayName:   ref.Name,
			OutputColumn:  ref.OutputColumn(),
		})
	}
	if err := result.Err(); err != nil {
		return nil, nil, err
	}
	return resolved, byID, nil
}
