package reports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Service provides business logic for report configuration management.
type Service struct {
	repo      Repository
	validator *Validator
	logger    *zap.Logger
}

// NewService creates a new reports service.
func NewService(repo Repository, validator *Validator, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		validator: validator,
		logger:    logger,
	}
}

// CreateReport validates and persists a new report configuration.
// Validation always precedes the write; nothing partial is ever stored.
func (s *Service) CreateReport(ctx context.Context, userID uuid.UUID, req *CreateReportRequest) (*ReportConfig, error) {
	now := time.Now()
	config := &ReportConfig{
		ID:               uuid.New(),
		Name:             req.Name,
		Scope:            req.Scope,
		CreatedBy:        &userID,
		SelectedDeals:    pq.Int64Array(req.SelectedDeals),
		SelectedTranches: req.SelectedTranches,
		Columns:          normalizeColumns(req.Columns),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.validator.ValidateConfig(ctx, config).Err(); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, config); err != nil {
		return nil, err
	}

	s.logger.Info("Report config created",
		zap.String("report_id", config.ID.String()),
		zap.String("name", config.Name),
		zap.String("scope", string(config.Scope)),
		zap.Int("columns", len(config.Columns)))

	return config, nil
}

// UpdateReport re-validates and rewrites an existing configuration.
// Concurrent edits are last write wins; callers re-fetch before editing.
func (s *Service) UpdateReport(ctx context.Context, id uuid.UUID, req *UpdateReportRequest) (*ReportConfig, error) {
	config, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		config.Name = *req.Name
	}
	if req.Scope != nil {
		config.Scope = *req.Scope
	}
	if req.SelectedDeals != nil {
		config.SelectedDeals = pq.Int64Array(req.SelectedDeals)
	}
	if req.SelectedTranches != nil {
		config.SelectedTranches = req.SelectedTranches
	}
	if req.Columns != nil {
		config.Columns = normalizeColumns(req.Columns)
	}
	// Switching to DEAL scope drops any tranche selection so the stored
	// record stays consistent with the scope rule.
	if config.Scope == ScopeDeal {
		config.SelectedTranches = nil
	}
	config.UpdatedAt = time.Now()

	if err := s.validator.ValidateConfig(ctx, config).Err(); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, config); err != nil {
		return nil, err
	}

	s.logger.Info("Report config updated",
		zap.String("report_id", id.String()),
		zap.String("name", config.Name))

	return config, nil
}

// DeleteReport removes a report configuration.
func (s *Service) DeleteReport(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Report config deleted", zap.String("report_id", id.String()))
	return nil
}

// GetReport retrieves a report configuration by id.
func (s *Service) GetReport(ctx context.Context, id uuid.UUID) (*ReportConfig, error) {
	return s.repo.Get(ctx, id)
}

// ListReports lists report configurations, optionally scoped to a
// creator.
func (s *Service) ListReports(ctx context.Context, createdBy *uuid.UUID) ([]*ReportConfig, error) {
	return s.repo.List(ctx, createdBy)
}

// normalizeColumns rewrites column positions to match list order.
func normalizeColumns(cols []ColumnRef) ColumnList {
	out := make(ColumnList, len(cols))
	copy(out, cols)
	for i := range out {
		out[i].Position = i
	}
	return out
}
