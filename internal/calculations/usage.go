package calculations

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ReportUsageSource reports which report configurations select a
// calculation as a column. Implemented by the reports repository.
type ReportUsageSource interface {
	ReportsReferencingCalculation(ctx context.Context, id uuid.UUID) ([]UsageRef, error)
}

// UsageIndex resolves the reverse-reference set for a calculation. Every
// lookup scans the current data; nothing is cached. The delete gate does
// not go through this index: it re-runs the scans inside the repository's
// delete transaction.
type UsageIndex struct {
	calcs   Repository
	reports ReportUsageSource
}

// NewUsageIndex creates a usage index over the calculation and report
// stores.
func NewUsageIndex(calcs Repository, reports ReportUsageSource) *UsageIndex {
	return &UsageIndex{calcs: calcs, reports: reports}
}

// GetUsageFor returns every report column and dependent calculation that
// references the given calculation id.
func (u *UsageIndex) GetUsageFor(ctx context.Context, id uuid.UUID) (*Usage, error) {
	reports, err := u.reports.ReportsReferencingCalculation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to scan report references: %w", err)
	}

	dependents, err := u.calcs.DependentsReferencing(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to scan calculation references: %w", err)
	}

	return &Usage{
		IsInUse:      len(reports) > 0 || len(dependents) > 0,
		ReportCount:  len(reports),
		Reports:      reports,
		Calculations: dependents,
	}, nil
}
