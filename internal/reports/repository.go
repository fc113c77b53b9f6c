package reports

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/structfin/deal-reporting/internal/calculations"
)

// Repository defines the interface for report configuration persistence.
type Repository interface {
	Create(ctx context.Context, config *ReportConfig) error
	Get(ctx context.Context, id uuid.UUID) (*ReportConfig, error)
	Update(ctx context.Context, config *ReportConfig) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, createdBy *uuid.UUID) ([]*ReportConfig, error)
	ReportsReferencingCalculation(ctx context.Context, calcID uuid.UUID) ([]calculations.UsageRef, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL report repository.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const reportColumns = `
	id, name, scope, created_by, selected_deals, selected_tranches, columns,
	created_at, updated_at
`

func (r *PostgresRepository) Create(ctx context.Context, config *ReportConfig) error {
	query := `
		INSERT INTO report_configs (
			id, name, scope, created_by, selected_deals, selected_tranches, columns,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		config.ID, config.Name, config.Scope, config.CreatedBy,
		config.SelectedDeals, config.SelectedTranches, config.Columns,
		config.CreatedAt, config.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create report config: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*ReportConfig, error) {
	query := `SELECT ` + reportColumns + ` FROM report_configs WHERE id = $1`

	var config ReportConfig
	row := r.db.QueryRowxContext(ctx, query, id)
	if err := scanReportConfig(row, &config); err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{ReportID: id}
		}
		return nil, fmt.Errorf("failed to get report config: %w", err)
	}
	return &config, nil
}

// Update rewrites a report configuration. Last write wins.
func (r *PostgresRepository) Update(ctx context.Context, config *ReportConfig) error {
	query := `
		UPDATE report_configs SET
			name = $2, scope = $3, selected_deals = $4, selected_tranches = $5,
			columns = $6, updated_at = $7
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		config.ID, config.Name, config.Scope,
		config.SelectedDeals, config.SelectedTranches, config.Columns,
		config.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update report config: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return &NotFoundError{ReportID: config.ID}
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM report_configs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete report config: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return &NotFoundError{ReportID: id}
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, createdBy *uuid.UUID) ([]*ReportConfig, error) {
	query := `SELECT ` + reportColumns + ` FROM report_configs`
	var args []interface{}
	if createdBy != nil {
		query += ` WHERE created_by = $1`
		args = append(args, *createdBy)
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list report configs: %w", err)
	}
	defer rows.Close()

	var configs []*ReportConfig
	for rows.Next() {
		var config ReportConfig
		if err := scanReportConfig(rows, &config); err != nil {
			return nil, fmt.Errorf("failed to scan report config: %w", err)
		}
		configs = append(configs, &config)
	}
	return configs, rows.Err()
}

// ReportsReferencingCalculation returns the reports whose column selection
// contains the given calculation. Backs the usage index with a fresh scan
// on every call.
func (r *PostgresRepository) ReportsReferencingCalculation(ctx context.Context, calcID uuid.UUID) ([]calculations.UsageRef, error) {
	query := `
		SELECT id, name FROM report_configs
		WHERE columns @> $1::jsonb
		ORDER BY name
	`

	needle := fmt.Sprintf(`[{"calculation_id": %q}]`, calcID.String())
	rows, err := r.db.QueryContext(ctx, query, needle)
	if err != nil {
		return nil, fmt.Errorf("failed to scan report usage: %w", err)
	}
	defer rows.Close()

	var refs []calculations.UsageRef
	for rows.Next() {
		var ref calculations.UsageRef
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, fmt.Errorf("failed to scan usage ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReportConfig(row rowScanner, config *ReportConfig) error {
	return row.Scan(
		&config.ID, &config.Name, &config.Scope, &config.CreatedBy,
		&config.SelectedDeals, &config.SelectedTranches, &config.Columns,
		&config.CreatedAt, &config.UpdatedAt,
	)
}
