package calculations

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository defines the interface for calculation persistence.
type Repository interface {
	Create(ctx context.Context, calc *Calculation) error
	Get(ctx context.Context, id uuid.UUID) (*Calculation, error)
	Update(ctx context.Context, calc *Calculation) error
	DeleteIfUnused(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filters *ListFilters) ([]*Calculation, error)
	GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Calculation, error)
	DependentsReferencing(ctx context.Context, id uuid.UUID) ([]UsageRef, error)
	DependencyIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)
	RecordApproval(ctx context.Context, id, approverID uuid.UUID) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL calculation repository.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const calculationColumns = `
	id, name, description, type, group_level, created_by, is_active,
	aggregation, source_model, source_field, weight_field,
	field_name, field_type, sql_text, result_column, output_column,
	approved_by, approved_at, dependencies, expression,
	created_at, updated_at
`

// Create inserts a calculation. The uniqueness check on the output column
// and the insert run in one transaction so a concurrent save cannot slip
// a duplicate in between.
func (r *PostgresRepository) Create(ctx context.Context, calc *Calculation) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkOutputColumnUnique(ctx, tx, calc, uuid.Nil); err != nil {
		return err
	}

	query := `
		INSERT INTO calculations (
			id, name, description, type, group_level, created_by, is_active,
			aggregation, source_model, source_field, weight_field,
			field_name, field_type, sql_text, result_column, output_column,
			approved_by, approved_at, dependencies, expression,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)
	`

	_, err = tx.ExecContext(ctx, query,
		calc.ID, calc.Name, calc.Description, calc.Type, calc.GroupLevel, calc.CreatedBy, calc.IsActive,
		calc.Aggregation, calc.SourceModel, calc.SourceField, calc.WeightField,
		calc.FieldName, calc.FieldType, calc.SqlText, calc.ResultColumn, calc.OutputColumn(),
		calc.ApprovedBy, calc.ApprovedAt, calc.Dependencies, calc.Expression,
		calc.CreatedAt, calc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create calculation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Calculation, error) {
	query := `SELECT ` + calculationColumns + ` FROM calculations WHERE id = $1`

	var calc Calculation
	var outputColumn string
	row := r.db.QueryRowxContext(ctx, query, id)
	if err := scanCalculation(row, &calc, &outputColumn); err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{CalculationID: id}
		}
		return nil, fmt.Errorf("failed to get calculation: %w", err)
	}
	return &calc, nil
}

// Update rewrites a calculation record. Last write wins; the uniqueness
// check excludes the record itself and shares the write's transaction.
func (r *PostgresRepository) Update(ctx context.Context, calc *Calculation) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkOutputColumnUnique(ctx, tx, calc, calc.ID); err != nil {
		return err
	}

	query := `
		UPDATE calculations SET
			name = $2, description = $3, is_active = $4,
			aggregation = $5, source_model = $6, source_field = $7, weight_field = $8,
			field_name = $9, field_type = $10, sql_text = $11, result_column = $12,
			output_column = $13, approved_by = $14, approved_at = $15,
			dependencies = $16, expression = $17, updated_at = $18
		WHERE id = $1
	`

	result, err := tx.ExecContext(ctx, query,
		calc.ID, calc.Name, calc.Description, calc.IsActive,
		calc.Aggregation, calc.SourceModel, calc.SourceField, calc.WeightField,
		calc.FieldName, calc.FieldType, calc.SqlText, calc.ResultColumn,
		calc.OutputColumn(), calc.ApprovedBy, calc.ApprovedAt,
		calc.Dependencies, calc.Expression, calc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update calculation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return &NotFoundError{CalculationID: calc.ID}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// DeleteIfUnused deletes a calculation only when nothing references it.
// The reference scans and the delete share one transaction so a
// concurrent report save cannot slip a new reference in between the gate
// and the write.
func (r *PostgresRepository) DeleteIfUnused(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	reports, err := reportsReferencing(ctx, tx, id)
	if err != nil {
		return err
	}
	dependents, err := dependentsReferencing(ctx, tx, id)
	if err != nil {
		return err
	}
	if len(reports) > 0 || len(dependents) > 0 {
		return &InUseError{CalculationID: id, Usage: &Usage{
			IsInUse:      true,
			ReportCount:  len(reports),
			Reports:      reports,
			Calculations: dependents,
		}}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM calculations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete calculation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return &NotFoundError{CalculationID: id}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, filters *ListFilters) ([]*Calculation, error) {
	var conditions []string
	var args []interface{}
	argCount := 0

	if filters != nil {
		if filters.GroupLevel != nil {
			argCount++
			conditions = append(conditions, fmt.Sprintf("group_level = $%d", argCount))
			args = append(args, *filters.GroupLevel)
		}
		if filters.Type != nil {
			argCount++
			conditions = append(conditions, fmt.Sprintf("type = $%d", argCount))
			args = append(args, *filters.Type)
		}
		if filters.ActiveOnly {
			conditions = append(conditions, "is_active = TRUE")
		}
	}

	query := `SELECT ` + calculationColumns + ` FROM calculations`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY name"

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list calculations: %w", err)
	}
	defer rows.Close()

	var calcs []*Calculation
	for rows.Next() {
		var calc Calculation
		var outputColumn string
		if err := scanCalculation(rows, &calc, &outputColumn); err != nil {
			return nil, fmt.Errorf("failed to scan calculation: %w", err)
		}
		calcs = append(calcs, &calc)
	}
	return calcs, rows.Err()
}

func (r *PostgresRepository) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Calculation, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*Calculation{}, nil
	}

	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = id.String()
	}

	query, args, err := sqlx.In(`SELECT `+calculationColumns+` FROM calculations WHERE id IN (?)`, idStrs)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	query = r.db.Rebind(query)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get calculations: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]*Calculation, len(ids))
	for rows.Next() {
		var calc Calculation
		var outputColumn string
		if err := scanCalculation(rows, &calc, &outputColumn); err != nil {
			return nil, fmt.Errorf("failed to scan calculation: %w", err)
		}
		byID[calc.ID] = &calc
	}
	return byID, rows.Err()
}

// DependentsReferencing returns the dependent calculations whose
// dependency list contains the given id.
func (r *PostgresRepository) DependentsReferencing(ctx context.Context, id uuid.UUID) ([]UsageRef, error) {
	return dependentsReferencing(ctx, r.db, id)
}

// queryer abstracts over the pool and a transaction so the reference
// scans can run inside the delete gate's transaction.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func dependentsReferencing(ctx context.Context, q queryer, id uuid.UUID) ([]UsageRef, error) {
	query := `
		SELECT id, name FROM calculations
		WHERE type = $1
		  AND dependencies @> $2::jsonb
		ORDER BY name
	`

	needle := fmt.Sprintf(`[{"calculation_id": %q}]`, id.String())
	rows, err := q.QueryContext(ctx, query, TypeDependent, needle)
	if err != nil {
		return nil, fmt.Errorf("failed to scan dependent calculations: %w", err)
	}
	return scanUsageRefs(rows)
}

// reportsReferencing scans report_configs for columns selecting the
// calculation. The report store shares the application database, which
// lets the delete gate see both reference sets in one transaction.
func reportsReferencing(ctx context.Context, q queryer, id uuid.UUID) ([]UsageRef, error) {
	query := `
		SELECT id, name FROM report_configs
		WHERE columns @> $1::jsonb
		ORDER BY name
	`

	needle := fmt.Sprintf(`[{"calculation_id": %q}]`, id.String())
	rows, err := q.QueryContext(ctx, query, needle)
	if err != nil {
		return nil, fmt.Errorf("failed to scan report references: %w", err)
	}
	return scanUsageRefs(rows)
}

func scanUsageRefs(rows *sql.Rows) ([]UsageRef, error) {
	defer rows.Close()

	var refs []UsageRef
	for rows.Next() {
		var ref UsageRef
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, fmt.Errorf("failed to scan usage ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// DependencyIDs returns the direct dependency ids of a calculation, or nil
// for non-dependent variants. Used by cycle detection.
func (r *PostgresRepository) DependencyIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	calc, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if calc.Type != TypeDependent {
		return nil, nil
	}
	ids := make([]uuid.UUID, len(calc.Dependencies))
	for i, dep := range calc.Dependencies {
		ids[i] = dep.CalculationID
	}
	return ids, nil
}

func (r *PostgresRepository) RecordApproval(ctx context.Context, id, approverID uuid.UUID) error {
	query := `
		UPDATE calculations
		SET approved_by = $2, approved_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND type = $3
	`

	result, err := r.db.ExecContext(ctx, query, id, approverID, TypeSystemSql)
	if err != nil {
		return fmt.Errorf("failed to record approval: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return &NotFoundError{CalculationID: id}
	}
	return nil
}

// checkOutputColumnUnique enforces output-column uniqueness per group
// level inside the caller's transaction. excludeID skips the record being
// updated.
func checkOutputColumnUnique(ctx context.Context, tx *sqlx.Tx, calc *Calculation, excludeID uuid.UUID) error {
	column := calc.OutputColumn()
	if column == "" {
		return nil
	}

	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM calculations
			WHERE group_level = $1 AND output_column = $2 AND id != $3
		)
	`
	if err := tx.QueryRowContext(ctx, query, calc.GroupLevel, column, excludeID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check column uniqueness: %w", err)
	}
	if exists {
		return &UniquenessError{Column: column, Level: calc.GroupLevel}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCalculation(row rowScanner, calc *Calculation, outputColumn *string) error {
	return row.Scan(
		&calc.ID, &calc.Name, &calc.Description, &calc.Type, &calc.GroupLevel,
		&calc.CreatedBy, &calc.IsActive,
		&calc.Aggregation, &calc.SourceModel, &calc.SourceField, &calc.WeightField,
		&calc.FieldName, &calc.FieldType, &calc.SqlText, &calc.ResultColumn, outputColumn,
		&calc.ApprovedBy, &calc.ApprovedAt, &calc.Dependencies, &calc.Expression,
		&calc.CreatedAt, &calc.UpdatedAt,
	)
}
