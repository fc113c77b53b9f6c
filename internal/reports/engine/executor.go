package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/structfin/deal-reporting/internal/calculations"
	"github.com/structfin/deal-reporting/internal/catalog"
	"github.com/structfin/deal-reporting/internal/reports"
	"github.com/structfin/deal-reporting/internal/warehouse"
)

// ConfigSource loads report configurations for execution.
type ConfigSource interface {
	Get(ctx context.Context, id uuid.UUID) (*reports.ReportConfig, error)
}

// CalculationLoader resolves calculations in bulk for plan assembly.
type CalculationLoader interface {
	GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*calculations.Calculation, error)
}

// Executor runs saved reports against the warehouse. Executions share no
// mutable state; any number may run concurrently.
type Executor struct {
	configs   ConfigSource
	calcs     CalculationLoader
	catalog   *catalog.FieldCatalog
	warehouse warehouse.Querier
	logger    *zap.Logger
}

// NewExecutor creates a report executor.
func NewExecutor(configs ConfigSource, calcs CalculationLoader, fieldCatalog *catalog.FieldCatalog, wh warehouse.Querier, logger *zap.Logger) *Executor {
	return &Executor{
		configs:   configs,
		calcs:     calcs,
		catalog:   fieldCatalog,
		warehouse: wh,
		logger:    logger,
	}
}

// Run executes a report for one cycle: resolve the configuration and its
// calculations, assemble the plan, dispatch it, and return rows plus
// column metadata. The returned Execution records the terminal state.
func (e *Executor) Run(ctx context.Context, reportID uuid.UUID, cycle string) (*reports.Result, *Execution, error) {
	exec := newExecution(reportID)

	if err := exec.transition(StateResolving); err != nil {
		return nil, exec, err
	}
	config, calcs, err := e.resolve(ctx, reportID)
	if err != nil {
		exec.fail(err)
		return nil, exec, err
	}

	if err := exec.transition(StateBuilding); err != nil {
		return nil, exec, err
	}
	plan, err := buildPlan(e.catalog, config, calcs, cycle)
	if err != nil {
		exec.fail(err)
		return nil, exec, err
	}

	if err := exec.transition(StateExecuting); err != nil {
		return nil, exec, err
	}
	rows, err := e.warehouse.Query(ctx, plan.SQL, plan.Args...)
	if err != nil {
		wrapped := &reports.ExecutionError{ReportID: reportID, Err: err}
		exec.fail(wrapped)
		e.logger.Error("Report execution failed",
			zap.String("report_id", reportID.String()),
			zap.String("cycle", cycle),
			zap.Error(err))
		return nil, exec, wrapped
	}

	if err := exec.transition(StateDone); err != nil {
		return nil, exec, err
	}

	e.logger.Info("Report executed",
		zap.String("report_id", reportID.String()),
		zap.String("cycle", cycle),
		zap.Int("rows", len(rows)))

	return &reports.Result{
		Rows:      rows,
		Columns:   plan.Columns,
		TotalRows: len(rows),
	}, exec, nil
}

// Preview synthesizes placeholder rows from each column's declared type
// default. No cycle is bound and the warehouse is never touched; the
// execution goes straight from RESOLVING to DONE.
func (e *Executor) Preview(ctx context.Context, reportID uuid.UUID) (*reports.Result, *Execution, error) {
	exec := newExecution(reportID)

	if err := exec.transition(StateResolving); err != nil {
		return nil, exec, err
	}
	config, calcs, err := e.resolve(ctx, reportID)
	if err != nil {
		exec.fail(err)
		return nil, exec, err
	}

	meta := make([]reports.ColumnMeta, 0, len(config.Columns))
	for i, col := range config.Columns {
		switch col.Kind {
		case reports.ColumnKindField:
			field, err := e.catalog.Lookup(col.FieldKey)
			if err != nil {
				exec.fail(err)
				return nil, exec, err
			}
			meta = append(meta, fieldMeta(field, i))
		case reports.ColumnKindCalculation:
			meta = append(meta, calcMeta(calcs[*col.CalculationID], i))
		}
	}

	rowCount := len(config.SelectedDeals)
	if config.Scope == reports.ScopeTranche {
		rowCount = len(config.SelectedTranches.AllTrancheIDs())
	}

	rows := make([]map[string]interface{}, rowCount)
	for i := range rows {
		row := make(map[string]interface{}, len(meta))
		for _, m := range meta {
			row[m.Field] = skeletonValue(m.FormatType)
		}
		rows[i] = row
	}

	if err := exec.transition(StateDone); err != nil {
		return nil, exec, err
	}

	return &reports.Result{
		Rows:      rows,
		Columns:   meta,
		TotalRows: len(rows),
	}, exec, nil
}

// RunReport runs a report and returns only its result. The handler-facing
// surface; execution state stays internal.
func (e *Executor) RunReport(ctx context.Context, reportID uuid.UUID, cycle string) (*reports.Result, error) {
	result, _, err := e.Run(ctx, reportID, cycle)
	return result, err
}

// PreviewReport previews a report and returns only its result.
func (e *Executor) PreviewReport(ctx context.Context, reportID uuid.UUID) (*reports.Result, error) {
	result, _, err := e.Preview(ctx, reportID)
	return result, err
}

// resolve loads the configuration and every calculation it references,
// including the dependency closure of dependent calculations, and gates
// on activity and approval.
func (e *Executor) resolve(ctx context.Context, reportID uuid.UUID) (*reports.ReportConfig, map[uuid.UUID]*calculations.Calculation, error) {
	config, err := e.configs.Get(ctx, reportID)
	if err != nil {
		return nil, nil, err
	}

	var ids []uuid.UUID
	for _, col := range config.Columns {
		if col.Kind == reports.ColumnKindCalculation && col.CalculationID != nil {
			ids = append(ids, *col.CalculationID)
		}
	}

	resolved := make(map[uuid.UUID]*calculations.Calculation)
	for len(ids) > 0 {
		loaded, err := e.calcs.GetMany(ctx, ids)
		if err != nil {
			return nil, nil, err
		}

		var next []uuid.UUID
		for _, id := range ids {
			calc, ok := loaded[id]
			if !ok {
				return nil, nil, &calculations.NotFoundError{CalculationID: id}
			}
			if err := gateCalculation(calc); err != nil {
				return nil, nil, err
			}
			resolved[id] = calc
			for _, dep := range calc.Dependencies {
				if _, seen := resolved[dep.CalculationID]; !seen {
					next = append(next, dep.CalculationID)
				}
			}
		}
		ids = next
	}

	return config, resolved, nil
}

// gateCalculation rejects calculations unusable at execution time:
// inactive ones, and system SQL with no recorded approver.
func gateCalculation(calc *calculations.Calculation) error {
	if !calc.IsActive {
		return fmt.Errorf("calculation %q is inactive", calc.Name)
	}
	if !calc.IsApproved() {
		return &calculations.ApprovalRequiredError{CalculationID: calc.ID, Name: calc.Name}
	}
	return nil
}

// skeletonValue maps a column format to its placeholder default.
func skeletonValue(formatType string) interface{} {
	switch formatType {
	case "number", "integer", "currency", "percent":
		return 0
	case "date", "timestamp":
		return time.Now()
	default:
		return ""
	}
}
