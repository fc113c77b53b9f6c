package engine

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/structfin/deal-reporting/internal/calculations"
	"github.com/structfin/deal-reporting/internal/catalog"
	"github.com/structfin/deal-reporting/internal/expression"
	"github.com/structfin/deal-reporting/internal/reports"
)

// Plan is an assembled, parameterized warehouse query plus the column
// metadata describing its projection.
type Plan struct {
	SQL     string
	Args    []interface{}
	Columns []reports.ColumnMeta
}

// planBuilder assembles the warehouse query for one report run. All
// inputs are resolved before building: every referenced calculation, plus
// the dependency closure of dependent calculations, is present in calcs.
type planBuilder struct {
	catalog *catalog.FieldCatalog
	config  *reports.ReportConfig
	calcs   map[uuid.UUID]*calculations.Calculation
	cycle   string
}

// buildPlan assembles the query: an inner SELECT over the cycle-scoped
// deal/tranche facts with aggregate and system SQL projections, wrapped
// in an outer SELECT when dependent expressions need the inner's output
// columns.
func buildPlan(fieldCatalog *catalog.FieldCatalog, config *reports.ReportConfig, calcs map[uuid.UUID]*calculations.Calculation, cycle string) (*Plan, error) {
	b := &planBuilder{catalog: fieldCatalog, config: config, calcs: calcs, cycle: cycle}
	return b.build()
}

func (b *planBuilder) build() (*Plan, error) {
	var (
		projections []string
		groupExtra  []string
		joins       []string
		dependents  []*calculations.Calculation
		meta        []reports.ColumnMeta
		hasAgg      bool
	)

	args := []interface{}{b.cycle, pq.Array([]int64(b.config.SelectedDeals))}
	if b.config.Scope == reports.ScopeTranche {
		args = append(args, pq.Array(b.config.SelectedTranches.AllTrancheIDs()))
	}

	for i, col := range b.config.Columns {
		switch col.Kind {
		case reports.ColumnKindField:
			field, err := b.catalog.Lookup(col.FieldKey)
			if err != nil {
				return nil, err
			}
			qualified := entityAlias(field.Level) + "." + field.Column
			projections = append(projections, qualified)
			groupExtra = append(groupExtra, qualified)
			meta = append(meta, fieldMeta(field, i))

		case reports.ColumnKindCalculation:
			calc, ok := b.calcs[*col.CalculationID]
			if !ok {
				return nil, fmt.Errorf("calculation %s not resolved", col.CalculationID)
			}
			switch calc.Type {
			case calculations.TypeUserDefined:
				expr, err := b.aggregateExpr(calc)
				if err != nil {
					return nil, err
				}
				projections = append(projections, expr+" AS "+calc.OutputColumn())
				hasAgg = true

			case calculations.TypeSystemField:
				field, err := b.catalog.SourceFieldColumn(derefStr(calc.SourceModel), *calc.FieldName)
				if err != nil {
					return nil, err
				}
				qualified := entityAlias(field.Level) + "." + field.Column
				projections = append(projections, qualified+" AS "+calc.OutputColumn())
				groupExtra = append(groupExtra, qualified)

			case calculations.TypeSystemSql:
				alias := fmt.Sprintf("sq%d", len(joins))
				joins = append(joins, b.systemSqlJoin(calc, alias))
				qualified := alias + "." + *calc.ResultColumn
				projections = append(projections, qualified+" AS "+calc.OutputColumn())
				groupExtra = append(groupExtra, qualified)

			case calculations.TypeDependent:
				// Projected by the outer query; dependencies surface
				// through the inner projection below.
				dependents = append(dependents, calc)
			}
			meta = append(meta, calcMeta(calc, i))
		}
	}

	// Dependencies of dependent calculations must appear as inner output
	// columns even when not selected directly.
	inner := make(map[string]bool, len(projections))
	for _, p := range projections {
		inner[p] = true
	}
	for _, dep := range dependents {
		for _, ref := range dep.Dependencies {
			refCalc, ok := b.calcs[ref.CalculationID]
			if !ok {
				return nil, fmt.Errorf("dependency %s not resolved", ref.CalculationID)
			}
			proj, grouped, err := b.dependencyProjection(refCalc, &joins)
			if err != nil {
				return nil, err
			}
			if inner[proj] {
				continue
			}
			inner[proj] = true
			projections = append(projections, proj)
			if grouped {
				groupExtra = append(groupExtra, strings.SplitN(proj, " AS ", 2)[0])
			} else {
				hasAgg = true
			}
		}
	}

	query := b.innerQuery(projections, joins, groupExtra, hasAgg)

	if len(dependents) > 0 {
		outer := []string{"base.*"}
		for _, dep := range dependents {
			rendered, err := b.renderDependent(dep)
			if err != nil {
				return nil, err
			}
			outer = append(outer, "("+rendered+") AS "+dep.OutputColumn())
		}
		query = "SELECT " + strings.Join(outer, ", ") + " FROM (" + query + ") base"
	}

	return &Plan{SQL: query, Args: args, Columns: meta}, nil
}

// innerQuery builds the cycle-scoped base query over the fact tables.
func (b *planBuilder) innerQuery(projections, joins, groupExtra []string, hasAgg bool) string {
	var sb strings.Builder
	sb.WriteString("SELECT ")

	if b.config.Scope == reports.ScopeTranche {
		keys := []string{"t.deal_id", "t.tranche_id"}
		sb.WriteString(strings.Join(append(keys, projections...), ", "))
		sb.WriteString(" FROM tranche_facts t")
		sb.WriteString(" JOIN deal_facts d ON d.deal_id = t.deal_id AND d.cycle_id = t.cycle_id")
		for _, j := range joins {
			sb.WriteString(" " + j)
		}
		sb.WriteString(" WHERE t.cycle_id = $1 AND t.deal_id = ANY($2) AND t.tranche_id = ANY($3)")
		if hasAgg {
			sb.WriteString(" GROUP BY " + strings.Join(dedupe(append(keys, groupExtra...)), ", "))
		}
		return sb.String()
	}

	keys := []string{"d.deal_id"}
	sb.WriteString(strings.Join(append(keys, projections...), ", "))
	sb.WriteString(" FROM deal_facts d")
	if hasAgg {
		sb.WriteString(" LEFT JOIN tranche_facts t ON t.deal_id = d.deal_id AND t.cycle_id = d.cycle_id")
	}
	for _, j := range joins {
		sb.WriteString(" " + j)
	}
	sb.WriteString(" WHERE d.cycle_id = $1 AND d.deal_id = ANY($2)")
	if hasAgg {
		sb.WriteString(" GROUP BY " + strings.Join(dedupe(append(keys, groupExtra...)), ", "))
	}
	return sb.String()
}

// aggregateExpr renders a user-defined calculation's aggregation over its
// source column. Weighted average becomes a weight-normalized sum with a
// zero-weight guard.
func (b *planBuilder) aggregateExpr(calc *calculations.Calculation) (string, error) {
	field, err := b.catalog.SourceFieldColumn(derefStr(calc.SourceModel), derefStr(calc.SourceField))
	if err != nil {
		return "", err
	}
	col := entityAlias(field.Level) + "." + field.Column

	if *calc.Aggregation == calculations.AggWeightedAvg {
		weight, err := b.catalog.SourceFieldColumn(derefStr(calc.SourceModel), derefStr(calc.WeightField))
		if err != nil {
			return "", err
		}
		w := entityAlias(weight.Level) + "." + weight.Column
		return fmt.Sprintf("SUM(%s * %s) / NULLIF(SUM(%s), 0)", col, w, w), nil
	}
	return fmt.Sprintf("%s(%s)", *calc.Aggregation, col), nil
}

// systemSqlJoin wraps approved raw SQL as a subquery joined on the
// calculation's group-level entity key.
func (b *planBuilder) systemSqlJoin(calc *calculations.Calculation, alias string) string {
	key := "deal_id"
	base := "d"
	if calc.GroupLevel == catalog.LevelTranche {
		key = "tranche_id"
		base = "t"
	}
	sqlText := strings.TrimRight(strings.TrimSpace(*calc.SqlText), ";")
	return fmt.Sprintf("LEFT JOIN (%s) %s ON %s.%s = %s.%s", sqlText, alias, alias, key, base, key)
}

// dependencyProjection returns the inner projection for one dependency of
// a dependent calculation, plus whether it is grouped (rather than
// aggregated).
func (b *planBuilder) dependencyProjection(calc *calculations.Calculation, joins *[]string) (string, bool, error) {
	switch calc.Type {
	case calculations.TypeUserDefined:
		expr, err := b.aggregateExpr(calc)
		if err != nil {
			return "", false, err
		}
		return expr + " AS " + calc.OutputColumn(), false, nil
	case calculations.TypeSystemField:
		field, err := b.catalog.SourceFieldColumn(derefStr(calc.SourceModel), *calc.FieldName)
		if err != nil {
			return "", false, err
		}
		return entityAlias(field.Level) + "." + field.Column + " AS " + calc.OutputColumn(), true, nil
	case calculations.TypeSystemSql:
		alias := fmt.Sprintf("sq%d", len(*joins))
		*joins = append(*joins, b.systemSqlJoin(calc, alias))
		return alias + "." + *calc.ResultColumn + " AS " + calc.OutputColumn(), true, nil
	default:
		return "", false, fmt.Errorf("dependent calculation %q cannot depend on another dependent", calc.Name)
	}
}

// renderDependent substitutes each ${variable} with its dependency's
// output column, which the inner query projects.
func (b *planBuilder) renderDependent(calc *calculations.Calculation) (string, error) {
	deps := make([]expression.Dependency, 0, len(calc.Dependencies))
	for _, ref := range calc.Dependencies {
		refCalc, ok := b.calcs[ref.CalculationID]
		if !ok {
			return "", fmt.Errorf("dependency %s not resolved", ref.CalculationID)
		}
		deps = append(deps, expression.Dependency{
			CalculationID: ref.CalculationID,
			Variable:      ref.Variable,
			DisplayName:   refCalc.Name,
			OutputColumn:  refCalc.OutputColumn(),
		})
	}
	return expression.Render(*calc.Expression, deps)
}

func entityAlias(level catalog.GroupLevel) string {
	if level == catalog.LevelTranche {
		return "t"
	}
	return "d"
}

func fieldMeta(field catalog.Field, order int) reports.ColumnMeta {
	format := field.Format
	if format == "" {
		format = string(field.Type)
	}
	return reports.ColumnMeta{
		Field:        field.Column,
		Header:       field.Label,
		FormatType:   format,
		DisplayOrder: order,
	}
}

func calcMeta(calc *calculations.Calculation, order int) reports.ColumnMeta {
	return reports.ColumnMeta{
		Field:        calc.OutputColumn(),
		Header:       calc.Name,
		FormatType:   string(calc.ResultType()),
		DisplayOrder: order,
	}
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
