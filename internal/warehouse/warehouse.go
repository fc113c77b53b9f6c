// Package warehouse runs generated report SQL against the analytics
// database and returns rows as generic maps keyed by column name.
package warehouse

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Querier executes a parameterized query and returns its rows.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error)
}

// DB is the sqlx-backed Querier used in production.
type DB struct {
	db *sqlx.DB
}

// NewDB wraps a warehouse connection.
func NewDB(db *sqlx.DB) *DB {
	return &DB{db: db}
}

// Query runs the query and scans every row into a column-keyed map. Column
// types are whatever the driver reports; callers format for display.
func (w *DB) Query(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := w.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			// Text columns arrive as []byte from the pq driver.
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
