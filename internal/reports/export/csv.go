// Package export renders executed report output to CSV, Excel, and PDF.
// Values are formatted per column format type; rows keep the report's
// column order.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/structfin/deal-reporting/internal/reports"
)

// CSVOptions configures CSV export behavior.
type CSVOptions struct {
	Delimiter     rune
	UseCRLF       bool
	IncludeHeader bool
	DateFormat    string
	NullValue     string
}

// DefaultCSVOptions returns default CSV export options.
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{
		Delimiter:     ',',
		IncludeHeader: true,
		DateFormat:    "2006-01-02",
	}
}

// CSVExporter writes report output as CSV.
type CSVExporter struct {
	options CSVOptions
}

// NewCSVExporter creates a CSV exporter.
func NewCSVExporter(options CSVOptions) *CSVExporter {
	return &CSVExporter{options: options}
}

// Export writes the full result to w, one record per row.
func (e *CSVExporter) Export(w io.Writer, result *reports.Result) error {
	writer := csv.NewWriter(w)
	writer.Comma = e.options.Delimiter
	writer.UseCRLF = e.options.UseCRLF

	columns := orderedColumns(result.Columns)

	if e.options.IncludeHeader {
		header := make([]string, len(columns))
		for i, col := range columns {
			header[i] = col.Header
		}
		if err := writer.Write(header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	for _, row := range result.Rows {
		record := make([]string, len(columns))
		for i, col := range columns {
			record[i] = e.formatValue(row[col.Field], col.FormatType)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// formatValue renders one cell per the column's format type.
func (e *CSVExporter) formatValue(val interface{}, formatType string) string {
	if val == nil {
		return e.options.NullValue
	}

	switch v := val.(type) {
	case time.Time:
		return v.Format(e.options.DateFormat)
	case float64:
		if formatType == "percent" {
			return strconv.FormatFloat(v*100, 'f', 2, 64) + "%"
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// orderedColumns sorts column metadata by display order.
func orderedColumns(columns []reports.ColumnMeta) []reports.ColumnMeta {
	out := make([]reports.ColumnMeta, len(columns))
	copy(out, columns)
	sort.Slice(out, func(i, j int) bool {
		return out[i].DisplayOrder < out[j].DisplayOrder
	})
	return out
}
