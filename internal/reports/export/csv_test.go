package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/structfin/deal-reporting/internal/reports"
)

func sampleResult() *reports.Result {
	return &reports.Result{
		Columns: []reports.ColumnMeta{
			{Field: "wa_coupon", Header: "WA Coupon", FormatType: "percent", DisplayOrder: 2},
			{Field: "issuer", Header: "Issuer", FormatType: "string", DisplayOrder: 0},
			{Field: "closing_date", Header: "Closing Date", FormatType: "date", DisplayOrder: 1},
		},
		Rows: []map[string]interface{}{
			{
				"issuer":       "Acme Capital",
				"closing_date": time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
				"wa_coupon":    0.0525,
			},
			{
				"issuer":       "Beta Funding",
				"closing_date": time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
				"wa_coupon":    nil,
			},
		},
		TotalRows: 2,
	}
}

func TestCSVExportOrdersColumnsByDisplayOrder(t *testing.T) {
	var buf bytes.Buffer
	exporter := NewCSVExporter(DefaultCSVOptions())

	err := exporter.Export(&buf, sampleResult())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Issuer,Closing Date,WA Coupon", lines[0])
	assert.Equal(t, "Acme Capital,2026-03-15,5.25%", lines[1])
	assert.Equal(t, "Beta Funding,2025-11-01,", lines[2])
}

func TestCSVExportNullValueOption(t *testing.T) {
	options := DefaultCSVOptions()
	options.NullValue = "N/A"
	exporter := NewCSVExporter(options)

	var buf bytes.Buffer
	err := exporter.Export(&buf, sampleResult())
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "Beta Funding,2025-11-01,N/A")
}

func TestFormatValuePercentScales(t *testing.T) {
	exporter := NewCSVExporter(DefaultCSVOptions())

	assert.Equal(t, "12.50%", exporter.formatValue(0.125, "percent"))
	assert.Equal(t, "0.125", exporter.formatValue(0.125, "number"))
	assert.Equal(t, "42", exporter.formatValue(int64(42), "integer"))
	assert.Equal(t, "true", exporter.formatValue(true, "string"))
}
