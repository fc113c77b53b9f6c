package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/structfin/deal-reporting/internal/reports"
)

// ExcelOptions configures Excel export behavior.
type ExcelOptions struct {
	SheetName      string
	FreezeHeader   bool
	AutoFilter     bool
	AutoWidth      bool
	DateFormat     string
	NumberFormat   string
	CurrencyFormat string
	PercentFormat  string
}

// DefaultExcelOptions returns default Excel export options.
func DefaultExcelOptions() ExcelOptions {
	return ExcelOptions{
		SheetName:      "Report",
		FreezeHeader:   true,
		AutoFilter:     true,
		AutoWidth:      true,
		DateFormat:     "yyyy-mm-dd",
		NumberFormat:   "#,##0.00",
		CurrencyFormat: "$#,##0.00",
		PercentFormat:  "0.00%",
	}
}

// ExcelExporter writes report output as a styled workbook.
type ExcelExporter struct {
	options ExcelOptions
}

// NewExcelExporter creates an Excel exporter.
func NewExcelExporter(options ExcelOptions) *ExcelExporter {
	return &ExcelExporter{options: options}
}

// Export writes the full result as one worksheet: styled header row,
// per-column number formats, optional freeze/filter and auto width.
func (e *ExcelExporter) Export(w io.Writer, result *reports.Result) error {
	file := excelize.NewFile()
	defer file.Close()

	sheet := e.options.SheetName
	file.SetSheetName("Sheet1", sheet)

	columns := orderedColumns(result.Columns)

	headerStyle, err := file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4472C4"}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		file.SetCellValue(sheet, cell, col.Header)
		file.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	styles := make(map[string]int)
	for rowIdx, row := range result.Rows {
		for colIdx, col := range columns {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			val := row[col.Field]
			file.SetCellValue(sheet, cell, val)

			if format := e.cellFormat(col.FormatType); format != "" {
				styleID, ok := styles[format]
				if !ok {
					styleID, err = file.NewStyle(&excelize.Style{CustomNumFmt: &format})
					if err != nil {
						return fmt.Errorf("failed to create cell style: %w", err)
					}
					styles[format] = styleID
				}
				file.SetCellStyle(sheet, cell, cell, styleID)
			}
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(columns))

	if e.options.FreezeHeader {
		file.SetPanes(sheet, &excelize.Panes{
			Freeze: true,
			YSplit: 1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		})
	}
	if e.options.AutoFilter && len(columns) > 0 {
		file.AutoFilter(sheet, fmt.Sprintf("A1:%s1", lastCol), nil)
	}
	if e.options.AutoWidth {
		e.autoSizeColumns(file, sheet, columns, result.Rows)
	}

	return file.Write(w)
}

// cellFormat maps a report format type to an Excel number format.
func (e *ExcelExporter) cellFormat(formatType string) string {
	switch formatType {
	case "currency":
		return e.options.CurrencyFormat
	case "percent":
		return e.options.PercentFormat
	case "number":
		return e.options.NumberFormat
	case "date", "timestamp":
		return e.options.DateFormat
	default:
		return ""
	}
}

// autoSizeColumns widens each column to its longest rendered value,
// capped to keep the sheet readable.
func (e *ExcelExporter) autoSizeColumns(file *excelize.File, sheet string, columns []reports.ColumnMeta, rows []map[string]interface{}) {
	for i, col := range columns {
		width := float64(len(col.Header))
		for _, row := range rows {
			cellLen := len(renderCell(row[col.Field]))
			if float64(cellLen) > width {
				width = float64(cellLen)
			}
		}
		width += 2
		if width > 50 {
			width = 50
		}
		name, _ := excelize.ColumnNumberToName(i + 1)
		file.SetColWidth(sheet, name, name, width)
	}
}

func renderCell(val interface{}) string {
	if val == nil {
		return ""
	}
	if t, ok := val.(time.Time); ok {
		return t.Format("2006-01-02")
	}
	return fmt.Sprintf("%v", val)
}
