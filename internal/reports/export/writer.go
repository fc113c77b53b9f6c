package export

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/structfin/deal-reporting/internal/reports"
)

// Writer dispatches executed report output to a format-specific exporter
// and sets the response headers for file download.
type Writer struct {
	csv   *CSVExporter
	excel *ExcelExporter
	pdf   *PDFGenerator
}

// NewWriter creates a writer with default options per format.
func NewWriter() *Writer {
	return &Writer{
		csv:   NewCSVExporter(DefaultCSVOptions()),
		excel: NewExcelExporter(DefaultExcelOptions()),
		pdf:   NewPDFGenerator(DefaultPDFOptions()),
	}
}

// Write renders the result in the named format onto the response.
func (w *Writer) Write(c *gin.Context, format string, name string, result *reports.Result) error {
	filename := sanitizeFilename(name)

	switch format {
	case "csv":
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", filename))
		return w.csv.Export(c.Writer, result)
	case "excel":
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.xlsx", filename))
		return w.excel.Export(c.Writer, result)
	case "pdf":
		c.Header("Content-Type", "application/pdf")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.pdf", filename))
		return w.pdf.Export(c.Writer, result)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

// sanitizeFilename strips characters that break Content-Disposition.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", "\"", "", ";", "")
	return replacer.Replace(name)
}
