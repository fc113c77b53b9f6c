package export

import (
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/structfin/deal-reporting/internal/reports"
)

// PDFColor represents an RGB color.
type PDFColor struct {
	R int
	G int
	B int
}

// PDFOptions configures PDF generation.
type PDFOptions struct {
	Title          string
	Orientation    string // portrait, landscape
	PageSize       string // A4, Letter, Legal
	FontFamily     string
	FontSize       float64
	TitleFontSize  float64
	DateFormat     string
	HeaderColor    PDFColor
	AlternateRows  bool
	AlternateColor PDFColor
	IncludePageNum bool
	IncludeDate    bool
}

// DefaultPDFOptions returns default PDF options.
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		Title:          "Report",
		Orientation:    "landscape",
		PageSize:       "A4",
		FontFamily:     "Arial",
		FontSize:       9,
		TitleFontSize:  16,
		DateFormat:     "2006-01-02",
		HeaderColor:    PDFColor{R: 68, G: 114, B: 196},
		AlternateRows:  true,
		AlternateColor: PDFColor{R: 242, G: 242, B: 242},
		IncludePageNum: true,
		IncludeDate:    true,
	}
}

// PDFGenerator renders report output as a paginated table.
type PDFGenerator struct {
	options PDFOptions
}

// NewPDFGenerator creates a PDF generator.
func NewPDFGenerator(options PDFOptions) *PDFGenerator {
	return &PDFGenerator{options: options}
}

// Export writes the full result as a titled table, repeating the header
// row on each page break.
func (g *PDFGenerator) Export(w io.Writer, result *reports.Result) error {
	orientation := "P"
	if g.options.Orientation == "landscape" {
		orientation = "L"
	}

	pdf := gofpdf.New(orientation, "mm", g.options.PageSize, "")
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)

	if g.options.IncludePageNum {
		pdf.SetFooterFunc(func() {
			pdf.SetY(-15)
			pdf.SetFont(g.options.FontFamily, "I", 8)
			pdf.SetTextColor(128, 128, 128)
			pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
		})
	}

	pdf.AddPage()

	pdf.SetFont(g.options.FontFamily, "B", g.options.TitleFontSize)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 10, g.options.Title, "", 1, "L", false, 0, "")

	if g.options.IncludeDate {
		pdf.SetFont(g.options.FontFamily, "", 9)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 6, time.Now().Format(g.options.DateFormat), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	columns := orderedColumns(result.Columns)
	pageWidth, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	colWidth := (pageWidth - left - right) / float64(len(columns))

	writeHeader := func() {
		pdf.SetFont(g.options.FontFamily, "B", g.options.FontSize)
		pdf.SetFillColor(g.options.HeaderColor.R, g.options.HeaderColor.G, g.options.HeaderColor.B)
		pdf.SetTextColor(255, 255, 255)
		for _, col := range columns {
			pdf.CellFormat(colWidth, 8, col.Header, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	}
	writeHeader()

	pdf.SetFont(g.options.FontFamily, "", g.options.FontSize)
	pdf.SetTextColor(0, 0, 0)

	formatter := &CSVExporter{options: CSVOptions{DateFormat: g.options.DateFormat}}
	_, pageHeight := pdf.GetPageSize()

	for i, row := range result.Rows {
		if pdf.GetY() > pageHeight-30 {
			pdf.AddPage()
			writeHeader()
			pdf.SetFont(g.options.FontFamily, "", g.options.FontSize)
			pdf.SetTextColor(0, 0, 0)
		}

		fill := g.options.AlternateRows && i%2 == 1
		if fill {
			pdf.SetFillColor(g.options.AlternateColor.R, g.options.AlternateColor.G, g.options.AlternateColor.B)
		}
		for _, col := range columns {
			text := formatter.formatValue(row[col.Field], col.FormatType)
			pdf.CellFormat(colWidth, 7, text, "1", 0, "L", fill, 0, "")
		}
		pdf.Ln(-1)
	}

	return pdf.Output(w)
}
