package sqlcheck

import (
	"fmt"
	"regexp"
	"strings"
)

// Result is the outcome of statically validating a system SQL statement.
// The statement is never executed.
type Result struct {
	IsValid          bool     `json:"is_valid"`
	Errors           []string `json:"errors,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
	ExtractedColumns []string `json:"extracted_columns"`
	DetectedTables   []string `json:"detected_tables"`
	ResultColumnName string   `json:"result_column_name"`
}

// ShapeError reports that a SQL statement failed shape validation.
type ShapeError struct {
	Errors []string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("invalid SQL: %s", strings.Join(e.Errors, "; "))
}

// Err converts an invalid result into a ShapeError; valid results return nil.
func (r *Result) Err() error {
	if r.IsValid {
		return nil
	}
	return &ShapeError{Errors: r.Errors}
}

var (
	tableRe = regexp.MustCompile(`(?i)\b(?:from|join)\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)
	aliasRe = regexp.MustCompile(`(?i)\s+as\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*$`)
	identRe = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_]*)\s*$`)
)

// Validate statically checks a system SQL statement: it must be a single
// SELECT with a FROM clause, and the declared result column must appear
// among the projected output columns.
func Validate(sqlText, resultColumn string) *Result {
	result := &Result{ResultColumnName: resultColumn}

	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		result.Errors = append(result.Errors, "SQL text is required")
		return result
	}

	// The keyword needs a word boundary after it so identifiers like
	// SELECTX do not pass as statements.
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") ||
		(len(upper) > len("SELECT") && isWordByte(upper[len("SELECT")])) {
		result.Errors = append(result.Errors, "must be a SELECT statement")
		return result
	}

	if strings.Contains(strings.TrimRight(trimmed, "; \t\n"), ";") {
		result.Errors = append(result.Errors, "must be a single statement")
		return result
	}

	fromIdx := topLevelKeywordIndex(trimmed, "FROM")
	if fromIdx < 0 {
		result.Errors = append(result.Errors, "must include a FROM clause")
		return result
	}

	result.DetectedTables = extractTables(trimmed)
	result.ExtractedColumns = extractColumns(trimmed[len("SELECT"):fromIdx])

	if containsWildcard(result.ExtractedColumns) {
		result.Warnings = append(result.Warnings,
			"wildcard projection prevents static column verification")
	}

	if resultColumn == "" {
		result.Errors = append(result.Errors, "result column name is required")
		return result
	}

	if !containsWildcard(result.ExtractedColumns) && !containsFold(result.ExtractedColumns, resultColumn) {
		result.Errors = append(result.Errors, fmt.Sprintf(
			"result column %q does not appear in the SELECT list (found: %s)",
			resultColumn, strings.Join(result.ExtractedColumns, ", ")))
		return result
	}

	result.IsValid = true
	return result
}

// topLevelKeywordIndex finds the byte offset of a keyword outside any
// parenthesized subexpression, or -1.
func topLevelKeywordIndex(sqlText, keyword string) int {
	upper := strings.ToUpper(sqlText)
	kw := strings.ToUpper(keyword)
	depth := 0
	for i := 0; i < len(upper); i++ {
		switch upper[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth != 0 || !strings.HasPrefix(upper[i:], kw) {
			continue
		}
		// Require word boundaries on both sides.
		if i > 0 && isWordByte(upper[i-1]) {
			continue
		}
		after := i + len(kw)
		if after < len(upper) && isWordByte(upper[after]) {
			continue
		}
		return i
	}
	return -1
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// extractColumns lexically derives the output column names from the SELECT
// list: the alias when one is declared, otherwise the trailing identifier
// of the item.
func extractColumns(selectList string) []string {
	var columns []string
	for _, item := range splitTopLevel(selectList, ',') {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if item == "*" || strings.HasSuffix(item, ".*") {
			columns = append(columns, "*")
			continue
		}
		if m := aliasRe.FindStringSubmatch(item); m != nil {
			columns = append(columns, m[1])
			continue
		}
		trimmed := strings.TrimRight(item, ") \t\n")
		if m := identRe.FindStringSubmatch(trimmed); m != nil {
			columns = append(columns, m[1])
		}
	}
	return columns
}

// extractTables lexically collects FROM/JOIN targets for diagnostics.
func extractTables(sqlText string) []string {
	var tables []string
	seen := make(map[string]bool)
	for _, m := range tableRe.FindAllStringSubmatch(sqlText, -1) {
		name := strings.ToLower(m[1])
		if name == "select" || seen[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}
	return tables
}

// splitTopLevel splits on sep, ignoring occurrences inside parentheses.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func containsWildcard(columns []string) bool {
	for _, c := range columns {
		if c == "*" {
			return true
		}
	}
	return false
}

func containsFold(columns []string, name string) bool {
	for _, c := range columns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}
