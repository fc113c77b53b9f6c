package expression

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Dependency binds a referenced calculation to the variable name used for
// it inside the expression.
type Dependency struct {
	CalculationID uuid.UUID `json:"calculation_id"`
	Variable      string    `json:"variable"`
	DisplayName   string    `json:"display_name,omitempty"`  // human-readable name of the calculation
	OutputColumn  string    `json:"output_column,omitempty"` // column the calculation projects
}

// Result is the outcome of a successful expression validation.
type Result struct {
	IsValid             bool              `json:"is_valid"`
	ReferencedVariables []string          `json:"referenced_variables"`
	DeclaredVariables   []string          `json:"declared_variables"`
	DependencyMapping   map[string]string `json:"dependency_mapping"` // variable -> output column
	ExpressionPreview   string            `json:"expression_preview"`
}

// Error reports invalid variable usage in an expression. Every undeclared
// variable is named, not just the first.
type Error struct {
	UndeclaredVariables []string
	Message             string
}

func (e *Error) Error() string {
	if len(e.UndeclaredVariables) > 0 {
		return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.UndeclaredVariables, ", "))
	}
	return e.Message
}

// Validate tokenizes the expression, resolves every variable reference
// against the declared dependency list, and returns the validated shape.
// Validation is pure and advisory; it never executes SQL.
func Validate(expr string, deps []Dependency) (*Result, error) {
	tokens, err := NewLexer(expr).Tokenize()
	if err != nil {
		return nil, err
	}

	declared := make(map[string]Dependency, len(deps))
	declaredNames := make([]string, 0, len(deps))
	for _, d := range deps {
		declared[d.Variable] = d
		declaredNames = append(declaredNames, d.Variable)
	}

	referenced := referencedVariables(tokens)

	var undeclared []string
	for _, name := range referenced {
		if _, ok := declared[name]; !ok {
			undeclared = append(undeclared, name)
		}
	}
	if len(undeclared) > 0 {
		return nil, &Error{
			UndeclaredVariables: undeclared,
			Message:             "expression references undeclared variables",
		}
	}

	if len(referenced) == 0 {
		return nil, &Error{Message: "expression must reference at least one variable"}
	}

	mapping := make(map[string]string, len(referenced))
	for _, name := range referenced {
		mapping[name] = declared[name].OutputColumn
	}

	return &Result{
		IsValid:             true,
		ReferencedVariables: referenced,
		DeclaredVariables:   declaredNames,
		DependencyMapping:   mapping,
		ExpressionPreview:   preview(tokens, declared),
	}, nil
}

// Render rewrites the expression with each variable replaced by its
// dependency's output column, producing a SQL-bindable form.
func Render(expr string, deps []Dependency) (string, error) {
	tokens, err := NewLexer(expr).Tokenize()
	if err != nil {
		return "", err
	}

	byVar := make(map[string]Dependency, len(deps))
	for _, d := range deps {
		byVar[d.Variable] = d
	}

	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		if tok.Type == TokenVariable {
			dep, ok := byVar[tok.Name]
			if !ok {
				return "", &Error{
					UndeclaredVariables: []string{tok.Name},
					Message:             "expression references undeclared variables",
				}
			}
			parts[i] = dep.OutputColumn
			continue
		}
		parts[i] = tok.Value
	}
	return strings.Join(parts, " "), nil
}

// referencedVariables collects the distinct variable names in token order.
func referencedVariables(tokens []Token) []string {
	seen := make(map[string]bool)
	var names []string
	for _, tok := range tokens {
		if tok.Type != TokenVariable || seen[tok.Name] {
			continue
		}
		seen[tok.Name] = true
		names = append(names, tok.Name)
	}
	return names
}

// preview substitutes human-readable display names for raw ${name} tokens.
func preview(tokens []Token, declared map[string]Dependency) string {
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		if tok.Type == TokenVariable {
			if dep, ok := declared[tok.Name]; ok && dep.DisplayName != "" {
				parts[i] = "[" + dep.DisplayName + "]"
				continue
			}
		}
		parts[i] = tok.Value
	}
	return strings.Join(parts, " ")
}

// SortedVariables returns a sorted copy of names, for stable diagnostics.
func SortedVariables(names []string) []string {
	out := make([]string, len(names))
	copy(out, names)
	sort.Strings(out)
	return out
}
