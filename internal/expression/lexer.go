package expression

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenType enumerates the token kinds produced by the lexer.
type TokenType int

const (
	TokenEOF      TokenType = iota
	TokenVariable           // ${name}
	TokenOperator           // + - * /
	TokenLParen             // (
	TokenRParen             // )
	TokenKeyword            // CASE WHEN THEN ELSE END COALESCE
	TokenLiteral            // anything else: numbers, commas, comparisons
)

var tokenTypeNames = map[TokenType]string{
	TokenEOF:      "EOF",
	TokenVariable: "VARIABLE",
	TokenOperator: "OPERATOR",
	TokenLParen:   "(",
	TokenRParen:   ")",
	TokenKeyword:  "KEYWORD",
	TokenLiteral:  "LITERAL",
}

func (t TokenType) String() string {
	if name, ok := tokenTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", int(t))
}

// keywords recognized inside dependent-calculation expressions.
var keywords = map[string]bool{
	"CASE":     true,
	"WHEN":     true,
	"THEN":     true,
	"ELSE":     true,
	"END":      true,
	"COALESCE": true,
}

// Token is a single lexical token. For TokenVariable, Name holds the
// variable name without the ${} wrapper; Value always holds the literal
// text so that rejoining token values with single spaces reproduces a
// semantically equivalent expression.
type Token struct {
	Type   TokenType
	Value  string
	Name   string // variable name, TokenVariable only
	Column int    // 1-based position in the source
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%d", t.Type, t.Value, t.Column)
}

// Lexer tokenizes a dependent-calculation expression string.
type Lexer struct {
	input []rune
	pos   int
}

// NewLexer creates a Lexer for the given expression.
func NewLexer(input string) *Lexer {
	return &Lexer{input: []rune(input)}
}

// Tokenize scans the whole expression and returns its tokens, excluding
// the trailing EOF.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for {
		tok, err := l.nextToken()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenEOF {
			break
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

func (l *Lexer) peek() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *Lexer) advance() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	ch := l.input[l.pos]
	l.pos++
	return ch
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) && unicode.IsSpace(l.input[l.pos]) {
		l.pos++
	}
}

func (l *Lexer) nextToken() (Token, error) {
	l.skipWhitespace()

	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Column: l.pos + 1}, nil
	}

	start := l.pos
	ch := l.peek()

	switch ch {
	case '(':
		l.advance()
		return Token{Type: TokenLParen, Value: "(", Column: start + 1}, nil
	case ')':
		l.advance()
		return Token{Type: TokenRParen, Value: ")", Column: start + 1}, nil
	case '+', '-', '*', '/':
		l.advance()
		return Token{Type: TokenOperator, Value: string(ch), Column: start + 1}, nil
	case '$':
		return l.readVariable(start)
	case '\'':
		return l.readString(start)
	}

	return l.readWord(start)
}

// readVariable scans a ${name} reference.
func (l *Lexer) readVariable(start int) (Token, error) {
	l.advance() // $
	if l.peek() != '{' {
		return Token{}, &ParseError{
			Column:  start + 1,
			Message: "expected '{' after '$' in variable reference",
		}
	}
	l.advance() // {

	var sb strings.Builder
	for {
		if l.pos >= len(l.input) {
			return Token{}, &ParseError{
				Column:  start + 1,
				Message: "unterminated variable reference",
			}
		}
		ch := l.advance()
		if ch == '}' {
			break
		}
		sb.WriteRune(ch)
	}

	name := strings.TrimSpace(sb.String())
	if name == "" {
		return Token{}, &ParseError{
			Column:  start + 1,
			Message: "empty variable reference",
		}
	}

	return Token{
		Type:   TokenVariable,
		Value:  "${" + name + "}",
		Name:   name,
		Column: start + 1,
	}, nil
}

// readString scans a quoted SQL string literal, including both quotes, so
// the literal survives re-rendering verbatim regardless of what it
// contains. A doubled '' inside the literal is the SQL escape for a quote.
func (l *Lexer) readString(start int) (Token, error) {
	var sb strings.Builder
	sb.WriteRune(l.advance()) // opening '

	for {
		if l.pos >= len(l.input) {
			return Token{}, &ParseError{
				Column:  start + 1,
				Message: "unterminated string literal",
			}
		}
		ch := l.advance()
		sb.WriteRune(ch)
		if ch == '\'' {
			if l.peek() == '\'' {
				sb.WriteRune(l.advance())
				continue
			}
			break
		}
	}

	return Token{Type: TokenLiteral, Value: sb.String(), Column: start + 1}, nil
}

// readWord scans a run of characters up to the next structural character
// and classifies it as a keyword or a literal.
func (l *Lexer) readWord(start int) (Token, error) {
	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.peek()
		if unicode.IsSpace(ch) || ch == '(' || ch == ')' || ch == '$' ||
			ch == '+' || ch == '-' || ch == '*' || ch == '/' || ch == '\'' {
			break
		}
		sb.WriteRune(l.advance())
	}

	word := sb.String()
	if keywords[strings.ToUpper(word)] {
		return Token{Type: TokenKeyword, Value: strings.ToUpper(word), Column: start + 1}, nil
	}
	return Token{Type: TokenLiteral, Value: word, Column: start + 1}, nil
}

// ParseError reports a lexical error with its position in the expression.
type ParseError struct {
	Column  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at column %d: %s", e.Column, e.Message)
}

// Join reassembles tokens into a canonical expression string, token values
// separated by single spaces.
func Join(tokens []Token) string {
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		parts[i] = tok.Value
	}
	return strings.Join(parts, " ")
}
