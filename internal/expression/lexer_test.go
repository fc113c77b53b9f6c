package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeSimpleExpression(t *testing.T) {
	tokens, err := NewLexer("${principal_total} - 1000").Tokenize()
	require.NoError(t, err)
	require.Len(t, tokens, 3)

	assert.Equal(t, TokenVariable, tokens[0].Type)
	assert.Equal(t, "principal_total", tokens[0].Name)
	assert.Equal(t, "${principal_total}", tokens[0].Value)
	assert.Equal(t, TokenOperator, tokens[1].Type)
	assert.Equal(t, "-", tokens[1].Value)
	assert.Equal(t, TokenLiteral, tokens[2].Type)
	assert.Equal(t, "1000", tokens[2].Value)
}

func TestTokenizeCaseExpression(t *testing.T) {
	tokens, err := NewLexer("CASE WHEN ${rate} > 0 THEN ${rate} ELSE 0 END").Tokenize()
	require.NoError(t, err)

	var types []TokenType
	for _, tok := range tokens {
		types = append(types, tok.Type)
	}
	assert.Equal(t, []TokenType{
		TokenKeyword, TokenKeyword, TokenVariable, TokenLiteral, TokenLiteral,
		TokenKeyword, TokenVariable, TokenKeyword, TokenLiteral, TokenKeyword,
	}, types)
}

func TestTokenizeParens(t *testing.T) {
	tokens, err := NewLexer("(${a} + ${b}) / 2").Tokenize()
	require.NoError(t, err)

	assert.Equal(t, TokenLParen, tokens[0].Type)
	assert.Equal(t, TokenRParen, tokens[4].Type)
	assert.Equal(t, TokenOperator, tokens[5].Type)
	assert.Equal(t, "/", tokens[5].Value)
}

func TestTokenizeKeywordsCaseInsensitive(t *testing.T) {
	tokens, err := NewLexer("coalesce ( ${x} , 0 )").Tokenize()
	require.NoError(t, err)
	assert.Equal(t, TokenKeyword, tokens[0].Type)
	assert.Equal(t, "COALESCE", tokens[0].Value)
}

func TestTokenizeStringLiteral(t *testing.T) {
	tokens, err := NewLexer("CASE WHEN ${rating} = 'sub-prime' THEN 1 ELSE 0 END").Tokenize()
	require.NoError(t, err)

	require.Len(t, tokens, 10)
	assert.Equal(t, TokenLiteral, tokens[4].Type)
	assert.Equal(t, "'sub-prime'", tokens[4].Value)
}

func TestTokenizeStringLiteralEscapedQuote(t *testing.T) {
	tokens, err := NewLexer("'it''s' + ${fee}").Tokenize()
	require.NoError(t, err)

	require.Len(t, tokens, 3)
	assert.Equal(t, TokenLiteral, tokens[0].Type)
	assert.Equal(t, "'it''s'", tokens[0].Value)
}

func TestTokenizeUnterminatedStringLiteral(t *testing.T) {
	_, err := NewLexer("${rating} = 'sub-prime").Tokenize()
	require.Error(t, err)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 13, parseErr.Column)
}

func TestTokenizeUnterminatedVariable(t *testing.T) {
	_, err := NewLexer("${broken + 1").Tokenize()
	require.Error(t, err)

	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestTokenizeEmptyVariable(t *testing.T) {
	_, err := NewLexer("${} + 1").Tokenize()
	assert.Error(t, err)
}

func TestJoinRoundTrip(t *testing.T) {
	exprs := []string{
		"${principal_total} - 1000",
		"( ${a} + ${b} ) / 2",
		"CASE WHEN ${rate} > 0 THEN ${rate} ELSE 0 END",
		"CASE WHEN ${rating} = 'sub-prime' THEN 1 ELSE 0 END",
	}

	for _, expr := range exprs {
		tokens, err := NewLexer(expr).Tokenize()
		require.NoError(t, err, expr)

		rejoined := Join(tokens)
		again, err := NewLexer(rejoined).Tokenize()
		require.NoError(t, err, rejoined)

		require.Len(t, again, len(tokens), expr)
		for i := range tokens {
			assert.Equal(t, tokens[i].Type, again[i].Type, expr)
			assert.Equal(t, tokens[i].Value, again[i].Value, expr)
			assert.Equal(t, tokens[i].Name, again[i].Name, expr)
		}
	}
}
