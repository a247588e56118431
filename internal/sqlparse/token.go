// Package sqlparse provides structural SQL analysis for the compiler: it
// tokenizes statements and extracts the shapes the schema and query
// builders need (CREATE definitions, projections, parameters, base
// tables). It is deliberately not a full SQL grammar; statements it cannot
// decompose are handed to the engine for validation.
package sqlparse

import "fmt"

// TokenType identifies the lexical class of a token.
type TokenType int

const (
	// EOF marks the end of input.
	EOF TokenType = iota
	// ILLEGAL marks an unrecognized character.
	ILLEGAL
	// IDENT is an identifier or keyword (keywords are matched by text).
	IDENT
	// NUMBER is a numeric literal.
	NUMBER
	// STRING is a quoted string literal.
	STRING
	// PARAM is a bound parameter placeholder (:name or ?).
	PARAM
	// LPAREN, RPAREN, COMMA, SEMI, DOT, STAR are punctuation.
	LPAREN
	RPAREN
	COMMA
	SEMI
	DOT
	STAR
	// OP covers comparison and arithmetic operators.
	OP
)

// Position is a location within the parsed text.
type Position struct {
	Line   int // 1-based
	Column int // 1-based
	Offset int // 0-based byte offset
}

// Token is a single lexical token.
type Token struct {
	Type  TokenType
	Text  string // raw text; identifiers keep original casing, unquoted
	Upper string // uppercased text for keyword matching (IDENT only)
	Pos   Position
}

// Is reports whether the token is the given keyword (case-insensitive).
func (t Token) Is(keyword string) bool {
	return t.Type == IDENT && t.Upper == keyword
}

// ParseError is a structural parsing failure with source location.
type ParseError struct {
	File    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.File != "" && e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	}
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}
