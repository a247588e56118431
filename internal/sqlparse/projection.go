package sqlparse

import "strings"

// OutputColumn is one item of a SELECT or RETURNING projection.
type OutputColumn struct {
	// Expr is the original expression text, alias excluded.
	Expr string
	// Alias is the explicit or implicit alias, if any.
	Alias string
	// Name is the output column name: the alias when present, else the
	// source column for direct references, else the expression text.
	Name string
	// SourceAlias is the table alias for qualified references (a.b).
	SourceAlias string
	// SourceColumn is the referenced column for direct references.
	SourceColumn string
	// Direct is true when the item is a bare column reference rather
	// than a computed expression.
	Direct bool
	// Star is true for * and alias.* items.
	Star bool
	// Line is the 1-based line of the item's first token.
	Line int
}

// Projection extracts the output columns of a SELECT statement or of a
// RETURNING clause. For statements with both (INSERT ... SELECT ...
// RETURNING), the RETURNING clause wins since it defines the output shape.
func Projection(sql string) ([]OutputColumn, error) {
	tokens := Tokenize(sql)

	if start, ok := clauseStart(tokens, "RETURNING"); ok {
		return parseItems(sql, tokens, start, 0)
	}

	start, ok := clauseStart(tokens, "SELECT")
	if !ok {
		return nil, nil
	}
	depth := depthAt(tokens, start)
	// Skip DISTINCT / ALL qualifiers.
	if start < len(tokens) && (tokens[start].Is("DISTINCT") || tokens[start].Is("ALL")) {
		start++
	}
	return parseItems(sql, tokens, start, depth)
}

// clauseStart returns the index just after the first top-level occurrence
// of the given keyword.
func clauseStart(tokens []Token, keyword string) (int, bool) {
	depth := 0
	for i, tok := range tokens {
		switch tok.Type {
		case LPAREN:
			depth++
		case RPAREN:
			depth--
		case IDENT:
			if depth == 0 && tok.Upper == keyword {
				return i + 1, true
			}
		}
	}
	return 0, false
}

func depthAt(tokens []Token, i int) int {
	depth := 0
	for j := 0; j < i; j++ {
		switch tokens[j].Type {
		case LPAREN:
			depth++
		case RPAREN:
			depth--
		}
	}
	return depth
}

// parseItems splits the projection into comma-separated items and analyzes
// each one. baseDepth is the paren depth of the projection itself.
func parseItems(sql string, tokens []Token, start, baseDepth int) ([]OutputColumn, error) {
	var items []OutputColumn
	depth := baseDepth
	itemStart := start

	flush := func(end int) {
		if end > itemStart {
			items = append(items, analyzeItem(sql, tokens[itemStart:end]))
		}
	}

	for i := start; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok.Type {
		case LPAREN:
			depth++
		case RPAREN:
			if depth == baseDepth {
				flush(i)
				return items, nil
			}
			depth--
		case COMMA:
			if depth == baseDepth {
				flush(i)
				itemStart = i + 1
			}
		case SEMI, EOF:
			flush(i)
			return items, nil
		case IDENT:
			if depth == baseDepth && projectionTerminator(tok.Upper) {
				flush(i)
				return items, nil
			}
		}
	}
	flush(len(tokens))
	return items, nil
}

// projectionTerminator reports whether a keyword ends the projection list.
func projectionTerminator(upper string) bool {
	switch upper {
	case "FROM", "WHERE", "GROUP", "ORDER", "LIMIT", "UNION", "INTERSECT", "EXCEPT":
		return true
	}
	return false
}

// notAliasWords are identifiers that never act as an implicit alias.
var notAliasWords = map[string]bool{
	"END": true, "NULL": true, "TRUE": true, "FALSE": true,
	"ASC": true, "DESC": true,
}

// analyzeItem classifies one projection item.
func analyzeItem(sql string, tokens []Token) OutputColumn {
	// Trim trailing EOF/SEMI markers.
	for len(tokens) > 0 {
		last := tokens[len(tokens)-1]
		if last.Type == EOF || last.Type == SEMI {
			tokens = tokens[:len(tokens)-1]
			continue
		}
		break
	}
	if len(tokens) == 0 {
		return OutputColumn{}
	}

	col := OutputColumn{Line: tokens[0].Pos.Line}

	// Star items: * or alias.*
	if tokens[len(tokens)-1].Type == STAR {
		col.Star = true
		if len(tokens) == 3 && tokens[0].Type == IDENT && tokens[1].Type == DOT {
			col.SourceAlias = tokens[0].Text
		}
		col.Expr = exprText(sql, tokens)
		col.Name = "*"
		return col
	}

	// Explicit alias: ... AS name
	exprTokens := tokens
	if len(tokens) >= 3 && tokens[len(tokens)-2].Is("AS") && tokens[len(tokens)-1].Type == IDENT {
		col.Alias = tokens[len(tokens)-1].Text
		exprTokens = tokens[:len(tokens)-2]
	} else if len(tokens) >= 2 {
		// Implicit alias: a trailing identifier directly after a value
		// token, not part of a dotted reference or keyword pair.
		last := tokens[len(tokens)-1]
		prev := tokens[len(tokens)-2]
		if last.Type == IDENT && !notAliasWords[last.Upper] &&
			prev.Type != DOT && prev.Type != OP && !prev.Is("AS") &&
			(prev.Type == IDENT && !notAliasWords[prev.Upper] || prev.Type == RPAREN ||
				prev.Type == NUMBER || prev.Type == STRING) {
			col.Alias = last.Text
			exprTokens = tokens[:len(tokens)-1]
		}
	}

	// Direct column reference: name or alias.name
	switch {
	case len(exprTokens) == 1 && exprTokens[0].Type == IDENT:
		col.Direct = true
		col.SourceColumn = exprTokens[0].Text
	case len(exprTokens) == 3 && exprTokens[0].Type == IDENT &&
		exprTokens[1].Type == DOT && exprTokens[2].Type == IDENT:
		col.Direct = true
		col.SourceAlias = exprTokens[0].Text
		col.SourceColumn = exprTokens[2].Text
	}

	col.Expr = exprText(sql, exprTokens)
	switch {
	case col.Alias != "":
		col.Name = col.Alias
	case col.Direct:
		col.Name = col.SourceColumn
	default:
		col.Name = col.Expr
	}
	return col
}

// exprText reconstructs the source text spanned by the given tokens.
func exprText(sql string, tokens []Token) string {
	if len(tokens) == 0 {
		return ""
	}
	start := tokens[0].Pos.Offset
	last := tokens[len(tokens)-1]
	end := last.Pos.Offset + tokenWidth(sql, last)
	if end > len(sql) {
		end = len(sql)
	}
	return strings.TrimSpace(sql[start:end])
}

// tokenWidth returns the byte width of a token in the source, accounting
// for quoting that the lexer strips.
func tokenWidth(sql string, t Token) int {
	switch t.Type {
	case STRING:
		return len(t.Text) + 2
	case PARAM:
		if t.Text == "?" {
			return 1
		}
		return len(t.Text) + 1
	case IDENT:
		if t.Pos.Offset < len(sql) {
			switch sql[t.Pos.Offset] {
			case '"', '`', '[':
				return len(t.Text) + 2
			}
		}
	}
	return len(t.Text)
}
