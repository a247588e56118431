package sqlparse

// Param is one bound parameter placeholder in statement order.
type Param struct {
	// Name is the placeholder name for :name parameters, "" for ?.
	Name string
	// Index is the 1-based position among all placeholders.
	Index int
	// Column is the column the parameter is compared against or inserted
	// into, when that can be read from the surrounding context.
	Column string
	// TableAlias qualifies Column when the reference was qualified.
	TableAlias string
	// Line is the placeholder's 1-based source line.
	Line int
}

// Parameters extracts bound parameters with light type context: a
// parameter compared against a column, assigned in a SET clause, or
// positioned in an INSERT VALUES list is tagged with that column.
func Parameters(sql string) []Param {
	tokens := Tokenize(sql)
	var params []Param
	index := 0

	insertCols := insertColumnList(tokens)
	valuesStart := valuesListStart(tokens)

	for i, tok := range tokens {
		if tok.Type != PARAM {
			continue
		}
		index++
		p := Param{Index: index, Line: tok.Pos.Line}
		if tok.Text != "?" {
			p.Name = tok.Text
		}

		if col, alias, ok := comparisonContext(tokens, i); ok {
			p.Column = col
			p.TableAlias = alias
		} else if valuesStart >= 0 && i > valuesStart && isTopLevelValue(tokens, valuesStart, i) {
			if pos := tupleItemIndex(tokens, valuesStart, i); pos < len(insertCols) {
				p.Column = insertCols[pos]
			}
		}

		params = append(params, p)
	}
	return params
}

// tupleItemIndex returns the 0-based item position of token i within the
// VALUES tuple opened at index open, counting top-level commas.
func tupleItemIndex(tokens []Token, open, i int) int {
	pos := 0
	depth := 0
	for j := open + 1; j < i; j++ {
		switch tokens[j].Type {
		case LPAREN:
			depth++
		case RPAREN:
			depth--
		case COMMA:
			if depth == 0 {
				pos++
			}
		}
	}
	return pos
}

// comparisonContext looks backwards from a parameter for `col OP`,
// `alias.col OP`, or `col IN (` patterns.
func comparisonContext(tokens []Token, i int) (column, alias string, ok bool) {
	j := i - 1
	if j < 0 {
		return "", "", false
	}

	// Skip an opening paren for IN (:p) / IN (?, ?) contexts.
	if tokens[j].Type == LPAREN && j > 0 && tokens[j-1].Is("IN") {
		j -= 2
	} else if tokens[j].Type == COMMA {
		// Later members of an IN list: walk back to the opening paren.
		depth := 0
		for ; j >= 0; j-- {
			if tokens[j].Type == RPAREN {
				depth++
			}
			if tokens[j].Type == LPAREN {
				if depth == 0 {
					break
				}
				depth--
			}
		}
		if j <= 0 || !tokens[j-1].Is("IN") {
			return "", "", false
		}
		j -= 2
	} else if tokens[j].Type == OP && isComparison(tokens[j].Text) {
		j--
	} else if tokens[j].Is("LIKE") || tokens[j].Is("GLOB") || tokens[j].Is("MATCH") {
		j--
	} else {
		return "", "", false
	}

	if j < 0 || tokens[j].Type != IDENT {
		return "", "", false
	}
	column = tokens[j].Text
	if j >= 2 && tokens[j-1].Type == DOT && tokens[j-2].Type == IDENT {
		alias = tokens[j-2].Text
	}
	return column, alias, true
}

func isComparison(op string) bool {
	switch op {
	case "=", "<", ">", "<=", ">=", "<>", "!=":
		return true
	}
	return false
}

// insertColumnList returns the explicit column list of an INSERT, if any.
func insertColumnList(tokens []Token) []string {
	for i, tok := range tokens {
		if !tok.Is("INTO") {
			continue
		}
		_, j := readTableRef(tokens, i+1)
		if j >= len(tokens) || tokens[j].Type != LPAREN {
			return nil
		}
		var cols []string
		for k := j + 1; k < len(tokens); k++ {
			switch tokens[k].Type {
			case IDENT:
				cols = append(cols, tokens[k].Text)
			case RPAREN:
				return cols
			case COMMA:
			default:
				return nil
			}
		}
		return nil
	}
	return nil
}

// valuesListStart returns the index of the LPAREN opening the first VALUES
// tuple, or -1.
func valuesListStart(tokens []Token) int {
	for i, tok := range tokens {
		if tok.Is("VALUES") && i+1 < len(tokens) && tokens[i+1].Type == LPAREN {
			return i + 1
		}
	}
	return -1
}

// isTopLevelValue reports whether the token at index i sits directly in
// the VALUES tuple (depth 1 relative to its opening paren) rather than in
// a nested expression.
func isTopLevelValue(tokens []Token, open, i int) bool {
	depth := 0
	for j := open; j < i; j++ {
		switch tokens[j].Type {
		case LPAREN:
			depth++
		case RPAREN:
			depth--
		}
	}
	return depth == 1
}
