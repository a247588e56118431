package sqlparse

import (
	"strings"
)

// Kind classifies a statement by its top-level verb.
type Kind string

const (
	KindSelect Kind = "select"
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
	KindCreate Kind = "create"
	KindOther  Kind = "other"
)

// Segment is one statement's text plus its starting line in the original
// file. Leading comments (and their directives) stay with the statement.
type Segment struct {
	SQL       string
	StartLine int // 1-based line of the segment's first character
}

// SplitStatements splits source text on top-level semicolons, keeping
// comments attached to the statement that follows them. Empty segments
// (trailing whitespace, comment-only tails) are dropped.
func SplitStatements(src string) []Segment {
	var segments []Segment
	start := 0
	startLine := 1
	line := 1

	for i := 0; i < len(src); i++ {
		switch src[i] {
		case '\n':
			line++
		case '\'', '"', '`':
			quote := src[i]
			for i++; i < len(src); i++ {
				if src[i] == '\n' {
					line++
				}
				if src[i] == quote {
					break
				}
			}
		case '-':
			if i+1 < len(src) && src[i+1] == '-' {
				for ; i < len(src) && src[i] != '\n'; i++ {
				}
				i-- // let the outer loop count the newline
			}
		case '/':
			if i+1 < len(src) && src[i+1] == '*' {
				for i += 2; i+1 < len(src); i++ {
					if src[i] == '\n' {
						line++
					}
					if src[i] == '*' && src[i+1] == '/' {
						i++
						break
					}
				}
			}
		case ';':
			seg := src[start : i+1]
			if strings.TrimSpace(stripComments(seg)) != "" {
				segments = append(segments, Segment{SQL: seg, StartLine: startLine})
			}
			start = i + 1
			startLine = line
		}
	}

	tail := src[start:]
	if strings.TrimSpace(stripComments(tail)) != "" {
		segments = append(segments, Segment{SQL: tail, StartLine: startLine})
	}
	return segments
}

// stripComments removes SQL comments, used only to decide segment emptiness.
func stripComments(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '-' && i+1 < len(s) && s[i+1] == '-' {
			for ; i < len(s) && s[i] != '\n'; i++ {
			}
			i--
			continue
		}
		if s[i] == '/' && i+1 < len(s) && s[i+1] == '*' {
			for i += 2; i+1 < len(s); i++ {
				if s[i] == '*' && s[i+1] == '/' {
					i++
					break
				}
			}
			continue
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// Classify determines the statement kind and whether it carries a
// RETURNING clause. WITH-prefixed statements are classified by the verb
// following the CTE definitions.
func Classify(sql string) (Kind, bool) {
	tokens := Tokenize(sql)
	returning := false
	depth := 0
	kind := KindOther
	kindSet := false

	for i, tok := range tokens {
		switch tok.Type {
		case LPAREN:
			depth++
			continue
		case RPAREN:
			depth--
			continue
		case IDENT:
		default:
			continue
		}
		if depth != 0 {
			continue
		}
		switch tok.Upper {
		case "SELECT":
			if !kindSet {
				kind = KindSelect
				kindSet = true
			}
		case "INSERT":
			if !kindSet {
				kind = KindInsert
				kindSet = true
			}
		case "UPDATE":
			// UPDATE is also a clause keyword (ON CONFLICT DO UPDATE);
			// only the statement verb decides the kind.
			if !kindSet {
				kind = KindUpdate
				kindSet = true
			}
		case "DELETE":
			if !kindSet {
				kind = KindDelete
				kindSet = true
			}
		case "CREATE":
			if !kindSet {
				kind = KindCreate
				kindSet = true
			}
		case "WITH":
			_ = i // CTEs precede the verb; keep scanning
		case "RETURNING":
			returning = true
		}
	}
	return kind, returning
}

// TableRef is a base table reference with its alias in the statement.
type TableRef struct {
	Name  string
	Alias string
}

// Tables extracts base tables from a statement: the tables it reads
// (FROM/JOIN sources, including subqueries) and the table it writes
// (INSERT/UPDATE/DELETE target). CTE names are excluded from reads.
func Tables(sql string) (reads []TableRef, writes []TableRef) {
	tokens := Tokenize(sql)
	kind, _ := Classify(sql)
	cteNames := cteNames(tokens)

	seenRead := make(map[string]bool)
	deleteTargetTaken := false

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.Type != IDENT {
			continue
		}
		switch tok.Upper {
		case "INTO":
			if kind == KindInsert {
				if ref, _ := readTableRef(tokens, i+1); ref.Name != "" {
					writes = append(writes, ref)
				}
			}
		case "UPDATE":
			// Only the statement verb's target, not ON CONFLICT DO UPDATE.
			if kind == KindUpdate && isStatementVerb(tokens, i) {
				j := i + 1
				// UPDATE OR ROLLBACK|ABORT|REPLACE|FAIL|IGNORE name
				if j < len(tokens) && tokens[j].Is("OR") {
					j += 2
				}
				if ref, _ := readTableRef(tokens, j); ref.Name != "" {
					writes = append(writes, ref)
				}
			}
		case "FROM":
			if kind == KindDelete && !deleteTargetTaken && isTopLevel(tokens, i) {
				deleteTargetTaken = true
				if ref, _ := readTableRef(tokens, i+1); ref.Name != "" {
					writes = append(writes, ref)
				}
				continue
			}
			appendRead(tokens, i+1, cteNames, seenRead, &reads)
		case "JOIN":
			appendRead(tokens, i+1, cteNames, seenRead, &reads)
		}
	}
	return reads, writes
}

// appendRead parses a table reference at index start and records it as a
// read unless it is a subquery or CTE.
func appendRead(tokens []Token, start int, ctes map[string]bool, seen map[string]bool, reads *[]TableRef) {
	if start < len(tokens) && tokens[start].Type == LPAREN {
		return // subquery; its own FROM is scanned separately
	}
	ref, _ := readTableRef(tokens, start)
	if ref.Name == "" || ctes[strings.ToLower(ref.Name)] {
		return
	}
	key := strings.ToLower(ref.Name)
	if !seen[key] {
		seen[key] = true
		*reads = append(*reads, ref)
	}
}

// readTableRef parses `name` or `schema.name` plus an optional alias.
func readTableRef(tokens []Token, i int) (TableRef, int) {
	if i >= len(tokens) || tokens[i].Type != IDENT || isClauseKeyword(tokens[i].Upper) {
		return TableRef{}, i
	}
	name := tokens[i].Text
	i++
	if i+1 < len(tokens) && tokens[i].Type == DOT && tokens[i+1].Type == IDENT {
		name = name + "." + tokens[i+1].Text
		i += 2
	}
	ref := TableRef{Name: name}
	if i < len(tokens) && tokens[i].Is("AS") {
		i++
	}
	if i < len(tokens) && tokens[i].Type == IDENT && !isClauseKeyword(tokens[i].Upper) {
		ref.Alias = tokens[i].Text
		i++
	}
	return ref, i
}

// cteNames collects names declared in a WITH clause.
func cteNames(tokens []Token) map[string]bool {
	names := make(map[string]bool)
	for i, tok := range tokens {
		if !tok.Is("AS") || i == 0 || i+1 >= len(tokens) {
			continue
		}
		if tokens[i-1].Type == IDENT && tokens[i+1].Type == LPAREN {
			// Looks like `name AS (`; only count it when a WITH appears
			// earlier in the statement.
			for j := 0; j < i; j++ {
				if tokens[j].Is("WITH") {
					names[strings.ToLower(tokens[i-1].Text)] = true
					break
				}
			}
		}
	}
	return names
}

// isStatementVerb reports whether the keyword at index i opens the
// statement rather than appearing mid-clause (ON CONFLICT DO UPDATE).
func isStatementVerb(tokens []Token, i int) bool {
	return i == 0 || !tokens[i-1].Is("DO")
}

// isTopLevel reports whether the token at index i sits at paren depth 0.
func isTopLevel(tokens []Token, i int) bool {
	depth := 0
	for j := 0; j < i; j++ {
		switch tokens[j].Type {
		case LPAREN:
			depth++
		case RPAREN:
			depth--
		}
	}
	return depth == 0
}

// isClauseKeyword reports whether an identifier is a clause keyword that
// terminates a table reference or projection item.
func isClauseKeyword(upper string) bool {
	switch upper {
	case "WHERE", "GROUP", "ORDER", "LIMIT", "OFFSET", "HAVING", "ON", "USING",
		"JOIN", "LEFT", "RIGHT", "INNER", "OUTER", "CROSS", "FULL", "NATURAL",
		"SET", "VALUES", "RETURNING", "UNION", "INTERSECT", "EXCEPT", "AS",
		"FROM", "WINDOW":
		return true
	}
	return false
}
