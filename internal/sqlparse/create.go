package sqlparse

import (
	"fmt"
	"strings"
)

// CreateStmt is the structural form of a CREATE TABLE or CREATE VIEW.
type CreateStmt struct {
	View        bool
	Name        string
	IfNotExists bool
	Columns     []ColumnDef
	PrimaryKey  []string // table-level PRIMARY KEY constraint columns
	ForeignKeys []ForeignKeyDef
	// SelectSQL is the body of a CREATE VIEW ... AS select.
	SelectSQL string
	Line      int
}

// ColumnDef is one column definition inside a CREATE TABLE.
type ColumnDef struct {
	Name       string
	Type       string
	NotNull    bool
	PrimaryKey bool
	Unique     bool
	Default    string
	Line       int
}

// ForeignKeyDef is a foreign key constraint, column-level or table-level.
type ForeignKeyDef struct {
	Columns    []string
	RefTable   string
	RefColumns []string
	OnDelete   string // CASCADE, SET NULL, RESTRICT, NO ACTION, SET DEFAULT
	OnUpdate   string
	Line       int
}

// ParseCreate parses a CREATE TABLE or CREATE VIEW statement structurally.
// Token lines are relative to the given statement text; callers add their
// segment offset for file positions. The file argument is for errors only.
func ParseCreate(file, sql string) (*CreateStmt, error) {
	tokens := Tokenize(sql)
	p := &createParser{file: file, sql: sql, tokens: tokens}
	return p.parse()
}

type createParser struct {
	file   string
	sql    string
	tokens []Token
	pos    int
}

func (p *createParser) errorf(line int, format string, args ...any) error {
	return &ParseError{File: p.file, Line: line, Message: fmt.Sprintf(format, args...)}
}

func (p *createParser) cur() Token  { return p.tokens[p.pos] }
func (p *createParser) next() Token { t := p.tokens[p.pos]; p.pos++; return t }

func (p *createParser) accept(keyword string) bool {
	if p.cur().Is(keyword) {
		p.pos++
		return true
	}
	return false
}

func (p *createParser) expectIdent() (Token, error) {
	tok := p.cur()
	if tok.Type != IDENT {
		return Token{}, p.errorf(tok.Pos.Line, "expected identifier, found %q", tok.Text)
	}
	p.pos++
	return tok, nil
}

func (p *createParser) parse() (*CreateStmt, error) {
	if !p.accept("CREATE") {
		return nil, p.errorf(p.cur().Pos.Line, "not a CREATE statement")
	}
	stmt := &CreateStmt{Line: p.tokens[0].Pos.Line}

	// TEMP/TEMPORARY are accepted and ignored.
	p.accept("TEMP")
	p.accept("TEMPORARY")

	switch {
	case p.accept("TABLE"):
	case p.accept("VIEW"):
		stmt.View = true
	default:
		return nil, p.errorf(p.cur().Pos.Line, "expected TABLE or VIEW, found %q", p.cur().Text)
	}

	if p.accept("IF") {
		if !p.accept("NOT") || !p.accept("EXISTS") {
			return nil, p.errorf(p.cur().Pos.Line, "malformed IF NOT EXISTS")
		}
		stmt.IfNotExists = true
	}

	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	stmt.Name = name.Text
	// schema-qualified name
	if p.cur().Type == DOT {
		p.pos++
		part, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		stmt.Name = name.Text + "." + part.Text
	}

	if stmt.View {
		return p.parseViewBody(stmt)
	}
	return p.parseTableBody(stmt)
}

// parseViewBody captures the SELECT after AS. An optional explicit column
// list is tolerated but its names are taken from the projection instead.
func (p *createParser) parseViewBody(stmt *CreateStmt) (*CreateStmt, error) {
	if p.cur().Type == LPAREN {
		p.skipParens()
	}
	if !p.accept("AS") {
		return nil, p.errorf(p.cur().Pos.Line, "expected AS in CREATE VIEW")
	}
	tok := p.cur()
	if tok.Type == EOF {
		return nil, p.errorf(tok.Pos.Line, "missing view body")
	}
	stmt.SelectSQL = strings.TrimSuffix(strings.TrimSpace(p.sql[tok.Pos.Offset:]), ";")
	return stmt, nil
}

func (p *createParser) parseTableBody(stmt *CreateStmt) (*CreateStmt, error) {
	if p.cur().Type != LPAREN {
		return nil, p.errorf(p.cur().Pos.Line, "expected column list")
	}
	p.pos++

	for {
		tok := p.cur()
		if tok.Type == EOF {
			return nil, p.errorf(tok.Pos.Line, "unterminated column list")
		}
		if tok.Type == RPAREN {
			p.pos++
			break
		}

		if isTableConstraintStart(tok) {
			if err := p.parseTableConstraint(stmt); err != nil {
				return nil, err
			}
		} else {
			col, fk, err := p.parseColumnDef()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, *col)
			if fk != nil {
				fk.Columns = []string{col.Name}
				stmt.ForeignKeys = append(stmt.ForeignKeys, *fk)
			}
		}

		if p.cur().Type == COMMA {
			p.pos++
		}
	}
	return stmt, nil
}

func isTableConstraintStart(tok Token) bool {
	switch tok.Upper {
	case "PRIMARY", "UNIQUE", "CHECK", "FOREIGN", "CONSTRAINT":
		return tok.Type == IDENT
	}
	return false
}

// parseColumnDef parses one column definition up to the next top-level
// comma or closing paren. A column-level REFERENCES clause is returned as
// a foreign key with its column filled in by the caller.
func (p *createParser) parseColumnDef() (*ColumnDef, *ForeignKeyDef, error) {
	nameTok, err := p.expectIdent()
	if err != nil {
		return nil, nil, err
	}
	col := &ColumnDef{Name: nameTok.Text, Line: nameTok.Pos.Line}

	// Declared type: one or more identifiers, optionally sized.
	var typeParts []string
	for p.cur().Type == IDENT && !isColumnConstraintStart(p.cur()) {
		typeParts = append(typeParts, p.next().Text)
	}
	if p.cur().Type == LPAREN && len(typeParts) > 0 {
		start := p.cur().Pos.Offset
		p.skipParens()
		end := p.tokens[p.pos-1].Pos.Offset + 1
		typeParts[len(typeParts)-1] += p.sql[start:end]
	}
	col.Type = strings.Join(typeParts, " ")

	var fk *ForeignKeyDef
	for {
		tok := p.cur()
		if tok.Type == COMMA || tok.Type == RPAREN || tok.Type == EOF {
			return col, fk, nil
		}
		switch {
		case tok.Is("NOT"):
			p.pos++
			if !p.accept("NULL") {
				return nil, nil, p.errorf(tok.Pos.Line, "expected NULL after NOT")
			}
			col.NotNull = true
		case tok.Is("PRIMARY"):
			p.pos++
			if !p.accept("KEY") {
				return nil, nil, p.errorf(tok.Pos.Line, "expected KEY after PRIMARY")
			}
			p.accept("ASC")
			p.accept("DESC")
			p.accept("AUTOINCREMENT")
			col.PrimaryKey = true
		case tok.Is("UNIQUE"):
			p.pos++
			col.Unique = true
		case tok.Is("DEFAULT"):
			p.pos++
			col.Default = p.parseDefaultValue()
		case tok.Is("REFERENCES"):
			ref, err := p.parseReferences(tok.Pos.Line)
			if err != nil {
				return nil, nil, err
			}
			fk = ref
		case tok.Is("CHECK"):
			p.pos++
			p.skipParens()
		case tok.Is("COLLATE"):
			p.pos++
			p.pos++ // collation name
		case tok.Is("GENERATED"):
			// GENERATED ALWAYS AS (expr) [STORED|VIRTUAL]
			p.pos++
			p.accept("ALWAYS")
			p.accept("AS")
			p.skipParens()
			p.accept("STORED")
			p.accept("VIRTUAL")
		case tok.Is("CONSTRAINT"):
			p.pos++
			p.pos++ // constraint name; the constraint itself follows
		default:
			return nil, nil, p.errorf(tok.Pos.Line, "unexpected token %q in column definition", tok.Text)
		}
	}
}

func isColumnConstraintStart(tok Token) bool {
	switch tok.Upper {
	case "NOT", "NULL", "PRIMARY", "UNIQUE", "DEFAULT", "REFERENCES",
		"CHECK", "COLLATE", "GENERATED", "CONSTRAINT", "AS":
		return true
	}
	return false
}

func (p *createParser) parseDefaultValue() string {
	tok := p.cur()
	if tok.Type == LPAREN {
		start := tok.Pos.Offset
		p.skipParens()
		end := p.tokens[p.pos-1].Pos.Offset + 1
		return p.sql[start:end]
	}
	// Signed numbers keep their sign.
	if tok.Type == OP && (tok.Text == "-" || tok.Text == "+") {
		p.pos++
		return tok.Text + p.next().Text
	}
	p.pos++
	if tok.Type == STRING {
		return "'" + tok.Text + "'"
	}
	return tok.Text
}

// parseReferences parses REFERENCES table [(cols)] [ON DELETE act] [ON UPDATE act].
func (p *createParser) parseReferences(line int) (*ForeignKeyDef, error) {
	p.pos++ // REFERENCES
	tableTok, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	fk := &ForeignKeyDef{RefTable: tableTok.Text, Line: line}

	if p.cur().Type == LPAREN {
		cols, err := p.parseIdentList()
		if err != nil {
			return nil, err
		}
		fk.RefColumns = cols
	}

	for p.cur().Is("ON") {
		p.pos++
		action := ""
		which := p.next()
		switch {
		case p.accept("CASCADE"):
			action = "CASCADE"
		case p.accept("RESTRICT"):
			action = "RESTRICT"
		case p.accept("SET"):
			target := p.next()
			action = "SET " + target.Upper
		case p.accept("NO"):
			p.accept("ACTION")
			action = "NO ACTION"
		default:
			return nil, p.errorf(which.Pos.Line, "malformed ON %s action", which.Upper)
		}
		switch which.Upper {
		case "DELETE":
			fk.OnDelete = action
		case "UPDATE":
			fk.OnUpdate = action
		default:
			return nil, p.errorf(which.Pos.Line, "expected DELETE or UPDATE after ON")
		}
	}
	// DEFERRABLE clauses are tolerated.
	if p.accept("DEFERRABLE") || (p.cur().Is("NOT") && p.tokens[p.pos+1].Is("DEFERRABLE")) {
		for p.cur().Type == IDENT && !isColumnConstraintStart(p.cur()) && p.cur().Type != COMMA {
			p.pos++
		}
	}
	return fk, nil
}

func (p *createParser) parseTableConstraint(stmt *CreateStmt) error {
	tok := p.cur()
	if tok.Is("CONSTRAINT") {
		p.pos++
		p.pos++ // name
		tok = p.cur()
	}

	switch {
	case tok.Is("PRIMARY"):
		p.pos++
		if !p.accept("KEY") {
			return p.errorf(tok.Pos.Line, "expected KEY after PRIMARY")
		}
		cols, err := p.parseIdentList()
		if err != nil {
			return err
		}
		stmt.PrimaryKey = cols
		for i := range stmt.Columns {
			for _, c := range cols {
				if strings.EqualFold(stmt.Columns[i].Name, c) {
					stmt.Columns[i].PrimaryKey = true
				}
			}
		}
	case tok.Is("UNIQUE"):
		p.pos++
		p.skipParens()
	case tok.Is("CHECK"):
		p.pos++
		p.skipParens()
	case tok.Is("FOREIGN"):
		p.pos++
		if !p.accept("KEY") {
			return p.errorf(tok.Pos.Line, "expected KEY after FOREIGN")
		}
		cols, err := p.parseIdentList()
		if err != nil {
			return err
		}
		if !p.cur().Is("REFERENCES") {
			return p.errorf(p.cur().Pos.Line, "expected REFERENCES in foreign key")
		}
		fk, err := p.parseReferences(tok.Pos.Line)
		if err != nil {
			return err
		}
		fk.Columns = cols
		stmt.ForeignKeys = append(stmt.ForeignKeys, *fk)
	default:
		return p.errorf(tok.Pos.Line, "unexpected constraint %q", tok.Text)
	}
	return nil
}

// parseIdentList parses a parenthesized identifier list.
func (p *createParser) parseIdentList() ([]string, error) {
	if p.cur().Type != LPAREN {
		return nil, p.errorf(p.cur().Pos.Line, "expected column list")
	}
	p.pos++
	var cols []string
	for {
		tok := p.next()
		switch tok.Type {
		case IDENT:
			cols = append(cols, tok.Text)
			// Tolerate ASC/DESC and COLLATE in index-style lists.
			for p.accept("ASC") || p.accept("DESC") {
			}
		case COMMA:
		case RPAREN:
			return cols, nil
		case EOF:
			return nil, p.errorf(tok.Pos.Line, "unterminated column list")
		}
	}
}

// skipParens skips a balanced parenthesized group starting at the current
// position. No-op when the current token is not an opening paren.
func (p *createParser) skipParens() {
	if p.cur().Type != LPAREN {
		return
	}
	depth := 0
	for {
		tok := p.next()
		switch tok.Type {
		case LPAREN:
			depth++
		case RPAREN:
			depth--
			if depth == 0 {
				return
			}
		case EOF:
			return
		}
	}
}
