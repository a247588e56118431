package sqlparse

import "strings"

// Lexer tokenizes SQL input, skipping whitespace and comments.
type Lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
	line    int
	col     int
}

// NewLexer creates a lexer over the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++

	if l.ch == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) currentPos() Position {
	return Position{Line: l.line, Column: l.col, Offset: l.pos}
}

// Tokenize consumes the whole input and returns all tokens plus EOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == EOF {
			return tokens
		}
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	pos := l.currentPos()

	switch {
	case l.ch == 0:
		return Token{Type: EOF, Pos: pos}
	case l.ch == '(':
		l.readChar()
		return Token{Type: LPAREN, Text: "(", Pos: pos}
	case l.ch == ')':
		l.readChar()
		return Token{Type: RPAREN, Text: ")", Pos: pos}
	case l.ch == ',':
		l.readChar()
		return Token{Type: COMMA, Text: ",", Pos: pos}
	case l.ch == ';':
		l.readChar()
		return Token{Type: SEMI, Text: ";", Pos: pos}
	case l.ch == '.':
		l.readChar()
		return Token{Type: DOT, Text: ".", Pos: pos}
	case l.ch == '*':
		l.readChar()
		return Token{Type: STAR, Text: "*", Pos: pos}
	case l.ch == '?':
		l.readChar()
		return Token{Type: PARAM, Text: "?", Pos: pos}
	case l.ch == ':':
		return l.readNamedParam(pos)
	case l.ch == '\'' || l.ch == '"' || l.ch == '`' || l.ch == '[':
		return l.readQuoted(pos)
	case isDigit(l.ch):
		return l.readNumber(pos)
	case isIdentStart(l.ch):
		return l.readIdent(pos)
	case strings.IndexByte("=<>!+-/%|&~", l.ch) >= 0:
		return l.readOperator(pos)
	}

	ch := l.ch
	l.readChar()
	return Token{Type: ILLEGAL, Text: string(ch), Pos: pos}
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r':
			l.readChar()
		case l.ch == '-' && l.peekChar() == '-':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			l.readChar()
			l.readChar()
			for l.ch != 0 {
				if l.ch == '*' && l.peekChar() == '/' {
					l.readChar()
					l.readChar()
					break
				}
				l.readChar()
			}
		default:
			return
		}
	}
}

func (l *Lexer) readNamedParam(pos Position) Token {
	l.readChar() // consume ':'
	start := l.pos
	for isIdentPart(l.ch) {
		l.readChar()
	}
	name := l.input[start:l.pos]
	if name == "" {
		return Token{Type: ILLEGAL, Text: ":", Pos: pos}
	}
	return Token{Type: PARAM, Text: name, Pos: pos}
}

// readQuoted handles string literals ('...') and quoted identifiers
// ("...", `...`, [...]). Quoted identifiers are returned as IDENT with the
// quotes stripped so lookups stay uniform.
func (l *Lexer) readQuoted(pos Position) Token {
	open := l.ch
	closeCh := open
	if open == '[' {
		closeCh = ']'
	}
	l.readChar()
	start := l.pos
	for l.ch != 0 {
		if l.ch == closeCh {
			// Doubled quote is an escape inside string literals.
			if open == '\'' && l.peekChar() == '\'' {
				l.readChar()
				l.readChar()
				continue
			}
			break
		}
		l.readChar()
	}
	text := l.input[start:l.pos]
	l.readChar() // consume closing quote

	if open == '\'' {
		return Token{Type: STRING, Text: text, Pos: pos}
	}
	return Token{Type: IDENT, Text: text, Upper: strings.ToUpper(text), Pos: pos}
}

func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	for isDigit(l.ch) || l.ch == '.' || l.ch == 'e' || l.ch == 'E' ||
		((l.ch == '+' || l.ch == '-') && (l.input[l.pos-1] == 'e' || l.input[l.pos-1] == 'E')) {
		l.readChar()
	}
	return Token{Type: NUMBER, Text: l.input[start:l.pos], Pos: pos}
}

func (l *Lexer) readIdent(pos Position) Token {
	start := l.pos
	for isIdentPart(l.ch) {
		l.readChar()
	}
	text := l.input[start:l.pos]
	return Token{Type: IDENT, Text: text, Upper: strings.ToUpper(text), Pos: pos}
}

func (l *Lexer) readOperator(pos Position) Token {
	start := l.pos
	l.readChar()
	// Two-character operators
	two := l.input[start:min(start+2, len(l.input))]
	switch two {
	case "<=", ">=", "<>", "!=", "||", "<<", ">>":
		l.readChar()
	}
	return Token{Type: OP, Text: l.input[start:l.pos], Pos: pos}
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

func isIdentStart(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_'
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch)
}
