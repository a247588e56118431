package annotation

import (
	"fmt"
	"strings"
)

// Extract scans SQL source text and returns every directive block found in
// line or block comments, in source order. The file name is used only for
// error reporting and block locations.
func Extract(file, src string) ([]Block, error) {
	var blocks []Block

	lines := strings.Split(src, "\n")
	inBlockComment := false

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		for pos := 0; pos < len(line); {
			if inBlockComment {
				end := strings.Index(line[pos:], "*/")
				marker := strings.Index(line[pos:], "@@{")
				if marker >= 0 && (end < 0 || marker < end) {
					block, nextLine, nextPos, err := parseBlockAt(file, lines, i, pos+marker+2, sourceBlockComment)
					if err != nil {
						return nil, err
					}
					block.Trailing = false
					blocks = append(blocks, *block)
					i, pos = nextLine, nextPos
					line = lines[i]
					continue
				}
				if end < 0 {
					pos = len(line)
					break
				}
				inBlockComment = false
				pos += end + 2
				continue
			}

			lineComment := strings.Index(line[pos:], "--")
			blockComment := strings.Index(line[pos:], "/*")
			quote := indexUnquotedQuote(line[pos:])

			// A quote before any comment opener means the opener may be
			// inside a string literal; skip past the literal first.
			if quote >= 0 && (lineComment < 0 || quote < lineComment) && (blockComment < 0 || quote < blockComment) {
				closing := strings.IndexByte(line[pos+quote+1:], line[pos+quote])
				if closing < 0 {
					pos = len(line)
					break
				}
				pos += quote + closing + 2
				continue
			}

			if lineComment >= 0 && (blockComment < 0 || lineComment < blockComment) {
				commentStart := pos + lineComment
				trailing := strings.TrimSpace(line[:commentStart]) != ""
				marker := strings.Index(line[commentStart:], "@@{")
				if marker < 0 {
					pos = len(line)
					break
				}
				block, nextLine, nextPos, err := parseBlockAt(file, lines, i, commentStart+marker+2, sourceLineComment)
				if err != nil {
					return nil, err
				}
				block.Trailing = trailing
				blocks = append(blocks, *block)
				i, pos = nextLine, nextPos
				line = lines[i]
				continue
			}

			if blockComment >= 0 {
				trailingText := strings.TrimSpace(line[:pos+blockComment]) != ""
				inBlockComment = true
				pos += blockComment + 2
				// Remember trailing context for a directive opening on
				// this same line inside the block comment.
				if marker := strings.Index(line[pos:], "@@{"); marker >= 0 {
					end := strings.Index(line[pos:], "*/")
					if end < 0 || marker < end {
						block, nextLine, nextPos, err := parseBlockAt(file, lines, i, pos+marker+2, sourceBlockComment)
						if err != nil {
							return nil, err
						}
						block.Trailing = trailingText
						blocks = append(blocks, *block)
						i, pos = nextLine, nextPos
						line = lines[i]
						continue
					}
				}
				continue
			}

			pos = len(line)
		}
	}

	if inBlockComment {
		return nil, &Error{File: file, Line: len(lines), Message: "unterminated block comment"}
	}

	return blocks, nil
}

type commentSource int

const (
	sourceLineComment commentSource = iota
	sourceBlockComment
)

// parseBlockAt parses one directive body starting at the opening brace
// located at lines[startLine][bracePos]. It returns the parsed block and
// the line/position immediately after the closing brace.
func parseBlockAt(file string, lines []string, startLine, bracePos int, src commentSource) (*Block, int, int, error) {
	body, endLine, endPos, err := captureBody(file, lines, startLine, bracePos, src)
	if err != nil {
		return nil, 0, 0, err
	}

	block := &Block{
		File:    file,
		Line:    startLine + 1,
		EndLine: endLine + 1,
		Values:  make(map[string]Value),
	}

	p := &bodyParser{file: file, line: startLine + 1, input: body}
	entries, err := p.parseEntries()
	if err != nil {
		return nil, 0, 0, err
	}
	for _, e := range entries {
		if _, dup := block.Values[e.Key]; dup {
			return nil, 0, 0, duplicateKeyError(file, startLine+1, e.Key)
		}
		block.Keys = append(block.Keys, e.Key)
		block.Values[e.Key] = e.Value
	}

	return block, endLine, endPos, nil
}

// captureBody collects the text between the directive's outer braces,
// honoring nested braces and quoted strings. Line comments may continue a
// directive onto following comment lines; block comments may span lines
// freely but the directive must close before the comment does.
func captureBody(file string, lines []string, startLine, bracePos int, src commentSource) (string, int, int, error) {
	var sb strings.Builder
	depth := 0
	li := startLine
	pos := bracePos

	for {
		line := lines[li]
		for pos < len(line) {
			ch := line[pos]

			if src == sourceBlockComment && ch == '*' && pos+1 < len(line) && line[pos+1] == '/' {
				return "", 0, 0, &Error{File: file, Line: startLine + 1, Message: "unbalanced braces in directive"}
			}

			switch ch {
			case '\'', '"':
				closing := strings.IndexByte(line[pos+1:], ch)
				if closing < 0 {
					return "", 0, 0, &Error{File: file, Line: li + 1, Message: "unterminated string in directive"}
				}
				sb.WriteString(line[pos : pos+closing+2])
				pos += closing + 2
				continue
			case '{':
				depth++
				if depth > 1 {
					sb.WriteByte(ch)
				}
			case '}':
				depth--
				if depth == 0 {
					return sb.String(), li, pos + 1, nil
				}
				sb.WriteByte(ch)
			default:
				sb.WriteByte(ch)
			}
			pos++
		}

		// Directive continues on the next line.
		li++
		if li >= len(lines) {
			return "", 0, 0, &Error{File: file, Line: startLine + 1, Message: "unbalanced braces in directive"}
		}
		next := lines[li]
		if src == sourceLineComment {
			trimmed := strings.TrimSpace(next)
			if !strings.HasPrefix(trimmed, "--") {
				return "", 0, 0, &Error{File: file, Line: startLine + 1, Message: "unbalanced braces in directive"}
			}
			rest := strings.TrimPrefix(trimmed, "--")
			lines[li] = rest
		}
		pos = 0
		sb.WriteByte(' ')
	}
}

// bodyParser parses the comma-separated key/value entries of a directive
// body. Both '=' and ':' are accepted as separators so nested maps read
// naturally (cascadeNotify={delete:[a, b]}).
type bodyParser struct {
	file  string
	line  int
	input string
	pos   int
}

func (p *bodyParser) errorf(format string, args ...any) error {
	return &Error{File: p.file, Line: p.line, Message: fmt.Sprintf(format, args...)}
}

func (p *bodyParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *bodyParser) parseEntries() ([]Entry, error) {
	var entries []Entry
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return entries, nil
		}
		key, err := p.parseWord()
		if err != nil {
			return nil, err
		}
		if key == "" {
			return nil, p.errorf("expected key in directive")
		}

		p.skipSpace()
		value := Value{Kind: KindScalar}
		if p.pos < len(p.input) {
			switch p.input[p.pos] {
			case '=', ':':
				p.pos++
				value, err = p.parseValue()
				if err != nil {
					return nil, err
				}
			case '{':
				// Map value directly after the key: cascadeNotify{...}
				value, err = p.parseValue()
				if err != nil {
					return nil, err
				}
			}
		}

		entries = append(entries, Entry{Key: key, Value: value})

		p.skipSpace()
		if p.pos >= len(p.input) {
			return entries, nil
		}
		if p.input[p.pos] != ',' {
			return nil, p.errorf("expected ',' between directive entries, found %q", p.input[p.pos])
		}
		p.pos++
	}
}

func (p *bodyParser) parseValue() (Value, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return Value{}, p.errorf("missing value in directive")
	}

	switch p.input[p.pos] {
	case '{':
		p.pos++
		sub, err := p.parseEntriesUntil('}')
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindMap, Entries: sub}, nil
	case '[':
		p.pos++
		var items []Value
		for {
			p.skipSpace()
			if p.pos >= len(p.input) {
				return Value{}, p.errorf("unterminated list in directive")
			}
			if p.input[p.pos] == ']' {
				p.pos++
				return Value{Kind: KindList, List: items}, nil
			}
			item, err := p.parseValue()
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
			p.skipSpace()
			if p.pos < len(p.input) && p.input[p.pos] == ',' {
				p.pos++
			}
		}
	case '\'', '"':
		quote := p.input[p.pos]
		closing := strings.IndexByte(p.input[p.pos+1:], quote)
		if closing < 0 {
			return Value{}, p.errorf("unterminated string in directive")
		}
		s := p.input[p.pos+1 : p.pos+1+closing]
		p.pos += closing + 2
		return Value{Kind: KindScalar, Scalar: s}, nil
	}

	word, err := p.parseWord()
	if err != nil {
		return Value{}, err
	}
	if word == "" {
		return Value{}, p.errorf("missing value in directive")
	}
	return Value{Kind: KindScalar, Scalar: word}, nil
}

// parseEntriesUntil parses entries up to the given closing delimiter.
// Keys within one map are unique, same as at the top level of a block.
func (p *bodyParser) parseEntriesUntil(closer byte) ([]Entry, error) {
	var entries []Entry
	seen := make(map[string]bool)
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return nil, p.errorf("unbalanced braces in directive")
		}
		if p.input[p.pos] == closer {
			p.pos++
			return entries, nil
		}

		key, err := p.parseWord()
		if err != nil {
			return nil, err
		}
		if key == "" {
			return nil, p.errorf("expected key in directive map")
		}
		if seen[key] {
			return nil, duplicateKeyError(p.file, p.line, key)
		}
		seen[key] = true
		p.skipSpace()
		value := Value{Kind: KindScalar}
		if p.pos < len(p.input) && (p.input[p.pos] == '=' || p.input[p.pos] == ':') {
			p.pos++
			value, err = p.parseValue()
			if err != nil {
				return nil, err
			}
		}
		entries = append(entries, Entry{Key: key, Value: value})

		p.skipSpace()
		if p.pos < len(p.input) && p.input[p.pos] == ',' {
			p.pos++
		}
	}
}

// parseWord reads an identifier-like token: letters, digits, and a small
// set of punctuation that shows up in type names and paths.
func (p *bodyParser) parseWord() (string, error) {
	start := p.pos
	for p.pos < len(p.input) {
		ch := p.input[p.pos]
		if ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' ||
			ch == '_' || ch == '.' || ch == '<' || ch == '>' || ch == '?' || ch == '-' || ch == '/' {
			p.pos++
			continue
		}
		break
	}
	return p.input[start:p.pos], nil
}

// indexUnquotedQuote returns the index of the first quote character.
func indexUnquotedQuote(s string) int {
	return strings.IndexAny(s, "'\"")
}
