package mustache

import (
	"fmt"
	"strings"
)

// tokenType identifies the type of lex tokens.
type tokenType int

const (
	tokenText     tokenType = iota // literal text run
	tokenTag                       // {{name}}, {{#name}}, {{/name}}, ... ; symbol says which
	tokenSetDelim                  // {{=<% %>=}}
)

var tokenName = map[tokenType]string{
	tokenText:     "t_text",
	tokenTag:      "t_tag",
	tokenSetDelim: "t_set_delim",
}

// String satisfies the fmt.Stringer interface making it easier to print tokens.
func (t tokenType) String() string {
	s := tokenName[t]
	if s == "" {
		return fmt.Sprintf("t_unknown_%d", int(t))
	}
	return s
}

// token is a single lexical element of a template. Tokens are consumed by the
// parser and never outlive a parse.
type token struct {
	typ    tokenType
	symbol byte   // 0 for a plain escaped interpolation
	name   string // trimmed tag content; literal text for tokenText
	start  int    // offset of the open delimiter
	end    int    // offset just past the close delimiter
	line   int
	col    int
	tags   Tags // delimiters in effect when the tag was scanned

	standalone bool
	indent     string // leading whitespace removed from a standalone line
}

func (t token) String() string {
	if t.typ == tokenText {
		return fmt.Sprintf("%s:%q", t.typ, t.name)
	}
	if t.symbol == 0 {
		return fmt.Sprintf("%s:%q", t.typ, t.name)
	}
	return fmt.Sprintf("%s:%c%q", t.typ, t.symbol, t.name)
}

// lexer holds the state of the scanner.
type lexer struct {
	input  string
	tags   Tags
	pos    int // end of the last consumed tag; pending text starts here
	tokens []token

	// incremental line tracking, so positions are not recomputed from the
	// start of the input for every tag.
	lineOff   int
	line      int
	lineStart int
}

// tokenize scans input into a flat token sequence. Delimiter changes take
// effect for the very next tag scanned.
func tokenize(input string, tags Tags) ([]token, error) {
	if err := tags.validate(); err != nil {
		return nil, &ParseError{Err: err, Line: 1, Column: 1}
	}
	l := &lexer{
		input:  input,
		tags:   tags,
		tokens: make([]token, 0, 16),
		line:   1,
	}
	for {
		i := strings.Index(l.input[l.pos:], l.tags.Open)
		if i < 0 {
			break
		}
		if err := l.scanTag(l.pos + i); err != nil {
			return nil, err
		}
	}
	l.emitText(len(l.input))
	return l.tokens, nil
}

// position reports the 1-based line and column of offset off. Offsets must be
// requested in increasing order.
func (l *lexer) position(off int) (int, int) {
	seg := l.input[l.lineOff:off]
	if n := strings.Count(seg, "\n"); n > 0 {
		l.line += n
		l.lineStart = l.lineOff + strings.LastIndexByte(seg, '\n') + 1
	}
	l.lineOff = off
	return l.line, off - l.lineStart + 1
}

func (l *lexer) errorf(off int, err error, name string) error {
	line, col := l.position(off)
	return &ParseError{Err: err, Name: name, Line: line, Column: col}
}

// emitText appends the pending literal text up to end, if there is any.
func (l *lexer) emitText(end int) {
	if end > l.pos {
		l.tokens = append(l.tokens, token{typ: tokenText, name: l.input[l.pos:end], start: l.pos, end: end})
	}
}

// scanTag scans the tag whose open delimiter starts at tagStart.
func (l *lexer) scanTag(tagStart int) error {
	inner := tagStart + len(l.tags.Open)
	rest := l.input[inner:]

	var (
		symbol  byte
		content string
		tagEnd  int
	)
	switch {
	case strings.HasPrefix(rest, "{"):
		// {{{name}}} is recognized before any other symbol.
		closing := "}" + l.tags.Close
		j := strings.Index(rest[1:], closing)
		if j < 0 {
			return l.errorf(tagStart, ErrUnclosedTag, "")
		}
		symbol, content, tagEnd = '{', rest[1:1+j], inner+1+j+len(closing)
	case strings.HasPrefix(rest, "="):
		closing := "=" + l.tags.Close
		j := strings.Index(rest[1:], closing)
		if j < 0 {
			return l.errorf(tagStart, ErrUnclosedTag, "")
		}
		symbol, content, tagEnd = '=', rest[1:1+j], inner+1+j+len(closing)
	default:
		j := strings.Index(rest, l.tags.Close)
		if j < 0 {
			return l.errorf(tagStart, ErrUnclosedTag, "")
		}
		content, tagEnd = rest[:j], inner+j+len(l.tags.Close)
		trimmed := strings.TrimLeft(content, " \t")
		if trimmed != "" && strings.IndexByte("#^/!>&", trimmed[0]) >= 0 {
			symbol, content = trimmed[0], trimmed[1:]
		}
	}

	t := token{
		typ:    tokenTag,
		symbol: symbol,
		name:   strings.TrimSpace(content),
		start:  tagStart,
		end:    tagEnd,
		tags:   l.tags,
	}
	t.line, t.col = l.position(tagStart)

	var newTags Tags
	switch symbol {
	case '!':
		t.name = ""
	case '=':
		fields := strings.Fields(content)
		if len(fields) != 2 {
			return &ParseError{Err: ErrBadDelimiters, Name: t.name, Line: t.line, Column: t.col}
		}
		newTags = Tags{Open: fields[0], Close: fields[1]}
		if err := newTags.validate(); err != nil {
			return &ParseError{Err: err, Line: t.line, Column: t.col}
		}
		t.typ = tokenSetDelim
		t.tags = newTags
	default:
		if t.name == "" {
			return &ParseError{Err: ErrEmptyTag, Line: t.line, Column: t.col}
		}
	}

	textEnd, next := tagStart, tagEnd
	if indent, skipTo, ok := l.standalone(symbol, tagStart, tagEnd); ok {
		t.standalone, t.indent = true, indent
		textEnd, next = tagStart-len(indent), skipTo
	}
	l.emitText(textEnd)
	l.tokens = append(l.tokens, t)
	l.pos = next
	if t.typ == tokenSetDelim {
		l.tags = newTags
	}
	return nil
}

// standalone reports whether the tag spanning [tagStart, tagEnd) is alone on
// its line. If so it returns the line's indentation and the offset where
// scanning resumes, just past the line terminator.
func (l *lexer) standalone(symbol byte, tagStart, tagEnd int) (string, int, bool) {
	switch symbol {
	case '#', '^', '/', '!', '>', '=':
	default:
		return "", 0, false
	}
	lineStart := strings.LastIndexByte(l.input[:tagStart], '\n') + 1
	if lineStart < l.pos {
		// another tag ends on this line
		return "", 0, false
	}
	indent := l.input[lineStart:tagStart]
	if !isBlank(indent) {
		return "", 0, false
	}
	rest := l.input[tagEnd:]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		if !isBlank(rest) {
			return "", 0, false
		}
		return indent, len(l.input), true
	}
	if !isBlank(strings.TrimSuffix(rest[:nl], "\r")) {
		return "", 0, false
	}
	return indent, tagEnd + nl + 1, true
}

// isBlank reports whether s holds only spaces and tabs.
func isBlank(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != ' ' && s[i] != '\t' {
			return false
		}
	}
	return true
}
