package mustache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	asrt := assert.New(t)

	tokens, err := tokenize("Hi {{name}}, {{{raw}}} {{&amp}}{{#s}}x{{/s}}", DefaultTags)
	require.NoError(t, err)

	type want struct {
		typ    tokenType
		symbol byte
		name   string
	}
	expected := []want{
		{tokenText, 0, "Hi "},
		{tokenTag, 0, "name"},
		{tokenText, 0, ", "},
		{tokenTag, '{', "raw"},
		{tokenText, 0, " "},
		{tokenTag, '&', "amp"},
		{tokenTag, '#', "s"},
		{tokenText, 0, "x"},
		{tokenTag, '/', "s"},
	}
	require.Len(t, tokens, len(expected))
	for i, w := range expected {
		asrt.Equal(w.typ, tokens[i].typ, "token %d", i)
		asrt.Equal(w.symbol, tokens[i].symbol, "token %d", i)
		asrt.Equal(w.name, tokens[i].name, "token %d", i)
	}
}

func TestTokenizeTrimsNames(t *testing.T) {
	tokens, err := tokenize("{{  name  }}{{# section }}{{/ section }}", DefaultTags)
	require.NoError(t, err)
	require.Len(t, tokens, 3)
	assert.Equal(t, "name", tokens[0].name)
	assert.Equal(t, "section", tokens[1].name)
	assert.Equal(t, "section", tokens[2].name)
}

func TestTokenizePositions(t *testing.T) {
	asrt := assert.New(t)

	tokens, err := tokenize("a\nbc {{x}}\n\n  {{y}}", DefaultTags)
	require.NoError(t, err)

	var tags []token
	for _, tok := range tokens {
		if tok.typ == tokenTag {
			tags = append(tags, tok)
		}
	}
	require.Len(t, tags, 2)
	asrt.Equal(2, tags[0].line)
	asrt.Equal(4, tags[0].col)
	asrt.Equal(4, tags[1].line)
	asrt.Equal(3, tags[1].col)
}

func TestTokenizeStandalone(t *testing.T) {
	asrt := assert.New(t)

	tokens, err := tokenize("begin\n  {{#a}}  \r\nbody\n{{/a}}\nend", DefaultTags)
	require.NoError(t, err)

	var text string
	for _, tok := range tokens {
		switch {
		case tok.typ == tokenText:
			text += tok.name
		case tok.symbol == '#':
			asrt.True(tok.standalone)
			asrt.Equal("  ", tok.indent)
		case tok.symbol == '/':
			asrt.True(tok.standalone)
		}
	}
	asrt.Equal("begin\nbody\nend", text)
}

func TestTokenizeNotStandalone(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"text before", "x {{#a}}\n{{/a}}"},
		{"text after", "{{#a}} x\n{{/a}}"},
		{"variable", "  {{a}}\n"},
		{"two tags", "{{b}}{{#a}}\n{{/a}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, err := tokenize(tt.input, DefaultTags)
			require.NoError(t, err)
			for _, tok := range tokens {
				if tok.typ == tokenTag && (tok.symbol == '#' || tok.symbol == 0) {
					assert.False(t, tok.standalone, "token %s", tok)
				}
			}
		})
	}
}

func TestTokenizeSetDelimiters(t *testing.T) {
	asrt := assert.New(t)

	tokens, err := tokenize("{{=<% %>=}}<% name %>{{literal}}<%={{ }}=%>{{again}}", DefaultTags)
	require.NoError(t, err)
	require.Len(t, tokens, 5)

	asrt.Equal(tokenSetDelim, tokens[0].typ)
	asrt.Equal(Tags{Open: "<%", Close: "%>"}, tokens[0].tags)
	asrt.Equal("name", tokens[1].name)
	asrt.Equal(Tags{Open: "<%", Close: "%>"}, tokens[1].tags)
	asrt.Equal(tokenText, tokens[2].typ)
	asrt.Equal("{{literal}}", tokens[2].name)
	asrt.Equal(tokenSetDelim, tokens[3].typ)
	asrt.Equal("again", tokens[4].name)
	asrt.Equal(DefaultTags, tokens[4].tags)
}

func TestTokenizeMultilineComment(t *testing.T) {
	tokens, err := tokenize("a\n{{! one\ntwo }}\nb", DefaultTags)
	require.NoError(t, err)
	require.Len(t, tokens, 3)
	assert.Equal(t, "a\n", tokens[0].name)
	assert.Equal(t, byte('!'), tokens[1].symbol)
	assert.True(t, tokens[1].standalone)
	assert.Equal(t, "b", tokens[2].name)
}

func TestTokenizeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		err   error
		line  int
		col   int
	}{
		{"unclosed", "ab\n  {{name", ErrUnclosedTag, 2, 3},
		{"unclosed triple", "{{{name}}", ErrUnclosedTag, 1, 1},
		{"empty", "x {{ }}", ErrEmptyTag, 1, 3},
		{"empty section", "{{#}}", ErrEmptyTag, 1, 1},
		{"one delimiter", "{{=<%=}}", ErrBadDelimiters, 1, 1},
		{"three delimiters", "{{=< % >=}}", ErrBadDelimiters, 1, 1},
		{"equals in delimiter", "{{=<= =>=}}", ErrBadDelimiters, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tokenize(tt.input, DefaultTags)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.err), "got %v", err)

			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.line, pe.Line)
			assert.Equal(t, tt.col, pe.Column)
		})
	}
}

func TestTokenizeInvalidStartTags(t *testing.T) {
	_, err := tokenize("x", Tags{Open: "{{", Close: ""})
	assert.ErrorIs(t, err, ErrBadDelimiters)
}
