package mustache

import "fmt"

type openSection struct {
	index     int // node index of the opener
	bodyStart int // source offset just past the opening tag
}

type parser struct {
	source string
	nodes  []Node
	stack  []openSection
}

// Parse parses source with the given opening delimiters. The result is not
// cached; use a Cache or a Renderer to share parsed templates.
func Parse(source string, tags Tags) (*Template, error) {
	tokens, err := tokenize(source, tags)
	if err != nil {
		return nil, err
	}
	p := &parser{
		source: source,
		nodes:  make([]Node, 0, len(tokens)),
	}
	for _, t := range tokens {
		if err := p.add(t); err != nil {
			return nil, err
		}
	}
	if len(p.stack) > 0 {
		open := p.nodes[p.stack[len(p.stack)-1].index]
		return nil, &ParseError{Err: ErrUnclosedSection, Name: open.Name, Line: open.Line, Column: open.Column}
	}
	return &Template{source: source, tags: tags, nodes: p.nodes}, nil
}

func (p *parser) add(t token) error {
	switch t.typ {
	case tokenText:
		p.nodes = append(p.nodes, Node{Kind: NodeText, Text: t.name})
		return nil
	case tokenSetDelim:
		// Delimiter changes only affect scanning.
		return nil
	}

	n := Node{Name: t.name, Tags: t.tags, Line: t.line, Column: t.col}
	switch t.symbol {
	case 0:
		n.Kind, n.Escape = NodeVariable, true
	case '{', '&':
		n.Kind = NodeVariable
	case '!':
		n.Kind = NodeComment
	case '>':
		n.Kind = NodePartial
		if t.standalone {
			n.Indent = t.indent
		}
	case '#', '^':
		n.Kind = NodeSection
		if t.symbol == '^' {
			n.Kind = NodeInvertedSection
		}
		p.stack = append(p.stack, openSection{index: len(p.nodes), bodyStart: t.end})
	case '/':
		return p.closeSection(t)
	default:
		return &ParseError{Err: fmt.Errorf("unknown tag symbol %q", t.symbol), Line: t.line, Column: t.col}
	}
	p.nodes = append(p.nodes, n)
	return nil
}

// closeSection matches a closing tag against the innermost open section and
// links the pair.
func (p *parser) closeSection(t token) error {
	if len(p.stack) == 0 {
		return &ParseError{Err: ErrUnexpectedClose, Name: t.name, Line: t.line, Column: t.col}
	}
	open := p.stack[len(p.stack)-1]
	opener := &p.nodes[open.index]
	if opener.Name != t.name {
		return &ParseError{
			Err:    fmt.Errorf("%w, expected %q opened at %d:%d", ErrMismatchedSection, opener.Name, opener.Line, opener.Column),
			Name:   t.name,
			Line:   t.line,
			Column: t.col,
		}
	}
	p.stack = p.stack[:len(p.stack)-1]

	end := len(p.nodes)
	opener.End = end
	opener.Raw = p.source[open.bodyStart:t.start]
	p.nodes = append(p.nodes, Node{
		Kind:   NodeSectionEnd,
		Name:   t.name,
		End:    open.index,
		Tags:   t.tags,
		Line:   t.line,
		Column: t.col,
	})
	return nil
}
