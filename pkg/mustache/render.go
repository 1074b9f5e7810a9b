package mustache

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Lambda is a section value invoked with the section's unrendered text. Its
// result is parsed with the section's delimiters and rendered in place.
type Lambda func(text string) string

// RenderFunc renders text as a template against the current context.
type RenderFunc func(text string) (string, error)

// RenderLambda is a section value that receives the unrendered section text
// and a RenderFunc. Its result is written verbatim.
type RenderLambda func(text string, render RenderFunc) (string, error)

var bufPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

func getBuffer() *bytes.Buffer {
	b := bufPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// renderState is the mutable state of one render call.
type renderState struct {
	cache    *Cache
	settings *RenderSettings
	partials map[string]string
	loader   Loader
	logger   *slog.Logger
	stack    contextStack
	depth    int
}

func (s *renderState) render(b *bytes.Buffer, t *Template) error {
	return s.walk(b, t.nodes, 0, len(t.nodes))
}

// walk renders nodes[from:to]. Section bodies are handled by the section and
// the cursor jumps past their end marker.
func (s *renderState) walk(b *bytes.Buffer, nodes []Node, from, to int) error {
	for i := from; i < to; i++ {
		n := &nodes[i]
		var err error
		switch n.Kind {
		case NodeText:
			b.WriteString(n.Text)
		case NodeVariable:
			err = s.variable(b, n)
		case NodeSection:
			err = s.section(b, nodes, i)
			i = n.End
		case NodeInvertedSection:
			err = s.inverted(b, nodes, i)
			i = n.End
		case NodePartial:
			err = s.partial(b, n)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// lookup resolves name and applies strict mode.
func (s *renderState) lookup(name string) (any, bool, error) {
	v, ok, err := s.stack.resolve(name)
	if err != nil {
		return nil, false, &RenderError{Err: fmt.Errorf("%w: %w", ErrCallable, err), Name: name}
	}
	if !ok && s.settings.StrictMissing {
		return nil, false, &RenderError{Err: ErrMissingKey, Name: name}
	}
	return v, ok, nil
}

func (s *renderState) variable(b *bytes.Buffer, n *Node) error {
	v, ok, err := s.lookup(n.Name)
	if err != nil || !ok {
		return err
	}
	str := stringify(v)
	if n.Escape {
		str = s.settings.escape(str)
	}
	b.WriteString(str)
	return nil
}

func (s *renderState) section(b *bytes.Buffer, nodes []Node, i int) error {
	n := &nodes[i]
	v, ok, err := s.lookup(n.Name)
	if err != nil || !ok {
		return err
	}

	switch fn := v.(type) {
	case Lambda:
		return s.expand(b, n, fn(n.Raw))
	case func(string) string:
		return s.expand(b, n, fn(n.Raw))
	case RenderLambda:
		return s.renderLambda(b, n, fn)
	case func(string, RenderFunc) (string, error):
		return s.renderLambda(b, n, fn)
	}

	if !truthy(v) {
		return nil
	}
	if items, ok := list(v); ok {
		for j := 0; j < items.Len(); j++ {
			s.stack.push(items.Index(j).Interface())
			err := s.walk(b, nodes, i+1, n.End)
			s.stack.pop()
			if err != nil {
				return err
			}
		}
		return nil
	}
	s.stack.push(v)
	err = s.walk(b, nodes, i+1, n.End)
	s.stack.pop()
	return err
}

func (s *renderState) inverted(b *bytes.Buffer, nodes []Node, i int) error {
	n := &nodes[i]
	v, ok, err := s.lookup(n.Name)
	if err != nil {
		return err
	}
	if ok && truthy(v) {
		return nil
	}
	return s.walk(b, nodes, i+1, n.End)
}

// expand parses lambda output with the section's delimiters and renders it.
func (s *renderState) expand(b *bytes.Buffer, n *Node, text string) error {
	if err := s.enter(n.Name); err != nil {
		return err
	}
	defer s.leave()
	t, err := s.cache.GetOrParse(text, n.Tags)
	if err != nil {
		return fmt.Errorf("lambda %q: %w", n.Name, err)
	}
	return s.render(b, t)
}

func (s *renderState) renderLambda(b *bytes.Buffer, n *Node, fn RenderLambda) error {
	if err := s.enter(n.Name); err != nil {
		return err
	}
	defer s.leave()
	out, err := fn(n.Raw, func(text string) (string, error) {
		sb := getBuffer()
		defer bufPool.Put(sb)
		t, err := s.cache.GetOrParse(text, n.Tags)
		if err != nil {
			return "", err
		}
		if err := s.render(sb, t); err != nil {
			return "", err
		}
		return sb.String(), nil
	})
	if err != nil {
		var re *RenderError
		var pe *ParseError
		if errors.As(err, &re) || errors.As(err, &pe) {
			return err
		}
		return &RenderError{Err: fmt.Errorf("%w: %w", ErrCallable, err), Name: n.Name}
	}
	b.WriteString(out)
	return nil
}

func (s *renderState) partial(b *bytes.Buffer, n *Node) error {
	src, ok, err := s.loadPartial(n.Name)
	if err != nil {
		return &RenderError{Err: err, Name: n.Name}
	}
	if !ok {
		s.logger.Debug("Partial not found", slog.String("partial", n.Name))
		return nil
	}
	if err := s.enter(n.Name); err != nil {
		return err
	}
	defer s.leave()

	t, err := s.cache.GetOrParse(src, DefaultTags)
	if err != nil {
		return fmt.Errorf("partial %q: %w", n.Name, err)
	}
	if n.Indent == "" {
		return s.render(b, t)
	}
	sb := getBuffer()
	defer bufPool.Put(sb)
	if err := s.render(sb, t); err != nil {
		return err
	}
	indentLines(b, sb.String(), n.Indent)
	return nil
}

// loadPartial looks name up in the per-call map, then the partial loader.
func (s *renderState) loadPartial(name string) (string, bool, error) {
	if src, ok := s.partials[name]; ok {
		return src, true, nil
	}
	if s.loader == nil {
		return "", false, nil
	}
	src, err := s.loader.Load(name)
	if errors.Is(err, ErrTemplateNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return src, true, nil
}

func (s *renderState) enter(name string) error {
	s.depth++
	if s.depth > s.settings.maxDepth() {
		s.depth--
		return &RenderError{Err: ErrRecursionLimit, Name: name}
	}
	return nil
}

func (s *renderState) leave() { s.depth-- }

// indentLines writes text to b with indent prepended to every line.
func indentLines(b *bytes.Buffer, text, indent string) {
	for text != "" {
		b.WriteString(indent)
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			b.WriteString(text)
			return
		}
		b.WriteString(text[:i+1])
		text = text[i+1:]
	}
}
