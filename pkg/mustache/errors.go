package mustache

import (
	"errors"
	"fmt"
)

// Parse failures. A *ParseError wraps one of these.
var (
	ErrUnclosedTag       = errors.New("unclosed tag")
	ErrEmptyTag          = errors.New("empty tag")
	ErrBadDelimiters     = errors.New("malformed set delimiter tag")
	ErrUnclosedSection   = errors.New("unclosed section")
	ErrMismatchedSection = errors.New("mismatched section close")
	ErrUnexpectedClose   = errors.New("section close without opening")
)

// Render failures. A *RenderError wraps one of these or a loader error.
var (
	ErrMissingKey       = errors.New("missing key")
	ErrRecursionLimit   = errors.New("recursion depth exceeded")
	ErrCallable         = errors.New("callable failed")
	ErrTemplateNotFound = errors.New("template not found")
)

// ParseError reports a syntax error at a position in the template source.
type ParseError struct {
	Err    error
	Name   string // tag or section name involved, if any
	Line   int
	Column int
}

func (e *ParseError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%d:%d syntax error: %q: %s", e.Line, e.Column, e.Name, e.Err)
	}
	return fmt.Sprintf("%d:%d syntax error: %s", e.Line, e.Column, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// RenderError is returned when rendering cannot complete. Missing keys only
// produce one in strict mode.
type RenderError struct {
	Err  error
	Name string
}

func (e *RenderError) Error() string {
	if e.Name == "" {
		return "render: " + e.Err.Error()
	}
	return fmt.Sprintf("render %q: %s", e.Name, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
