package mustache

import "strings"

// DefaultMaxRecursionDepth bounds nested partial and lambda expansion when
// RenderSettings.MaxRecursionDepth is zero.
const DefaultMaxRecursionDepth = 64

// RenderSettings controls a single render.
type RenderSettings struct {
	// Escape is applied to {{name}} interpolations. Nil means HTMLEscape.
	Escape func(string) string

	// StrictMissing makes any unresolved name fail the render with
	// ErrMissingKey instead of rendering as empty.
	StrictMissing bool

	// MaxRecursionDepth caps nested partial inclusions and lambda
	// expansions. Zero means DefaultMaxRecursionDepth.
	MaxRecursionDepth int

	// PartialLoader resolves partials absent from the per-call map. A
	// loader error wrapping ErrTemplateNotFound renders the partial as
	// empty; any other error fails the render.
	PartialLoader Loader
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() RenderSettings {
	return RenderSettings{
		Escape:            HTMLEscape,
		MaxRecursionDepth: DefaultMaxRecursionDepth,
	}
}

func (s *RenderSettings) escape(v string) string {
	if s.Escape == nil {
		return HTMLEscape(v)
	}
	return s.Escape(v)
}

func (s *RenderSettings) maxDepth() int {
	if s.MaxRecursionDepth <= 0 {
		return DefaultMaxRecursionDepth
	}
	return s.MaxRecursionDepth
}

// HTMLEscape replaces &, <, > and " with their HTML entities.
func HTMLEscape(s string) string {
	if !strings.ContainsAny(s, `&<>"`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 16)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// NoEscape returns s unchanged. Use it as RenderSettings.Escape for
// non-HTML output.
func NoEscape(s string) string { return s }
