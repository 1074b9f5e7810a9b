package mustache

import "fmt"

// NodeKind identifies the kind of a parsed template node.
type NodeKind uint8

const (
	NodeText NodeKind = iota
	NodeVariable
	NodeSection
	NodeInvertedSection
	NodePartial
	NodeComment
	NodeSectionEnd
)

var nodeKindName = [...]string{
	NodeText:            "text",
	NodeVariable:        "variable",
	NodeSection:         "section",
	NodeInvertedSection: "inverted",
	NodePartial:         "partial",
	NodeComment:         "comment",
	NodeSectionEnd:      "end",
}

func (k NodeKind) String() string {
	if int(k) < len(nodeKindName) {
		return nodeKindName[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Node is a single element of a parsed template. A template is a flat,
// index-addressed sequence of nodes: the body of the section at index i is
// the range (i, End), and the node at End is its NodeSectionEnd marker.
type Node struct {
	Kind NodeKind
	Name string // tag name, empty for text and comments
	Text string // literal text for NodeText

	// Escape is set for {{name}} interpolations and cleared for {{{name}}}
	// and {{&name}}.
	Escape bool

	// End is the index of the matching NodeSectionEnd for sections; for an
	// end marker it is the index of its opener.
	End int

	// Raw is the unprocessed source between a section's opening and closing
	// tags. Lambdas receive it verbatim.
	Raw string

	// Tags are the delimiters in effect at the section opener. Lambda output
	// is parsed with them.
	Tags Tags

	// Indent is the whitespace preceding a standalone partial tag.
	Indent string

	Line   int
	Column int
}

func (n Node) String() string {
	switch n.Kind {
	case NodeText:
		return fmt.Sprintf("text(%q)", n.Text)
	case NodeVariable:
		if n.Escape {
			return fmt.Sprintf("{{%s}}", n.Name)
		}
		return fmt.Sprintf("{{{%s}}}", n.Name)
	case NodeSection:
		return fmt.Sprintf("{{#%s}}", n.Name)
	case NodeInvertedSection:
		return fmt.Sprintf("{{^%s}}", n.Name)
	case NodeSectionEnd:
		return fmt.Sprintf("{{/%s}}", n.Name)
	case NodePartial:
		return fmt.Sprintf("{{>%s}}", n.Name)
	case NodeComment:
		return "{{!}}"
	}
	return n.Kind.String()
}

// Template is an immutable parsed template. It is safe to share between
// goroutines and is reused by reference from the Cache.
type Template struct {
	source string
	tags   Tags
	nodes  []Node
}

// Source returns the text the template was parsed from.
func (t *Template) Source() string { return t.source }

// Tags returns the delimiters the template was parsed with.
func (t *Template) Tags() Tags { return t.tags }

// Nodes returns the parsed node sequence. The slice is shared and must not be
// modified.
func (t *Template) Nodes() []Node { return t.nodes }

// Len returns the number of nodes in the template.
func (t *Template) Len() int { return len(t.nodes) }
