package mustache

import (
	"fmt"
	"strings"
)

// Tags is a pair of tag delimiters.
type Tags struct {
	Open  string
	Close string
}

// DefaultTags are the standard Mustache delimiters.
var DefaultTags = Tags{Open: "{{", Close: "}}"}

// ParseTags builds Tags from a space separated pair such as "<% %>".
func ParseTags(s string) (Tags, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return Tags{}, fmt.Errorf("%w: expected two delimiters, got %q", ErrBadDelimiters, s)
	}
	t := Tags{Open: fields[0], Close: fields[1]}
	if err := t.validate(); err != nil {
		return Tags{}, err
	}
	return t, nil
}

func (t Tags) validate() error {
	if t.Open == "" || t.Close == "" {
		return fmt.Errorf("%w: empty delimiter", ErrBadDelimiters)
	}
	if strings.Contains(t.Open, "=") || strings.Contains(t.Close, "=") {
		return fmt.Errorf("%w: delimiters may not contain '='", ErrBadDelimiters)
	}
	return nil
}

func (t Tags) String() string { return t.Open + " " + t.Close }
