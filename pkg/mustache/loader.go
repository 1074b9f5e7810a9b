package mustache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Loader resolves a template name to template source. Implementations
// report unknown names with an error wrapping ErrTemplateNotFound.
type Loader interface {
	Load(name string) (string, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(name string) (string, error)

func (f LoaderFunc) Load(name string) (string, error) { return f(name) }

// StringLoader treats the name as the template source itself.
type StringLoader struct{}

func (StringLoader) Load(name string) (string, error) { return name, nil }

// MapLoader serves templates from a map.
type MapLoader map[string]string

func (m MapLoader) Load(name string) (string, error) {
	src, ok := m[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	return src, nil
}

// FileLoader reads Dir/name+Ext from disk. Names may contain subdirectories
// but may not escape Dir.
type FileLoader struct {
	Dir string
	Ext string
}

// NewFileLoader creates a FileLoader for dir. An empty ext defaults to
// ".mustache".
func NewFileLoader(dir, ext string) *FileLoader {
	if ext == "" {
		ext = ".mustache"
	}
	return &FileLoader{Dir: dir, Ext: ext}
}

func (l *FileLoader) Load(name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: invalid name %q", ErrTemplateNotFound, name)
	}
	data, err := os.ReadFile(filepath.Join(l.Dir, filepath.FromSlash(name)+l.Ext))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read template %q: %w", name, err)
	}
	return string(data), nil
}

// CompositeLoader tries each loader in order. The first one that knows the
// name wins; errors other than ErrTemplateNotFound stop the search.
type CompositeLoader []Loader

func (c CompositeLoader) Load(name string) (string, error) {
	for _, l := range c {
		src, err := l.Load(name)
		if err == nil {
			return src, nil
		}
		if !errors.Is(err, ErrTemplateNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
}
