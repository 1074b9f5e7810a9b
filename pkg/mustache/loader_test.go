package mustache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringLoader(t *testing.T) {
	src, err := StringLoader{}.Load("{{x}}")
	require.NoError(t, err)
	assert.Equal(t, "{{x}}", src)
}

func TestMapLoader(t *testing.T) {
	l := MapLoader{"a": "A"}

	src, err := l.Load("a")
	require.NoError(t, err)
	assert.Equal(t, "A", src)

	_, err = l.Load("b")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page.mustache"), []byte("page"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "part.mustache"), []byte("part"), 0644))

	l := NewFileLoader(dir, "")

	src, err := l.Load("page")
	require.NoError(t, err)
	assert.Equal(t, "page", src)

	src, err = l.Load("sub/part")
	require.NoError(t, err)
	assert.Equal(t, "part", src)

	for _, name := range []string{"missing", "", "../page", "/etc/passwd"} {
		_, err = l.Load(name)
		assert.ErrorIs(t, err, ErrTemplateNotFound, name)
	}
}

func TestCompositeLoader(t *testing.T) {
	boom := errors.New("boom")
	l := CompositeLoader{
		MapLoader{"a": "first"},
		MapLoader{"a": "second", "b": "B"},
		LoaderFunc(func(name string) (string, error) {
			if name == "broken" {
				return "", boom
			}
			return "", ErrTemplateNotFound
		}),
	}

	src, err := l.Load("a")
	require.NoError(t, err)
	assert.Equal(t, "first", src)

	src, err = l.Load("b")
	require.NoError(t, err)
	assert.Equal(t, "B", src)

	_, err = l.Load("broken")
	assert.ErrorIs(t, err, boom)

	_, err = l.Load("nothing")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}
