package mustache

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type RendererTestSuite struct {
	suite.Suite
	renderer *Renderer
	logs     bytes.Buffer
}

func (s *RendererTestSuite) SetupTest() {
	s.logs.Reset()
	logger := slog.New(slog.NewTextHandler(&s.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s.renderer = New(WithLogger(logger))
}

func TestRendererSuite(t *testing.T) {
	suite.Run(t, new(RendererTestSuite))
}

func (s *RendererTestSuite) TestRenderCachesTemplate() {
	out, err := s.renderer.Render("{{a}}", map[string]any{"a": 1})
	s.Require().NoError(err)
	s.Equal("1", out)

	out, err = s.renderer.Render("{{a}}", map[string]any{"a": 2})
	s.Require().NoError(err)
	s.Equal("2", out)

	s.Equal(1, s.renderer.Cache().Len())
	s.EqualValues(1, s.renderer.Cache().Parses())
}

func (s *RendererTestSuite) TestParseWithTags() {
	a, err := s.renderer.ParseWithTags("<%x%>", Tags{Open: "<%", Close: "%>"})
	s.Require().NoError(err)
	b, err := s.renderer.ParseWithTagString("<%x%>", "<% %>")
	s.Require().NoError(err)
	s.Same(a, b)

	out, err := s.renderer.RenderTemplate(a, map[string]any{"x": "y"}, nil, nil)
	s.Require().NoError(err)
	s.Equal("y", out)

	_, err = s.renderer.ParseWithTagString("<%x%>", "<%")
	s.ErrorIs(err, ErrBadDelimiters)
}

func (s *RendererTestSuite) TestCacheTemplateAndClear() {
	s.Require().NoError(s.renderer.CacheTemplate("{{a}}"))
	s.Require().NoError(s.renderer.CacheTemplateWithTags("[a]", Tags{Open: "[", Close: "]"}))
	s.Equal(2, s.renderer.Cache().Len())

	s.Error(s.renderer.CacheTemplate("{{/a}}"))
	s.Equal(2, s.renderer.Cache().Len())

	s.renderer.ClearCache()
	s.Equal(0, s.renderer.Cache().Len())
}

func (s *RendererTestSuite) TestSharedCache() {
	other := New(WithCache(s.renderer.Cache()))

	a, err := s.renderer.Parse("{{shared}}")
	s.Require().NoError(err)
	b, err := other.Parse("{{shared}}")
	s.Require().NoError(err)
	s.Same(a, b)
}

func (s *RendererTestSuite) TestTemplateLoader() {
	r := New(WithLoader(MapLoader{"greeting": "Hello {{name}}"}))

	out, err := r.Render("greeting", map[string]any{"name": "Ann"})
	s.Require().NoError(err)
	s.Equal("Hello Ann", out)

	_, err = r.Render("unknown", nil)
	s.ErrorIs(err, ErrTemplateNotFound)
}

func (s *RendererTestSuite) TestSettings() {
	settings := s.renderer.Settings()
	s.Equal(DefaultMaxRecursionDepth, settings.MaxRecursionDepth)
	s.False(settings.StrictMissing)

	strict := New(WithSettings(RenderSettings{StrictMissing: true}))
	s.True(strict.Settings().StrictMissing)
}

func (s *RendererTestSuite) TestMissingPartialIsLogged() {
	out, err := s.renderer.Render("[{{>nowhere}}]", nil)
	s.Require().NoError(err)
	s.Equal("[]", out)
	s.True(strings.Contains(s.logs.String(), "partial=nowhere"))
}

func (s *RendererTestSuite) TestConcurrentRenders() {
	done := make(chan string, 16)
	for i := 0; i < cap(done); i++ {
		go func() {
			out, err := s.renderer.Render("{{#l}}{{.}}{{/l}}", map[string]any{"l": []int{1, 2, 3}})
			if err != nil {
				out = err.Error()
			}
			done <- out
		}()
	}
	for i := 0; i < cap(done); i++ {
		s.Equal("123", <-done)
	}
}

func (s *RendererTestSuite) TestPackageLevelRender() {
	out, err := Render("{{a}}", map[string]string{"a": "<b>"})
	s.Require().NoError(err)
	s.Equal("&lt;b&gt;", out)

	out, err = RenderWithPartials("{{>p}}", nil, map[string]string{"p": "partial"})
	s.Require().NoError(err)
	s.Equal("partial", out)
}
