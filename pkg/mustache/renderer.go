package mustache

import (
	"fmt"
	"io"
	"log/slog"
)

// Renderer parses, caches and renders templates. The zero value is not
// usable; create one with New.
type Renderer struct {
	cache         *Cache
	loader        Loader
	partialLoader Loader
	settings      RenderSettings
	logger        *slog.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithCache shares c between renderers.
func WithCache(c *Cache) Option {
	return func(r *Renderer) { r.cache = c }
}

// WithLoader sets the loader applied to the template argument of every
// method. The default StringLoader treats it as template source.
func WithLoader(l Loader) Option {
	return func(r *Renderer) { r.loader = l }
}

// WithPartialLoader sets the loader consulted for partials missing from the
// per-call map when the render settings carry none.
func WithPartialLoader(l Loader) Option {
	return func(r *Renderer) { r.partialLoader = l }
}

// WithSettings sets the settings used when a call passes none.
func WithSettings(s RenderSettings) Option {
	return func(r *Renderer) { r.settings = s }
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) { r.logger = l }
}

// New creates a Renderer with its own cache unless WithCache is given.
func New(opts ...Option) *Renderer {
	r := &Renderer{
		loader:   StringLoader{},
		settings: DefaultSettings(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = NewCache()
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r
}

// Render renders template against view.
func (r *Renderer) Render(template string, view any) (string, error) {
	return r.RenderWithSettings(template, view, nil, nil)
}

// RenderWithPartials renders template against view, resolving {{>name}}
// from partials first.
func (r *Renderer) RenderWithPartials(template string, view any, partials map[string]string) (string, error) {
	return r.RenderWithSettings(template, view, partials, nil)
}

// RenderWithSettings renders template with explicit settings. A nil settings
// uses the renderer's own. On error the output is empty.
func (r *Renderer) RenderWithSettings(template string, view any, partials map[string]string, settings *RenderSettings) (string, error) {
	t, err := r.Parse(template)
	if err != nil {
		return "", err
	}
	return r.RenderTemplate(t, view, partials, settings)
}

// RenderTemplate renders an already parsed template.
func (r *Renderer) RenderTemplate(t *Template, view any, partials map[string]string, settings *RenderSettings) (string, error) {
	if settings == nil {
		settings = &r.settings
	}
	s := &renderState{
		cache:    r.cache,
		settings: settings,
		partials: partials,
		loader:   settings.PartialLoader,
		logger:   r.logger,
		stack:    make(contextStack, 0, 8),
	}
	if s.loader == nil {
		s.loader = r.partialLoader
	}
	if view != nil {
		s.stack.push(view)
	}

	b := getBuffer()
	defer bufPool.Put(b)
	if err := s.render(b, t); err != nil {
		r.logger.Debug("Render failed", slog.String("error", err.Error()))
		return "", err
	}
	return b.String(), nil
}

// Execute renders template and writes the result to w. Nothing is written
// when rendering fails.
func (r *Renderer) Execute(w io.Writer, template string, view any, partials map[string]string) error {
	out, err := r.RenderWithPartials(template, view, partials)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// Parse loads and parses template with the default delimiters, through the
// cache.
func (r *Renderer) Parse(template string) (*Template, error) {
	return r.ParseWithTags(template, DefaultTags)
}

// ParseWithTags loads and parses template with the given delimiters.
func (r *Renderer) ParseWithTags(template string, tags Tags) (*Template, error) {
	src, err := r.loader.Load(template)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}
	return r.cache.GetOrParse(src, tags)
}

// ParseWithTagString is ParseWithTags with delimiters given as "open close".
func (r *Renderer) ParseWithTagString(template, tags string) (*Template, error) {
	t, err := ParseTags(tags)
	if err != nil {
		return nil, err
	}
	return r.ParseWithTags(template, t)
}

// CacheTemplate parses template into the cache ahead of use.
func (r *Renderer) CacheTemplate(template string) error {
	_, err := r.Parse(template)
	return err
}

// CacheTemplateWithTags parses template with tags into the cache.
func (r *Renderer) CacheTemplateWithTags(template string, tags Tags) error {
	_, err := r.ParseWithTags(template, tags)
	return err
}

// ClearCache drops every cached template.
func (r *Renderer) ClearCache() { r.cache.Clear() }

// Cache returns the renderer's template cache.
func (r *Renderer) Cache() *Cache { return r.cache }

// Settings returns a copy of the renderer's default settings.
func (r *Renderer) Settings() RenderSettings { return r.settings }

var defaultRenderer = New()

// Render renders template against view with a package-owned Renderer.
func Render(template string, view any) (string, error) {
	return defaultRenderer.Render(template, view)
}

// RenderWithPartials is Render with a partial map.
func RenderWithPartials(template string, view any, partials map[string]string) (string, error) {
	return defaultRenderer.RenderWithPartials(template, view, partials)
}
