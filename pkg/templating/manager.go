package templating

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/CTAG07/Whisker/pkg/mustache"
	"github.com/CTAG07/Whisker/pkg/store"
)

const (
	// PageSuffix marks page templates in the template directory.
	PageSuffix = ".tmpl.mustache"
	// PartialSuffix marks partials in the template directory.
	PartialSuffix = ".part.mustache"
)

// TemplateManager is the central controller for the templating engine.
// It manages the template set, configuration, and the optional database
// store. It is responsible for loading, parsing, and executing templates in a
// concurrent-safe manner.
// All methods are concurrent-safe.
type TemplateManager struct {
	logger        *slog.Logger
	config        *TemplateConfig
	store         *store.Store
	renderer      *mustache.Renderer
	pages         map[string]*mustache.Template
	partials      map[string]string
	templateNames []string
	templateDir   string
	mu            sync.RWMutex
}

// NewTemplateManager creates, initializes, and returns a new TemplateManager.
// It requires a logger, an optional template store (can be nil if
// config.UseStore is false), a configuration, and the path to the data
// directory whose "templates" subdirectory holds the template files. It
// performs an initial Refresh to load all templates.
func NewTemplateManager(logger *slog.Logger, st *store.Store, config *TemplateConfig, dataDir string) (*TemplateManager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	templateDir := filepath.Join(dataDir, "templates")
	if err := os.MkdirAll(templateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create template directory: %w", err)
	}

	tm := &TemplateManager{
		logger:      logger,
		config:      config,
		store:       st,
		renderer:    mustache.New(mustache.WithLogger(logger)),
		pages:       map[string]*mustache.Template{},
		partials:    map[string]string{},
		templateDir: templateDir,
	}

	if err := tm.Refresh(); err != nil {
		return nil, err
	}

	logger.Info("Template manager initialized")
	return tm, nil
}

// SetConfig applies a new configuration to the TemplateManager. Changes that
// affect parsing (delimiters, size limit, store usage) trigger a Refresh; if
// that fails the previous configuration is restored.
func (tm *TemplateManager) SetConfig(config *TemplateConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	tm.mu.Lock()
	old := tm.config
	tm.config = config
	tm.mu.Unlock()

	if old.Delimiters == config.Delimiters && old.MaxTemplateBytes == config.MaxTemplateBytes && old.UseStore == config.UseStore {
		return nil
	}
	if err := tm.Refresh(); err != nil {
		tm.mu.Lock()
		tm.config = old
		tm.mu.Unlock()
		return err
	}
	return nil
}

// readDir reads every file in the template directory ending in suffix,
// keyed by the file name without the suffix.
func (tm *TemplateManager) readDir(suffix string) (map[string]string, error) {
	files, err := filepath.Glob(filepath.Join(tm.templateDir, "*"+suffix))
	if err != nil {
		return nil, err
	}
	sources := make(map[string]string, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(file), err)
		}
		sources[strings.TrimSuffix(filepath.Base(file), suffix)] = string(data)
	}
	return sources, nil
}

// Refresh reloads all templates from the filesystem and, if enabled, from the
// store. Every template is parsed before any is swapped in, so a failed
// refresh leaves the previous template set in place.
func (tm *TemplateManager) Refresh() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tags, err := tm.config.tags()
	if err != nil {
		return err
	}

	tm.logger.Info("Loading template files...")
	pages, err := tm.readDir(PageSuffix)
	if err != nil {
		tm.logger.Error("failed to read template files", "error", err)
		return err
	}

	tm.logger.Info("Loading partial files...")
	partials, err := tm.readDir(PartialSuffix)
	if err != nil {
		tm.logger.Error("failed to read partial files", "error", err)
		return err
	}

	if tm.config.UseStore && tm.store != nil {
		tm.logger.Info("Loading stored templates...")
		ctx := context.Background()
		storedPages, err := tm.store.Sources(ctx, store.KindPage)
		if err != nil {
			tm.logger.Error("failed to load stored templates", "error", err)
			return err
		}
		storedPartials, err := tm.store.Sources(ctx, store.KindPartial)
		if err != nil {
			tm.logger.Error("failed to load stored partials", "error", err)
			return err
		}
		for name, src := range storedPages {
			pages[name] = src
		}
		for name, src := range storedPartials {
			partials[name] = src
		}
		tm.logger.Info("Loaded stored templates", "count", len(storedPages)+len(storedPartials))
	}

	// Sources that no longer exist must not linger in the cache.
	tm.renderer.ClearCache()

	parsed := make(map[string]*mustache.Template, len(pages))
	for name, src := range pages {
		if err := tm.checkSize(name, src); err != nil {
			return err
		}
		t, err := tm.renderer.ParseWithTags(src, tags)
		if err != nil {
			tm.logger.Error("failed to parse template", "template", name, "error", err)
			return fmt.Errorf("template %s: %w", name, err)
		}
		parsed[name] = t
	}
	for name, src := range partials {
		if err := tm.checkSize(name, src); err != nil {
			return err
		}
		// Warm the cache with the delimiters partials are rendered with.
		if _, err := tm.renderer.Parse(src); err != nil {
			tm.logger.Error("failed to parse partial", "partial", name, "error", err)
			return fmt.Errorf("partial %s: %w", name, err)
		}
	}

	names := make([]string, 0, len(parsed))
	for name := range parsed {
		names = append(names, name)
	}
	slices.Sort(names)

	if len(names) == 0 {
		tm.logger.Warn("No template files found matching pattern", "pattern", filepath.Join(tm.templateDir, "*"+PageSuffix))
	}

	tm.pages = parsed
	tm.partials = partials
	tm.templateNames = names
	tm.logger.Info("Loaded template and partial files", "count", len(parsed)+len(partials))
	return nil
}

func (tm *TemplateManager) checkSize(name, src string) error {
	if limit := tm.config.MaxTemplateBytes; limit > 0 && len(src) > limit {
		return fmt.Errorf("template %s is %d bytes, limit is %d", name, len(src), limit)
	}
	return nil
}

// snapshot returns what a render needs, so rendering happens without the lock.
func (tm *TemplateManager) snapshot() (map[string]string, mustache.RenderSettings) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	settings := tm.config.settings()
	if tm.config.UseStore && tm.store != nil {
		settings.PartialLoader = tm.store
	}
	return tm.partials, settings
}

// Execute renders a specific page template by name, writing the output to the
// provided io.Writer. Nothing is written if rendering fails. The `data`
// argument is the view the template is rendered against.
func (tm *TemplateManager) Execute(w io.Writer, name string, data any) error {
	tm.mu.RLock()
	t, ok := tm.pages[name]
	tm.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", mustache.ErrTemplateNotFound, name)
	}

	partials, settings := tm.snapshot()
	out, err := tm.renderer.RenderTemplate(t, data, partials, &settings)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// ExecuteTemplateString parses and executes a raw template string with the
// manager's partials and settings. The template is not cached, which makes
// this ideal for testing or previewing templates without saving them.
func (tm *TemplateManager) ExecuteTemplateString(w io.Writer, content string, data any) error {
	tm.mu.RLock()
	tags, err := tm.config.tags()
	if err == nil {
		err = tm.checkSize("string", content)
	}
	tm.mu.RUnlock()
	if err != nil {
		return err
	}

	t, err := mustache.Parse(content, tags)
	if err != nil {
		return fmt.Errorf("failed to parse string template: %w", err)
	}

	partials, settings := tm.snapshot()
	out, err := tm.renderer.RenderTemplate(t, data, partials, &settings)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// Load implements mustache.Loader over the loaded template set. Pages are
// looked up before partials.
func (tm *TemplateManager) Load(name string) (string, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	if t, ok := tm.pages[name]; ok {
		return t.Source(), nil
	}
	if src, ok := tm.partials[name]; ok {
		return src, nil
	}
	return "", fmt.Errorf("%w: %q", mustache.ErrTemplateNotFound, name)
}

// HasTemplate reports whether a page template with the given name is loaded.
func (tm *TemplateManager) HasTemplate(name string) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	_, ok := tm.pages[name]
	return ok
}

// GetConfig returns a copy of the current configuration.
// This mainly exists for concurrency-safety reasons.
func (tm *TemplateManager) GetConfig() TemplateConfig {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return *tm.config
}

// GetTemplateNames returns the sorted names of the loaded page templates.
func (tm *TemplateManager) GetTemplateNames() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return slices.Clone(tm.templateNames)
}

// GetPartialNames returns the sorted names of the loaded partials.
func (tm *TemplateManager) GetPartialNames() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	names := make([]string, 0, len(tm.partials))
	for name := range tm.partials {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// GetTemplateDir returns the template dir that the TemplateManager uses.
// This mainly exists for concurrency-safety reasons as well.
func (tm *TemplateManager) GetTemplateDir() string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.templateDir
}

// CacheSize returns the number of parsed templates held by the manager's
// cache.
func (tm *TemplateManager) CacheSize() int {
	return tm.renderer.Cache().Len()
}

// IsTemplateFile reports whether name is a page or partial file name the
// manager would load.
func IsTemplateFile(name string) bool {
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return false
	}
	return (strings.HasSuffix(name, PageSuffix) && len(name) > len(PageSuffix)) ||
		(strings.HasSuffix(name, PartialSuffix) && len(name) > len(PartialSuffix))
}
