package templating

import (
	"fmt"

	"github.com/CTAG07/Whisker/pkg/mustache"
)

// TemplateConfig holds all configuration options for the templating engine.
type TemplateConfig struct {
	// StrictMissing makes a render fail when a name cannot be resolved,
	// instead of rendering it as empty.
	StrictMissing bool `json:"strict_missing"`

	// MaxRecursionDepth caps nested partial inclusions and lambda
	// expansions. This prevents self-referencing partials from looping.
	MaxRecursionDepth int `json:"max_recursion_depth"`

	// Delimiters are the opening delimiters for page templates, given as a
	// space separated pair such as "<% %>". Empty means "{{ }}". Partials
	// always start with the default delimiters.
	Delimiters string `json:"delimiters"`

	// MaxTemplateBytes rejects template sources larger than this many bytes.
	// Zero disables the limit.
	MaxTemplateBytes int `json:"max_template_bytes"`

	// EscapeHTML controls whether {{name}} output is HTML-escaped.
	EscapeHTML bool `json:"escape_html"`

	// UseStore loads templates from the database store in addition to the
	// template directory. Stored templates replace files with the same name.
	UseStore bool `json:"use_store"`

	// ReloadIntervalSec is how often the template directory is polled for
	// changes. Zero disables hot reloading.
	ReloadIntervalSec int `json:"reload_interval_sec"`
}

// DefaultConfig returns a TemplateConfig with safe default values.
func DefaultConfig() TemplateConfig {
	return TemplateConfig{
		StrictMissing:     false,
		MaxRecursionDepth: mustache.DefaultMaxRecursionDepth,
		Delimiters:        "",
		MaxTemplateBytes:  1048576, // 1MB
		EscapeHTML:        true,
		UseStore:          false,
		ReloadIntervalSec: 0,
	}
}

// Validate checks the configuration for values the engine cannot use.
func (c *TemplateConfig) Validate() error {
	if c.MaxRecursionDepth < 0 {
		return fmt.Errorf("max_recursion_depth must not be negative, got %d", c.MaxRecursionDepth)
	}
	if c.MaxTemplateBytes < 0 {
		return fmt.Errorf("max_template_bytes must not be negative, got %d", c.MaxTemplateBytes)
	}
	if c.ReloadIntervalSec < 0 {
		return fmt.Errorf("reload_interval_sec must not be negative, got %d", c.ReloadIntervalSec)
	}
	if _, err := c.tags(); err != nil {
		return fmt.Errorf("invalid delimiters: %w", err)
	}
	return nil
}

func (c *TemplateConfig) tags() (mustache.Tags, error) {
	if c.Delimiters == "" {
		return mustache.DefaultTags, nil
	}
	return mustache.ParseTags(c.Delimiters)
}

// settings converts the configuration into per-render settings.
func (c *TemplateConfig) settings() mustache.RenderSettings {
	s := mustache.RenderSettings{
		Escape:            mustache.HTMLEscape,
		StrictMissing:     c.StrictMissing,
		MaxRecursionDepth: c.MaxRecursionDepth,
	}
	if !c.EscapeHTML {
		s.Escape = mustache.NoEscape
	}
	return s
}
