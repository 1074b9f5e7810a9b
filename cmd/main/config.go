package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/netip"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/CTAG07/Whisker/pkg/templating"
	"github.com/natefinch/atomic"
)

// ServerConfig holds the configuration for the HTTP servers.
type ServerConfig struct {
	RenderAddr      string            `json:"render_addr"`
	ApiAddr         string            `json:"api_addr"`
	LogLevel        string            `json:"log_level"`
	TrustedProxies  []string          `json:"trusted_proxies"`
	DataDir         string            `json:"data_dir"`
	DatabasePath    string            `json:"database_path"`
	MaxBodyBytes    int64             `json:"max_body_bytes"`
	ResponseHeaders map[string]string `json:"response_headers"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server    *ServerConfig              `json:"server_config"`
	Templates *templating.TemplateConfig `json:"template_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		RenderAddr:     ":7277",
		ApiAddr:        ":7278",
		LogLevel:       "info",
		TrustedProxies: []string{},
		DataDir:        "./data",
		DatabasePath:   "./data/whisker.db?_journal_mode=WAL&_busy_timeout=5000",
		MaxBodyBytes:   1 << 20,
		ResponseHeaders: map[string]string{
			"Cache-Control": "no-store, no-cache",
			"Content-Type":  "text/html; charset=utf-8",
		},
	}
}

// DefaultConfig returns the configuration written when no config file exists.
func DefaultConfig() *Config {
	tmpl := templating.DefaultConfig()
	return &Config{
		Server:    DefaultServerConfig(),
		Templates: &tmpl,
	}
}

// Validate checks the sections of a configuration, typically one received
// through the API.
func (c *Config) Validate() error {
	if c.Server == nil || c.Templates == nil {
		return errors.New("config must contain server_config and template_config")
	}
	if c.Server.RenderAddr == "" || c.Server.ApiAddr == "" {
		return errors.New("render_addr and api_addr must be set")
	}
	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes must not be negative, got %d", c.Server.MaxBodyBytes)
	}
	return c.Templates.Validate()
}

// clone copies c including the slices and maps it holds.
func (c *Config) clone() Config {
	server := *c.Server
	server.TrustedProxies = slices.Clone(server.TrustedProxies)
	server.ResponseHeaders = maps.Clone(server.ResponseHeaders)
	tmpl := *c.Templates
	return Config{Server: &server, Templates: &tmpl}
}

// LoadConfig reads the configuration from a JSON file at the given path.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			var data []byte
			data, err = json.MarshalIndent(config, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// The server can still run with defaults.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err = config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	return config, nil
}

// parseLogLevel maps the config's log_level string onto a slog level,
// defaulting to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ConfigManager guards the live configuration and the trusted proxy
// prefixes derived from it.
type ConfigManager struct {
	mu         sync.RWMutex
	config     *Config
	trusted    []netip.Prefix
	configPath string
	logger     *slog.Logger
	tm         *templating.TemplateManager
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	cm := &ConfigManager{
		config:     cfg,
		configPath: path,
		// Log to stdout before the application-specific logger is set.
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})),
	}
	cm.trusted = parseTrustedProxies(cfg.Server.TrustedProxies, cm.logger)
	return cm, nil
}

// SetTemplateManager registers the template manager to receive template config updates.
func (cm *ConfigManager) SetTemplateManager(tm *templating.TemplateManager) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.tm = tm
}

// SetLogger sets the logger used for config warnings.
func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.logger = logger
}

// Get returns a deep copy of the current configuration, so callers may
// modify the result.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config.clone()
}

// Update validates and applies a new configuration, pushes the template
// section to the TemplateManager, and saves it to disk. If the template
// manager rejects the new settings, nothing is changed.
func (cm *ConfigManager) Update(newConfig Config) error {
	if err := newConfig.Validate(); err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.tm != nil {
		tmpl := *newConfig.Templates
		if err := cm.tm.SetConfig(&tmpl); err != nil {
			return fmt.Errorf("template configuration rejected: %w", err)
		}
	}

	owned := newConfig.clone()
	cm.config = &owned
	cm.trusted = parseTrustedProxies(newConfig.Server.TrustedProxies, cm.logger)

	data, err := json.MarshalIndent(cm.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// IsTrusted reports whether addr is one of the configured trusted proxies.
func (cm *ConfigManager) IsTrusted(addr string) bool {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	ip = ip.Unmap()

	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for _, p := range cm.trusted {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// parseTrustedProxies turns IPs and CIDRs into prefixes. A bare IP becomes a
// single-address prefix; entries that parse as neither are logged and
// skipped.
func parseTrustedProxies(entries []string, logger *slog.Logger) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				logger.Warn("Failed to parse trusted proxy CIDR", "cidr", entry, "error", err)
				continue
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		ip, err := netip.ParseAddr(entry)
		if err != nil {
			logger.Warn("Failed to parse trusted proxy IP", "ip", entry, "error", err)
			continue
		}
		ip = ip.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(ip, ip.BitLen()))
	}
	return prefixes
}
