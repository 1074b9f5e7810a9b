package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_WritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.RenderAddr != ":7277" || cfg.Templates.MaxRecursionDepth != 64 {
		t.Errorf("unexpected defaults: %+v %+v", cfg.Server, cfg.Templates)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("default config was not written: %v", err)
	}
	var onDisk Config
	if err = json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("written config does not parse: %v", err)
	}
	if onDisk.Server == nil || onDisk.Templates == nil {
		t.Error("written config is missing a section")
	}
}

func TestLoadConfig_PartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"server_config": {"log_level": "debug"}, "template_config": {"strict_missing": true}}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.LogLevel != "debug" || !cfg.Templates.StrictMissing {
		t.Errorf("file values were not applied: %+v %+v", cfg.Server, cfg.Templates)
	}
	if cfg.Server.ApiAddr != ":7278" {
		t.Errorf("missing keys should keep their defaults, got api_addr %q", cfg.Server.ApiAddr)
	}
	if parseLogLevel(cfg.Server.LogLevel) != slog.LevelDebug {
		t.Error("log level should parse as debug")
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"template_config": {"delimiters": "{{"}}`), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected invalid delimiters to be rejected")
	}
}

func TestConfigManager_Update(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cm, err := NewConfigManager(path)
	if err != nil {
		t.Fatalf("NewConfigManager failed: %v", err)
	}

	cfg := cm.Get()
	cfg.Server.TrustedProxies = []string{"127.0.0.1", "10.0.0.0/8", "bogus"}
	cfg.Templates.EscapeHTML = false
	if err = cm.Update(cfg); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !cm.IsTrusted("10.9.9.9") || !cm.IsTrusted("127.0.0.1") || cm.IsTrusted("192.0.2.1") {
		t.Error("trusted proxies were not rebuilt")
	}

	reloaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if reloaded.Templates.EscapeHTML {
		t.Error("update was not persisted")
	}

	// Get hands out copies.
	cp := cm.Get()
	cp.Templates.EscapeHTML = true
	cp.Server.ResponseHeaders["X-Test"] = "1"
	cp.Server.TrustedProxies[0] = "192.0.2.1"
	if cm.Get().Templates.EscapeHTML {
		t.Error("modifying a copy changed the managed config")
	}
	if _, ok := cm.Get().Server.ResponseHeaders["X-Test"]; ok || cm.Get().Server.TrustedProxies[0] != "127.0.0.1" {
		t.Error("copies must not share maps or slices with the managed config")
	}

	bad := cm.Get()
	bad.Server.ApiAddr = ""
	if err = cm.Update(bad); err == nil {
		t.Error("expected an empty api_addr to be rejected")
	}

	if err = cm.Update(Config{Server: DefaultServerConfig()}); err == nil {
		t.Error("expected a config without template_config to be rejected")
	}
}
