package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseJSONConfigSuccessClient(t *testing.T) {
	path := writeTempClientConfig(t, `{
		"server_addr":"2.2.2.2:7000",
		"key":"secret",
		"crypt":"aes-gcm",
		"user":"alice",
		"heartbeat_interval":5,
		"heartbeat_timeout":15,
		"proxies":[{"name":"web","local_ip":"127.0.0.1","local_port":8080,"remote_port":9000}]
	}`)

	var cfg Config
	if err := parseJSONConfig(&cfg, path); err != nil {
		t.Fatalf("parseJSONConfig returned error: %v", err)
	}

	if cfg.ServerAddr != "2.2.2.2:7000" || cfg.Key != "secret" {
		t.Fatalf("unexpected connection fields: %+v", cfg)
	}
	if cfg.User != "alice" || cfg.Heartbeat != 5 || cfg.HeartbeatTTL != 15 {
		t.Fatalf("unexpected control fields: %+v", cfg)
	}
	if len(cfg.Proxies) != 1 || cfg.Proxies[0].Name != "web" || cfg.Proxies[0].LocalPort != 8080 {
		t.Fatalf("unexpected proxies: %+v", cfg.Proxies)
	}
}

func TestParseJSONConfigMissingFileClient(t *testing.T) {
	var cfg Config
	missing := filepath.Join(t.TempDir(), "missing.json")
	if err := parseJSONConfig(&cfg, missing); err == nil {
		t.Fatalf("parseJSONConfig expected error for missing file")
	}
}

func TestDefaultConfigHasProxyFreeDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if len(cfg.Proxies) != 0 {
		t.Fatalf("expected no proxies by default, got %+v", cfg.Proxies)
	}
	if cfg.Crypt != "aes-gcm" {
		t.Fatalf("expected aes-gcm default crypt, got %q", cfg.Crypt)
	}
}

func writeTempClientConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}
