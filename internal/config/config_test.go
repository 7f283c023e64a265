package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `{
	"basic_config": {"server_address": ":8080", "upload_dir": "uploads"},
	"graph": {
		"token_url": "https://login.example/token",
		"client_id": "id",
		"client_secret": "secret",
		"drive_base_url": "https://graph.example/drive"
	},
	"geocoder": {"base_url": "https://geo.example", "api_key": "key"},
	"folders": {"Before": "folder-1"}
}`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.RequestTimeoutSeconds != 30 {
		t.Errorf("timeout default = %d", cfg.BasicConfig.RequestTimeoutSeconds)
	}
	if !filepath.IsAbs(cfg.BasicConfig.UploadDir) {
		t.Errorf("upload dir not absolutized: %s", cfg.BasicConfig.UploadDir)
	}
	if !strings.HasPrefix(cfg.BasicConfig.UploadDir, filepath.Dir(path)) {
		t.Errorf("upload dir %s not relative to config dir", cfg.BasicConfig.UploadDir)
	}
}

func TestLoadRejectsIncompleteConfig(t *testing.T) {
	cases := []struct {
		name, content string
	}{
		{"missing graph credentials", `{
			"graph": {"drive_base_url": "https://graph.example/drive"},
			"geocoder": {"base_url": "https://geo.example", "api_key": "key"},
			"folders": {"Before": "folder-1"}
		}`},
		{"missing geocoder key", `{
			"graph": {"token_url": "u", "client_id": "i", "client_secret": "s", "drive_base_url": "d"},
			"geocoder": {"base_url": "https://geo.example"},
			"folders": {"Before": "folder-1"}
		}`},
		{"no folder mappings", `{
			"graph": {"token_url": "u", "client_id": "i", "client_secret": "s", "drive_base_url": "d"},
			"geocoder": {"base_url": "https://geo.example", "api_key": "key"},
			"folders": {}
		}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, c.content)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
