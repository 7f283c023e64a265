package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Graph       GraphConfig               `json:"graph"`
	Geocoder    GeocoderConfig            `json:"geocoder"`
	Webhooks    WebhookConfig             `json:"webhooks"`
	Folders     map[string]string         `json:"folders"`
}

type BasicConfig struct {
	ServerAddress         string   `json:"server_address"`
	UploadDir             string   `json:"upload_dir"`
	RequestTimeoutSeconds int      `json:"request_timeout_seconds"`
	AllowedOrigins        []string `json:"allowed_origins"`
	FilenamePrefix        string   `json:"filename_prefix"`
	Watermark             bool     `json:"watermark"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// GraphConfig carries the identity-provider and drive endpoints.
type GraphConfig struct {
	TokenURL     string `json:"token_url"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	DriveBaseURL string `json:"drive_base_url"`
}

type GeocoderConfig struct {
	BaseURL         string `json:"base_url"`
	APIKey          string `json:"api_key"`
	CacheTTLMinutes int    `json:"cache_ttl_minutes"`
}

type WebhookConfig struct {
	AggregateURL string `json:"aggregate_url"`
	FileURL      string `json:"file_url"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Graph.TokenURL == "" || cfg.Graph.ClientID == "" || cfg.Graph.ClientSecret == "" {
		return nil, fmt.Errorf("graph token_url, client_id and client_secret must be configured")
	}
	if cfg.Graph.DriveBaseURL == "" {
		return nil, fmt.Errorf("graph drive_base_url must be configured")
	}
	if cfg.Geocoder.BaseURL == "" || cfg.Geocoder.APIKey == "" {
		return nil, fmt.Errorf("geocoder base_url and api_key must be configured")
	}
	if len(cfg.Folders) == 0 {
		return nil, fmt.Errorf("at least one folder mapping must be configured")
	}

	if cfg.BasicConfig.UploadDir == "" {
		cfg.BasicConfig.UploadDir = "./data/uploads"
	}
	if !filepath.IsAbs(cfg.BasicConfig.UploadDir) {
		cfg.BasicConfig.UploadDir = filepath.Join(filepath.Dir(absPath), cfg.BasicConfig.UploadDir)
	}
	if cfg.BasicConfig.RequestTimeoutSeconds <= 0 {
		cfg.BasicConfig.RequestTimeoutSeconds = 30
	}

	for name, dbCfg := range cfg.Databases {
		if dbCfg.DSN != "" && !filepath.IsAbs(dbCfg.DSN) && name != "mysql" {
			dbCfg.DSN = filepath.Join(filepath.Dir(absPath), dbCfg.DSN)
			cfg.Databases[name] = dbCfg
		}
	}

	return &cfg, nil
}
