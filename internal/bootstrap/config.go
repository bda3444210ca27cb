package bootstrap

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"converter_strategy/internal/config"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig delegates to the project's config loader
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *Config) error {
	if cfg.Storage.Type == "sqlite" {
		dir := filepath.Dir(cfg.Storage.Path)
		info, err := os.Stat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("storage directory not found: %s", dir)
			}
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("storage path parent is not a directory: %s", dir)
		}
	}

	if cfg.Oracle.Type == "http" {
		u, err := url.Parse(cfg.Oracle.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid oracle base_url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("oracle base_url must be http or https: %s", cfg.Oracle.BaseURL)
		}
		if u.Scheme == "http" && cfg.Oracle.APIKey != "" && cfg.App.Environment == "production" {
			return fmt.Errorf("oracle api_key must not be sent over plain http in production")
		}
	}

	return nil
}
