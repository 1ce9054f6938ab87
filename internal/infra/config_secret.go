package infra

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SecretConfig matches the structure of configs/secret.yaml
type SecretConfig struct {
	KIS struct {
		AppKey    string `yaml:"app_key"`
		AppSecret string `yaml:"app_secret"`
	} `yaml:"kis"`
}

// LoadSecretConfig loads KIS credentials from a separate yaml file.
// It returns error if file is missing (Fail Fast).
func LoadSecretConfig(path string) (*SecretConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret config: %w", err)
	}

	var cfg SecretConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse secret config: %w", err)
	}

	return &cfg, nil
}

// Apply copies loaded credentials into the main config.
// Values already set (e.g. from environment variables) are kept.
func (s *SecretConfig) Apply(cfg *Config) {
	if cfg.KIS.AppKey == "" {
		cfg.KIS.AppKey = s.KIS.AppKey
	}
	if cfg.KIS.AppSecret == "" {
		cfg.KIS.AppSecret = s.KIS.AppSecret
	}
}
