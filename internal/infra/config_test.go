package infra

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
app:
  name: paperbroker
  version: 1.0.0

server:
  addr: ":8080"

feed:
  source: ws

kis:
  ws_url: "ws://ops.koreainvestment.com:31000"
  rest_url: "https://openapivts.koreainvestment.com:29443"
  instruments: ["005930", "000660"]
  poll_interval_sec: 2

account:
  initial_balance: "10000000"

logging:
  level: info
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected addr :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Feed.Source != FeedSourceWS {
		t.Errorf("expected ws source, got %s", cfg.Feed.Source)
	}
	if len(cfg.KIS.Instruments) != 2 {
		t.Errorf("expected 2 instruments, got %d", len(cfg.KIS.Instruments))
	}
	if got := cfg.InitialBalance().String(); got != "10000000" {
		t.Errorf("expected initial balance 10000000, got %s", got)
	}
}

func TestLoadConfigDefaultsInitialBalance(t *testing.T) {
	yaml := validYAML
	yaml = strings.Replace(yaml, `  initial_balance: "10000000"`, "", 1)

	cfg, err := LoadConfig(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if got := cfg.InitialBalance().String(); got != "10000000" {
		t.Errorf("expected default balance 10000000, got %s", got)
	}
}

func TestEnvOverridesConfigFile(t *testing.T) {
	t.Setenv("KIS_APP_KEY", "env-key")
	t.Setenv("KIS_APP_SECRET", "env-secret")
	t.Setenv("SERVER_ADDR", ":9999")

	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.KIS.AppKey != "env-key" {
		t.Errorf("expected env app key, got %q", cfg.KIS.AppKey)
	}
	if cfg.KIS.AppSecret != "env-secret" {
		t.Errorf("expected env app secret, got %q", cfg.KIS.AppSecret)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("expected env addr, got %q", cfg.Server.Addr)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"Missing Addr", func(cfg *Config) { cfg.Server.Addr = "" }},
		{"Unknown Source", func(cfg *Config) { cfg.Feed.Source = "carrier-pigeon" }},
		{"Bad WS URL", func(cfg *Config) { cfg.KIS.WSURL = "tcp://nope" }},
		{"No Instruments", func(cfg *Config) { cfg.KIS.Instruments = nil }},
		{"Replay Without File", func(cfg *Config) {
			cfg.Feed.Source = FeedSourceReplay
			cfg.Feed.ReplayFile = ""
		}},
		{"Poll Without Interval", func(cfg *Config) {
			cfg.Feed.Source = FeedSourcePoll
			cfg.KIS.PollIntervalSec = 0
		}},
		{"Negative Shards", func(cfg *Config) { cfg.Engine.Shards = -1 }},
		{"Garbage Balance", func(cfg *Config) { cfg.Account.InitialBalance = "lots" }},
		{"Zero Balance", func(cfg *Config) { cfg.Account.InitialBalance = "0" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, validYAML))
			if err != nil {
				t.Fatalf("Failed to load config: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestSecretConfigApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kis.yaml")
	secretYAML := "kis:\n  app_key: file-key\n  app_secret: file-secret\n"
	if err := os.WriteFile(path, []byte(secretYAML), 0600); err != nil {
		t.Fatalf("Failed to write secret config: %v", err)
	}

	secrets, err := LoadSecretConfig(path)
	if err != nil {
		t.Fatalf("Failed to load secret config: %v", err)
	}

	var cfg Config
	secrets.Apply(&cfg)
	if cfg.KIS.AppKey != "file-key" || cfg.KIS.AppSecret != "file-secret" {
		t.Errorf("secrets not applied: %+v", cfg.KIS)
	}

	// Environment-provided values win over the secret file
	cfg.KIS.AppKey = "env-key"
	secrets.Apply(&cfg)
	if cfg.KIS.AppKey != "env-key" {
		t.Errorf("expected env key to survive Apply, got %q", cfg.KIS.AppKey)
	}

	if _, err := LoadSecretConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing secret file")
	}
}
