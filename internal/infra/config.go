package infra

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Feed source selectors. The server runs exactly one of these.
const (
	FeedSourceWS     = "ws"     // KIS real-time WebSocket feed
	FeedSourcePoll   = "poll"   // KIS REST polling (no WS approval needed)
	FeedSourceReplay = "replay" // recorded session replayed from file
	FeedSourceSim    = "sim"    // synthetic random-walk feed
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Feed struct {
		Source      string  `yaml:"source"`
		ReplayFile  string  `yaml:"replay_file"`
		ReplaySpeed float64 `yaml:"replay_speed"` // 1.0 = real time, <=0 = as fast as possible
		Record      bool    `yaml:"record"`       // 원본 프레임을 녹화 (--replay 재생용)
	} `yaml:"feed"`

	KIS struct {
		WSURL           string   `yaml:"ws_url"`
		RestURL         string   `yaml:"rest_url"`
		AppKey          string   `yaml:"app_key"`
		AppSecret       string   `yaml:"app_secret"`
		Instruments     []string `yaml:"instruments"`
		PollIntervalSec int      `yaml:"poll_interval_sec"`
	} `yaml:"kis"`

	Bus struct {
		QueueSize int `yaml:"queue_size"`
	} `yaml:"bus"`

	Engine struct {
		Shards    int `yaml:"shards"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"engine"`

	Account struct {
		InitialBalance string `yaml:"initial_balance"`
	} `yaml:"account"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// 기본 초기 잔고: 1천만원
	if cfg.Account.InitialBalance == "" {
		cfg.Account.InitialBalance = "10000000"
	}

	// 보안 우선: 환경 변수 오버라이드 지원
	overrideWithEnv(&cfg)

	// 설정 유효성 검사
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}

	switch c.Feed.Source {
	case FeedSourceWS:
		if !hasPrefix(c.KIS.WSURL, "ws://") && !hasPrefix(c.KIS.WSURL, "wss://") {
			return fmt.Errorf("invalid KIS WS URL: %s", c.KIS.WSURL)
		}
		if !hasPrefix(c.KIS.RestURL, "http://") && !hasPrefix(c.KIS.RestURL, "https://") {
			return fmt.Errorf("invalid KIS REST URL: %s", c.KIS.RestURL)
		}
		if len(c.KIS.Instruments) == 0 {
			return fmt.Errorf("at least one instrument is required")
		}
	case FeedSourcePoll:
		if !hasPrefix(c.KIS.RestURL, "http://") && !hasPrefix(c.KIS.RestURL, "https://") {
			return fmt.Errorf("invalid KIS REST URL: %s", c.KIS.RestURL)
		}
		if len(c.KIS.Instruments) == 0 {
			return fmt.Errorf("at least one instrument is required")
		}
		if c.KIS.PollIntervalSec <= 0 {
			return fmt.Errorf("poll interval must be positive")
		}
	case FeedSourceReplay:
		if c.Feed.ReplayFile == "" {
			return fmt.Errorf("replay source requires feed.replay_file")
		}
	case FeedSourceSim:
		if len(c.KIS.Instruments) == 0 {
			return fmt.Errorf("at least one instrument is required")
		}
	default:
		return fmt.Errorf("unknown feed source: %q (want ws, poll, replay or sim)", c.Feed.Source)
	}

	if c.Bus.QueueSize < 0 || c.Engine.Shards < 0 || c.Engine.QueueSize < 0 {
		return fmt.Errorf("queue sizes and shard count must not be negative")
	}

	balance, err := decimal.NewFromString(c.Account.InitialBalance)
	if err != nil {
		return fmt.Errorf("invalid initial balance %q: %w", c.Account.InitialBalance, err)
	}
	if !balance.IsPositive() {
		return fmt.Errorf("initial balance must be positive, got %s", balance)
	}

	return nil
}

// InitialBalance returns the parsed starting cash for new accounts.
// Validate has already guaranteed the string parses.
func (c *Config) InitialBalance() decimal.Decimal {
	balance, _ := decimal.NewFromString(c.Account.InitialBalance)
	return balance
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
// 환경 변수는 설정 파일보다 우선합니다 (보안 강화).
func overrideWithEnv(cfg *Config) {
	// Security Warning: Log if secrets found in config file
	if cfg.KIS.AppKey != "" || cfg.KIS.AppSecret != "" {
		// Using fmt instead of slog to avoid import cycle
		fmt.Println("⚠️  SECURITY WARNING: KIS credentials found in config file.")
		fmt.Println("   Recommendation: Use environment variables instead:")
		fmt.Println("   - KIS_APP_KEY, KIS_APP_SECRET")
	}

	if key := os.Getenv("KIS_APP_KEY"); key != "" {
		cfg.KIS.AppKey = key
	}
	if secret := os.Getenv("KIS_APP_SECRET"); secret != "" {
		cfg.KIS.AppSecret = secret
	}
	if addr := os.Getenv("SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
}
