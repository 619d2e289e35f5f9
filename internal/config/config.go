package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	PrivateKey string `yaml:"private_key"`
	RPCURL     string `yaml:"rpc_url"`
	ChainID    int64  `yaml:"chain_id"`
	DataDir    string `yaml:"data_dir"`
	LogLevel   string `yaml:"log_level"`

	Session  SessionConfig  `yaml:"session"`
	Order    OrderConfig    `yaml:"order"`
	Stage    StageConfig    `yaml:"stage"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type SessionConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type OrderConfig struct {
	TickSize            float64       `yaml:"tick_size"`
	MinOrderSize        float64       `yaml:"min_order_size"`
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout"`
	InputAsset          string        `yaml:"input_asset"`
}

type StageConfig struct {
	ResetDelay time.Duration `yaml:"reset_delay"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

func Default() Config {
	return Config{
		RPCURL:   "https://polygon-rpc.com",
		ChainID:  137,
		DataDir:  "data",
		LogLevel: "info",
		Session: SessionConfig{
			TTL: 7 * 24 * time.Hour,
		},
		Order: OrderConfig{
			TickSize:            0.01,
			MinOrderSize:        5,
			ConfirmationTimeout: 90 * time.Second,
			InputAsset:          "USDC",
		},
		Stage: StageConfig{
			ResetDelay: 2 * time.Second,
		},
	}
}

func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) ApplyEnv() {
	if v := os.Getenv("POLYMARKET_PK"); v != "" {
		c.PrivateKey = v
	}
	if v := strings.TrimSpace(os.Getenv("TRADER_RPC_URL")); v != "" {
		c.RPCURL = v
	}
	if v := strings.TrimSpace(os.Getenv("TRADER_CHAIN_ID")); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.ChainID = id
		}
	}
	if v := strings.TrimSpace(os.Getenv("TRADER_DATA_DIR")); v != "" {
		c.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("TRADER_LOG_LEVEL")); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
		c.Telegram.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
}
