package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultModel           = "gpt-4o-mini"
	DefaultMaxTokens       = 1024
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 18791
	DefaultBufSize         = 100
	DefaultStoreDriver     = "sqlite"
	DefaultMongoDatabase   = "telegram_bot_db"
	DefaultMemoryWords     = 50
	DefaultWindowSize      = 100
	DefaultJokeProbability = 0.1
	DefaultTimezone        = "UTC+1"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"

	DefaultAboutText   = "Text to the bot owner to know how this bot works!"
	DefaultSupportText = "Thank you for using this bot, it's totally free for you, but it consumes resources. If you want to support it, please reach out to the bot owner."
)

const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderCompatible = "compatible"
)

type Config struct {
	Provider ProviderConfig `json:"provider"`
	Model    ModelConfig    `json:"model"`
	Telegram TelegramConfig `json:"telegram"`
	Store    StoreConfig    `json:"store"`
	Bot      BotConfig      `json:"bot"`
	Gateway  GatewayConfig  `json:"gateway"`
	Log      LogConfig      `json:"log"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "openai" (default), "anthropic" or "compatible"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

// ModelConfig selects the model. Sampling parameters are fixed per operation.
type ModelConfig struct {
	Name      string `json:"name"`
	MaxTokens int    `json:"maxTokens"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type StoreConfig struct {
	Driver   string `json:"driver"`             // sqlite, mongo or postgres
	DSN      string `json:"dsn,omitempty"`      // sqlite path, mongo URI or postgres URL
	Database string `json:"database,omitempty"` // mongo database name
}

type BotConfig struct {
	MemoryWords      int     `json:"memoryWords"`
	WindowSize       int     `json:"windowSize"`
	JokeProbability  float64 `json:"jokeProbability"`
	Timezone         string  `json:"timezone"`
	AboutText        string  `json:"aboutText"`
	SupportText      string  `json:"supportText"`
	DailySummaryCron string  `json:"dailySummaryCron,omitempty"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // text or json
}

func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{},
		Model: ModelConfig{
			Name:      DefaultModel,
			MaxTokens: DefaultMaxTokens,
		},
		Telegram: TelegramConfig{Enabled: true},
		Store: StoreConfig{
			Driver:   DefaultStoreDriver,
			Database: DefaultMongoDatabase,
		},
		Bot: BotConfig{
			MemoryWords:     DefaultMemoryWords,
			WindowSize:      DefaultWindowSize,
			JokeProbability: DefaultJokeProbability,
			Timezone:        DefaultTimezone,
			AboutText:       DefaultAboutText,
			SupportText:     DefaultSupportText,
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".chatkeeper")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// DataDir holds the sqlite database and the scheduler's job file.
func DataDir() string {
	return filepath.Join(ConfigDir(), "data")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if token := os.Getenv("CHATKEEPER_TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" && cfg.Telegram.Token == "" {
		cfg.Telegram.Token = token
	}
	if key := os.Getenv("CHATKEEPER_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = ProviderOpenAI
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = ProviderAnthropic
		}
	}
	if url := os.Getenv("CHATKEEPER_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("CHATKEEPER_MODEL"); model != "" {
		cfg.Model.Name = model
	}
	if driver := os.Getenv("CHATKEEPER_STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = driver
	}
	if dsn := os.Getenv("CHATKEEPER_STORE_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
	}
	// URI is the legacy name for the Mongo connection string.
	if uri := os.Getenv("URI"); uri != "" && cfg.Store.DSN == "" {
		cfg.Store.DSN = uri
		if os.Getenv("CHATKEEPER_STORE_DRIVER") == "" {
			cfg.Store.Driver = "mongo"
		}
	}
	if p := os.Getenv("CHATKEEPER_JOKE_PROBABILITY"); p != "" {
		if parsed, err := strconv.ParseFloat(p, 64); err == nil {
			cfg.Bot.JokeProbability = parsed
		}
	}
	if level := os.Getenv("CHATKEEPER_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if format := os.Getenv("CHATKEEPER_LOG_FORMAT"); format != "" {
		cfg.Log.Format = format
	}

	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Provider.Type = strings.ToLower(strings.TrimSpace(c.Provider.Type))
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultStoreDriver
	}
	if c.Store.Database == "" {
		c.Store.Database = DefaultMongoDatabase
	}
	if c.Model.Name == "" {
		c.Model.Name = DefaultModel
	}
	if c.Model.MaxTokens <= 0 {
		c.Model.MaxTokens = DefaultMaxTokens
	}
	if c.Bot.MemoryWords <= 0 {
		c.Bot.MemoryWords = DefaultMemoryWords
	}
	if c.Bot.WindowSize <= 0 || c.Bot.WindowSize > DefaultWindowSize {
		c.Bot.WindowSize = DefaultWindowSize
	}
	if c.Bot.JokeProbability < 0 {
		c.Bot.JokeProbability = 0
	}
	if c.Bot.JokeProbability > 1 {
		c.Bot.JokeProbability = 1
	}
	if c.Bot.Timezone == "" {
		c.Bot.Timezone = DefaultTimezone
	}
	if c.Bot.AboutText == "" {
		c.Bot.AboutText = DefaultAboutText
	}
	if c.Bot.SupportText == "" {
		c.Bot.SupportText = DefaultSupportText
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

// StoreDSN returns the configured DSN, defaulting the sqlite path into DataDir.
func (c *Config) StoreDSN() string {
	if dsn := strings.TrimSpace(c.Store.DSN); dsn != "" {
		return dsn
	}
	if c.Store.Driver == DefaultStoreDriver {
		return filepath.Join(DataDir(), "chatkeeper.db")
	}
	return ""
}

// Location resolves Bot.Timezone. It accepts IANA names ("Europe/Berlin") and
// fixed offsets of the form "UTC", "UTC+1", "UTC-05:30".
func (b BotConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(b.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}
	upper := strings.ToUpper(tz)
	if upper == "UTC" || upper == "GMT" {
		return time.UTC, nil
	}
	if strings.HasPrefix(upper, "UTC") && len(upper) > 3 {
		offset, err := parseOffset(upper[3:])
		if err != nil {
			return nil, fmt.Errorf("parse timezone %q: %w", tz, err)
		}
		return time.FixedZone(tz, offset), nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return loc, nil
}

func parseOffset(s string) (int, error) {
	sign := 1
	switch s[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return 0, fmt.Errorf("offset must start with + or -")
	}
	hours, minutes := s[1:], "0"
	if i := strings.Index(hours, ":"); i >= 0 {
		hours, minutes = hours[:i], hours[i+1:]
	}
	if !isDigits(hours) || len(hours) > 2 {
		return 0, fmt.Errorf("invalid hours %q", hours)
	}
	if !isDigits(minutes) || len(minutes) > 2 {
		return 0, fmt.Errorf("invalid minutes %q", minutes)
	}
	h, _ := strconv.Atoi(hours)
	m, _ := strconv.Atoi(minutes)
	if h > 14 {
		return 0, fmt.Errorf("invalid hours %q", hours)
	}
	if m >= 60 {
		return 0, fmt.Errorf("invalid minutes %q", minutes)
	}
	return sign * (h*3600 + m*60), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
