package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/quenchlab/aqualog/internal/clock"
)

const (
	DefaultModel           = "gpt-4o-mini"
	DefaultMaxTokens       = 300
	DefaultBaseURL         = "https://api.openai.com/v1"
	DefaultBottleMl        = 750
	DefaultDailyGoalMl     = 2500
	DefaultNudgeEveryMin   = 120
	DefaultWakeStartHour   = 8
	DefaultWakeEndHour     = 22
	DefaultSummaryCronExpr = "0 30 21 * * *"

	MinBottleMl = 100
	MaxBottleMl = 3000

	DefaultBufSize = 100
)

type Config struct {
	User      UserConfig      `json:"user"`
	Provider  ProviderConfig  `json:"provider"`
	Channels  ChannelsConfig  `json:"channels"`
	Store     StoreConfig     `json:"store"`
	Clock     ClockConfig     `json:"clock"`
	Reminders RemindersConfig `json:"reminders"`
}

type UserConfig struct {
	BottleMl    int `json:"bottleMl"`
	DailyGoalMl int `json:"dailyGoalMl"`
}

type ProviderConfig struct {
	APIKey    string `json:"apiKey"`
	BaseURL   string `json:"baseUrl,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath,omitempty"`
}

type ClockConfig struct {
	// UTCOffsetMinutes is the fixed civil offset all day-boundary math
	// runs in. Moving region is a config change, not a code change.
	UTCOffsetMinutes int `json:"utcOffsetMinutes"`
}

type RemindersConfig struct {
	Enabled       bool   `json:"enabled"`
	NudgeEveryMin int    `json:"nudgeEveryMin,omitempty"`
	WakeStartHour int    `json:"wakeStartHour,omitempty"`
	WakeEndHour   int    `json:"wakeEndHour,omitempty"`
	SummaryCron   string `json:"summaryCron,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		User: UserConfig{
			BottleMl:    DefaultBottleMl,
			DailyGoalMl: DefaultDailyGoalMl,
		},
		Provider: ProviderConfig{
			BaseURL:   DefaultBaseURL,
			Model:     DefaultModel,
			MaxTokens: DefaultMaxTokens,
		},
		Channels: ChannelsConfig{},
		Clock: ClockConfig{
			UTCOffsetMinutes: clock.DefaultOffsetMinutes,
		},
		Reminders: RemindersConfig{
			Enabled:       true,
			NudgeEveryMin: DefaultNudgeEveryMin,
			WakeStartHour: DefaultWakeStartHour,
			WakeEndHour:   DefaultWakeEndHour,
			SummaryCron:   DefaultSummaryCronExpr,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".aqualog")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
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

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("AQUALOG_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("AQUALOG_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("AQUALOG_MODEL"); model != "" {
		cfg.Provider.Model = model
	}
	if token := os.Getenv("AQUALOG_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if dbPath := os.Getenv("AQUALOG_DB_PATH"); dbPath != "" {
		cfg.Store.DBPath = dbPath
	}
	if bottle := os.Getenv("AQUALOG_BOTTLE_ML"); bottle != "" {
		if parsed, err := strconv.Atoi(bottle); err == nil {
			cfg.User.BottleMl = parsed
		}
	}
	if goal := os.Getenv("AQUALOG_DAILY_GOAL_ML"); goal != "" {
		if parsed, err := strconv.Atoi(goal); err == nil {
			cfg.User.DailyGoalMl = parsed
		}
	}
	if offset := os.Getenv("AQUALOG_UTC_OFFSET_MINUTES"); offset != "" {
		if parsed, err := strconv.Atoi(offset); err == nil {
			cfg.Clock.UTCOffsetMinutes = parsed
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = DefaultBaseURL
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = DefaultModel
	}
	if cfg.Provider.MaxTokens <= 0 {
		cfg.Provider.MaxTokens = DefaultMaxTokens
	}
	if cfg.User.BottleMl < MinBottleMl || cfg.User.BottleMl > MaxBottleMl {
		cfg.User.BottleMl = DefaultBottleMl
	}
	if cfg.User.DailyGoalMl <= 0 {
		cfg.User.DailyGoalMl = DefaultDailyGoalMl
	}
	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = filepath.Join(ConfigDir(), "data", "aqualog.db")
	}
	if cfg.Reminders.NudgeEveryMin <= 0 {
		cfg.Reminders.NudgeEveryMin = DefaultNudgeEveryMin
	}
	if cfg.Reminders.WakeStartHour < 0 || cfg.Reminders.WakeStartHour > 23 {
		cfg.Reminders.WakeStartHour = DefaultWakeStartHour
	}
	if cfg.Reminders.WakeEndHour <= 0 || cfg.Reminders.WakeEndHour > 24 {
		cfg.Reminders.WakeEndHour = DefaultWakeEndHour
	}
	if cfg.Reminders.SummaryCron == "" {
		cfg.Reminders.SummaryCron = DefaultSummaryCronExpr
	}
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
