package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("USERPROFILE", tmpDir)
	t.Setenv("AQUALOG_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("AQUALOG_BASE_URL", "")
	t.Setenv("AQUALOG_MODEL", "")
	t.Setenv("AQUALOG_TELEGRAM_TOKEN", "")
	t.Setenv("AQUALOG_DB_PATH", "")
	t.Setenv("AQUALOG_BOTTLE_ML", "")
	t.Setenv("AQUALOG_DAILY_GOAL_ML", "")
	t.Setenv("AQUALOG_UTC_OFFSET_MINUTES", "")
	return tmpDir
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.User.BottleMl != DefaultBottleMl {
		t.Errorf("BottleMl = %d, want %d", cfg.User.BottleMl, DefaultBottleMl)
	}
	if cfg.User.DailyGoalMl != DefaultDailyGoalMl {
		t.Errorf("DailyGoalMl = %d, want %d", cfg.User.DailyGoalMl, DefaultDailyGoalMl)
	}
	if cfg.Provider.Model != DefaultModel {
		t.Errorf("Model = %q, want %q", cfg.Provider.Model, DefaultModel)
	}
	if cfg.Provider.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.Provider.BaseURL, DefaultBaseURL)
	}
	if cfg.Clock.UTCOffsetMinutes != 330 {
		t.Errorf("UTCOffsetMinutes = %d, want 330", cfg.Clock.UTCOffsetMinutes)
	}
	if !cfg.Reminders.Enabled {
		t.Error("reminders should be enabled by default")
	}
	if cfg.Channels.Telegram.Enabled {
		t.Error("telegram should be disabled by default")
	}
}

func TestConfigDir(t *testing.T) {
	tmpDir := setupHome(t)

	dir := ConfigDir()
	if dir != filepath.Join(tmpDir, ".aqualog") {
		t.Errorf("ConfigDir = %q", dir)
	}
	if !strings.HasSuffix(ConfigPath(), "config.json") {
		t.Errorf("ConfigPath = %q", ConfigPath())
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	setupHome(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	// Missing file falls back to full defaults.
	if cfg.User.BottleMl != DefaultBottleMl {
		t.Errorf("BottleMl = %d, want %d", cfg.User.BottleMl, DefaultBottleMl)
	}
	if cfg.Store.DBPath == "" {
		t.Error("DBPath should get a default")
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := setupHome(t)

	cfgDir := filepath.Join(tmpDir, ".aqualog")
	os.MkdirAll(cfgDir, 0755)
	content := `{
		"user": {"bottleMl": 1000, "dailyGoalMl": 3000},
		"provider": {"apiKey": "file-key", "model": "gpt-4o"},
		"channels": {"telegram": {"enabled": true, "token": "tg-token", "allowFrom": ["123"]}},
		"clock": {"utcOffsetMinutes": 0}
	}`
	os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte(content), 0644)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.User.BottleMl != 1000 {
		t.Errorf("BottleMl = %d, want 1000", cfg.User.BottleMl)
	}
	if cfg.Provider.APIKey != "file-key" {
		t.Errorf("APIKey = %q", cfg.Provider.APIKey)
	}
	if cfg.Provider.Model != "gpt-4o" {
		t.Errorf("Model = %q", cfg.Provider.Model)
	}
	if !cfg.Channels.Telegram.Enabled || cfg.Channels.Telegram.Token != "tg-token" {
		t.Errorf("Telegram = %+v", cfg.Channels.Telegram)
	}
	if cfg.Clock.UTCOffsetMinutes != 0 {
		t.Errorf("UTCOffsetMinutes = %d, want 0", cfg.Clock.UTCOffsetMinutes)
	}
	// Fields the file omits still get defaults.
	if cfg.Provider.MaxTokens != DefaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", cfg.Provider.MaxTokens, DefaultMaxTokens)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	tmpDir := setupHome(t)

	cfgDir := filepath.Join(tmpDir, ".aqualog")
	os.MkdirAll(cfgDir, 0755)
	os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("{not json"), 0644)

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	setupHome(t)
	t.Setenv("AQUALOG_API_KEY", "env-key")
	t.Setenv("AQUALOG_BASE_URL", "http://localhost:8080/v1")
	t.Setenv("AQUALOG_MODEL", "test-model")
	t.Setenv("AQUALOG_TELEGRAM_TOKEN", "env-token")
	t.Setenv("AQUALOG_BOTTLE_ML", "500")
	t.Setenv("AQUALOG_DAILY_GOAL_ML", "2000")
	t.Setenv("AQUALOG_UTC_OFFSET_MINUTES", "60")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Provider.APIKey != "env-key" {
		t.Errorf("APIKey = %q", cfg.Provider.APIKey)
	}
	if cfg.Provider.BaseURL != "http://localhost:8080/v1" {
		t.Errorf("BaseURL = %q", cfg.Provider.BaseURL)
	}
	if cfg.Provider.Model != "test-model" {
		t.Errorf("Model = %q", cfg.Provider.Model)
	}
	if cfg.Channels.Telegram.Token != "env-token" {
		t.Errorf("Telegram token = %q", cfg.Channels.Telegram.Token)
	}
	if cfg.User.BottleMl != 500 {
		t.Errorf("BottleMl = %d, want 500", cfg.User.BottleMl)
	}
	if cfg.User.DailyGoalMl != 2000 {
		t.Errorf("DailyGoalMl = %d, want 2000", cfg.User.DailyGoalMl)
	}
	if cfg.Clock.UTCOffsetMinutes != 60 {
		t.Errorf("UTCOffsetMinutes = %d, want 60", cfg.Clock.UTCOffsetMinutes)
	}
}

func TestLoadConfig_OpenAIKeyFallback(t *testing.T) {
	setupHome(t)
	t.Setenv("OPENAI_API_KEY", "fallback-key")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.APIKey != "fallback-key" {
		t.Errorf("APIKey = %q, want fallback-key", cfg.Provider.APIKey)
	}

	// AQUALOG_API_KEY wins when both are set.
	t.Setenv("AQUALOG_API_KEY", "primary-key")
	cfg, err = LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.APIKey != "primary-key" {
		t.Errorf("APIKey = %q, want primary-key", cfg.Provider.APIKey)
	}
}

func TestLoadConfig_InvalidValuesGetDefaults(t *testing.T) {
	tmpDir := setupHome(t)

	cfgDir := filepath.Join(tmpDir, ".aqualog")
	os.MkdirAll(cfgDir, 0755)
	content := `{
		"user": {"bottleMl": 50, "dailyGoalMl": -1},
		"provider": {"maxTokens": 0},
		"reminders": {"enabled": true, "nudgeEveryMin": -5, "wakeStartHour": 30, "wakeEndHour": 99}
	}`
	os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte(content), 0644)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.User.BottleMl != DefaultBottleMl {
		t.Errorf("out-of-range BottleMl = %d, want default %d", cfg.User.BottleMl, DefaultBottleMl)
	}
	if cfg.User.DailyGoalMl != DefaultDailyGoalMl {
		t.Errorf("DailyGoalMl = %d, want default", cfg.User.DailyGoalMl)
	}
	if cfg.Provider.MaxTokens != DefaultMaxTokens {
		t.Errorf("MaxTokens = %d, want default", cfg.Provider.MaxTokens)
	}
	if cfg.Reminders.NudgeEveryMin != DefaultNudgeEveryMin {
		t.Errorf("NudgeEveryMin = %d, want default", cfg.Reminders.NudgeEveryMin)
	}
	if cfg.Reminders.WakeStartHour != DefaultWakeStartHour {
		t.Errorf("WakeStartHour = %d, want default", cfg.Reminders.WakeStartHour)
	}
	if cfg.Reminders.WakeEndHour != DefaultWakeEndHour {
		t.Errorf("WakeEndHour = %d, want default", cfg.Reminders.WakeEndHour)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	setupHome(t)

	cfg := DefaultConfig()
	cfg.User.DailyGoalMl = 2750
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = "saved-token"

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		t.Fatalf("read saved config: %v", err)
	}
	var onDisk map[string]json.RawMessage
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("saved config is not valid JSON: %v", err)
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if loaded.User.DailyGoalMl != 2750 {
		t.Errorf("DailyGoalMl = %d, want 2750", loaded.User.DailyGoalMl)
	}
	if !loaded.Channels.Telegram.Enabled || loaded.Channels.Telegram.Token != "saved-token" {
		t.Errorf("Telegram = %+v", loaded.Channels.Telegram)
	}
}
