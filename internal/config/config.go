// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Telegram
	TelegramBotToken  string
	ChannelRatePerSec float64
	ChannelBurst      int

	// Catalog
	CatalogBaseURL  string
	CatalogCookie   string
	CatalogTimeout  time.Duration
	CatalogPageSize int
	CatalogMaxPages int
	CatalogMaxSize  int64

	// Schedule
	SyncSchedule string
	Timezone     *time.Location
	RunOnStartup bool

	// Dispatch
	DigestPageSize       int
	DigestSendDelay      time.Duration
	DigestRecipientDelay time.Duration
	NotifyMinDelay       time.Duration
	NotifyMaxDelay       time.Duration
	PushNewDeals         bool

	// Retention
	LogRetentionDays int

	// Server
	ServerPort string
	APIToken   string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if cfg.TelegramBotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	tzName := getEnvString("TIMEZONE", "UTC")
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tzName, err)
	}
	cfg.Timezone = tz

	cfg.ChannelRatePerSec = getEnvFloat("CHANNEL_RATE_PER_SEC", 25)
	cfg.ChannelBurst = getEnvInt("CHANNEL_BURST", 1)

	cfg.CatalogBaseURL = strings.TrimRight(getEnvString("CATALOG_BASE_URL", "https://yepsavings.com"), "/")
	cfg.CatalogCookie = getEnvString("CATALOG_COOKIE", "ezoictest=stable")
	cfg.CatalogTimeout = getEnvDuration("CATALOG_TIMEOUT", 10*time.Second)
	cfg.CatalogPageSize = getEnvInt("CATALOG_PAGE_SIZE", 1000)
	cfg.CatalogMaxPages = getEnvInt("CATALOG_MAX_PAGES", 5)
	cfg.CatalogMaxSize = getEnvInt64("CATALOG_MAX_SIZE", 10<<20)

	cfg.SyncSchedule = getEnvString("SYNC_SCHEDULE", "0 8 * * *")
	cfg.RunOnStartup = getEnvBool("RUN_ON_STARTUP", true)

	cfg.DigestPageSize = getEnvInt("DIGEST_PAGE_SIZE", 10)
	cfg.DigestSendDelay = getEnvDuration("DIGEST_SEND_DELAY", 300*time.Millisecond)
	cfg.DigestRecipientDelay = getEnvDuration("DIGEST_RECIPIENT_DELAY", 1500*time.Millisecond)
	cfg.NotifyMinDelay = getEnvDuration("NOTIFY_MIN_DELAY", 500*time.Millisecond)
	cfg.NotifyMaxDelay = getEnvDuration("NOTIFY_MAX_DELAY", 1500*time.Millisecond)
	if cfg.NotifyMaxDelay < cfg.NotifyMinDelay {
		return nil, fmt.Errorf("NOTIFY_MAX_DELAY (%s) must not be less than NOTIFY_MIN_DELAY (%s)",
			cfg.NotifyMaxDelay, cfg.NotifyMinDelay)
	}

	cfg.PushNewDeals = getEnvBool("PUSH_NEW_DEALS", false)

	cfg.LogRetentionDays = getEnvInt("LOG_RETENTION_DAYS", 90)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.APIToken = os.Getenv("API_TOKEN")

	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// LoadDatabaseURL はマイグレーションなどDB接続のみが必要なコマンド向けにDATABASE_URLだけを読み込む。
func LoadDatabaseURL() (string, error) {
	_ = godotenv.Load()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return "", fmt.Errorf("required environment variables are not set: [DATABASE_URL]")
	}
	return url, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
