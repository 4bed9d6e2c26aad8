package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/relnotify/internal/logger"
)

// 通知チャネル
const (
	ChannelTelegram = "telegram"
	ChannelLog      = "log"
)

// マンガの外部ソース
const (
	MangaSourceAPI = "api"
	MangaSourceRSS = "rss"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Notify
	NotifyChannel      string
	TelegramBotToken   string
	TelegramAPIURL     string
	TelegramRatePerSec float64

	// Sources
	ShikimoriURL           string
	ShikimoriRatePerSec    float64
	MangaUpdatesURL        string
	MangaUpdatesRatePerSec float64
	MangaSource            string

	// Schedulers
	AnimeEnabled   bool
	MangaEnabled   bool
	AnimeInterval  time.Duration
	MangaInterval  time.Duration
	AnimeNotBefore time.Duration
	MangaNotBefore time.Duration

	// Timeouts
	FetchTimeout    time.Duration
	DeliveryTimeout time.Duration
	ClaimTimeout    time.Duration

	MaxConcurrent int

	// Location は「今日」の境界を決めるタイムゾーン。
	Location *time.Location

	// Server
	ServerPort string

	// Logging
	LogLevel slog.Level
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値の形式が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.NotifyChannel = strings.ToLower(getEnvString("NOTIFY_CHANNEL", ChannelTelegram))
	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if cfg.NotifyChannel == ChannelTelegram && cfg.TelegramBotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.TelegramAPIURL = getEnvString("TELEGRAM_API_URL", "https://api.telegram.org")
	cfg.TelegramRatePerSec = getEnvFloat("TELEGRAM_RATE_PER_SEC", 25)
	cfg.ShikimoriURL = getEnvString("SHIKIMORI_URL", "https://shikimori.one")
	cfg.ShikimoriRatePerSec = getEnvFloat("SHIKIMORI_RATE_PER_SEC", 4)
	cfg.MangaUpdatesURL = getEnvString("MANGAUPDATES_URL", "https://api.mangaupdates.com")
	cfg.MangaUpdatesRatePerSec = getEnvFloat("MANGAUPDATES_RATE_PER_SEC", 2)
	cfg.MangaSource = strings.ToLower(getEnvString("MANGA_SOURCE", MangaSourceAPI))
	cfg.AnimeEnabled = getEnvBool("ANIME_ENABLED", true)
	cfg.MangaEnabled = getEnvBool("MANGA_ENABLED", true)
	cfg.AnimeInterval = getEnvDuration("ANIME_INTERVAL", 15*time.Minute)
	cfg.MangaInterval = getEnvDuration("MANGA_INTERVAL", time.Hour)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.DeliveryTimeout = getEnvDuration("DELIVERY_TIMEOUT", 10*time.Second)
	cfg.ClaimTimeout = getEnvDuration("CLAIM_TIMEOUT", 5*time.Second)
	cfg.MaxConcurrent = getEnvInt("MAX_CONCURRENT", 4)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	// Validated fields
	var invalid []string

	switch cfg.NotifyChannel {
	case ChannelTelegram, ChannelLog:
	default:
		invalid = append(invalid, "NOTIFY_CHANNEL")
	}

	switch cfg.MangaSource {
	case MangaSourceAPI, MangaSourceRSS:
	default:
		invalid = append(invalid, "MANGA_SOURCE")
	}

	var err error
	if cfg.AnimeNotBefore, err = ParseClock(getEnvString("ANIME_NOT_BEFORE", "18:00")); err != nil {
		invalid = append(invalid, "ANIME_NOT_BEFORE")
	}
	if cfg.MangaNotBefore, err = ParseClock(os.Getenv("MANGA_NOT_BEFORE")); err != nil {
		invalid = append(invalid, "MANGA_NOT_BEFORE")
	}

	if cfg.Location, err = time.LoadLocation(getEnvString("TIMEZONE", "Local")); err != nil {
		invalid = append(invalid, "TIMEZONE")
	}

	if cfg.LogLevel, err = logger.ParseLevel(os.Getenv("LOG_LEVEL")); err != nil {
		invalid = append(invalid, "LOG_LEVEL")
	}

	if len(invalid) > 0 {
		return nil, fmt.Errorf("environment variables have invalid values: %v", invalid)
	}

	return cfg, nil
}

// ParseClock は "HH:MM" 形式の時刻を0時からの経過時間に変換する。
// 空文字列は0を返す。
func ParseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
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
