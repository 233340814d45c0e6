package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	BotToken          string
	AdminTelegramID   int64
	DatabaseURL       string
	OutlineAPIURL     string
	OutlineCertSHA256 string
	YooMoneySecret    string
	YooMoneyWallet    string
	NotificationURL   string
	SupportContact    string
	HTTPAddr          string
	BackupDir         string

	SweepInterval  time.Duration
	SyncInterval   time.Duration
	HealthInterval time.Duration
	CallTimeout    time.Duration

	// ResetFlagsOnRenew clears warning flags when a renewal moves the expiry back above a threshold.
	ResetFlagsOnRenew bool
	Debug             bool
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Println(".env file not found, relying on environment variables")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds the config from a lookup function so tests can feed a map.
func FromEnv(getenv func(string) string) (*AppConfig, error) {
	cfg := &AppConfig{
		BotToken:          getenv("BOT_TOKEN"),
		DatabaseURL:       getenv("DATABASE_URL"),
		OutlineAPIURL:     strings.TrimRight(getenv("OUTLINE_API_URL"), "/"),
		OutlineCertSHA256: getenv("OUTLINE_CERT_SHA256"),
		YooMoneySecret:    getenv("YOOMONEY_SECRET"),
		YooMoneyWallet:    getenv("YOOMONEY_WALLET"),
		NotificationURL:   getenv("NOTIFICATION_URL"),
		SupportContact:    orDefault(getenv("SUPPORT_CONTACT"), "поддержкой"),
		HTTPAddr:          orDefault(getenv("HTTP_ADDR"), ":8080"),
		BackupDir:         orDefault(getenv("BACKUP_DIR"), "backups"),
	}

	var missing []string
	for name, v := range map[string]string{
		"BOT_TOKEN":       cfg.BotToken,
		"DATABASE_URL":    cfg.DatabaseURL,
		"OUTLINE_API_URL": cfg.OutlineAPIURL,
		"YOOMONEY_SECRET": cfg.YooMoneySecret,
		"YOOMONEY_WALLET": cfg.YooMoneyWallet,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("critical environment variables are missing: %s", strings.Join(missing, ", "))
	}

	if raw := getenv("ADMIN_TELEGRAM_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ADMIN_TELEGRAM_ID: %w", err)
		}
		cfg.AdminTelegramID = id
	}

	var err error
	if cfg.SweepInterval, err = durationOr(getenv("SWEEP_INTERVAL"), time.Hour); err != nil {
		return nil, fmt.Errorf("SWEEP_INTERVAL: %w", err)
	}
	if cfg.SyncInterval, err = durationOr(getenv("SYNC_INTERVAL"), 10*time.Minute); err != nil {
		return nil, fmt.Errorf("SYNC_INTERVAL: %w", err)
	}
	if cfg.HealthInterval, err = durationOr(getenv("HEALTH_INTERVAL"), time.Minute); err != nil {
		return nil, fmt.Errorf("HEALTH_INTERVAL: %w", err)
	}
	if cfg.CallTimeout, err = durationOr(getenv("CALL_TIMEOUT"), 15*time.Second); err != nil {
		return nil, fmt.Errorf("CALL_TIMEOUT: %w", err)
	}
	if cfg.ResetFlagsOnRenew, err = boolOr(getenv("RESET_FLAGS_ON_RENEW"), false); err != nil {
		return nil, fmt.Errorf("RESET_FLAGS_ON_RENEW: %w", err)
	}
	if cfg.Debug, err = boolOr(getenv("LOG_DEBUG"), false); err != nil {
		return nil, fmt.Errorf("LOG_DEBUG: %w", err)
	}
	return cfg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func durationOr(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("must be positive")
	}
	return d, nil
}

func boolOr(raw string, def bool) (bool, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.ParseBool(raw)
}
