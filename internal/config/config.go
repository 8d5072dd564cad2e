// Package config loads process settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"florapos/internal/domain"
)

type Config struct {
	Port          string
	AllowedOrigin string
	DatabaseURL   string

	CatalogDatabaseURL string
	CatalogTable       string
	CatalogCSVSources  []string
	GeneralCategories  []string
	CatalogCacheTTL    time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthSecret     string
	AccessTokenTTL time.Duration

	StoreName     string
	StoreTimezone string
	LocalStateDir string
	OrderMode     domain.OrderMode

	PrintReceipts            bool
	PrinterURL               string
	PrinterDiscoveryAttempts int
	PrinterDiscoveryInterval time.Duration

	PreviewRefreshInterval time.Duration
	SubmitMaxAttempts      int

	SyncInterval   time.Duration
	SyncExportDir  string
	SyncWebhookURL string

	LogLevel string
}

var defaults = map[string]any{
	"PORT":                       "8080",
	"ALLOWED_ORIGIN":             "http://127.0.0.1:3000",
	"CATALOG_TABLE":              "inventory",
	"GENERAL_CATEGORIES":         "General",
	"CATALOG_CACHE_TTL":          "10m",
	"REDIS_DB":                   0,
	"ACCESS_TOKEN_TTL":           "8h",
	"STORE_NAME":                 "Flora",
	"STORE_TIMEZONE":             "Asia/Jakarta",
	"LOCAL_STATE_DIR":            "./data",
	"ORDER_MODE":                 string(domain.OrderModeProduction),
	"PRINT_RECEIPTS":             true,
	"PRINTER_DISCOVERY_ATTEMPTS": 5,
	"PRINTER_DISCOVERY_INTERVAL": "1s",
	"PREVIEW_REFRESH_INTERVAL":   "60s",
	"SUBMIT_MAX_ATTEMPTS":        3,
	"SYNC_INTERVAL":              "1m",
	"LOG_LEVEL":                  "info",
}

// Load reads .env when present, then the process environment. Variables
// already set in the environment win over .env entries.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	cfg := Config{
		Port:                     strings.TrimSpace(v.GetString("PORT")),
		AllowedOrigin:            v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:              strings.TrimSpace(v.GetString("DATABASE_URL")),
		CatalogDatabaseURL:       strings.TrimSpace(v.GetString("CATALOG_DATABASE_URL")),
		CatalogTable:             strings.TrimSpace(v.GetString("CATALOG_TABLE")),
		CatalogCSVSources:        splitList(v.GetString("CATALOG_CSV_SOURCES")),
		GeneralCategories:        splitList(v.GetString("GENERAL_CATEGORIES")),
		CatalogCacheTTL:          v.GetDuration("CATALOG_CACHE_TTL"),
		RedisAddr:                strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:            v.GetString("REDIS_PASSWORD"),
		RedisDB:                  v.GetInt("REDIS_DB"),
		AuthSecret:               strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTL:           v.GetDuration("ACCESS_TOKEN_TTL"),
		StoreName:                v.GetString("STORE_NAME"),
		StoreTimezone:            strings.TrimSpace(v.GetString("STORE_TIMEZONE")),
		LocalStateDir:            strings.TrimSpace(v.GetString("LOCAL_STATE_DIR")),
		OrderMode:                domain.OrderMode(strings.ToLower(strings.TrimSpace(v.GetString("ORDER_MODE")))),
		PrintReceipts:            v.GetBool("PRINT_RECEIPTS"),
		PrinterURL:               strings.TrimSpace(v.GetString("PRINTER_URL")),
		PrinterDiscoveryAttempts: v.GetInt("PRINTER_DISCOVERY_ATTEMPTS"),
		PrinterDiscoveryInterval: v.GetDuration("PRINTER_DISCOVERY_INTERVAL"),
		PreviewRefreshInterval:   v.GetDuration("PREVIEW_REFRESH_INTERVAL"),
		SubmitMaxAttempts:        v.GetInt("SUBMIT_MAX_ATTEMPTS"),
		SyncInterval:             v.GetDuration("SYNC_INTERVAL"),
		SyncExportDir:            strings.TrimSpace(v.GetString("SYNC_EXPORT_DIR")),
		SyncWebhookURL:           strings.TrimSpace(v.GetString("SYNC_WEBHOOK_URL")),
		LogLevel:                 strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.OrderMode != domain.OrderModeTest && c.OrderMode != domain.OrderModeProduction {
		errs = append(errs, fmt.Errorf("ORDER_MODE must be test or production, got %q", c.OrderMode))
	}
	if _, err := time.LoadLocation(c.StoreTimezone); err != nil {
		errs = append(errs, fmt.Errorf("STORE_TIMEZONE: %w", err))
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be positive"))
	}
	if c.SubmitMaxAttempts < 1 {
		errs = append(errs, errors.New("SUBMIT_MAX_ATTEMPTS must be at least 1"))
	}
	if c.PreviewRefreshInterval <= 0 || c.SyncInterval <= 0 {
		errs = append(errs, errors.New("PREVIEW_REFRESH_INTERVAL and SYNC_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// SyncEnabled reports whether any export sink is configured.
func (c Config) SyncEnabled() bool {
	return c.SyncExportDir != "" || c.SyncWebhookURL != ""
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c Config) OrderModeIsProduction() bool {
	return c.OrderMode == domain.OrderModeProduction
}
