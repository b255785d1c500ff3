package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	StoreID                string
	LocationID             string
	LocalDataDir           string
	RemoteTimeoutSeconds   int
	ProbeIntervalSeconds   int
	CatalogCacheTTLSeconds int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	ManagerPIN             string
	LogLevel               string
	SettingsFile           string
	Settings               Settings
}

// Settings are the business rules an operator tunes per store.
type Settings struct {
	CardCommissionRate    float64 `yaml:"card_commission_rate"`
	ExpiryAlertDays       int     `yaml:"expiry_alert_days"`
	ReservationTTLSeconds int     `yaml:"reservation_ttl_seconds"`
}

func DefaultSettings() Settings {
	return Settings{
		CardCommissionRate:    0.04,
		ExpiryAlertDays:       30,
		ReservationTTLSeconds: 120,
	}
}

// Load reads .env when present, then the environment, then the settings
// file named by POS_SETTINGS_FILE.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                getInt("REDIS_DB", 0, 0),
		StoreID:                getEnv("DEFAULT_STORE_ID", "main-store"),
		LocationID:             getEnv("POS_LOCATION_ID", "tienda-centro"),
		LocalDataDir:           strings.TrimSpace(os.Getenv("LOCAL_DATA_DIR")),
		RemoteTimeoutSeconds:   getInt("REMOTE_TIMEOUT_SECONDS", 8, 1),
		ProbeIntervalSeconds:   getInt("PROBE_INTERVAL_SECONDS", 15, 1),
		CatalogCacheTTLSeconds: getInt("CATALOG_CACHE_TTL_SECONDS", 20, 1),
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  getInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1),
		ManagerPIN:             strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		LogLevel:               strings.ToLower(getEnv("LOG_LEVEL", "info")),
		SettingsFile:           strings.TrimSpace(os.Getenv("POS_SETTINGS_FILE")),
		Settings:               DefaultSettings(),
	}

	if cfg.SettingsFile != "" {
		settings, err := LoadSettings(cfg.SettingsFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Settings = settings
	}
	return cfg, nil
}

// LoadSettings reads a YAML settings file over the defaults. Keys missing
// from the file keep their default value.
func LoadSettings(path string) (Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings %s: %w", path, err)
	}
	settings := DefaultSettings()
	if err := yaml.Unmarshal(raw, &settings); err != nil {
		return Settings{}, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if settings.CardCommissionRate < 0 || settings.CardCommissionRate >= 1 {
		return Settings{}, fmt.Errorf("settings %s: card_commission_rate must be in [0, 1)", path)
	}
	if settings.ExpiryAlertDays < 1 {
		return Settings{}, fmt.Errorf("settings %s: expiry_alert_days must be positive", path)
	}
	if settings.ReservationTTLSeconds < 1 {
		return Settings{}, fmt.Errorf("settings %s: reservation_ttl_seconds must be positive", path)
	}
	return settings, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getInt(key string, fallback int, minimum int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < minimum {
		return fallback
	}
	return val
}
