package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the server and supporting services.
type Config struct {
	ListenAddr           string
	MySQLDSN             string
	JWTSecret            string
	SessionTTL           time.Duration
	ModelsURL            string
	GenerateWebhookURL   string
	RequestTimeout       time.Duration
	FreeDailyReward      int
	ProDailyReward       int
	GenerationCost       int
	HistoryDir           string
	HistoryLimit         int
	ProfileFetchAttempts int
	ProfileFetchDelay    time.Duration
	S3Endpoint           string
	S3Region             string
	S3AccessKey          string
	S3SecretKey          string
	S3Bucket             string
	S3PublicBaseURL      string
	S3UsePathStyle       bool
	S3Prefix             string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:           getEnv("LISTEN_ADDR", ":8080"),
		SessionTTL:           time.Hour * time.Duration(getInt("SESSION_TTL_HOURS", 24)),
		ModelsURL:            getEnv("MODELS_URL", "https://stablehorde.net/api/v2/status/models"),
		RequestTimeout:       time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 300)),
		FreeDailyReward:      getInt("FREE_DAILY_REWARD", 5),
		ProDailyReward:       getInt("PRO_DAILY_REWARD", 100),
		GenerationCost:       getInt("GENERATION_COST", 1),
		HistoryDir:           getEnv("HISTORY_DIR", filepath.Join("data", "history")),
		HistoryLimit:         getInt("HISTORY_LIMIT", 20),
		ProfileFetchAttempts: getInt("PROFILE_FETCH_ATTEMPTS", 4),
		ProfileFetchDelay:    time.Millisecond * time.Duration(getInt("PROFILE_FETCH_DELAY_MS", 1500)),
		S3Endpoint:           getEnv("S3_ENDPOINT", ""),
		S3Region:             getEnv("S3_REGION", ""),
		S3AccessKey:          getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:          getEnv("S3_SECRET_KEY", ""),
		S3Bucket:             getEnv("S3_BUCKET", ""),
		S3PublicBaseURL:      getEnv("S3_PUBLIC_BASE_URL", ""),
		S3UsePathStyle:       getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:             getEnv("S3_PREFIX", "generations"),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.GenerateWebhookURL = os.Getenv("GENERATE_WEBHOOK_URL")

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if cfg.GenerateWebhookURL == "" {
		missing = append(missing, "GENERATE_WEBHOOK_URL")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// ArchivalEnabled reports whether the optional S3 block is complete enough
// to upload generated images.
func (c Config) ArchivalEnabled() bool {
	return c.S3Region != "" && c.S3AccessKey != "" && c.S3SecretKey != "" && c.S3Bucket != "" && c.S3PublicBaseURL != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Running purely on process environment is fine.
	return nil
}
