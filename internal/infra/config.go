package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// History storage drivers understood by LoadConfig.
const (
	HistoryDriverFile     = "file"
	HistoryDriverSQLite   = "sqlite"
	HistoryDriverPostgres = "postgres"
)

// Config represents application configuration loaded from environment variables.
// It is built once at startup and passed by pointer to every component.
type Config struct {
	AppEnv string
	Port   string

	MoltbookAPIKey     string
	MoltbookBaseURL    string
	MoltbookProfileURL string

	ReplicateAPIKey       string
	ReplicateBaseURL      string
	ReplicateModelVersion string
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	OpenAIImageModel      string
	OpenAIOrg             string
	QwenAPIKey            string
	QwenBaseURL           string
	QwenModel             string

	// Providers is the ordered preference list; the first configured entry wins.
	Providers []string

	ImageSize      int
	ProxyImageSize int
	PromptTemplate string
	ThemeFile      string

	HistoryDriver string
	HistoryPath   string
	DatabaseURL   string

	PollInterval time.Duration
	MaxPolls     int
	MaxWait      time.Duration

	AllowedOrigins []string
	// TrustedProxies lists addresses or CIDRs whose forwarding headers are
	// believed. Empty means clients are identified by the socket peer.
	TrustedProxies []string

	// GenerateTimeout bounds one proxy /generate or /status call. It must
	// stay below HTTPWriteTimeout so a slow provider still gets a JSON answer.
	GenerateTimeout time.Duration

	GeoIPDBPath      string
	RateLimitPerMin  int
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

var defaultAllowedOrigins = []string{
	"https://ozark420.github.io",
	"https://moodmolt.xyz",
	"https://www.moodmolt.xyz",
	"http://localhost:3000",
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:                getEnv("APP_ENV", "development"),
		Port:                  getEnv("PORT", "8787"),
		MoltbookAPIKey:        strings.TrimSpace(os.Getenv("MOLTBOOK_API_KEY")),
		MoltbookBaseURL:       getEnv("MOLTBOOK_BASE_URL", "https://www.moltbook.com/api/v1"),
		MoltbookProfileURL:    getEnv("MOLTBOOK_PROFILE_URL", "https://moltbook.com"),
		ReplicateAPIKey:       strings.TrimSpace(getEnv("REPLICATE_API_KEY", os.Getenv("REPLICATE_TOKEN"))),
		ReplicateBaseURL:      getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		ReplicateModelVersion: os.Getenv("REPLICATE_MODEL_VERSION"),
		OpenAIAPIKey:          strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIImageModel:      getEnv("OPENAI_IMAGE_MODEL", "dall-e-3"),
		OpenAIOrg:             os.Getenv("OPENAI_ORG"),
		QwenAPIKey:            strings.TrimSpace(os.Getenv("QWEN_API_KEY")),
		QwenBaseURL:           getEnv("QWEN_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		QwenModel:             getEnv("QWEN_MODEL", "qwen-image-plus"),
		Providers:             getEnvList("MOLT_PROVIDERS", []string{"replicate", "openai", "qwen"}),
		ImageSize:             getEnvInt("MOLT_IMAGE_SIZE", 512),
		ProxyImageSize:        getEnvInt("PROXY_IMAGE_SIZE", 1024),
		PromptTemplate:        os.Getenv("MOLT_PROMPT_TEMPLATE"),
		ThemeFile:             os.Getenv("MOLT_THEME_FILE"),
		HistoryDriver:         strings.ToLower(getEnv("MOLT_HISTORY_DRIVER", HistoryDriverFile)),
		HistoryPath:           getEnv("MOLT_HISTORY_PATH", "./memory/molt-history.json"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		PollInterval:          time.Millisecond * time.Duration(getEnvInt("MOLT_POLL_INTERVAL_MS", 2000)),
		MaxPolls:              getEnvInt("MOLT_MAX_POLLS", 90),
		MaxWait:               time.Second * time.Duration(getEnvInt("MOLT_MAX_WAIT_SECONDS", 180)),
		AllowedOrigins:        getEnvList("PROXY_ALLOWED_ORIGINS", defaultAllowedOrigins),
		TrustedProxies:        getEnvList("PROXY_TRUSTED_PROXIES", nil),
		GenerateTimeout:       time.Second * time.Duration(getEnvInt("PROXY_GENERATE_TIMEOUT_SECONDS", 25)),
		GeoIPDBPath:           os.Getenv("GEOIP_DB_PATH"),
		RateLimitPerMin:       getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		HTTPReadTimeout:       time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:      time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:       time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.ImageSize <= 0 {
		return nil, fmt.Errorf("MOLT_IMAGE_SIZE must be positive")
	}
	if cfg.ProxyImageSize <= 0 {
		return nil, fmt.Errorf("PROXY_IMAGE_SIZE must be positive")
	}
	if cfg.MaxPolls <= 0 || cfg.MaxWait <= 0 {
		return nil, fmt.Errorf("MOLT_MAX_POLLS and MOLT_MAX_WAIT_SECONDS must be positive")
	}

	if cfg.HTTPWriteTimeout > 0 && (cfg.GenerateTimeout <= 0 || cfg.GenerateTimeout >= cfg.HTTPWriteTimeout) {
		return nil, fmt.Errorf("PROXY_GENERATE_TIMEOUT_SECONDS must be positive and below HTTP_WRITE_TIMEOUT_SECONDS")
	}

	switch cfg.HistoryDriver {
	case HistoryDriverFile, HistoryDriverSQLite:
	case HistoryDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres history driver")
		}
	default:
		return nil, fmt.Errorf("unsupported MOLT_HISTORY_DRIVER %q", cfg.HistoryDriver)
	}

	return cfg, nil
}

// Secrets returns every credential held by the config. Callers use it to
// scrub messages before they leave the process.
func (c *Config) Secrets() []string {
	if c == nil {
		return nil
	}
	var out []string
	for _, s := range []string{c.MoltbookAPIKey, c.ReplicateAPIKey, c.OpenAIAPIKey, c.QwenAPIKey} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}
