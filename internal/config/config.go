package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Browser   BrowserConfig
	Scraper   ScraperConfig
	Proxy     ProxyConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port            int
	CORSOrigins     []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	Migrate  bool
	// APIKeys seeds the in-memory repository.
	APIKeys []string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

type BrowserConfig struct {
	Driver            string
	Headless          bool
	Timeout           time.Duration
	NavigationRetries int
	ExecutablePath    string
}

type ScraperConfig struct {
	MaxProducts    int
	Stores         []string
	StoreTimeout   time.Duration
	RequestTimeout time.Duration
	SaveRetries    int
	MaxRequests    int
	PollInterval   time.Duration
}

type ProxyConfig struct {
	Mode     string
	List     string
	Token    string
	Country  string
	Gateway  string
	Username string
	Password string
	Endpoint string
	Policy   string
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type LoggingConfig struct {
	Level  string
	Format string
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	BrowserPlaywright = "playwright"
	BrowserHTTP       = "http"

	ProxyNone     = "none"
	ProxyStatic   = "static"
	ProxyWebshare = "webshare"
	ProxyGateway  = "gateway"
	ProxyEndpoint = "endpoint"
)

// Load reads .env when present, then the environment, and validates the
// result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func FromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("PORT", 8080),
			CORSOrigins:     getStringSliceOrDefault("CORS_ORIGINS", nil),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(getEnvOrDefault("DB_DRIVER", DriverPostgres)),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "store_scraper"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
			Migrate:  getBoolOrDefault("DB_MIGRATE", false),
			APIKeys:  getStringSliceOrDefault("MEMORY_API_KEYS", nil),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", ""),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:scrape_requests"),
		},
		Browser: BrowserConfig{
			Driver:            strings.ToLower(getEnvOrDefault("BROWSER_DRIVER", BrowserPlaywright)),
			Headless:          getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:           getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			NavigationRetries: getIntOrDefault("BROWSER_NAV_RETRIES", 3),
			ExecutablePath:    getEnvOrDefault("CHROME_PATH", ""),
		},
		Scraper: ScraperConfig{
			MaxProducts:    getIntOrDefault("MAX_PRODUCTS", 20),
			Stores:         getStringSliceOrDefault("SCRAPER_STORES", nil),
			StoreTimeout:   getDurationOrDefault("SCRAPER_STORE_TIMEOUT", 2*time.Minute),
			RequestTimeout: getDurationOrDefault("SCRAPER_REQUEST_TIMEOUT", 10*time.Minute),
			SaveRetries:    getIntOrDefault("SCRAPER_SAVE_RETRIES", 3),
			MaxRequests:    getIntOrDefault("SCRAPER_MAX_REQUESTS", 2),
			PollInterval:   getDurationOrDefault("SCRAPER_POLL_INTERVAL", 10*time.Second),
		},
		Proxy: ProxyConfig{
			Mode:     strings.ToLower(getEnvOrDefault("PROXY_MODE", ProxyNone)),
			List:     getEnvOrDefault("PROXY_LIST", ""),
			Token:    getEnvOrDefault("WEBSHARE_TOKEN", ""),
			Country:  getEnvOrDefault("PROXY_COUNTRY", "US"),
			Gateway:  getEnvOrDefault("PROXY_GATEWAY", ""),
			Username: getEnvOrDefault("PROXY_USERNAME", ""),
			Password: getEnvOrDefault("PROXY_PASSWORD", ""),
			Endpoint: getEnvOrDefault("PROXY_ENDPOINT", ""),
			Policy:   strings.ToLower(getEnvOrDefault("PROXY_POLICY", "degrade")),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getFloatOrDefault("RATE_LIMIT_RPS", 5),
			Burst:             getIntOrDefault("RATE_LIMIT_BURST", 10),
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json")),
		},
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Database.Driver)
	}

	switch c.Browser.Driver {
	case BrowserPlaywright, BrowserHTTP:
	default:
		return fmt.Errorf("BROWSER_DRIVER must be %q or %q, got %q", BrowserPlaywright, BrowserHTTP, c.Browser.Driver)
	}

	if c.Scraper.MaxProducts < 1 {
		return fmt.Errorf("MAX_PRODUCTS must be at least 1")
	}
	if c.Scraper.MaxRequests < 1 {
		return fmt.Errorf("SCRAPER_MAX_REQUESTS must be at least 1")
	}
	if c.Scraper.SaveRetries < 1 {
		return fmt.Errorf("SCRAPER_SAVE_RETRIES must be at least 1")
	}
	if c.Scraper.StoreTimeout > c.Scraper.RequestTimeout {
		return fmt.Errorf("SCRAPER_STORE_TIMEOUT cannot be greater than SCRAPER_REQUEST_TIMEOUT")
	}

	switch c.Proxy.Mode {
	case ProxyNone:
	case ProxyStatic:
		if c.Proxy.List == "" {
			return fmt.Errorf("PROXY_LIST is required when PROXY_MODE=%s", ProxyStatic)
		}
	case ProxyWebshare:
		if c.Proxy.Token == "" {
			return fmt.Errorf("WEBSHARE_TOKEN is required when PROXY_MODE=%s", ProxyWebshare)
		}
	case ProxyGateway:
		if c.Proxy.Gateway == "" {
			return fmt.Errorf("PROXY_GATEWAY is required when PROXY_MODE=%s", ProxyGateway)
		}
	case ProxyEndpoint:
		if c.Proxy.Endpoint == "" {
			return fmt.Errorf("PROXY_ENDPOINT is required when PROXY_MODE=%s", ProxyEndpoint)
		}
	default:
		return fmt.Errorf("unknown PROXY_MODE %q", c.Proxy.Mode)
	}

	if c.Proxy.Policy != "degrade" && c.Proxy.Policy != "fail" {
		return fmt.Errorf("PROXY_POLICY must be degrade or fail, got %q", c.Proxy.Policy)
	}

	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be at least 1")
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Logging.Format)
	}

	return nil
}

func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q: %w", l.Level, err)
	}
	return level, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
