package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	App struct {
		Environment string
		LogLevel    string
		EnableScans bool
		ScanEvery   time.Duration
		ListenAddr  string
	}

	Providers struct {
		EbayAppID          string
		EbayDailyLimit     int
		MetalsAPIKey       string
		MetalsMonthlyLimit int
		MinCallInterval    time.Duration
	}

	HTTP struct {
		Timeout       time.Duration
		RetryAttempts int
	}

	Cache struct {
		MarketHours   time.Duration
		OffHours      time.Duration
		Weekend       time.Duration
		Timezone      string
		RetentionDays int
	}

	Scan struct {
		SearchTerms []string
		MaxResults  int
	}

	Feed struct {
		Enabled bool
		URL     string
	}

	ClickHouse struct {
		Host         string
		Port         int
		User         string
		Password     string
		Database     string
		QueryTimeout time.Duration
		Debug        bool
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// App settings
	cfg.App.Environment = getEnvOrDefault("APP_ENV", "production")
	cfg.App.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.App.EnableScans = getEnvAsBoolOrDefault("ENABLE_AUTO_SCAN", true)
	cfg.App.ScanEvery = time.Duration(getEnvAsIntOrDefault("SCAN_INTERVAL_HOURS", 2)) * time.Hour
	cfg.App.ListenAddr = getEnvOrDefault("LISTEN_ADDR", ":8080")

	// Provider quotas and keys
	cfg.Providers.EbayAppID = os.Getenv("EBAY_API_KEY")
	cfg.Providers.EbayDailyLimit = getEnvAsIntOrDefault("EBAY_DAILY_LIMIT", 5000)
	cfg.Providers.MetalsAPIKey = os.Getenv("METALS_API_KEY")
	cfg.Providers.MetalsMonthlyLimit = getEnvAsIntOrDefault("METALS_API_MONTHLY_LIMIT", 50)
	cfg.Providers.MinCallInterval = time.Duration(getEnvAsIntOrDefault("MIN_CALL_INTERVAL_MS", 200)) * time.Millisecond

	// Outbound HTTP
	cfg.HTTP.Timeout = time.Duration(getEnvAsIntOrDefault("API_TIMEOUT_SECS", 10)) * time.Second
	cfg.HTTP.RetryAttempts = getEnvAsIntOrDefault("API_RETRY_ATTEMPTS", 3)

	// Price cache windows (minutes)
	cfg.Cache.MarketHours = time.Duration(getEnvAsIntOrDefault("CACHE_MARKET_HOURS", 15)) * time.Minute
	cfg.Cache.OffHours = time.Duration(getEnvAsIntOrDefault("CACHE_OFF_HOURS", 60)) * time.Minute
	cfg.Cache.Weekend = time.Duration(getEnvAsIntOrDefault("CACHE_WEEKEND", 240)) * time.Minute
	cfg.Cache.Timezone = getEnvOrDefault("MARKET_TIMEZONE", "America/New_York")
	cfg.Cache.RetentionDays = getEnvAsIntOrDefault("PRICE_RETENTION_DAYS", 7)

	// Scan defaults
	cfg.Scan.SearchTerms = []string{"gold bullion", "silver bullion", "gold eagle", "silver eagle"}
	cfg.Scan.MaxResults = getEnvAsIntOrDefault("SCAN_MAX_RESULTS", 100)

	// Optional spot price stream
	cfg.Feed.Enabled = getEnvAsBoolOrDefault("FEED_ENABLED", false)
	cfg.Feed.URL = os.Getenv("FEED_URL")

	// ClickHouse settings
	cfg.ClickHouse.Host = getEnvOrDefault("CLICKHOUSE_HOST", "localhost")
	cfg.ClickHouse.Port = getEnvAsIntOrDefault("CLICKHOUSE_PORT", 9000)
	cfg.ClickHouse.User = getEnvOrDefault("CLICKHOUSE_USER", "default")
	cfg.ClickHouse.Password = os.Getenv("CLICKHOUSE_PASSWORD")
	cfg.ClickHouse.Database = getEnvOrDefault("CLICKHOUSE_DB", "default")
	cfg.ClickHouse.QueryTimeout = time.Duration(getEnvAsIntOrDefault("CLICKHOUSE_QUERY_TIMEOUT_SECS", 30)) * time.Second
	cfg.ClickHouse.Debug = getEnvOrDefault("APP_ENV", "production") != "production"

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
