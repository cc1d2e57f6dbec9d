package config

import (
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

type CKey string

type Config struct {
	Validator  *validator.Validate
	EncryptKey string
}

// AppConfig represents the application configuration
type AppConfig struct {
	Port                string
	SQLitePath          string
	OpenSearchURL       string
	OpenSearchUser      string
	OpenSearchPass      string
	RedisURL            string
	EnableLogging       bool
	LoggingLevel        string
	LogRetentionDays    int
	DefaultRegion       string
	DefaultStrategy     string
	FeedRefreshInterval time.Duration
	FeedWindowDays      int
	AttemptTimeout      time.Duration
	ProbeTimeout        time.Duration
	RateLimitPerMinute  int
}

var (
	instance          *Config
	appConfigInstance *AppConfig
)

func App() *Config {
	if instance == nil {
		instance = &Config{
			Validator: validator.New(),
			// Master key for credential encryption at rest. Without it the
			// credential store refuses to start.
			EncryptKey: GetEnv("MASTER_ENCRYPTION_KEY", ""),
		}
	}
	return instance
}

// GetAppConfig returns the application configuration
func GetAppConfig() *AppConfig {
	if appConfigInstance == nil {
		appConfigInstance = &AppConfig{
			Port:                GetEnv("APP_PORT", "9999"),
			SQLitePath:          GetEnv("SQLITE_DB_PATH", "./data/paymux.db"),
			OpenSearchURL:       GetEnv("OPENSEARCH_URL", "http://localhost:9200"),
			OpenSearchUser:      GetEnv("OPENSEARCH_USER", ""),
			OpenSearchPass:      GetEnv("OPENSEARCH_PASSWORD", ""),
			RedisURL:            GetEnv("REDIS_URL", "redis://localhost:6379/0"),
			EnableLogging:       GetBoolEnv("ENABLE_OPENSEARCH_LOGGING", true),
			LoggingLevel:        GetEnv("LOGGING_LEVEL", "info"),
			LogRetentionDays:    GetIntEnv("LOG_RETENTION_DAYS", 30),
			DefaultRegion:       GetEnv("DEFAULT_REGION", "UK"),
			DefaultStrategy:     GetEnv("DEFAULT_STRATEGY", "balanced"),
			FeedRefreshInterval: time.Duration(GetIntEnv("FEED_REFRESH_SECONDS", 60)) * time.Second,
			FeedWindowDays:      GetIntEnv("FEED_WINDOW_DAYS", 7),
			AttemptTimeout:      time.Duration(GetIntEnv("ATTEMPT_TIMEOUT_SECONDS", 30)) * time.Second,
			ProbeTimeout:        time.Duration(GetIntEnv("PROBE_TIMEOUT_SECONDS", 5)) * time.Second,
			RateLimitPerMinute:  GetIntEnv("RATE_LIMIT_PER_MINUTE", 100),
		}
	}
	return appConfigInstance
}

// getEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv returns the boolean value of an environment variable or a default value
func GetBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getIntEnv returns the integer value of an environment variable or a default value
func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func RandomString(length int) string {
	var charset = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
	rand.New(rand.NewSource(time.Now().UnixNano()))
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
