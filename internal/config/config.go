package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr          string
	LogLevel      string
	RedisURL      string
	DatabaseURL   string
	ProvidersFile string

	DeepLAPIKey   string
	DeepLBaseURL  string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OllamaBaseURL string

	OTLPEndpoint    string
	AWSRegion       string
	SecretName      string
	SNSTopicArn     string
	UsageQueueURL   string
	DefaultProvider string
	BridgeLang      string
	CacheMaxBytes   int64
	CacheTTL        time.Duration
	RequestTimeout  time.Duration
	StatsInterval   time.Duration
	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:            getEnv("ADDR", ":8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		RedisURL:        getEnv("REDIS_URL", ""),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		ProvidersFile:   getEnv("PROVIDERS_FILE", "providers.yaml"),
		DeepLAPIKey:     getEnv("DEEPL_API_KEY", ""),
		DeepLBaseURL:    getEnv("DEEPL_BASE_URL", "https://api-free.deepl.com/v2"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OllamaBaseURL:   getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OTLPEndpoint:    getEnv("OTLP_ENDPOINT", ""),
		AWSRegion:       getEnv("AWS_REGION", ""),
		SecretName:      getEnv("PROVIDER_SECRET_NAME", ""),
		SNSTopicArn:     getEnv("SNS_TOPIC_ARN", ""),
		UsageQueueURL:   getEnv("USAGE_QUEUE_URL", ""),
		DefaultProvider: getEnv("DEFAULT_PROVIDER", "deepl"),
		BridgeLang:      getEnv("BRIDGE_LANG", "en"),
		CacheMaxBytes:   getInt64Env("CACHE_MAX_BYTES", 10*1024*1024),
		CacheTTL:        getDurationEnv("CACHE_TTL", 7*24*time.Hour),
		RequestTimeout:  getDurationEnv("REQUEST_TIMEOUT", 60*time.Second),
		StatsInterval:   getDurationEnv("STATS_INTERVAL", 10*time.Second),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
