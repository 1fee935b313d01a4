// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all server configuration.
type Config struct {
	Port           string
	GRPCPort       string
	FrontendURL    string
	DBPath         string
	AllowedOrigins []string

	Provider        ProviderConfig
	Timeout         TimeoutConfig
	RateLimit       RateLimitConfig
	MaxRequestBody  int64
	MaxPromptTokens int
	ConversationLog ConversationLogConfig
}

// ProviderConfig describes the upstream completion API.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// TimeoutConfig holds the race deadlines and internal timeouts.
type TimeoutConfig struct {
	Prompt          time.Duration
	Crawl           time.Duration
	Account         time.Duration
	CancelOnTimeout bool
	HealthCheck     time.Duration
	Fetch           time.Duration
}

// RateLimitConfig bounds requests per client.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		GRPCPort:       getEnv("GRPC_PORT", "9090"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/askbar.db"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		Provider: ProviderConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			BaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com"),
			Model:   getEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
		},
		Timeout: TimeoutConfig{
			Prompt:          getEnvDuration("PROMPT_TIMEOUT", 20*time.Second),
			Crawl:           getEnvDuration("CRAWL_TIMEOUT", 20*time.Second),
			Account:         getEnvDuration("ACCOUNT_TIMEOUT", 5*time.Second),
			CancelOnTimeout: getEnvBool("CANCEL_ON_TIMEOUT", false),
			HealthCheck:     getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
			Fetch:           getEnvDuration("FETCH_TIMEOUT", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		MaxRequestBody:  int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		MaxPromptTokens: getEnvInt("MAX_PROMPT_TOKENS", 3000),
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Timeout.Prompt <= 0 || c.Timeout.Crawl <= 0 || c.Timeout.Account <= 0 {
		return fmt.Errorf("PROMPT_TIMEOUT, CRAWL_TIMEOUT and ACCOUNT_TIMEOUT must be > 0")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxRequestBody <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if c.MaxPromptTokens <= 0 {
		return fmt.Errorf("MAX_PROMPT_TOKENS must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// ClientConfig is the terminal client's configuration.
type ClientConfig struct {
	RelayURL  string
	DBPath    string
	Transport string
	LogPath   string
	Timeout   TimeoutConfig
}

// LoadClient reads the terminal client's configuration. An empty DBPath
// keeps history in memory; an empty LogPath discards logs.
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		RelayURL:  strings.TrimRight(getEnv("RELAY_URL", "http://localhost:8080"), "/"),
		DBPath:    getEnv("ASKBAR_DB_PATH", ""),
		Transport: getEnv("RELAY_TRANSPORT", "ws"),
		LogPath:   getEnv("ASKBAR_LOG_PATH", ""),
		Timeout: TimeoutConfig{
			Prompt:          getEnvDuration("PROMPT_TIMEOUT", 20*time.Second),
			Crawl:           getEnvDuration("CRAWL_TIMEOUT", 20*time.Second),
			Account:         getEnvDuration("ACCOUNT_TIMEOUT", 5*time.Second),
			CancelOnTimeout: getEnvBool("CANCEL_ON_TIMEOUT", false),
		},
	}
	if cfg.RelayURL == "" {
		return nil, fmt.Errorf("invalid configuration: RELAY_URL cannot be empty")
	}
	if cfg.Transport != "ws" && cfg.Transport != "text" {
		return nil, fmt.Errorf("invalid configuration: RELAY_TRANSPORT must be ws or text")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("20s") or plain milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// IsContainer returns true if running inside a container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
