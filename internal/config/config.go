package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port             string
	AllowedOrigins   []string
	AllowCredentials bool
	RedisHost        string
	RedisPort        string
	RedisPassword    string
	KafkaBrokers     []string
	KafkaRoomTopic   string
	JWTSecret        string
	Environment      string

	Presence PresenceConfig
	Webhook  WebhookConfig
}

type PresenceConfig struct {
	TypingTTL     time.Duration
	RecordingTTL  time.Duration
	AwayThreshold time.Duration
	LastSeenTTL   time.Duration
	SocketTTL     time.Duration
}

type WebhookConfig struct {
	Enabled       bool
	URL           string
	Secret        string
	Events        []string
	RetryAttempts int
	Timeout       time.Duration
	Backoff       time.Duration
}

func LoadConfig() *Config {
	// Get allowed origins from environment variable
	allowedOrigins := []string{"*"} // Default to allow all origins
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		allowedOrigins = splitAndTrim(origins)
	}

	// Get Kafka brokers
	kafkaBrokers := []string{"localhost:9092"} // Default
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		kafkaBrokers = splitAndTrim(brokers)
	}

	var webhookEvents []string
	if events := os.Getenv("WEBHOOK_EVENTS"); events != "" {
		webhookEvents = splitAndTrim(events)
	}

	return &Config{
		Port:             getEnv("PORT", "8082"),
		AllowedOrigins:   allowedOrigins,
		AllowCredentials: getEnv("ALLOW_CREDENTIALS", "false") == "true",
		RedisHost:        getEnv("REDIS_HOST", "localhost"),
		RedisPort:        getEnv("REDIS_PORT", "6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		KafkaBrokers:     kafkaBrokers,
		KafkaRoomTopic:   getEnv("KAFKA_ROOM_TOPIC", "room-events"),
		JWTSecret:        getEnv("AUTH_JWT_SECRET", ""),
		Environment:      getEnv("ENVIRONMENT", "development"),
		Presence: PresenceConfig{
			TypingTTL:     getEnvDuration("PRESENCE_TYPING_TTL", 5*time.Second),
			RecordingTTL:  getEnvDuration("PRESENCE_RECORDING_TTL", 30*time.Second),
			AwayThreshold: getEnvDuration("PRESENCE_AWAY_THRESHOLD", 5*time.Minute),
			LastSeenTTL:   getEnvDuration("PRESENCE_LAST_SEEN_TTL", 30*24*time.Hour),
			SocketTTL:     getEnvDuration("SOCKET_TTL", 24*time.Hour),
		},
		Webhook: WebhookConfig{
			Enabled:       getEnv("WEBHOOK_ENABLED", "false") == "true",
			URL:           getEnv("WEBHOOK_URL", ""),
			Secret:        getEnv("WEBHOOK_SECRET", ""),
			Events:        webhookEvents,
			RetryAttempts: getEnvInt("WEBHOOK_RETRY_ATTEMPTS", 3),
			Timeout:       getEnvDuration("WEBHOOK_TIMEOUT", 5*time.Second),
			Backoff:       getEnvDuration("WEBHOOK_BACKOFF", 500*time.Millisecond),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("5s", "30m") or a bare number
// of seconds for compatibility with env files written for the old deployment.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// GetCORSOrigins returns CORS origins as a comma-separated string
func (c *Config) GetCORSOrigins() string {
	if c.Environment == "production" && len(c.AllowedOrigins) > 0 && c.AllowedOrigins[0] != "*" {
		return strings.Join(c.AllowedOrigins, ",")
	}
	return "*"
}

// IsDevelopment returns true if environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
