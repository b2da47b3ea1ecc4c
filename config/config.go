package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port        string
	Environment string

	// Postgres (document store substitute)
	Postgres PostgresConfig

	// Redis (keyed store substrate)
	Redis RedisConfig

	// Kafka (broker)
	Kafka KafkaConfig

	// JWT
	JWT JWTConfig

	// Analyzer (moderation/sentiment oracle)
	Analyzer AnalyzerConfig

	// CORS
	CORS CORSConfig

	// Sentry DSN for fatal-error reporting (optional)
	SentryDSN string

	// AuditLogDir is where the audit trail (auth/message/membership
	// events) is written. Empty disables the audit trail.
	AuditLogDir string
}

type PostgresConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
}

// DSN builds the libpq-style connection string consumed by both the
// lib/pq migration runner and the pgx application pool.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Name, c.User, c.Password, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
}

type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

type AnalyzerConfig struct {
	BaseURL      string
	SharedSecret string
	Timeout      time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "4000"),
		Environment: getEnv("ENVIRONMENT", "development"),

		Postgres: PostgresConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			Name:     getEnv("DB_NAME", "pulseroom"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},

		Kafka: KafkaConfig{
			Brokers:       getEnvAsSlice("KAFKA_BROKER", []string{"localhost:9092"}, ","),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "chat-pipeline"),
		},

		JWT: JWTConfig{
			AccessSecret:  getEnv("JWT_ACCESS_SECRET", ""),
			RefreshSecret: getEnv("JWT_REFRESH_SECRET", ""),
			AccessTTL:     getEnvAsDuration("JWT_ACCESS_TTL", 900*time.Second),
			RefreshTTL:    getEnvAsDuration("JWT_REFRESH_TTL", 7*24*time.Hour),
		},

		Analyzer: AnalyzerConfig{
			BaseURL:      getEnv("FASTAPI_URL", "http://localhost:8000"),
			SharedSecret: getEnv("SERVICE_SHARED_SECRET", ""),
			Timeout:      getEnvAsDuration("ANALYZER_TIMEOUT", 5*time.Second),
		},

		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ORIGINS", []string{"http://localhost:3000"}, ","),
		},

		SentryDSN:   getEnv("SENTRY_DSN", ""),
		AuditLogDir: getEnv("AUDIT_LOG_DIR", "./audit"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Environment == "production" {
		if c.JWT.AccessSecret == "" {
			return fmt.Errorf("JWT_ACCESS_SECRET is required in production")
		}
		if c.JWT.RefreshSecret == "" {
			return fmt.Errorf("JWT_REFRESH_SECRET is required in production")
		}
		if c.JWT.RefreshTTL < c.JWT.AccessTTL {
			return fmt.Errorf("JWT_REFRESH_TTL must be >= JWT_ACCESS_TTL")
		}
		if c.Analyzer.SharedSecret == "" {
			log.Println("WARNING: SERVICE_SHARED_SECRET not set - analyzer calls will be unauthenticated")
		}
	}

	return nil
}

// Helper functions

func getEnv(key string, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	// Accept bare "7d" shorthand, as documented in the spec's config table.
	if strings.HasSuffix(valueStr, "d") {
		if days, err := strconv.Atoi(strings.TrimSuffix(valueStr, "d")); err == nil {
			return time.Duration(days) * 24 * time.Hour
		}
	}
	return defaultVal
}

func getEnvAsSlice(key string, defaultVal []string, sep string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultVal
	}
	return strings.Split(valueStr, sep)
}
