// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret                string  `mapstructure:"JWT_SECRET"`
	JWTIssuer                string  `mapstructure:"JWT_ISSUER"`
	JWTAudience              string  `mapstructure:"JWT_AUDIENCE"`
	Port                     string  `mapstructure:"PORT"`
	DBDriver                 string  `mapstructure:"DB_DRIVER"`
	DBHost                   string  `mapstructure:"DB_HOST"`
	DBPort                   string  `mapstructure:"DB_PORT"`
	DBUser                   string  `mapstructure:"DB_USER"`
	DBPassword               string  `mapstructure:"DB_PASSWORD"`
	DBName                   string  `mapstructure:"DB_NAME"`
	DBSSLMode                string  `mapstructure:"DB_SSLMODE"`
	SQLitePath               string  `mapstructure:"SQLITE_PATH"`
	DBMaxOpenConns           int     `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns           int     `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes int     `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`
	RedisURL                 string  `mapstructure:"REDIS_URL"`
	AllowedOrigins           string  `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags             string  `mapstructure:"FEATURE_FLAGS"`
	Env                      string  `mapstructure:"APP_ENV"`
	AllowedEmailDomain       string  `mapstructure:"ALLOWED_EMAIL_DOMAIN"`
	ClassifierMode           string  `mapstructure:"CLASSIFIER_MODE"`
	ClassifierURL            string  `mapstructure:"CLASSIFIER_URL"`
	ClassifierTimeoutMS      int     `mapstructure:"CLASSIFIER_TIMEOUT_MS"`
	ClassifierRetryDelayMS   int     `mapstructure:"CLASSIFIER_RETRY_DELAY_MS"`
	ModerationBlockThreshold int     `mapstructure:"MODERATION_BLOCK_THRESHOLD"`
	ModerationWorkers        int     `mapstructure:"MODERATION_WORKERS"`
	ModerationQueueSize      int     `mapstructure:"MODERATION_QUEUE_SIZE"`
	FeedPageSize             int     `mapstructure:"FEED_PAGE_SIZE"`
	FeedMaxPageSize          int     `mapstructure:"FEED_MAX_PAGE_SIZE"`
	StoreTxMaxAttempts       int     `mapstructure:"STORE_TX_MAX_ATTEMPTS"`
	TracingEnabled           bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter          string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint             string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSampleRatio       float64 `mapstructure:"TRACING_SAMPLE_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("DB_DRIVER", "postgres")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "spacechat")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("SQLITE_PATH", "spacechat.db")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	viper.SetDefault("JWT_ISSUER", "")
	viper.SetDefault("JWT_AUDIENCE", "")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173")
	viper.SetDefault("FEATURE_FLAGS", "")
	viper.SetDefault("ALLOWED_EMAIL_DOMAIN", "")
	viper.SetDefault("CLASSIFIER_MODE", "http")
	viper.SetDefault("CLASSIFIER_URL", "http://localhost:8000")
	viper.SetDefault("CLASSIFIER_TIMEOUT_MS", 3000)
	viper.SetDefault("CLASSIFIER_RETRY_DELAY_MS", 250)
	viper.SetDefault("MODERATION_BLOCK_THRESHOLD", 3)
	viper.SetDefault("MODERATION_WORKERS", 4)
	viper.SetDefault("MODERATION_QUEUE_SIZE", 256)
	viper.SetDefault("FEED_PAGE_SIZE", 15)
	viper.SetDefault("FEED_MAX_PAGE_SIZE", 100)
	viper.SetDefault("STORE_TX_MAX_ATTEMPTS", 5)
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLE_RATIO", 1.0)
}

func (c *Config) normalize() {
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.ClassifierMode = strings.ToLower(strings.TrimSpace(c.ClassifierMode))
	c.AllowedEmailDomain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.AllowedEmailDomain), "@"))
}

// IsProduction reports whether the config targets a production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.DBDriver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}
	switch c.ClassifierMode {
	case "", "http", "local":
	default:
		return fmt.Errorf("CLASSIFIER_MODE must be http or local, got %q", c.ClassifierMode)
	}
	if c.ClassifierMode != "local" && c.ClassifierURL == "" {
		return errors.New("CLASSIFIER_URL is required when CLASSIFIER_MODE is http")
	}
	if c.ModerationBlockThreshold < 1 {
		return errors.New("MODERATION_BLOCK_THRESHOLD must be at least 1")
	}
	if c.FeedPageSize < 1 || (c.FeedMaxPageSize > 0 && c.FeedPageSize > c.FeedMaxPageSize) {
		return errors.New("FEED_PAGE_SIZE must be positive and not exceed FEED_MAX_PAGE_SIZE")
	}
	if c.StoreTxMaxAttempts < 1 {
		return errors.New("STORE_TX_MAX_ATTEMPTS must be at least 1")
	}

	// Strict checks for production
	if c.IsProduction() {
		if c.JWTSecret == "your-secret-key-change-in-production" {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBDriver == "sqlite" {
			return errors.New("DB_DRIVER sqlite is not supported in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must enable SSL in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}
