package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:                      "development",
		JWTSecret:                "secure-secret-at-least-32-chars-long",
		DBDriver:                 "postgres",
		DBPassword:               "secure-password",
		DBSSLMode:                "require",
		Port:                     "8080",
		ClassifierMode:           "http",
		ClassifierURL:            "http://classifier:5000",
		ModerationBlockThreshold: 3,
		FeedPageSize:             15,
		FeedMaxPageSize:          100,
		StoreTxMaxAttempts:       5,
	}
}

func TestConfig_ValidateSSLMode(t *testing.T) {
	tests := []struct {
		name        string
		env         string
		sslMode     string
		expectError bool
	}{
		{"Production with empty SSL mode", "production", "", true},
		{"Production with disable SSL mode", "production", "disable", true},
		{"Production with require SSL mode", "production", "require", false},
		{"Prod with empty SSL mode", "prod", "", true},
		{"Prod with verify-full SSL mode", "prod", "verify-full", false},
		{"Development with disable SSL mode", "development", "disable", false},
		{"Test with empty SSL mode", "test", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			c.Env = tt.env
			c.DBSSLMode = tt.sslMode

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateDomainSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }},
		{"unknown classifier mode", func(c *Config) { c.ClassifierMode = "grpc" }},
		{"http classifier without url", func(c *Config) { c.ClassifierURL = "" }},
		{"zero block threshold", func(c *Config) { c.ModerationBlockThreshold = 0 }},
		{"page size above max", func(c *Config) { c.FeedPageSize = 500 }},
		{"zero tx attempts", func(c *Config) { c.StoreTxMaxAttempts = 0 }},
		{"sqlite in production", func(c *Config) { c.Env = "production"; c.DBDriver = "sqlite" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	t.Run("local classifier needs no url", func(t *testing.T) {
		c := validConfig()
		c.ClassifierMode = "local"
		c.ClassifierURL = ""
		assert.NoError(t, c.Validate())
	})
}

func TestLoadConfig_Normalization(t *testing.T) {
	defer viper.Reset()

	t.Setenv("APP_ENV", "development")
	t.Setenv("DB_SSLMODE", "  DISABLE  ")
	t.Setenv("ALLOWED_EMAIL_DOMAIN", " @Campus.EDU ")
	t.Setenv("CLASSIFIER_MODE", "Local")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "disable", c.DBSSLMode)
	assert.Equal(t, "campus.edu", c.AllowedEmailDomain)
	assert.Equal(t, "local", c.ClassifierMode)
	assert.Equal(t, 3, c.ModerationBlockThreshold)
	assert.Equal(t, 15, c.FeedPageSize)
}
