package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	Log           struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Server struct {
		Port            int           `mapstructure:"port"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	Store struct {
		// Driver is "postgres" or "memory".
		Driver string `mapstructure:"driver"`
	} `mapstructure:"store"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Prefix   string `mapstructure:"prefix"`
	} `mapstructure:"redis"`
	Cache struct {
		// Backend is "redis" or "memory".
		Backend string        `mapstructure:"backend"`
		TTL     time.Duration `mapstructure:"ttl"`
	} `mapstructure:"cache"`
	AI struct {
		AnthropicAPIKey string        `mapstructure:"anthropic_api_key"`
		GeminiAPIKey    string        `mapstructure:"gemini_api_key"`
		MaxTokens       int64         `mapstructure:"max_tokens"`
		AttemptTimeout  time.Duration `mapstructure:"attempt_timeout"`
		MaxAttempts     int           `mapstructure:"max_attempts"`
		InitialBackoff  time.Duration `mapstructure:"initial_backoff"`
		MaxBackoff      time.Duration `mapstructure:"max_backoff"`
		RatePerSecond   float64       `mapstructure:"rate_per_second"`
		Burst           int           `mapstructure:"burst"`
	} `mapstructure:"ai"`
	Workflow struct {
		// Engine is "local" or "http".
		Engine  string        `mapstructure:"engine"`
		URL     string        `mapstructure:"url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"workflow"`
	Kafka struct {
		Enabled bool     `mapstructure:"enabled"`
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
		GroupID string   `mapstructure:"group_id"`
	} `mapstructure:"kafka"`
	Audit struct {
		// Sink is "postgres" or "log".
		Sink       string `mapstructure:"sink"`
		BufferSize int    `mapstructure:"buffer_size"`
	} `mapstructure:"audit"`
	Auth struct {
		OktaDomain      string   `mapstructure:"okta_domain"`
		ClientID        string   `mapstructure:"client_id"`
		ClientSecret    string   `mapstructure:"client_secret"`
		RedirectURL     string   `mapstructure:"redirect_url"`
		SwaggerClientID string   `mapstructure:"swagger_client_id"`
		SuperOperators  []string `mapstructure:"super_operators"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// IsDev reports whether the service runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

// DSN builds the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "DEV")
	v.SetDefault("dev_mode_bypass", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "signalflow")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "signalflow:ai:")
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("ai.anthropic_api_key", "")
	v.SetDefault("ai.gemini_api_key", "")
	v.SetDefault("ai.max_tokens", 4096)
	v.SetDefault("ai.attempt_timeout", 30*time.Second)
	v.SetDefault("ai.max_attempts", 3)
	v.SetDefault("ai.initial_backoff", 500*time.Millisecond)
	v.SetDefault("ai.max_backoff", 8*time.Second)
	v.SetDefault("ai.rate_per_second", 5.0)
	v.SetDefault("ai.burst", 5)
	v.SetDefault("workflow.engine", "local")
	v.SetDefault("workflow.url", "")
	v.SetDefault("workflow.timeout", 10*time.Second)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "signals")
	v.SetDefault("kafka.group_id", "signalflow")
	v.SetDefault("audit.sink", "postgres")
	v.SetDefault("audit.buffer_size", 256)
	v.SetDefault("auth.okta_domain", "")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.redirect_url", "")
	v.SetDefault("auth.swagger_client_id", "")
	v.SetDefault("auth.super_operators", []string{})
	v.SetDefault("tls.enable", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.hostnames", []string{})
}

// LoadConfig loads the configuration from a file and the environment. When
// envFile is set it is loaded into the process environment first.
func LoadConfig(envFile string) (*Config, error) {
	return load(viper.GetViper(), envFile)
}

func load(v *viper.Viper, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}

	setDefaults(v)
	if v.ConfigFileUsed() == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)
	for i, email := range config.Auth.SuperOperators {
		config.Auth.SuperOperators[i] = strings.ToLower(strings.TrimSpace(email))
	}

	return &config, nil
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
