// Package config loads service settings from flags, environment, a .env
// file and an optional YAML config file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable, e.g. GG_PORT.
const EnvPrefix = "GG"

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the full set of service settings.
type Config struct {
	Store       string        `mapstructure:"store" yaml:"store" validate:"oneof=memory sqlite postgres redis"`
	DB          string        `mapstructure:"db" yaml:"db" validate:"required_if=Store sqlite"`
	PostgresDSN string        `mapstructure:"postgres-dsn" yaml:"postgres-dsn,omitempty" validate:"required_if=Store postgres"`
	RedisURL    string        `mapstructure:"redis-url" yaml:"redis-url,omitempty" validate:"required_if=Store redis"`
	RedisTTL    time.Duration `mapstructure:"redis-ttl" yaml:"redis-ttl,omitempty" validate:"gte=0"`

	Port      int     `mapstructure:"port" yaml:"port" validate:"gte=1,lte=65535"`
	Catalog   string  `mapstructure:"catalog" yaml:"catalog,omitempty"`
	RateLimit float64 `mapstructure:"rate-limit" yaml:"rate-limit" validate:"gte=0"` // requests per second per client, 0 disables
	RateBurst int     `mapstructure:"rate-burst" yaml:"rate-burst" validate:"gte=0"`

	SessionIdle time.Duration `mapstructure:"session-idle" yaml:"session-idle" validate:"gt=0"`

	LogLevel  string `mapstructure:"log-level" yaml:"log-level"`
	LogFormat string `mapstructure:"log-format" yaml:"log-format" validate:"oneof=json console"`

	NATSURL      string   `mapstructure:"nats-url" yaml:"nats-url,omitempty"`
	NATSSubject  string   `mapstructure:"nats-subject" yaml:"nats-subject,omitempty"`
	KafkaBrokers []string `mapstructure:"kafka-brokers" yaml:"kafka-brokers,omitempty"`
	KafkaTopic   string   `mapstructure:"kafka-topic" yaml:"kafka-topic,omitempty" validate:"required_with=KafkaBrokers"`

	GeoURL     string        `mapstructure:"geo-url" yaml:"geo-url,omitempty"`
	GeoTimeout time.Duration `mapstructure:"geo-timeout" yaml:"geo-timeout" validate:"gte=0"`

	PushSubject  string `mapstructure:"push-subject" yaml:"push-subject,omitempty"`
	VAPIDPublic  string `mapstructure:"vapid-public" yaml:"vapid-public,omitempty" validate:"required_with=VAPIDPrivate"`
	VAPIDPrivate string `mapstructure:"vapid-private" yaml:"vapid-private,omitempty" validate:"required_with=VAPIDPublic"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Store:       StoreSQLite,
		DB:          "./growthgoat.db",
		Port:        8080,
		RateLimit:   20,
		RateBurst:   40,
		SessionIdle: 30 * time.Minute,
		LogLevel:    "info",
		LogFormat:   "json",
		NATSSubject: "growthgoat.events",
		KafkaTopic:  "growthgoat.events",
		GeoTimeout:  2 * time.Second,
	}
}

// TokenFile is where the running server writes its admin token, next to
// the database.
func (c Config) TokenFile() string {
	return filepath.Join(filepath.Dir(c.DB), ".growthgoat-token")
}

// Validate checks every field and reports all failures at once.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
	}
	return nil
}

// NewViper returns a viper instance carrying the defaults and reading
// GG_-prefixed environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault("store", d.Store)
	v.SetDefault("db", d.DB)
	v.SetDefault("port", d.Port)
	v.SetDefault("rate-limit", d.RateLimit)
	v.SetDefault("rate-burst", d.RateBurst)
	v.SetDefault("session-idle", d.SessionIdle)
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("log-format", d.LogFormat)
	v.SetDefault("nats-subject", d.NATSSubject)
	v.SetDefault("kafka-topic", d.KafkaTopic)
	v.SetDefault("geo-timeout", d.GeoTimeout)
	v.SetDefault("redis-ttl", time.Duration(0))
	v.SetDefault("kafka-brokers", []string{})
	for _, key := range []string{"postgres-dsn", "redis-url", "catalog", "nats-url", "geo-url", "push-subject", "vapid-public", "vapid-private"} {
		v.SetDefault(key, "")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	return v
}

// BindFlags lets flags set on cmd override every other source. Flag names
// must match the config keys.
func BindFlags(v *viper.Viper, cmd *cobra.Command) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	return nil
}

// LoadDotEnv exports the variables in path into the process environment.
// A missing file is not an error; variables already set win.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load resolves the configuration. configFile may be empty.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Write saves c as a YAML config file readable by Load.
func Write(path string, c Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
