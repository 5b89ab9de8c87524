package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/headline-goat/growthgoat/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := config.Load(config.NewViper(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Store != config.StoreSQLite || c.Port != 8080 || c.SessionIdle != 30*time.Minute {
		t.Errorf("got %+v", c)
	}
	if c.GeoTimeout != 2*time.Second {
		t.Errorf("got geo timeout %v", c.GeoTimeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GG_PORT", "9090")
	t.Setenv("GG_STORE", "redis")
	t.Setenv("GG_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("GG_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("GG_GEO_TIMEOUT", "500ms")

	c, err := config.Load(config.NewViper(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Port != 9090 || c.Store != config.StoreRedis || c.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("got %+v", c)
	}
	if len(c.KafkaBrokers) != 2 || c.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("got brokers %v", c.KafkaBrokers)
	}
	if c.GeoTimeout != 500*time.Millisecond {
		t.Errorf("got geo timeout %v", c.GeoTimeout)
	}
}

func TestLoad_FlagsWin(t *testing.T) {
	t.Setenv("GG_PORT", "9090")

	cmd := &cobra.Command{Use: "serve"}
	cmd.Flags().Int("port", 8080, "")
	if err := cmd.Flags().Set("port", "7070"); err != nil {
		t.Fatal(err)
	}

	v := config.NewViper()
	if err := config.BindFlags(v, cmd); err != nil {
		t.Fatal(err)
	}
	c, err := config.Load(v, "")
	if err != nil {
		t.Fatal(err)
	}
	if c.Port != 7070 {
		t.Errorf("got port %d, want 7070", c.Port)
	}
}

func TestWriteThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "growthgoat.yaml")
	want := config.Default()
	want.Store = config.StorePostgres
	want.PostgresDSN = "postgres://localhost/growth"
	want.SessionIdle = 10 * time.Minute

	if err := config.Write(path, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := config.Load(config.NewViper(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Store != want.Store || got.PostgresDSN != want.PostgresDSN || got.SessionIdle != want.SessionIdle {
		t.Errorf("got %+v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		field  string
	}{
		{"unknown store", func(c *config.Config) { c.Store = "mongo" }, "Store"},
		{"postgres without dsn", func(c *config.Config) { c.Store = config.StorePostgres }, "PostgresDSN"},
		{"redis without url", func(c *config.Config) { c.Store = config.StoreRedis }, "RedisURL"},
		{"port out of range", func(c *config.Config) { c.Port = 70000 }, "Port"},
		{"half a VAPID pair", func(c *config.Config) { c.VAPIDPublic = "pub" }, "VAPIDPrivate"},
		{"bad log format", func(c *config.Config) { c.LogFormat = "xml" }, "LogFormat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := config.Default()
			tt.mutate(&c)
			err := c.Validate()
			if !errors.Is(err, config.ErrInvalid) {
				t.Fatalf("got %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}

	if err := config.Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := config.LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing file: %v", err)
	}

	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("GG_CATALOG=/etc/growthgoat/catalog.yaml\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GG_CATALOG", "")
	os.Unsetenv("GG_CATALOG")

	if err := config.LoadDotEnv(path); err != nil {
		t.Fatal(err)
	}
	c, err := config.Load(config.NewViper(), "")
	if err != nil {
		t.Fatal(err)
	}
	if c.Catalog != "/etc/growthgoat/catalog.yaml" {
		t.Errorf("got catalog %q", c.Catalog)
	}
}
