package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/headline-goat/growthgoat/internal/catalog"
	"github.com/headline-goat/growthgoat/internal/config"
)

func TestBackendMapping(t *testing.T) {
	tests := []struct {
		index    int
		expected string
	}{
		{0, config.StoreSQLite},
		{1, config.StorePostgres},
		{2, config.StoreRedis},
		{3, config.StoreMemory},
		{9, config.StoreSQLite},
	}

	for _, tc := range tests {
		if got := backendFromIndex(tc.index); got != tc.expected {
			t.Errorf("backendFromIndex(%d) = %s, want %s", tc.index, got, tc.expected)
		}
	}
}

func TestWriteInitFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DB = filepath.Join(dir, "growthgoat.db")
	cfg.PushSubject = "mailto:ops@example.com"
	cfg.VAPIDPublic, cfg.VAPIDPrivate = "pub", "priv"

	cfgPath, err := writeInitFiles(dir, cfg, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := config.Load(config.NewViper(), cfgPath)
	if err != nil {
		t.Fatalf("failed to load written config: %v", err)
	}
	if loaded.Catalog != filepath.Join(dir, catalogFile) {
		t.Errorf("catalog = %s", loaded.Catalog)
	}
	if loaded.VAPIDPublic != "pub" || loaded.PushSubject != "mailto:ops@example.com" {
		t.Errorf("push settings lost: %+v", loaded)
	}

	if _, err := catalog.Load(loaded.Catalog); err != nil {
		t.Errorf("written catalog does not load: %v", err)
	}

	if _, err := writeInitFiles(dir, cfg, false); err == nil {
		t.Error("expected error when files exist")
	}
	if _, err := writeInitFiles(dir, cfg, true); err != nil {
		t.Errorf("force should overwrite: %v", err)
	}
}

func TestWriteInitFiles_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store = config.StoreRedis

	if _, err := writeInitFiles(dir, cfg, false); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := os.Stat(filepath.Join(dir, catalogFile)); !os.IsNotExist(err) {
		t.Error("nothing should be written for an invalid config")
	}
}

func TestPrintInitInstructions(t *testing.T) {
	cfg := config.Default()
	cfg.Catalog = "catalog.yaml"
	cfg.VAPIDPublic = "BPublicKey"

	var buf bytes.Buffer
	printInitInstructions(&buf, "growthgoat.yaml", cfg)
	output := buf.String()

	for _, expected := range []string{
		"growthgoat serve --config growthgoat.yaml",
		`<script src="http://localhost:8080/gg.js" defer></script>`,
		"BPublicKey",
	} {
		if !strings.Contains(output, expected) {
			t.Errorf("output missing %q\n\nGot:\n%s", expected, output)
		}
	}
}
