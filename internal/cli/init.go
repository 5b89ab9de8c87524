package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/headline-goat/growthgoat/internal/catalog"
	"github.com/headline-goat/growthgoat/internal/config"
	"github.com/headline-goat/growthgoat/internal/notify"
)

const catalogFile = "catalog.yaml"

var (
	initDir   string
	initForce bool
	initYes   bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create growthgoat.yaml and catalog.yaml",
	Long: `Create a config file and an editable catalog in the target directory.

The config records the storage backend and, when push is enabled, a VAPID
key pair generated once so subscriptions survive restarts. The catalog is
seeded with the built-in experiments, offers and funnels.

Example:
  growthgoat init
  growthgoat init --dir ./deploy --yes`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initDir, "dir", ".", "directory to write files into")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing files")
	initCmd.Flags().BoolVarP(&initYes, "yes", "y", false, "accept defaults without prompting")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	cfg.DB = filepath.Join(initDir, "growthgoat.db")

	if !initYes {
		if err := promptConfig(&cfg); err != nil {
			return err
		}
	}

	if cfg.PushSubject != "" {
		pub, priv, err := notify.GenerateKeys()
		if err != nil {
			return err
		}
		cfg.VAPIDPublic, cfg.VAPIDPrivate = pub, priv
	}

	cfgPath, err := writeInitFiles(initDir, cfg, initForce)
	if err != nil {
		return err
	}
	printInitInstructions(cmd.OutOrStdout(), cfgPath, cfg)
	return nil
}

// writeInitFiles writes the config and catalog into dir and returns the
// config path. Existing files are kept unless force is set.
func writeInitFiles(dir string, cfg config.Config, force bool) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	cfgPath := filepath.Join(dir, defaultConfigFile)
	catPath := filepath.Join(dir, catalogFile)

	if !force {
		for _, p := range []string{cfgPath, catPath} {
			if _, err := os.Stat(p); err == nil {
				return "", fmt.Errorf("%s already exists (use --force to overwrite)", p)
			}
		}
	}

	cfg.Catalog = catPath
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if err := os.WriteFile(catPath, catalog.DefaultYAML(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := config.Write(cfgPath, cfg); err != nil {
		return "", err
	}
	return cfgPath, nil
}

var backends = []struct {
	Name  string
	Store string
}{
	{"SQLite (single file, default)", config.StoreSQLite},
	{"PostgreSQL", config.StorePostgres},
	{"Redis", config.StoreRedis},
	{"In-memory (nothing persisted)", config.StoreMemory},
}

func backendFromIndex(idx int) string {
	if idx < 0 || idx >= len(backends) {
		return config.StoreSQLite
	}
	return backends[idx].Store
}

func promptConfig(cfg *config.Config) error {
	items := make([]string, len(backends))
	for i, b := range backends {
		items[i] = b.Name
	}
	sel := promptui.Select{
		Label: "Storage backend",
		Items: items,
		Size:  len(items),
	}
	idx, _, err := sel.Run()
	if err != nil {
		return promptErr(err)
	}
	cfg.Store = backendFromIndex(idx)

	switch cfg.Store {
	case config.StoreSQLite:
		if cfg.DB, err = ask("Database path", cfg.DB, nil); err != nil {
			return err
		}
	case config.StorePostgres:
		if cfg.PostgresDSN, err = ask("PostgreSQL DSN", "postgres://localhost:5432/growthgoat?sslmode=disable", required); err != nil {
			return err
		}
	case config.StoreRedis:
		if cfg.RedisURL, err = ask("Redis URL", "redis://localhost:6379/0", required); err != nil {
			return err
		}
	}

	cfg.PushSubject, err = ask("Push contact (mailto: or https:, empty disables push)", "", func(s string) error {
		if s == "" || strings.HasPrefix(s, "mailto:") || strings.HasPrefix(s, "https://") {
			return nil
		}
		return errors.New("must start with mailto: or https://")
	})
	return err
}

func required(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("required")
	}
	return nil
}

func ask(label, def string, validate promptui.ValidateFunc) (string, error) {
	p := promptui.Prompt{
		Label:    label,
		Default:  def,
		Validate: validate,
	}
	result, err := p.Run()
	if err != nil {
		return "", promptErr(err)
	}
	return strings.TrimSpace(result), nil
}

func promptErr(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) {
		os.Exit(0)
	}
	return err
}

func printInitInstructions(out io.Writer, cfgPath string, cfg config.Config) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Wrote %s and %s\n", cfgPath, cfg.Catalog)
	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 60))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "1. Edit the catalog to describe your experiments, offers and funnels")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "   %s\n", cfg.Catalog)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "2. Start the server")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "   growthgoat serve --config %s\n", cfgPath)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "3. Add the script to your site")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "   <script src=\"http://localhost:%d/gg.js\" defer></script>\n", cfg.Port)
	fmt.Fprintln(out)

	if cfg.VAPIDPublic != "" {
		fmt.Fprintln(out, "Push is enabled. Public VAPID key for your service worker:")
		fmt.Fprintf(out, "   %s\n", cfg.VAPIDPublic)
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, strings.Repeat("-", 60))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  list                 List experiments, offers and funnels")
	fmt.Fprintln(out, "  results <id>         Show experiment statistics")
	fmt.Fprintln(out, "  assign <id> <user>   Show which variant a user gets")
	fmt.Fprintln(out, "  funnel <id>          Show funnel metrics")
	fmt.Fprintln(out, "  token                Show admin URL")
}
