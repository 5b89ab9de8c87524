package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/headline-goat/growthgoat/internal/config"
)

const defaultConfigFile = "growthgoat.yaml"

var (
	configFile string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "growthgoat",
	Short: "growthgoat - self-hosted experiments, offers and funnels for a landing page",
	Long: `growthgoat runs deterministic A/B assignment, behaviour-triggered offers,
recommendations and funnel analytics behind a small HTTP API.

Running without a subcommand starts the server (same as 'growthgoat serve').`,
	SilenceUsage: true,
	RunE:         runServe,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	d := config.Default()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default ./"+defaultConfigFile+" when present)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading GG_* variables")
	flags.String("store", d.Store, "storage backend (memory, sqlite, postgres, redis)")
	flags.String("db", d.DB, "sqlite database path")
	flags.String("catalog", "", "catalog file (default: built-in catalog)")
	flags.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	flags.String("log-format", d.LogFormat, "log format (json, console)")
}

// resolveConfigFile returns the --config value, or the default file when
// it exists in the working directory.
func resolveConfigFile() string {
	if configFile != "" {
		return configFile
	}
	if _, err := os.Stat(defaultConfigFile); errors.Is(err, os.ErrNotExist) {
		return ""
	}
	return defaultConfigFile
}
