package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Show admin URL with access token",
	Long: `Show the admin URL with the token of the running server.

Use this when you've scrolled past the startup message or need to
share the admin link.

Example:
  growthgoat token`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	data, err := os.ReadFile(cfg.TokenFile())
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no server running. Start with: growthgoat serve")
		}
		return fmt.Errorf("failed to read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return fmt.Errorf("token file is empty. Restart the server with: growthgoat serve")
	}

	serverURL := os.Getenv("GG_SERVER_URL")
	if serverURL == "" {
		serverURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Admin: %s/admin/experiments?token=%s\n", strings.TrimRight(serverURL, "/"), token)
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintln(cmd.OutOrStdout(), "Tip: Bookmark this URL or run 'growthgoat token' anytime.")
	return nil
}
