package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/headline-goat/growthgoat/internal/app"
	"github.com/headline-goat/growthgoat/internal/server"
)

const sweepInterval = time.Minute

var serveToken string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the growthgoat HTTP server.

The server provides:
  - Page script at /gg.js
  - Session, experiment, funnel and push APIs under /api
  - Admin API under /admin (token protected)
  - Prometheus metrics at /metrics and a health check at /health

Every flag can also be set as a GG_* environment variable
(e.g. GG_PORT, GG_STORE, GG_REDIS_URL) or in growthgoat.yaml.

Example:
  growthgoat serve --port 8080`,
	RunE: runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.IntP("port", "p", 8080, "port to listen on")
	flags.Float64("rate-limit", 20, "API requests per second per client (0 disables)")
	flags.Int("rate-burst", 40, "API burst size per client")
	flags.Duration("session-idle", 30*time.Minute, "end sessions idle for this long")
	flags.StringVar(&serveToken, "token", "", "admin token (default: random per start)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to close cleanly", zap.Error(err))
		}
	}()

	srv := server.New(a, cfg.Port, serveToken, cfg.TokenFile())
	printStartup(cmd, a, cfg.Port, srv.Token())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		a.Sessions.RunSweeper(gctx, sweepInterval, cfg.SessionIdle)
		return nil
	})
	return g.Wait()
}

func printStartup(cmd *cobra.Command, a *app.App, port int, token string) {
	out := cmd.OutOrStdout()
	base := fmt.Sprintf("http://localhost:%d", port)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Server running at %s\n", base)
	fmt.Fprintf(out, "Admin:   %s/admin/experiments?token=%s\n", base, token)
	fmt.Fprintf(out, "Script:  <script src=\"%s/gg.js\" defer></script>\n", base)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Store: %s   Experiments: %d   Offers: %d   Funnels: %d\n",
		a.Config.Store, len(a.Catalog.Experiments), len(a.Catalog.Offers), len(a.Catalog.Funnels))
	if a.Push != nil {
		fmt.Fprintln(out, "Push:  enabled")
	}
	fmt.Fprintln(out, strings.Repeat("-", 60))
	fmt.Fprintln(out, "Press Ctrl+C to stop")
}
