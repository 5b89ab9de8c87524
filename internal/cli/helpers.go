package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/headline-goat/growthgoat/internal/app"
	"github.com/headline-goat/growthgoat/internal/config"
	"github.com/headline-goat/growthgoat/internal/logging"
)

// loadConfig resolves flags, environment, .env and config file into a
// Config and builds the logger it describes.
func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return config.Config{}, nil, err
	}
	v := config.NewViper()
	if err := config.BindFlags(v, cmd); err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(v, resolveConfigFile())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger, nil
}

// withApp opens the service graph, executes the function, and handles cleanup.
func withApp(cmd *cobra.Command, fn func(context.Context, *app.App) error) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(ctx); err != nil {
			logger.Warn("failed to close cleanly", zap.Error(err))
		}
	}()

	return fn(ctx, a)
}

func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate)
}
