// Package cmd defines the CLI commands for the bulletins executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/transit-bulletin-crawler/internal/app"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/config"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/logging"
)

// newApp is the application factory. Tests replace it to inject fixtures.
var newApp = func(ctx context.Context, cfgPath string) (*app.App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("initialize application services: %w", err)
	}
	return a, nil
}

type appKeyType struct{}

var appKey appKeyType

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "bulletins",
		Short: "Scrapes a transit alerts page into deduplicated bulletin records.",
		Long: `bulletins fetches a transit agency's service alerts page, extracts
structured records, and marks each one as new or already seen using a
content fingerprint cache.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); environment variables override it")
	cmd.AddCommand(newServeCmd(), newScrapeCmd())
	return cmd
}

func appFrom(ctx context.Context) *app.App {
	if ctx == nil {
		return nil
	}
	a, _ := ctx.Value(appKey).(*app.App)
	return a
}

// closeApp releases the app's services. Commands defer it right after
// resolveApp so it runs on failure as well as success.
func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		a.Logger.Warn("shutdown finished with errors", zap.Error(err))
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a := appFrom(ctx)
	if a == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return a, nil
}

// Execute runs the root command until it finishes or a shutdown signal arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
