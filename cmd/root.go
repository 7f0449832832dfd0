// Package cmd defines and implements the CLI commands for the oppcrawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/opportunity-crawler/internal/app"
	"github.com/JakeFAU/opportunity-crawler/internal/config"
	"github.com/JakeFAU/opportunity-crawler/internal/crawler"
	"github.com/JakeFAU/opportunity-crawler/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the container the commands use. It is an interface so tests can
// substitute their own.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetConfig() config.Config
	GetCrawler() *crawler.Crawler
	GetStore() crawler.Store
	GetRegistry() crawler.SourceRegistry
	Ready(ctx context.Context) error
	ImportSources(ctx context.Context, sources []crawler.Source) (int, error)
}

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd builds the command tree. The returned func closes the App the
// pre-run built, if any; callers run it after Execute whatever the outcome,
// since cobra skips post-run hooks once RunE fails.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile  string
		instance App
	)
	closeApp := func() {
		if instance != nil {
			instance.Close()
			instance = nil
		}
	}
	cmd := &cobra.Command{
		Use:   "oppcrawler",
		Short: "Discovers and re-verifies graduate program opportunities.",
		Long: `oppcrawler crawls a registry of university and funder pages, extracts
program opportunities, and keeps them fresh with conditional re-checks.
Every fetch honors robots.txt, per-host delays, and block backoff.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			instance = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); OPPCRAWL_* env vars override it")

	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newReapCmd())
	cmd.AddCommand(newSourcesCmd())
	cmd.AddCommand(newScheduleCmd())
	cmd.AddCommand(newServeCmd())

	return cmd, closeApp
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	root, closeApp := newRootCmd()
	err := root.ExecuteContext(ctx)
	closeApp()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
