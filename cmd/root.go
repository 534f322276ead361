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

	"github.com/JakeFAU/linkkeeper/internal/app"
	"github.com/JakeFAU/linkkeeper/internal/config"
	"github.com/JakeFAU/linkkeeper/internal/link"
	"github.com/JakeFAU/linkkeeper/internal/logging"
)

// version is stamped at build time with -ldflags "-X".
var version = "dev"

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the surface commands use. Tests inject their own through newApp.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Capabilities() link.Capabilities
	Store() app.Store
	Jobs() app.Jobs
	Migrate(ctx context.Context) error
	Serve(ctx context.Context, withSchedule bool) error
	Close(ctx context.Context)
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.Build(ctx, cfg, logger, version)
}

type rootOptions struct {
	cfgFile string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "linkkeeper",
		Short: "Keeps a wiki's external links alive, archived and patched.",
		Long: `linkkeeper tracks every external link cited by the wiki. It checks
that links still resolve, preserves them in the public web archive and in
self-hosted WARC captures, and rewrites citations of dead links to point at
their archived copies.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			level := cfg.Logging.Level
			if opts.verbose {
				level = "debug"
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       level,
				Version:     version,
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close(context.Background())
				_ = appInstance.Logger().Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newProcessQueueCmd(),
		newCheckLinksCmd(),
		newSubmitArchiveCmd(),
		newSnapshotCmd(),
		newRemediateCmd(),
		newSyncCmd(),
		newStatusCmd(),
		newServeCmd(),
		newMigrateCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command until it finishes or a termination signal
// arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
