// Package cmd defines the monitortask command line.
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

	"github.com/rockmelodies/MonitorTask/internal/app"
	"github.com/rockmelodies/MonitorTask/internal/config"
	"github.com/rockmelodies/MonitorTask/internal/logging"
	"github.com/rockmelodies/MonitorTask/internal/monitor"
)

// App is the service surface commands use. Tests swap in a fake through
// newApp.
type App interface {
	Run(ctx context.Context) error
	RunNow(ctx context.Context, taskID int64) (monitor.CheckOutcome, error)
	Close(ctx context.Context) error
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

type runtimeKey struct{}

// runtime carries what PersistentPreRunE loaded to the subcommands.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "monitortask",
		Short: "Watches web pages and alerts chat groups when they change.",
		Long: `monitortask polls a set of pages on a schedule, fingerprints their
visible text and records every change. Changes that mention watched
keywords are announced to DingTalk and WeCom robot webhooks.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey{}, &runtime{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey{}).(*runtime); ok {
				// Sync fails on non-file sinks such as a terminal; nothing to do about it.
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env MONITOR_* overrides)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newValidateCmd())
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey{}).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// withApp builds the application, runs fn and closes the application.
func withApp(ctx context.Context, fn func(App, *runtime) error) (err error) {
	rt, err := resolveRuntime(ctx)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer func() {
		rt.logger.Info("shutting down application services")
		if cerr := a.Close(context.Background()); cerr != nil {
			rt.logger.Warn("close application services", zap.Error(cerr))
		}
	}()
	return fn(a, rt)
}

// Execute runs the root command until it finishes or SIGINT/SIGTERM arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
