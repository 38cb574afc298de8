// Package cmd implements the crawltrigger command line, which asks a running
// notice bot to run one crawl-and-notify cycle, either once or on a schedule.
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

	"github.com/JakeFAU/notice-notifier/internal/config"
	"github.com/JakeFAU/notice-notifier/internal/logging"
)

// envKeyType is the key for storing the loaded environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// env carries what every subcommand needs.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// loadConfig is a variable so tests can inject configuration.
var loadConfig = config.Load

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "crawltrigger",
		Short: "Triggers one crawl-and-notify cycle on a running notice bot.",
		Long: `crawltrigger posts to the bot's /crawl-and-notify endpoint with the
scheduler token. Without a subcommand it triggers once and exits non-zero on
any failure. The schedule subcommand keeps triggering on a cron spec until
interrupted.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey).(*env); ok && e != nil {
				_ = e.logger.Sync()
			}
		},

		RunE: runOnce,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	cmd.AddCommand(newScheduleCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("command environment not initialized")
	}
	return e, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "crawltrigger: %v\n", err)
		os.Exit(1)
	}
}
