package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/notice-notifier/internal/trigger"
)

func newTriggerClient(e *env) (*trigger.Client, error) {
	client, err := trigger.New(trigger.Config{
		ServiceURL: e.cfg.Trigger.ServiceURL,
		Token:      e.cfg.Trigger.Token,
		Timeout:    time.Duration(e.cfg.Trigger.TimeoutSeconds) * time.Second,
	}, nil, e.logger.Named("trigger"))
	if err != nil {
		return nil, fmt.Errorf("trigger client: %w", err)
	}
	return client, nil
}

func runOnce(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	client, err := newTriggerClient(e)
	if err != nil {
		return err
	}
	resp, err := client.Trigger(cmd.Context())
	if err != nil {
		e.logger.Error("trigger failed", zap.Error(err))
		return err
	}
	e.logger.Info("trigger succeeded",
		zap.String("message", resp.Message),
		zap.Int("posts_count", resp.PostsCount),
		zap.Int("total_sent", resp.TotalSent),
		zap.Int("recipients_count", resp.RecipientsCount),
	)
	fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
	return nil
}

func newScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule [cron spec]",
		Short: "Trigger on a cron schedule until interrupted",
		Long: `Runs the trigger on a robfig/cron spec, for example "0 12 * * *" or
"CRON_TZ=Asia/Seoul 0 12 * * *". Without an argument, trigger.schedule is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSchedule,
	}
}

func runSchedule(cmd *cobra.Command, args []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	spec := e.cfg.Trigger.Schedule
	if len(args) == 1 {
		spec = args[0]
	}
	if strings.TrimSpace(spec) == "" {
		return fmt.Errorf("no schedule given and trigger.schedule is empty")
	}
	client, err := newTriggerClient(e)
	if err != nil {
		return err
	}
	sched, err := trigger.NewScheduler(spec, client, e.logger.Named("scheduler"))
	if err != nil {
		return err
	}
	if err := sched.Run(cmd.Context()); err != nil {
		return fmt.Errorf("run schedule: %w", err)
	}
	return nil
}
