package trigger

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Triggerer runs one crawl cycle.
type Triggerer interface {
	Trigger(ctx context.Context) (Response, error)
}

// Scheduler fires the trigger on a cron spec. Runs never overlap; a tick that
// arrives while the previous call is in flight is skipped. Specs accept the
// CRON_TZ= prefix for a time zone.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	trigger Triggerer
	logger  *zap.Logger
}

// NewScheduler parses spec and binds it to t.
func NewScheduler(spec string, t Triggerer, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{spec: spec, trigger: t, logger: logger}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := s.cron.AddFunc(spec, s.fire); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return s, nil
}

// Run blocks until ctx is done, then waits for an in-flight trigger.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("trigger schedule started", zap.String("schedule", s.spec))
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("trigger schedule stopped")
	return nil
}

func (s *Scheduler) fire() {
	resp, err := s.trigger.Trigger(context.Background())
	if err != nil {
		s.logger.Error("scheduled trigger failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled trigger succeeded",
		zap.String("message", resp.Message),
		zap.Int("posts_count", resp.PostsCount),
		zap.Int("total_sent", resp.TotalSent),
	)
}
