package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/fees_backend/config"
	"github.com/mmdatafocus/fees_backend/reconcile"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SweepScheduler runs the reconciliation sweep on a cron schedule evaluated
// in the school timezone. A run still going when the next one is due makes
// the next one skip.
type SweepScheduler struct {
	cron     *cron.Cron
	sweeper  *reconcile.Sweeper
	logger   *logrus.Logger
	schedule string
	schools  []string
	opts     reconcile.Options
	timeout  time.Duration
}

func NewSweepScheduler(sweeper *reconcile.Sweeper, logger *logrus.Logger, schedule string, location *time.Location, schools []string, opts reconcile.Options) *SweepScheduler {
	if location == nil {
		location = time.UTC
	}
	cronLogger := cron.PrintfLogger(logger)
	c := cron.New(
		cron.WithLocation(location),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	return &SweepScheduler{
		cron:     c,
		sweeper:  sweeper,
		logger:   logger,
		schedule: schedule,
		schools:  schools,
		opts:     opts,
		timeout:  time.Hour,
	}
}

// Start registers the sweep and starts the cron loop. A bad schedule is
// returned instead of starting.
func (s *SweepScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.run); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"field":    "SweepScheduler",
		"schedule": s.schedule,
	}).Info("scheduled reconciliation sweep")
	s.cron.Start()
	return nil
}

// Stop stops scheduling; the returned context is done when a running sweep
// has finished.
func (s *SweepScheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunNow sweeps immediately, outside the schedule.
func (s *SweepScheduler) RunNow(ctx context.Context) ([]*reconcile.SweepReport, error) {
	return s.sweeper.SweepAll(ctx, s.schools, s.opts)
}

func (s *SweepScheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.RunNow(ctx); err != nil {
		config.LogError(s.logger, "workflow/sweepScheduler.go", "run", "scheduled sweep", s.schools, err)
	}
}
