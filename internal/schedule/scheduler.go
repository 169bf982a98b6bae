package schedule

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Job is one named unit of background maintenance work (sweeping stuck
// documents, purging old query logs). Run must honor ctx cancellation;
// overlapping runs of the same job are skipped, not queued.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// CronScheduler runs registered jobs on standard 5-field cron expressions.
type CronScheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

func NewCronScheduler() *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &CronScheduler{cron: cron.New(cron.WithParser(parser))}
}

func (s *CronScheduler) AddJob(job Job, expr string) error {
	if _, err := s.cron.AddFunc(expr, s.guarded(job)); err != nil {
		return fmt.Errorf("schedule job %s: %w", job.Name(), err)
	}
	logutil.GetLogger(context.Background()).Info("job scheduled",
		zap.String("job", job.Name()), zap.String("cron", expr))
	return nil
}

// Start begins firing jobs. ctx is handed to every job run; cancelling it
// makes in-flight runs wind down on their own schedule.
func (s *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx = ctx
	s.cron.Start()
}

// Stop halts scheduling and waits for any running job to return.
func (s *CronScheduler) Stop() {
	<-s.cron.Stop().Done()
}

// guarded wraps a job so that a run still in flight causes the next firing
// to be dropped instead of stacking a second pipeline on the same rows.
func (s *CronScheduler) guarded(job Job) func() {
	var busy atomic.Bool
	return func() {
		logger := logutil.GetLogger(s.runCtx()).With(zap.String("job", job.Name()))
		if !busy.CompareAndSwap(false, true) {
			logger.Warn("previous run still active, skipping")
			return
		}
		defer busy.Store(false)

		start := time.Now()
		if err := job.Run(s.runCtx()); err != nil {
			logger.Error("job failed", zap.Duration("cost", time.Since(start)), zap.Error(err))
			return
		}
		logger.Info("job done", zap.Duration("cost", time.Since(start)))
	}
}

func (s *CronScheduler) runCtx() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
