package worker

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// DefaultRefreshInterval is used when no interval is configured.
const DefaultRefreshInterval = 15 * time.Minute

// Scheduler runs a RefreshJob periodically.
type Scheduler struct {
	scheduler *gocron.Scheduler
	job       *RefreshJob
	interval  time.Duration
	logger    zerolog.Logger
}

// NewScheduler creates a scheduler for job. The first run starts as soon as
// the scheduler is started.
func NewScheduler(job *RefreshJob, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		job:       job,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the job and starts the underlying scheduler. Runs never
// overlap; a run still in progress when the next one is due causes that one
// to be skipped. Runs stop once ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.scheduler.SingletonModeAll()

	_, err := s.scheduler.Every(s.interval).Do(func() {
		if ctx.Err() != nil {
			return
		}
		s.logger.Debug().Msg("scheduler: running cache refresh")
		result := s.job.Run(ctx)
		s.logger.Info().Str("summary", result.String()).Msg("scheduler: cache refresh finished")
	})
	if err != nil {
		return err
	}

	s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")
	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future runs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
