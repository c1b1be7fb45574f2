// Package scheduler drives the periodic work: playlist polls, job
// batches, lease renewals and stale-job sweeps.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/channelwatch/internal/jobs"
	"github.com/linnemanlabs/channelwatch/internal/poll"
)

// Poller runs one poll sweep.
type Poller interface {
	Run(ctx context.Context, opts poll.Options) (*poll.Result, error)
}

// JobRunner drains one batch of enrichment jobs.
type JobRunner interface {
	ProcessBatch(ctx context.Context, limit int) (*jobs.BatchResult, error)
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Renewer renews push leases expiring within the horizon.
type Renewer interface {
	RenewExpiring(ctx context.Context, within time.Duration) (int, error)
}

// Config sets the cadence of each loop. A zero interval disables that
// loop.
type Config struct {
	PollInterval  time.Duration
	PollMax       int
	JobInterval   time.Duration
	JobBatchLimit int
	RenewInterval time.Duration
	RenewHorizon  time.Duration
	StaleInterval time.Duration
	StaleAfter    time.Duration
	// RunTimeout bounds each individual run.
	RunTimeout time.Duration
}

// Scheduler owns the background tickers. Runs of the same loop never
// overlap; different loops run independently.
type Scheduler struct {
	poller  Poller
	runner  JobRunner
	renewer Renewer
	cfg     Config
	logger  log.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. Any nil dependency disables its loops.
func New(poller Poller, runner JobRunner, renewer Renewer, cfg Config, logger log.Logger) *Scheduler {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Scheduler{
		poller:  poller,
		runner:  runner,
		renewer: renewer,
		cfg:     cfg,
		logger:  logger.With("component", "scheduler"),
	}
}

// Start launches the enabled loops. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	if s.poller != nil && s.cfg.PollInterval > 0 {
		s.loop(ctx, "poll", s.cfg.PollInterval, func(ctx context.Context) error {
			res, err := s.poller.Run(ctx, poll.Options{MaxResults: s.cfg.PollMax})
			if err == nil && len(res.Errors) > 0 {
				s.logger.Warn(ctx, "poll run had channel errors", "errors", res.Errors)
			}
			return err
		})
	}
	if s.runner != nil && s.cfg.JobInterval > 0 {
		s.loop(ctx, "jobs", s.cfg.JobInterval, func(ctx context.Context) error {
			_, err := s.runner.ProcessBatch(ctx, s.cfg.JobBatchLimit)
			return err
		})
	}
	if s.renewer != nil && s.cfg.RenewInterval > 0 {
		s.loop(ctx, "renew", s.cfg.RenewInterval, func(ctx context.Context) error {
			_, err := s.renewer.RenewExpiring(ctx, s.cfg.RenewHorizon)
			return err
		})
	}
	if s.runner != nil && s.cfg.StaleInterval > 0 {
		s.loop(ctx, "stale-sweep", s.cfg.StaleInterval, func(ctx context.Context) error {
			_, err := s.runner.RequeueStale(ctx, s.cfg.StaleAfter)
			return err
		})
	}
}

// Stop cancels the loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.logger.Info(ctx, "loop started", "loop", name, "interval", interval.String())
		for {
			select {
			case <-ctx.Done():
				s.logger.Info(context.Background(), "loop stopped", "loop", name)
				return
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
				if err := run(runCtx); err != nil {
					s.logger.Error(runCtx, err, "scheduled run failed", "loop", name)
				}
				cancel()
			}
		}
	}()
}
