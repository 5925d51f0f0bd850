package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	Timezone              = "UTC"
	TimezoneOffsetSeconds = 0
	runTimeout            = 10 * time.Minute
)

// RunFunc performs one publishing run.
type RunFunc func(ctx context.Context) error

type Scheduler struct {
	ctx  context.Context
	cron *cron.Cron
	spec string
	run  RunFunc
	log  *slog.Logger
}

// New creates a scheduler that calls run on spec. Runs never overlap: a tick
// that fires while the previous run is still going is skipped.
func New(ctx context.Context, spec string, run RunFunc, log *slog.Logger) *Scheduler {
	c := cron.New(
		cron.WithLocation(time.FixedZone(Timezone, TimezoneOffsetSeconds)),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	return &Scheduler{
		ctx:  ctx,
		cron: c,
		spec: spec,
		run:  run,
		log:  log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.tick); err != nil {
		return err
	}

	s.cron.Start()

	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(s.ctx, runTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		s.log.InfoContext(ctx, "Scheduler context is done",
			"error", ctx.Err())
		return
	default:
	}

	start := time.Now()

	if err := s.run(ctx); err != nil {
		s.log.ErrorContext(ctx, "Failed to run publisher",
			"error", err,
			"spec", s.spec,
			"durationSeconds", time.Since(start).Seconds())

		return
	}

	s.log.InfoContext(ctx, "Scheduled run is finished",
		"spec", s.spec,
		"durationSeconds", time.Since(start).Seconds())
}
