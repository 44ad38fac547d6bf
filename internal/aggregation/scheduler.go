package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule runs shortly after UTC midnight so the previous day is complete.
const DefaultSchedule = "5 0 * * *"

// Runner aggregates one UTC day. Both *Aggregator and the engine, which also
// drops its cached results, satisfy it.
type Runner interface {
	Aggregate(ctx context.Context, day time.Time) (int, error)
}

// Scheduler aggregates the previous UTC day on a cron schedule.
type Scheduler struct {
	agg     Runner
	cron    *cron.Cron
	log     *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewScheduler parses spec (standard 5-field cron, evaluated in UTC).
func NewScheduler(agg Runner, spec string, timeout time.Duration, log *zap.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	s := &Scheduler{
		agg:     agg,
		cron:    cron.New(cron.WithLocation(time.UTC)),
		log:     log.Named("scheduler"),
		timeout: timeout,
		now:     time.Now,
	}
	if _, err := s.cron.AddFunc(spec, s.runPreviousDay); err != nil {
		return nil, fmt.Errorf("invalid aggregation schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("aggregation schedule started")
}

// Stop halts the schedule and waits for a running job until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("aggregation job still running at shutdown")
	}
}

func (s *Scheduler) runPreviousDay() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	day := s.now().UTC().AddDate(0, 0, -1)
	n, err := s.agg.Aggregate(ctx, day)
	if err != nil {
		// The next tick or an operator re-runs the day.
		s.log.Error("scheduled aggregation failed",
			zap.String("day", day.Format(time.DateOnly)),
			zap.Error(err))
		return
	}
	s.log.Info("scheduled aggregation finished",
		zap.String("day", day.Format(time.DateOnly)),
		zap.Int("groups_written", n))
}
