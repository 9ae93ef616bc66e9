package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"cloud.google.com/go/civil"
	"golang.org/x/sync/errgroup"

	"github.com/example/mess-attendance/internal/application"
	"github.com/example/mess-attendance/internal/clock"
	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/metrics"
)

const (
	DefaultFreezeInterval     = 5 * time.Minute
	DefaultFreezeInitialDelay = 10 * time.Second
)

// Freezer applies the freeze mark to every confirmation of one service.
type Freezer interface {
	Freeze(ctx context.Context, mealType domain.MealType, date civil.Date, reason, actor string) (int, error)
}

// FreezeConfig tunes the freeze engine. Zero values select the defaults.
type FreezeConfig struct {
	Interval     time.Duration
	InitialDelay time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// FreezeEngine periodically freezes confirmations whose deadline has passed.
type FreezeEngine struct {
	schedule     Schedule
	freezer      Freezer
	clock        clock.Clock
	interval     time.Duration
	initialDelay time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewFreezeEngine constructs the engine.
func NewFreezeEngine(schedule Schedule, freezer Freezer, cfg FreezeConfig) *FreezeEngine {
	e := &FreezeEngine{
		schedule:     schedule,
		freezer:      freezer,
		clock:        cfg.Clock,
		interval:     cfg.Interval,
		initialDelay: cfg.InitialDelay,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}
	if e.clock == nil {
		e.clock = clock.System{}
	}
	if e.interval <= 0 {
		e.interval = DefaultFreezeInterval
	}
	if e.initialDelay <= 0 {
		e.initialDelay = DefaultFreezeInitialDelay
	}
	return e
}

// Run sweeps after the initial delay and then on every interval until ctx is
// cancelled.
func (e *FreezeEngine) Run(ctx context.Context) {
	jobLogger(ctx, e.logger, "freeze").InfoContext(ctx, "freeze engine started",
		"interval", e.interval.String(),
		"initial_delay", e.initialDelay.String(),
	)
	runEvery(ctx, e.initialDelay, e.interval, func(ctx context.Context) {
		_, _ = e.RunOnce(ctx)
	})
}

// RunOnce freezes every active slot whose deadline has passed, for today and
// for tomorrow (an early breakfast can close the evening before). It returns
// the number of records frozen. Failures for one slot are logged and do not
// stop the others.
func (e *FreezeEngine) RunOnce(ctx context.Context) (int, error) {
	logger := jobLogger(ctx, e.logger, "freeze")
	slots, err := e.schedule.ActiveSlots(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load meal slots", "error", err)
		e.metrics.ObserveJob("freeze", err)
		return 0, err
	}

	engine := e.schedule.Engine()
	now := e.clock.Now()
	today := civil.DateOf(now.In(engine.Location()))

	var (
		frozen   atomic.Int64
		failures atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, slot := range slots {
		for _, date := range []civil.Date{today, today.AddDays(1)} {
			deadline := engine.ComputeDeadline(slot, date, now)
			if deadline.CanConfirmNow {
				continue
			}
			g.Go(func() error {
				n, err := e.freezer.Freeze(gctx, slot.MealType, date, application.ReasonAutomaticFreeze, SystemActor)
				if err != nil {
					if ctxErr := gctx.Err(); ctxErr != nil {
						return ctxErr
					}
					failures.Add(1)
					logger.WarnContext(gctx, "freeze failed",
						"meal_type", slot.MealType,
						"date", date.String(),
						"error", err,
					)
					return nil
				}
				frozen.Add(int64(n))
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		e.metrics.ObserveJob("freeze", err)
		return int(frozen.Load()), err
	}

	total := int(frozen.Load())
	e.metrics.AddFrozen(total)
	e.metrics.ObserveJob("freeze", nil)
	if total > 0 || failures.Load() > 0 {
		logger.InfoContext(ctx, "freeze sweep finished", "frozen", total, "failures", failures.Load())
	}
	return total, nil
}
