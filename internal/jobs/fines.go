package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"github.com/example/mess-attendance/internal/application"
	"github.com/example/mess-attendance/internal/clock"
	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/metrics"
)

// DefaultFineDelay is how long after a service closes its assessment runs.
const DefaultFineDelay = 30 * time.Minute

// WatchedSchedule publishes a version whenever the schedule changes.
type WatchedSchedule interface {
	Schedule
	Subscribe() (<-chan uint64, func())
}

// Assessor runs the fine assessment for one service.
type Assessor interface {
	AssessMeal(ctx context.Context, mealType domain.MealType, date civil.Date) (application.AssessmentResult, error)
}

// Timer is the handle returned by an AfterFunc implementation.
type Timer interface {
	Stop() bool
}

// AfterFunc arms f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// FineConfig tunes the fine scheduler. Zero values select the defaults.
type FineConfig struct {
	Delay     time.Duration
	Clock     clock.Clock
	AfterFunc AfterFunc
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

type armedRun struct {
	slot  domain.MealSlot
	date  civil.Date
	at    time.Time
	timer Timer
}

// FineScheduler keeps one timer per active slot, firing at the slot end plus
// the delay. Timers are rebuilt whenever the schedule publishes a change.
type FineScheduler struct {
	schedule  WatchedSchedule
	assessor  Assessor
	clock     clock.Clock
	delay     time.Duration
	afterFunc AfterFunc
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu         sync.Mutex
	generation uint64
	runs       map[domain.MealType]armedRun
}

// NewFineScheduler constructs the scheduler.
func NewFineScheduler(schedule WatchedSchedule, assessor Assessor, cfg FineConfig) *FineScheduler {
	s := &FineScheduler{
		schedule:  schedule,
		assessor:  assessor,
		clock:     cfg.Clock,
		delay:     cfg.Delay,
		afterFunc: cfg.AfterFunc,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		runs:      make(map[domain.MealType]armedRun),
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.delay <= 0 {
		s.delay = DefaultFineDelay
	}
	if s.afterFunc == nil {
		s.afterFunc = realAfterFunc
	}
	return s
}

// Run arms the timers and re-derives them on every schedule change until ctx
// is cancelled, at which point all timers are stopped.
func (s *FineScheduler) Run(ctx context.Context) {
	events, unsubscribe := s.schedule.Subscribe()
	defer unsubscribe()
	defer s.Stop()

	logger := jobLogger(ctx, s.logger, "fines")
	if err := s.Rearm(ctx); err != nil {
		logger.ErrorContext(ctx, "failed to arm fine timers", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case version, ok := <-events:
			if !ok {
				return
			}
			logger.InfoContext(ctx, "schedule changed, re-arming fine timers", "version", version)
			if err := s.Rearm(ctx); err != nil {
				logger.ErrorContext(ctx, "failed to re-arm fine timers", "error", err)
			}
		}
	}
}

// Rearm stops every armed timer and arms one per active slot for its next run.
func (s *FineScheduler) Rearm(ctx context.Context) error {
	slots, err := s.schedule.ActiveSlots(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	now := s.clock.Now()
	for _, slot := range slots {
		s.armLocked(ctx, slot, now)
	}
	return nil
}

// Stop cancels every armed timer.
func (s *FineScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Armed returns the pending run instant per meal type.
func (s *FineScheduler) Armed() map[domain.MealType]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.MealType]time.Time, len(s.runs))
	for mt, run := range s.runs {
		out[mt] = run.at
	}
	return out
}

func (s *FineScheduler) stopLocked() {
	s.generation++
	for mt, run := range s.runs {
		run.timer.Stop()
		delete(s.runs, mt)
	}
}

func (s *FineScheduler) armLocked(ctx context.Context, slot domain.MealSlot, after time.Time) {
	date, at := s.schedule.Engine().NextFineRun(slot, after, s.delay)
	generation := s.generation
	mealType := slot.MealType
	wait := at.Sub(s.clock.Now())
	if wait < 0 {
		wait = 0
	}
	timer := s.afterFunc(wait, func() {
		s.fire(ctx, generation, mealType, date, at)
	})
	s.runs[mealType] = armedRun{slot: slot, date: date, at: at, timer: timer}
}

func (s *FineScheduler) fire(ctx context.Context, generation uint64, mealType domain.MealType, date civil.Date, at time.Time) {
	if ctx.Err() != nil || !s.current(generation) {
		return
	}

	logger := jobLogger(ctx, s.logger, "fines")
	result, err := s.assessor.AssessMeal(ctx, mealType, date)
	s.metrics.ObserveJob("fines", err)
	if err != nil {
		logger.ErrorContext(ctx, "fine assessment run failed", "meal_type", mealType, "date", date.String(), "error", err)
	} else {
		s.metrics.AddFinesIssued(result.FinesIssued)
	}

	slots, slotsErr := s.schedule.ActiveSlots(ctx)
	if slotsErr != nil {
		logger.ErrorContext(ctx, "failed to load slots for re-arm, reusing the armed slot", "meal_type", mealType, "error", slotsErr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != generation || ctx.Err() != nil {
		return
	}
	previous, armed := s.runs[mealType]
	delete(s.runs, mealType)
	now := s.clock.Now()
	if now.Before(at) {
		now = at
	}
	if slotsErr != nil {
		if armed {
			s.armLocked(ctx, previous.slot, now)
		}
		return
	}
	for _, slot := range slots {
		if slot.MealType == mealType {
			s.armLocked(ctx, slot, now)
			return
		}
	}
}

func (s *FineScheduler) current(generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == generation
}
