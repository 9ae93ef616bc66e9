// Package jobs runs the background work of the mess service: the deadline
// freeze sweep, per meal fine assessment timers and the subscription expiry
// sweep. Every job stops when its context is cancelled.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/logging"
	"github.com/example/mess-attendance/internal/mealtime"
)

// SystemActor is recorded as the actor of automatic changes.
const SystemActor = "system"

// Schedule is the read side of the meal schedule the jobs depend on.
type Schedule interface {
	ActiveSlots(ctx context.Context) ([]domain.MealSlot, error)
	Engine() *mealtime.Engine
}

func jobLogger(ctx context.Context, base *slog.Logger, job string) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = base
	}
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("job", job)
}

// runEvery calls fn once after initialDelay and then every interval until ctx
// is done.
func runEvery(ctx context.Context, initialDelay, interval time.Duration, fn func(context.Context)) {
	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		fn(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
