package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/mess-attendance/internal/metrics"
)

const DefaultSweepInterval = time.Hour

// Expirer moves lapsed subscriptions to expired.
type Expirer interface {
	ExpireLapsed(ctx context.Context) (int, error)
}

// SubscriptionSweeper expires lapsed subscriptions on a fixed interval.
type SubscriptionSweeper struct {
	expirer  Expirer
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewSubscriptionSweeper(expirer Expirer, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *SubscriptionSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &SubscriptionSweeper{expirer: expirer, interval: interval, logger: logger, metrics: m}
}

// Run sweeps immediately and then on every interval until ctx is cancelled.
func (s *SubscriptionSweeper) Run(ctx context.Context) {
	runEvery(ctx, time.Millisecond, s.interval, func(ctx context.Context) {
		_, _ = s.RunOnce(ctx)
	})
}

func (s *SubscriptionSweeper) RunOnce(ctx context.Context) (int, error) {
	n, err := s.expirer.ExpireLapsed(ctx)
	s.metrics.ObserveJob("subscriptions", err)
	if err != nil {
		jobLogger(ctx, s.logger, "subscriptions").ErrorContext(ctx, "subscription sweep failed", "error", err)
		return 0, err
	}
	s.metrics.AddExpired(n)
	return n, nil
}
