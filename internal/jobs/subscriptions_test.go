package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/jobs"
	"github.com/example/mess-attendance/internal/metrics"
	"github.com/example/mess-attendance/internal/testfixtures"
)

func TestSubscriptionSweeperExpiresLapsedSubscriptions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	today := testfixtures.ReferenceDate()
	e := newEnv(t, testfixtures.ReferenceTime())

	lapsed := testfixtures.NewSubscription("u1", testfixtures.WithSubscriptionRange(today.AddDays(-30), today.AddDays(-1)))
	current := testfixtures.NewSubscription("u2", testfixtures.WithSubscriptionRange(today.AddDays(-30), today))
	for _, sub := range []domain.Subscription{lapsed, current} {
		if err := e.Store.CreateSubscription(ctx, sub); err != nil {
			t.Fatalf("CreateSubscription failed: %v", err)
		}
	}

	sweeper := jobs.NewSubscriptionSweeper(e.Subscriptions, time.Hour, nil, metrics.New(nil))
	n, err := sweeper.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired subscription, got %d", n)
	}
	got, _ := e.Store.GetSubscription(ctx, lapsed.ID)
	if got.Status != domain.SubscriptionExpired {
		t.Fatalf("expected lapsed subscription to be expired, got %s", got.Status)
	}
	got, _ = e.Store.GetSubscription(ctx, current.ID)
	if got.Status != domain.SubscriptionActive {
		t.Fatalf("expected subscription ending today to stay active, got %s", got.Status)
	}
}

type failingExpirer struct{ calls chan struct{} }

func (f failingExpirer) ExpireLapsed(ctx context.Context) (int, error) {
	select {
	case f.calls <- struct{}{}:
	default:
	}
	return 0, errors.New("store unavailable")
}

func TestSubscriptionSweeperKeepsRunningAfterFailures(t *testing.T) {
	t.Parallel()
	expirer := failingExpirer{calls: make(chan struct{}, 1)}
	sweeper := jobs.NewSubscriptionSweeper(expirer, time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-expirer.calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected sweep %d to run", i+1)
		}
	}
	cancel()
	<-done
}
