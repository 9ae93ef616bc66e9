package jobs_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/jobs"
	"github.com/example/mess-attendance/internal/testfixtures"
)

type env struct {
	*testfixtures.Services
	clock *testfixtures.Clock
}

func newEnv(t *testing.T, at time.Time) *env {
	t.Helper()
	clock := testfixtures.NewClock(at)
	services := testfixtures.NewServiceFactory(testfixtures.WithClock(clock)).NewServices(testfixtures.NewMemoryStore(t))
	if _, err := services.Schedule.SeedDefaults(context.Background(), 4000); err != nil {
		t.Fatalf("SeedDefaults failed: %v", err)
	}
	testfixtures.SeedUsers(t, services.Store, domain.RoleStudent, "u1", "u2")
	return &env{Services: services, clock: clock}
}

func (e *env) confirm(t *testing.T, userID string, mealType domain.MealType, offsetDays int) string {
	t.Helper()
	c := testfixtures.NewConfirmation(userID, testfixtures.WithMeal(mealType, testfixtures.ReferenceDate().AddDays(offsetDays)))
	if err := e.Store.CreateConfirmation(context.Background(), c); err != nil {
		t.Fatalf("CreateConfirmation failed: %v", err)
	}
	return c.ID
}

func (e *env) frozen(t *testing.T, id string) bool {
	t.Helper()
	c, err := e.Store.GetConfirmation(context.Background(), id)
	if err != nil {
		t.Fatalf("GetConfirmation failed: %v", err)
	}
	return c.Freeze.Frozen
}

// fakeTimers captures armed callbacks so tests decide when they fire.
type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
	armed  chan struct{}
}

type fakeTimer struct {
	wait    time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{armed: make(chan struct{}, 128)}
}

func (f *fakeTimers) AfterFunc(d time.Duration, fn func()) jobs.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	timer := &fakeTimer{wait: d, fn: fn}
	f.timers = append(f.timers, timer)
	f.armed <- struct{}{}
	return timer
}

func (f *fakeTimers) waitArmed(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.armed:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for timer %d of %d", i+1, n)
		}
	}
}

func (f *fakeTimers) active() []*fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeTimer
	for _, timer := range f.timers {
		if !timer.stopped {
			out = append(out, timer)
		}
	}
	return out
}
