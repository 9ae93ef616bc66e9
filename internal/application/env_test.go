package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/example/mess-attendance/internal/application"
	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/testfixtures"
)

var (
	student = application.Principal{UserID: "student-1", Role: domain.RoleStudent}
	other   = application.Principal{UserID: "student-2", Role: domain.RoleStudent}
	staff   = application.Principal{UserID: "staff-1", Role: domain.RoleMessStaff}
	hod     = application.Principal{UserID: "hod-1", Role: domain.RoleHOD}
	admin   = application.Principal{UserID: "admin-1", Role: domain.RoleAdmin}
)

type env struct {
	*testfixtures.Services
	clock *testfixtures.Clock
}

// newEnv wires services over an in-memory store with the default schedule
// (meal cost 40.00) and the principals above registered as users.
func newEnv(t *testing.T, at time.Time) *env {
	t.Helper()
	clock := testfixtures.NewClock(at)
	factory := testfixtures.NewServiceFactory(testfixtures.WithClock(clock))
	services := factory.NewServices(testfixtures.NewMemoryStore(t))

	if _, err := services.Schedule.SeedDefaults(context.Background(), 4000); err != nil {
		t.Fatalf("SeedDefaults returned error: %v", err)
	}
	for _, p := range []application.Principal{student, other, staff, hod, admin} {
		testfixtures.SeedUsers(t, services.Store, p.Role, p.UserID)
	}
	return &env{Services: services, clock: clock}
}

func (e *env) subscribe(t *testing.T, userID string, opts ...testfixtures.SubscriptionOption) {
	t.Helper()
	if err := e.Store.CreateSubscription(context.Background(), testfixtures.NewSubscription(userID, opts...)); err != nil {
		t.Fatalf("CreateSubscription returned error: %v", err)
	}
}

func (e *env) confirmation(t *testing.T, userID string, opts ...testfixtures.ConfirmationOption) string {
	t.Helper()
	c := testfixtures.NewConfirmation(userID, opts...)
	if err := e.Store.CreateConfirmation(context.Background(), c); err != nil {
		t.Fatalf("CreateConfirmation returned error: %v", err)
	}
	return c.ID
}
