package testfixtures

import (
	"context"
	"testing"

	"github.com/example/mess-attendance/internal/application"
	"github.com/example/mess-attendance/internal/domain"
)

func TestServiceFactoryNewServices(t *testing.T) {
	factory := NewServiceFactory()
	services := factory.NewServices(NewMemoryStore(t))
	ctx := context.Background()

	if _, err := services.Schedule.SeedDefaults(ctx, 4000); err != nil {
		t.Fatalf("SeedDefaults returned error: %v", err)
	}

	principal := application.Principal{UserID: "student-1", Role: domain.RoleStudent}
	c, err := services.Confirmations.Confirm(ctx, application.ConfirmParams{
		Principal: principal,
		Date:      ReferenceDate(),
		MealType:  domain.Lunch,
	})
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}

	if c.ID != "id-1" {
		t.Fatalf("expected generated ID id-1, got %q", c.ID)
	}
	if !c.CreatedAt.Equal(factory.Clock.Now()) {
		t.Fatalf("expected timestamp %v, got %v", factory.Clock.Now(), c.CreatedAt)
	}
	if c.Cost != 4000 {
		t.Fatalf("expected uncovered cost 4000, got %d", c.Cost)
	}
}

func TestReferenceTimeIsBeforeLunchDeadline(t *testing.T) {
	deadline := At(ReferenceDate(), 8, 0)
	if !ReferenceTime().Before(deadline) {
		t.Fatalf("expected reference time before %v, got %v", deadline, ReferenceTime())
	}
}
