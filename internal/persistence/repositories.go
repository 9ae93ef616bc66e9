package persistence

import (
	"context"
	"time"

	"cloud.google.com/go/civil"

	"github.com/example/mess-attendance/internal/domain"
)

// MealSlotRepository stores the daily schedule. Meal type is unique.
type MealSlotRepository interface {
	ListMealSlots(ctx context.Context) ([]domain.MealSlot, error)
	GetMealSlot(ctx context.Context, mealType domain.MealType) (domain.MealSlot, error)
	UpsertMealSlot(ctx context.Context, slot domain.MealSlot) error
}

// ConfirmationRepository stores per (user, date, meal type) confirmations.
//
// CreateConfirmation returns ErrDuplicate when the triple already exists.
// RecordAttendance, DeleteConfirmation and CancelConfirmation are conditional
// and return ErrConflict when the record is not in a mutable state.
// CancelConfirmation stores the optional fine in the same write as the
// deletion, so either both happen or neither does.
type ConfirmationRepository interface {
	CreateConfirmation(ctx context.Context, c domain.Confirmation) error
	GetConfirmation(ctx context.Context, id string) (domain.Confirmation, error)
	FindConfirmation(ctx context.Context, userID string, date civil.Date, mealType domain.MealType) (domain.Confirmation, error)
	ListConfirmations(ctx context.Context, filter ConfirmationFilter) ([]domain.Confirmation, error)
	ListConfirmationsForMeal(ctx context.Context, mealType domain.MealType, date civil.Date) ([]domain.Confirmation, error)
	RecordAttendance(ctx context.Context, update AttendanceUpdate) (domain.Confirmation, error)
	DeleteConfirmation(ctx context.Context, id string) error
	CancelConfirmation(ctx context.Context, id string, fine *domain.Fine) error
	FreezeConfirmations(ctx context.Context, mealType domain.MealType, date civil.Date, mark domain.FreezeMark) (int, error)
	SetFineApplied(ctx context.Context, id string, amount domain.Money) error
}

// SubscriptionRepository stores mess subscriptions. At most one active
// subscription may exist per user; a second active insert returns ErrDuplicate.
type SubscriptionRepository interface {
	CreateSubscription(ctx context.Context, sub domain.Subscription) error
	GetSubscription(ctx context.Context, id string) (domain.Subscription, error)
	FindActiveSubscription(ctx context.Context, userID string) (domain.Subscription, error)
	UpdateSubscription(ctx context.Context, sub domain.Subscription) error
	ExpireSubscriptions(ctx context.Context, endedBefore civil.Date, at time.Time) (int, error)
}

// FineRepository stores fines. MarkFinePaid and MarkFineWaived return
// ErrConflict when the fine was already settled either way.
type FineRepository interface {
	CreateFine(ctx context.Context, fine domain.Fine) error
	GetFine(ctx context.Context, id string) (domain.Fine, error)
	ListFinesByUser(ctx context.Context, userID string) ([]domain.Fine, error)
	MarkFinePaid(ctx context.Context, id string, payment domain.Payment) (domain.Fine, error)
	MarkFineWaived(ctx context.Context, id string, waiver domain.Waiver) (domain.Fine, error)
}

// UserRepository stores the local user projection.
type UserRepository interface {
	UpsertUser(ctx context.Context, id string, role domain.Role) error
	GetUser(ctx context.Context, id string) (domain.User, error)
	// IncrementOffense atomically bumps the counter for monthKey, restarting
	// at 1 when the stored month differs, and returns the new count.
	IncrementOffense(ctx context.Context, userID, monthKey string) (int, error)
}

// BookingRepository is the contract with the booking subsystem.
// MarkBookingMealAttended returns ErrNotFound when the booking does not
// include the meal and ErrConflict when it was already served.
type BookingRepository interface {
	CreateBooking(ctx context.Context, booking domain.Booking) error
	GetBooking(ctx context.Context, id string) (domain.Booking, error)
	MarkBookingMealAttended(ctx context.Context, mark BookingAttendance, at time.Time) error
}

// AssessmentLedger records completed fine assessment runs.
type AssessmentLedger interface {
	// ClaimAssessment reports false when the (meal type, date) run was
	// already claimed.
	ClaimAssessment(ctx context.Context, mealType domain.MealType, date civil.Date, at time.Time) (bool, error)
}

// Store is the full set of repositories backing the service.
type Store interface {
	MealSlotRepository
	ConfirmationRepository
	SubscriptionRepository
	FineRepository
	UserRepository
	BookingRepository
	AssessmentLedger
	Close() error
}
