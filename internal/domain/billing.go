package domain

import (
	"slices"
	"time"

	"cloud.google.com/go/civil"
)

// SubscriptionStatus is the lifecycle state of a mess subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionSuspended SubscriptionStatus = "suspended"
)

// Subscription is a prepaid plan covering a set of meal types over a date range.
type Subscription struct {
	ID          string
	UserID      string
	MealTypes   []MealType
	StartDate   civil.Date
	EndDate     civil.Date
	Status      SubscriptionStatus
	MonthlyCost Money
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// InRange reports whether date lies within [StartDate, EndDate].
func (s Subscription) InRange(date civil.Date) bool {
	return !date.Before(s.StartDate) && !date.After(s.EndDate)
}

// Covers reports whether the subscription absorbs the cost of mealType on date.
func (s Subscription) Covers(mealType MealType, date civil.Date) bool {
	return s.Status == SubscriptionActive && s.InRange(date) && slices.Contains(s.MealTypes, mealType)
}

// FineType classifies why a fine was issued.
type FineType string

const (
	FineNoShow                FineType = "no_show"
	FineLateCancellation      FineType = "late_cancellation"
	FineMultipleOffense       FineType = "multiple_offense"
	FineSubscriptionViolation FineType = "subscription_violation"
)

// Payment records settlement of a fine.
type Payment struct {
	Paid      bool
	Reference string
	At        time.Time
}

// Waiver records a staff decision to forgive a fine.
type Waiver struct {
	Waived bool
	By     string
	Reason string
	At     time.Time
}

// Fine is a monetary penalty. A fine is never both paid and waived.
type Fine struct {
	ID             string
	UserID         string
	Type           FineType
	Amount         Money
	Reason         string
	ConfirmationID string
	Payment        Payment
	Waiver         Waiver
	CreatedAt      time.Time
}

// Settled reports whether the fine was paid or waived.
func (f Fine) Settled() bool {
	return f.Payment.Paid || f.Waiver.Waived
}

// BookingKind distinguishes the external booking flavours.
type BookingKind string

const (
	BookingGuest    BookingKind = "guest"
	BookingEmployee BookingKind = "employee"
	BookingParent   BookingKind = "parent"
)

// BookingMeal is the per meal attendance sub-record of a booking.
type BookingMeal struct {
	MealType   MealType
	Attended   bool
	AttendedAt time.Time
	ScannedBy  string
}

// Booking is a guest, employee or parent meal booking owned by a host user.
type Booking struct {
	ID         string
	Kind       BookingKind
	HostUserID string
	GuestName  string
	Date       civil.Date
	Meals      []BookingMeal
	CreatedAt  time.Time
}

// Meal returns the sub-record for mealType if the booking includes it.
func (b Booking) Meal(mealType MealType) (BookingMeal, bool) {
	for _, m := range b.Meals {
		if m.MealType == mealType {
			return m, true
		}
	}
	return BookingMeal{}, false
}
