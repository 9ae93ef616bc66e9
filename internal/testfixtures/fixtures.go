package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"cloud.google.com/go/civil"

	"github.com/example/mess-attendance/internal/clock"
	"github.com/example/mess-attendance/internal/domain"
)

var (
	confirmationCounter uint64
	subscriptionCounter uint64
	bookingCounter      uint64
	fineCounter         uint64
)

// Zone is the timezone fixtures are expressed in.
var Zone = clock.IST

var referenceTime = time.Date(2025, time.March, 10, 6, 0, 0, 0, Zone)

// ReferenceTime returns the canonical baseline instant used by fixtures:
// 06:00 IST on Monday 2025-03-10, before any default meal deadline except
// breakfast's.
func ReferenceTime() time.Time {
	return referenceTime
}

// ReferenceDate is the calendar date of ReferenceTime.
func ReferenceDate() civil.Date {
	return civil.DateOf(referenceTime)
}

// At returns the instant of hh:mm IST on date.
func At(date civil.Date, hour, minute int) time.Time {
	return civil.DateTime{Date: date, Time: civil.Time{Hour: hour, Minute: minute}}.In(Zone)
}

// ------------------------------ Meal slots ------------------------------

// SlotOption configures a generated meal slot.
type SlotOption func(*domain.MealSlot)

// NewSlot returns an active slot for mealType with the given window.
func NewSlot(mealType domain.MealType, start, end string, opts ...SlotOption) domain.MealSlot {
	slot := domain.MealSlot{
		MealType:       mealType,
		Start:          mustTime(start),
		End:            mustTime(end),
		Cost:           4000,
		DeadlineOffset: 4 * time.Hour,
		Active:         true,
		UpdatedBy:      "system",
		UpdatedAt:      referenceTime,
	}
	for _, opt := range opts {
		opt(&slot)
	}
	return slot
}

// WithSlotCost overrides the per meal cost.
func WithSlotCost(cost domain.Money) SlotOption {
	return func(s *domain.MealSlot) { s.Cost = cost }
}

// WithSlotOffset overrides the deadline offset.
func WithSlotOffset(offset time.Duration) SlotOption {
	return func(s *domain.MealSlot) { s.DeadlineOffset = offset }
}

// WithSlotInactive disables the slot.
func WithSlotInactive() SlotOption {
	return func(s *domain.MealSlot) { s.Active = false }
}

func mustTime(value string) civil.Time {
	t, err := civil.ParseTime(value + ":00")
	if err != nil {
		panic(fmt.Sprintf("testfixtures: bad time %q: %v", value, err))
	}
	return t
}

// ---------------------------- Confirmations -----------------------------

// ConfirmationOption configures a generated confirmation.
type ConfirmationOption func(*domain.Confirmation)

// NewConfirmation returns a pending lunch confirmation on ReferenceDate.
func NewConfirmation(userID string, opts ...ConfirmationOption) domain.Confirmation {
	idx := atomic.AddUint64(&confirmationCounter, 1)
	c := domain.Confirmation{
		ID:         fmt.Sprintf("confirmation-%03d", idx),
		UserID:     userID,
		Date:       ReferenceDate(),
		MealType:   domain.Lunch,
		CreatedAt:  referenceTime,
		Attendance: domain.Attendance{Status: domain.AttendanceUnknown},
		Cost:       4000,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithConfirmationID overrides the generated identifier.
func WithConfirmationID(id string) ConfirmationOption {
	return func(c *domain.Confirmation) { c.ID = id }
}

// WithMeal sets the meal type and date.
func WithMeal(mealType domain.MealType, date civil.Date) ConfirmationOption {
	return func(c *domain.Confirmation) {
		c.MealType = mealType
		c.Date = date
	}
}

// WithAttendance records attendance on the confirmation.
func WithAttendance(status domain.AttendanceStatus, by string) ConfirmationOption {
	return func(c *domain.Confirmation) {
		c.Attendance = domain.Attendance{
			Status: status,
			At:     referenceTime,
			By:     by,
			Method: domain.MethodManual,
		}
	}
}

// WithWalkIn marks the confirmation as a counter walk-in.
func WithWalkIn() ConfirmationOption {
	return func(c *domain.Confirmation) {
		c.WalkIn = true
		c.Notes = domain.WalkInNote
	}
}

// WithFrozen freezes the confirmation.
func WithFrozen(reason string) ConfirmationOption {
	return func(c *domain.Confirmation) {
		c.Freeze = domain.FreezeMark{Frozen: true, At: referenceTime, Reason: reason, By: "system"}
	}
}

// WithCost overrides the snapshotted cost.
func WithCost(cost domain.Money) ConfirmationOption {
	return func(c *domain.Confirmation) { c.Cost = cost }
}

// ---------------------------- Subscriptions -----------------------------

// SubscriptionOption configures a generated subscription.
type SubscriptionOption func(*domain.Subscription)

// NewSubscription returns an active subscription covering every meal for the
// thirty days starting at ReferenceDate.
func NewSubscription(userID string, opts ...SubscriptionOption) domain.Subscription {
	idx := atomic.AddUint64(&subscriptionCounter, 1)
	sub := domain.Subscription{
		ID:          fmt.Sprintf("subscription-%03d", idx),
		UserID:      userID,
		MealTypes:   append([]domain.MealType(nil), domain.MealTypes...),
		StartDate:   ReferenceDate(),
		EndDate:     ReferenceDate().AddDays(29),
		Status:      domain.SubscriptionActive,
		MonthlyCost: 300000,
		CreatedAt:   referenceTime,
		UpdatedAt:   referenceTime,
	}
	for _, opt := range opts {
		opt(&sub)
	}
	return sub
}

// WithSubscriptionMeals restricts the covered meal types.
func WithSubscriptionMeals(types ...domain.MealType) SubscriptionOption {
	return func(s *domain.Subscription) { s.MealTypes = types }
}

// WithSubscriptionRange overrides the covered dates.
func WithSubscriptionRange(start, end civil.Date) SubscriptionOption {
	return func(s *domain.Subscription) {
		s.StartDate = start
		s.EndDate = end
	}
}

// WithSubscriptionStatus overrides the status.
func WithSubscriptionStatus(status domain.SubscriptionStatus) SubscriptionOption {
	return func(s *domain.Subscription) { s.Status = status }
}

// ------------------------------- Bookings -------------------------------

// NewBooking returns a guest booking on date for the given meals.
func NewBooking(hostID string, date civil.Date, meals ...domain.MealType) domain.Booking {
	idx := atomic.AddUint64(&bookingCounter, 1)
	booking := domain.Booking{
		ID:         fmt.Sprintf("booking-%03d", idx),
		Kind:       domain.BookingGuest,
		HostUserID: hostID,
		GuestName:  fmt.Sprintf("Guest %03d", idx),
		Date:       date,
		CreatedAt:  referenceTime,
	}
	for _, mt := range meals {
		booking.Meals = append(booking.Meals, domain.BookingMeal{MealType: mt})
	}
	return booking
}

// --------------------------------- Fines --------------------------------

// NewFine returns an unsettled no-show fine.
func NewFine(userID string, amount domain.Money) domain.Fine {
	idx := atomic.AddUint64(&fineCounter, 1)
	return domain.Fine{
		ID:        fmt.Sprintf("fine-%03d", idx),
		UserID:    userID,
		Type:      domain.FineNoShow,
		Amount:    amount,
		Reason:    "no-show",
		CreatedAt: referenceTime,
	}
}
