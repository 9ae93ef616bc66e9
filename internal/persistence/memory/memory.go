// Package memory provides an in-process implementation of the persistence
// repositories. A single mutex makes every conditional update atomic, giving
// the same guarantees the SQLite store gets from its constraints.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/persistence"
)

type tripleKey struct {
	userID   string
	date     civil.Date
	mealType domain.MealType
}

type runKey struct {
	mealType domain.MealType
	date     civil.Date
}

// Storage is a map backed persistence.Store.
type Storage struct {
	mu            sync.RWMutex
	slots         map[domain.MealType]domain.MealSlot
	confirmations map[string]domain.Confirmation
	byTriple      map[tripleKey]string
	subscriptions map[string]domain.Subscription
	fines         map[string]domain.Fine
	users         map[string]domain.User
	bookings      map[string]domain.Booking
	runs          map[runKey]time.Time
}

var _ persistence.Store = (*Storage)(nil)

// New returns an empty Storage.
func New() *Storage {
	return &Storage{
		slots:         make(map[domain.MealType]domain.MealSlot),
		confirmations: make(map[string]domain.Confirmation),
		byTriple:      make(map[tripleKey]string),
		subscriptions: make(map[string]domain.Subscription),
		fines:         make(map[string]domain.Fine),
		users:         make(map[string]domain.User),
		bookings:      make(map[string]domain.Booking),
		runs:          make(map[runKey]time.Time),
	}
}

// Close is a no-op.
func (s *Storage) Close() error { return nil }

// --- MealSlotRepository ---

// ListMealSlots returns every slot ordered by meal type.
func (s *Storage) ListMealSlots(ctx context.Context) ([]domain.MealSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.MealSlot, 0, len(s.slots))
	for _, slot := range s.slots {
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MealType < out[j].MealType })
	return out, nil
}

// GetMealSlot returns the slot for mealType or ErrNotFound.
func (s *Storage) GetMealSlot(ctx context.Context, mealType domain.MealType) (domain.MealSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.slots[mealType]
	if !ok {
		return domain.MealSlot{}, persistence.ErrNotFound
	}
	return slot, nil
}

// UpsertMealSlot creates or replaces the slot for its meal type.
func (s *Storage) UpsertMealSlot(ctx context.Context, slot domain.MealSlot) error {
	if !slot.ValidWindow() || slot.Cost < 0 || slot.DeadlineOffset < 0 {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slots[slot.MealType] = slot
	return nil
}

// --- ConfirmationRepository ---

// CreateConfirmation stores c. The (user, date, meal type) triple must be new.
func (s *Storage) CreateConfirmation(ctx context.Context, c domain.Confirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[c.UserID]; !ok {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.confirmations[c.ID]; ok {
		return persistence.ErrDuplicate
	}
	key := tripleKey{userID: c.UserID, date: c.Date, mealType: c.MealType}
	if _, ok := s.byTriple[key]; ok {
		return persistence.ErrDuplicate
	}
	if c.Attendance.Status == "" {
		c.Attendance.Status = domain.AttendanceUnknown
	}
	s.confirmations[c.ID] = c
	s.byTriple[key] = c.ID
	return nil
}

// GetConfirmation returns the confirmation with id.
func (s *Storage) GetConfirmation(ctx context.Context, id string) (domain.Confirmation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.confirmations[id]
	if !ok {
		return domain.Confirmation{}, persistence.ErrNotFound
	}
	return c, nil
}

// FindConfirmation looks a confirmation up by its natural key.
func (s *Storage) FindConfirmation(ctx context.Context, userID string, date civil.Date, mealType domain.MealType) (domain.Confirmation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byTriple[tripleKey{userID: userID, date: date, mealType: mealType}]
	if !ok {
		return domain.Confirmation{}, persistence.ErrNotFound
	}
	return s.confirmations[id], nil
}

// ListConfirmations returns the records matching filter ordered by date, meal and user.
func (s *Storage) ListConfirmations(ctx context.Context, filter persistence.ConfirmationFilter) ([]domain.Confirmation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Confirmation, 0)
	for _, c := range s.confirmations {
		if filter.UserID != "" && c.UserID != filter.UserID {
			continue
		}
		if filter.MealType != "" && c.MealType != filter.MealType {
			continue
		}
		if filter.From.IsValid() && c.Date.Before(filter.From) {
			continue
		}
		if filter.To.IsValid() && c.Date.After(filter.To) {
			continue
		}
		out = append(out, c)
	}
	sortConfirmations(out)
	return out, nil
}

// ListConfirmationsForMeal returns every record of one service.
func (s *Storage) ListConfirmationsForMeal(ctx context.Context, mealType domain.MealType, date civil.Date) ([]domain.Confirmation, error) {
	return s.ListConfirmations(ctx, persistence.ConfirmationFilter{MealType: mealType, From: date, To: date})
}

// RecordAttendance updates attendance unless the record is already attended and
// the update does not override it.
func (s *Storage) RecordAttendance(ctx context.Context, update persistence.AttendanceUpdate) (domain.Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.confirmations[update.ConfirmationID]
	if !ok {
		return domain.Confirmation{}, persistence.ErrNotFound
	}
	if c.Attendance.Attended() && !update.Override {
		return domain.Confirmation{}, persistence.ErrConflict
	}
	c.Attendance = update.Attendance
	if update.FineApplied > 0 {
		c.FineApplied = update.FineApplied
	}
	s.confirmations[c.ID] = c
	return c, nil
}

// DeleteConfirmation removes a confirmation that is neither attended nor frozen.
func (s *Storage) DeleteConfirmation(ctx context.Context, id string) error {
	return s.CancelConfirmation(ctx, id, nil)
}

// CancelConfirmation removes a mutable confirmation and stores fine, when
// given, under the same lock. Nothing changes if the fine is rejected.
func (s *Storage) CancelConfirmation(ctx context.Context, id string, fine *domain.Fine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.confirmations[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if c.Attendance.Attended() || c.Freeze.Frozen {
		return persistence.ErrConflict
	}
	if fine != nil {
		if err := s.checkFineLocked(*fine); err != nil {
			return err
		}
		s.fines[fine.ID] = *fine
	}
	delete(s.confirmations, id)
	delete(s.byTriple, tripleKey{userID: c.UserID, date: c.Date, mealType: c.MealType})
	return nil
}

// FreezeConfirmations marks every unfrozen record of one service and returns
// how many changed.
func (s *Storage) FreezeConfirmations(ctx context.Context, mealType domain.MealType, date civil.Date, mark domain.FreezeMark) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mark.Frozen = true
	count := 0
	for id, c := range s.confirmations {
		if c.MealType != mealType || c.Date != date || c.Freeze.Frozen {
			continue
		}
		c.Freeze = mark
		s.confirmations[id] = c
		count++
	}
	return count, nil
}

// SetFineApplied stores the fine total carried by a confirmation.
func (s *Storage) SetFineApplied(ctx context.Context, id string, amount domain.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.confirmations[id]
	if !ok {
		return persistence.ErrNotFound
	}
	c.FineApplied = amount
	s.confirmations[id] = c
	return nil
}

// --- SubscriptionRepository ---

// CreateSubscription stores sub, rejecting a second active subscription per user.
func (s *Storage) CreateSubscription(ctx context.Context, sub domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[sub.UserID]; !ok {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.subscriptions[sub.ID]; ok {
		return persistence.ErrDuplicate
	}
	if sub.Status == domain.SubscriptionActive && s.hasActiveLocked(sub.UserID, sub.ID) {
		return persistence.ErrDuplicate
	}
	s.subscriptions[sub.ID] = cloneSubscription(sub)
	return nil
}

// GetSubscription returns the subscription with id.
func (s *Storage) GetSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return domain.Subscription{}, persistence.ErrNotFound
	}
	return cloneSubscription(sub), nil
}

// FindActiveSubscription returns the user's active subscription.
func (s *Storage) FindActiveSubscription(ctx context.Context, userID string) (domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.UserID == userID && sub.Status == domain.SubscriptionActive {
			return cloneSubscription(sub), nil
		}
	}
	return domain.Subscription{}, persistence.ErrNotFound
}

// UpdateSubscription replaces a stored subscription.
func (s *Storage) UpdateSubscription(ctx context.Context, sub domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.ID]; !ok {
		return persistence.ErrNotFound
	}
	if sub.Status == domain.SubscriptionActive && s.hasActiveLocked(sub.UserID, sub.ID) {
		return persistence.ErrDuplicate
	}
	s.subscriptions[sub.ID] = cloneSubscription(sub)
	return nil
}

// ExpireSubscriptions expires active subscriptions ending before endedBefore.
func (s *Storage) ExpireSubscriptions(ctx context.Context, endedBefore civil.Date, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, sub := range s.subscriptions {
		if sub.Status != domain.SubscriptionActive || !sub.EndDate.Before(endedBefore) {
			continue
		}
		sub.Status = domain.SubscriptionExpired
		sub.UpdatedAt = at
		s.subscriptions[id] = sub
		count++
	}
	return count, nil
}

func (s *Storage) hasActiveLocked(userID, exceptID string) bool {
	for id, existing := range s.subscriptions {
		if id != exceptID && existing.UserID == userID && existing.Status == domain.SubscriptionActive {
			return true
		}
	}
	return false
}

// --- FineRepository ---

// CreateFine stores a new fine for an existing user.
func (s *Storage) CreateFine(ctx context.Context, fine domain.Fine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFineLocked(fine); err != nil {
		return err
	}
	s.fines[fine.ID] = fine
	return nil
}

func (s *Storage) checkFineLocked(fine domain.Fine) error {
	if fine.Amount <= 0 {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.users[fine.UserID]; !ok {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.fines[fine.ID]; ok {
		return persistence.ErrDuplicate
	}
	return nil
}

// GetFine returns the fine with id.
func (s *Storage) GetFine(ctx context.Context, id string) (domain.Fine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fine, ok := s.fines[id]
	if !ok {
		return domain.Fine{}, persistence.ErrNotFound
	}
	return fine, nil
}

// ListFinesByUser returns a user's fines in creation order.
func (s *Storage) ListFinesByUser(ctx context.Context, userID string) ([]domain.Fine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Fine, 0)
	for _, fine := range s.fines {
		if fine.UserID == userID {
			out = append(out, fine)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// MarkFinePaid settles an open fine. Settled fines yield ErrConflict.
func (s *Storage) MarkFinePaid(ctx context.Context, id string, payment domain.Payment) (domain.Fine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fine, ok := s.fines[id]
	if !ok {
		return domain.Fine{}, persistence.ErrNotFound
	}
	if fine.Settled() {
		return domain.Fine{}, persistence.ErrConflict
	}
	payment.Paid = true
	fine.Payment = payment
	s.fines[id] = fine
	return fine, nil
}

// MarkFineWaived waives an open fine. Settled fines yield ErrConflict.
func (s *Storage) MarkFineWaived(ctx context.Context, id string, waiver domain.Waiver) (domain.Fine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fine, ok := s.fines[id]
	if !ok {
		return domain.Fine{}, persistence.ErrNotFound
	}
	if fine.Settled() {
		return domain.Fine{}, persistence.ErrConflict
	}
	waiver.Waived = true
	fine.Waiver = waiver
	s.fines[id] = fine
	return fine, nil
}

// --- UserRepository ---

// UpsertUser creates the user or updates its role.
func (s *Storage) UpsertUser(ctx context.Context, id string, role domain.Role) error {
	if id == "" || !role.Valid() {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.users[id]
	user.ID = id
	user.Role = role
	s.users[id] = user
	return nil
}

// GetUser returns the user with id.
func (s *Storage) GetUser(ctx context.Context, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return domain.User{}, persistence.ErrNotFound
	}
	return user, nil
}

// IncrementOffense bumps the monthly offense counter, resetting it when
// monthKey changes, and returns the new count.
func (s *Storage) IncrementOffense(ctx context.Context, userID, monthKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return 0, persistence.ErrNotFound
	}
	if user.Offense.Month != monthKey {
		user.Offense = domain.OffenseCounter{Month: monthKey}
	}
	user.Offense.Count++
	s.users[userID] = user
	return user.Offense.Count, nil
}

// --- BookingRepository ---

// CreateBooking stores a booking with its meals.
func (s *Storage) CreateBooking(ctx context.Context, booking domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[booking.HostUserID]; !ok {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.bookings[booking.ID]; ok {
		return persistence.ErrDuplicate
	}
	s.bookings[booking.ID] = cloneBooking(booking)
	return nil
}

// GetBooking returns the booking with id.
func (s *Storage) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	booking, ok := s.bookings[id]
	if !ok {
		return domain.Booking{}, persistence.ErrNotFound
	}
	return cloneBooking(booking), nil
}

// MarkBookingMealAttended records a scan against one booked meal.
func (s *Storage) MarkBookingMealAttended(ctx context.Context, mark persistence.BookingAttendance, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	booking, ok := s.bookings[mark.BookingID]
	if !ok {
		return persistence.ErrNotFound
	}
	for i := range booking.Meals {
		if booking.Meals[i].MealType != mark.MealType {
			continue
		}
		if booking.Meals[i].Attended {
			return persistence.ErrConflict
		}
		booking.Meals[i].Attended = true
		booking.Meals[i].AttendedAt = at
		booking.Meals[i].ScannedBy = mark.ScannedBy
		s.bookings[booking.ID] = booking
		return nil
	}
	return fmt.Errorf("booking %s has no %s: %w", mark.BookingID, mark.MealType, persistence.ErrNotFound)
}

// --- AssessmentLedger ---

// ClaimAssessment records the (meal type, date) run and reports false when it
// was already claimed.
func (s *Storage) ClaimAssessment(ctx context.Context, mealType domain.MealType, date civil.Date, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := runKey{mealType: mealType, date: date}
	if _, ok := s.runs[key]; ok {
		return false, nil
	}
	s.runs[key] = at
	return true, nil
}

func sortConfirmations(list []domain.Confirmation) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		if a.MealType != b.MealType {
			return a.MealType < b.MealType
		}
		return a.UserID < b.UserID
	})
}

func cloneSubscription(sub domain.Subscription) domain.Subscription {
	sub.MealTypes = slices.Clone(sub.MealTypes)
	return sub
}

func cloneBooking(booking domain.Booking) domain.Booking {
	booking.Meals = slices.Clone(booking.Meals)
	return booking
}
