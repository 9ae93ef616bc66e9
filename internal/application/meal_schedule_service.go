package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/mealtime"
	"github.com/example/mess-attendance/internal/persistence"
)

// DefaultSlots returns the schedule installed on an empty store.
func DefaultSlots(cost domain.Money) []domain.MealSlot {
	at := func(h, m int) civil.Time { return civil.Time{Hour: h, Minute: m} }
	return []domain.MealSlot{
		{MealType: domain.Breakfast, Start: at(7, 30), End: at(9, 30), Cost: cost, DeadlineOffset: 12 * time.Hour, Active: true},
		{MealType: domain.Lunch, Start: at(12, 0), End: at(14, 0), Cost: cost, DeadlineOffset: 4 * time.Hour, Active: true},
		{MealType: domain.Snacks, Start: at(16, 30), End: at(17, 30), Cost: cost, DeadlineOffset: 2 * time.Hour, Active: true},
		{MealType: domain.Dinner, Start: at(19, 30), End: at(21, 30), Cost: cost, DeadlineOffset: 4 * time.Hour, Active: true},
	}
}

// MealScheduleService is the registry of meal slots. It caches the schedule
// and notifies subscribers whenever an administrator changes it.
type MealScheduleService struct {
	slots  persistence.MealSlotRepository
	rt     Runtime
	engine *mealtime.Engine
	cache  *slotCache

	mu          sync.Mutex
	version     uint64
	nextSub     int
	subscribers map[int]chan uint64
}

// NewMealScheduleService constructs the registry.
func NewMealScheduleService(slots persistence.MealSlotRepository, rt Runtime) *MealScheduleService {
	rt = rt.withDefaults()
	return &MealScheduleService{
		slots:       slots,
		rt:          rt,
		engine:      rt.engine(),
		cache:       newSlotCache(30*time.Second, rt.now),
		subscribers: make(map[int]chan uint64),
	}
}

func (s *MealScheduleService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.rt.Logger, "MealScheduleService", operation, attrs...)
}

// Engine exposes the time engine bound to the service's timezone.
func (s *MealScheduleService) Engine() *mealtime.Engine { return s.engine }

// AllSlots returns every slot, inactive ones included, ordered by start time.
func (s *MealScheduleService) AllSlots(ctx context.Context) ([]domain.MealSlot, error) {
	if cached, ok := s.cache.Get(); ok {
		return cached, nil
	}
	slots, err := s.slots.ListMealSlots(ctx)
	if err != nil {
		return nil, mapRepoError("list meal slots", err)
	}
	slots = mealtime.SortByStart(slots)
	s.cache.Store(slots)
	return slots, nil
}

// ActiveSlots returns active slots ordered by start time.
func (s *MealScheduleService) ActiveSlots(ctx context.Context) ([]domain.MealSlot, error) {
	all, err := s.AllSlots(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]domain.MealSlot, 0, len(all))
	for _, slot := range all {
		if slot.Active {
			active = append(active, slot)
		}
	}
	return active, nil
}

// Slot returns the active slot for mealType. Inactive slots are reported as
// ErrNotFound.
func (s *MealScheduleService) Slot(ctx context.Context, mealType domain.MealType) (domain.MealSlot, error) {
	if !mealType.Valid() {
		vErr := &ValidationError{}
		vErr.add("meal_type", "must be one of breakfast, lunch, snacks, dinner")
		return domain.MealSlot{}, vErr
	}
	all, err := s.AllSlots(ctx)
	if err != nil {
		return domain.MealSlot{}, err
	}
	for _, slot := range all {
		if slot.MealType == mealType && slot.Active {
			return slot, nil
		}
	}
	return domain.MealSlot{}, ErrNotFound
}

// ComputeDeadline returns the confirmation deadline of mealType on date.
func (s *MealScheduleService) ComputeDeadline(ctx context.Context, mealType domain.MealType, date civil.Date) (mealtime.Deadline, error) {
	if !date.IsValid() {
		vErr := &ValidationError{}
		vErr.add("date", "must be a valid YYYY-MM-DD date")
		return mealtime.Deadline{}, vErr
	}
	slot, err := s.Slot(ctx, mealType)
	if err != nil {
		return mealtime.Deadline{}, err
	}
	return s.engine.ComputeDeadline(slot, date, s.rt.now()), nil
}

// CurrentOrUpcoming locates the current instant in the day's schedule.
func (s *MealScheduleService) CurrentOrUpcoming(ctx context.Context) (mealtime.Window, error) {
	slots, err := s.ActiveSlots(ctx)
	if err != nil {
		return mealtime.Window{}, err
	}
	window, err := s.engine.Resolve(slots, s.rt.now())
	if errors.Is(err, mealtime.ErrNoSlots) {
		return mealtime.Window{}, ErrNotFound
	}
	return window, err
}

// UpsertSlot creates or replaces a slot. Only administrators may edit the schedule.
func (s *MealScheduleService) UpsertSlot(ctx context.Context, params UpsertSlotParams) (slot domain.MealSlot, err error) {
	if s == nil {
		err = fmt.Errorf("MealScheduleService is nil")
		return
	}

	logger := s.loggerWith(ctx, "UpsertSlot",
		"principal_id", params.Principal.UserID,
		"meal_type", params.Input.MealType,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to upsert meal slot", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "meal slot saved", "active", slot.Active)
	}()

	if !params.Principal.IsAdmin() {
		err = ErrForbidden
		return
	}

	var vErr *ValidationError
	slot, vErr = parseSlotInput(params.Input)
	if vErr.HasErrors() {
		err = vErr
		return
	}
	slot.UpdatedBy = params.Principal.UserID
	slot.UpdatedAt = s.rt.now()

	if err = s.slots.UpsertMealSlot(ctx, slot); err != nil {
		err = mapRepoError("upsert meal slot", err)
		return
	}
	s.changed()
	return slot, nil
}

// SetSlotActive toggles a slot without touching its times.
func (s *MealScheduleService) SetSlotActive(ctx context.Context, principal Principal, mealType domain.MealType, active bool) (slot domain.MealSlot, err error) {
	logger := s.loggerWith(ctx, "SetSlotActive",
		"principal_id", principal.UserID,
		"meal_type", mealType,
		"active", active,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to toggle meal slot", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "meal slot toggled")
	}()

	if !principal.IsAdmin() {
		err = ErrForbidden
		return
	}
	slot, err = s.slots.GetMealSlot(ctx, mealType)
	if err != nil {
		err = mapRepoError("get meal slot", err)
		return
	}
	slot.Active = active
	slot.UpdatedBy = principal.UserID
	slot.UpdatedAt = s.rt.now()
	if err = s.slots.UpsertMealSlot(ctx, slot); err != nil {
		err = mapRepoError("upsert meal slot", err)
		return
	}
	s.changed()
	return slot, nil
}

// SeedDefaults installs the default schedule when the store has no slots and
// returns the number of slots written.
func (s *MealScheduleService) SeedDefaults(ctx context.Context, cost domain.Money) (int, error) {
	existing, err := s.slots.ListMealSlots(ctx)
	if err != nil {
		return 0, mapRepoError("list meal slots", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}
	now := s.rt.now()
	for _, slot := range DefaultSlots(cost) {
		slot.UpdatedBy = "system"
		slot.UpdatedAt = now
		if err := s.slots.UpsertMealSlot(ctx, slot); err != nil {
			return 0, mapRepoError("seed meal slot", err)
		}
	}
	s.changed()
	s.loggerWith(ctx, "SeedDefaults").InfoContext(ctx, "default meal schedule installed", "cost", cost.String())
	return len(domain.MealTypes), nil
}

// Subscribe registers for schedule change notifications. The channel carries
// the new schedule version and holds at most one pending value, so slow
// readers see the latest change rather than every change. The returned func
// unsubscribes and closes the channel.
func (s *MealScheduleService) Subscribe() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Version counts schedule changes since start-up.
func (s *MealScheduleService) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *MealScheduleService) changed() {
	s.cache.Invalidate()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	for _, ch := range s.subscribers {
		select {
		case ch <- s.version:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s.version
		}
	}
}

func parseSlotInput(input SlotInput) (domain.MealSlot, *ValidationError) {
	vErr := &ValidationError{}
	slot := domain.MealSlot{Active: input.Active, DeadlineOffset: input.DeadlineOffset}

	mealType, err := domain.ParseMealType(input.MealType)
	if err != nil {
		vErr.add("meal_type", "must be one of breakfast, lunch, snacks, dinner")
	}
	slot.MealType = mealType

	start, startErr := parseClock(input.Start)
	if startErr != nil {
		vErr.add("start_time", "must be HH:MM")
	}
	end, endErr := parseClock(input.End)
	if endErr != nil {
		vErr.add("end_time", "must be HH:MM")
	}
	slot.Start, slot.End = start, end
	if startErr == nil && endErr == nil && !slot.ValidWindow() {
		vErr.add("end_time", "must be after start_time")
	}

	cost, err := domain.ParseMoney(input.Cost)
	if err != nil {
		vErr.add("cost", "must be a non-negative amount with at most two decimals")
	}
	slot.Cost = cost

	if input.DeadlineOffset < 0 {
		vErr.add("deadline_offset", "must not be negative")
	}
	if input.DeadlineOffset%time.Minute != 0 {
		vErr.add("deadline_offset", "must be a whole number of minutes")
	}
	return slot, vErr
}

func parseClock(value string) (civil.Time, error) {
	value = strings.TrimSpace(value)
	if strings.Count(value, ":") == 1 {
		value += ":00"
	}
	t, err := civil.ParseTime(value)
	if err != nil {
		return civil.Time{}, err
	}
	t.Nanosecond = 0
	return t, nil
}
