// Package mealtime evaluates the daily meal schedule against an instant:
// confirmation deadlines, the active or upcoming service window, and the
// moment a service window becomes eligible for fine assessment.
package mealtime

import (
	"errors"
	"sort"
	"time"

	"cloud.google.com/go/civil"

	"github.com/example/mess-attendance/internal/clock"
	"github.com/example/mess-attendance/internal/domain"
)

// ErrNoSlots indicates the schedule has no active slots to evaluate.
var ErrNoSlots = errors.New("mealtime: no active meal slots")

// Deadline is the confirmation cut-off for one meal on one date.
type Deadline struct {
	MealType      domain.MealType
	Date          civil.Date
	MealStart     time.Time
	Deadline      time.Time
	CanConfirmNow bool
}

// Window describes where an instant falls within the day's schedule.
//
// Active is the earliest-starting slot whose [start, end] contains the
// instant. Overlapping lists every containing slot in start order. Upcoming is
// the earliest slot starting strictly after the instant, wrapping to the first
// slot of the next day. LastFinished is the slot with the latest end strictly
// before the instant.
type Window struct {
	Active       *domain.MealSlot
	Overlapping  []domain.MealSlot
	Upcoming     *domain.MealSlot
	UpcomingDate civil.Date
	LastFinished *domain.MealSlot
}

// Engine interprets civil schedule times in a fixed location.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine for loc. If loc is nil, Asia/Kolkata is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = clock.LoadLocation(clock.DefaultZone)
	}
	return &Engine{location: loc}
}

// Location returns the engine's timezone.
func (e *Engine) Location() *time.Location {
	return e.location
}

// At combines a calendar date and time of day into an instant.
func (e *Engine) At(date civil.Date, tod civil.Time) time.Time {
	return civil.DateTime{Date: date, Time: tod}.In(e.location)
}

// ComputeDeadline returns mealStart(date) - offset and whether now is still
// on or before that deadline.
func (e *Engine) ComputeDeadline(slot domain.MealSlot, date civil.Date, now time.Time) Deadline {
	start := e.At(date, slot.Start)
	deadline := start.Add(-slot.DeadlineOffset)
	return Deadline{
		MealType:      slot.MealType,
		Date:          date,
		MealStart:     start,
		Deadline:      deadline,
		CanConfirmNow: !now.After(deadline),
	}
}

// Resolve locates now within the day's active slots.
func (e *Engine) Resolve(slots []domain.MealSlot, now time.Time) (Window, error) {
	ordered := SortByStart(activeOnly(slots))
	if len(ordered) == 0 {
		return Window{}, ErrNoSlots
	}

	local := now.In(e.location)
	today := civil.DateOf(local)
	current := domain.SecondsOfDay(civil.TimeOf(local))

	var w Window
	for i := range ordered {
		slot := ordered[i]
		start := domain.SecondsOfDay(slot.Start)
		end := domain.SecondsOfDay(slot.End)

		if start <= current && current <= end {
			w.Overlapping = append(w.Overlapping, slot)
		}
		if start > current && w.Upcoming == nil {
			s := slot
			w.Upcoming = &s
			w.UpcomingDate = today
		}
		if end < current {
			if w.LastFinished == nil || domain.SecondsOfDay(w.LastFinished.End) < end {
				s := slot
				w.LastFinished = &s
			}
		}
	}

	if len(w.Overlapping) > 0 {
		s := w.Overlapping[0]
		w.Active = &s
	}
	if w.Upcoming == nil {
		s := ordered[0]
		w.Upcoming = &s
		w.UpcomingDate = today.AddDays(1)
	}
	return w, nil
}

// FineRunAt is the instant the slot's service on date becomes eligible for
// fine assessment: the slot end plus delay.
func (e *Engine) FineRunAt(slot domain.MealSlot, date civil.Date, delay time.Duration) time.Time {
	return e.At(date, slot.End).Add(delay)
}

// NextFineRun returns the meal date and instant of the next assessment for slot
// strictly after now. Runs that cross midnight are attributed to the meal's
// own date.
func (e *Engine) NextFineRun(slot domain.MealSlot, now time.Time, delay time.Duration) (civil.Date, time.Time) {
	date := civil.DateOf(now.In(e.location)).AddDays(-1)
	for {
		runAt := e.FineRunAt(slot, date, delay)
		if runAt.After(now) {
			return date, runAt
		}
		date = date.AddDays(1)
	}
}

// LastStart returns the latest start time among active slots.
func LastStart(slots []domain.MealSlot) (civil.Time, bool) {
	var (
		latest civil.Time
		found  bool
	)
	for _, slot := range activeOnly(slots) {
		if !found || domain.SecondsOfDay(slot.Start) > domain.SecondsOfDay(latest) {
			latest = slot.Start
			found = true
		}
	}
	return latest, found
}

// SortByStart returns a copy of slots ordered by start time, then meal type.
func SortByStart(slots []domain.MealSlot) []domain.MealSlot {
	out := make([]domain.MealSlot, len(slots))
	copy(out, slots)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := domain.SecondsOfDay(out[i].Start), domain.SecondsOfDay(out[j].Start)
		if a == b {
			return out[i].MealType < out[j].MealType
		}
		return a < b
	})
	return out
}

func activeOnly(slots []domain.MealSlot) []domain.MealSlot {
	out := make([]domain.MealSlot, 0, len(slots))
	for _, slot := range slots {
		if slot.Active {
			out = append(out, slot)
		}
	}
	return out
}
