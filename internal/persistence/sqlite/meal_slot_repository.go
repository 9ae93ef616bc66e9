package sqlite

import (
	"context"
	"time"

	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/persistence"
)

const mealSlotColumns = `meal_type, start_time, end_time, cost_paise, deadline_offset_minutes, active, updated_by, updated_at`

// ListMealSlots returns every slot, active or not.
func (s *Storage) ListMealSlots(ctx context.Context) ([]domain.MealSlot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+mealSlotColumns+` FROM meal_timings ORDER BY meal_type`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var slots []domain.MealSlot
	for rows.Next() {
		slot, err := scanMealSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, mapError(rows.Err())
}

// GetMealSlot returns the slot for mealType.
func (s *Storage) GetMealSlot(ctx context.Context, mealType domain.MealType) (domain.MealSlot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mealSlotColumns+` FROM meal_timings WHERE meal_type = ?`, string(mealType))
	return scanMealSlot(row)
}

// UpsertMealSlot inserts or replaces the slot for its meal type.
func (s *Storage) UpsertMealSlot(ctx context.Context, slot domain.MealSlot) error {
	if !slot.ValidWindow() {
		return persistence.ErrConstraintViolation
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meal_timings (`+mealSlotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (meal_type) DO UPDATE SET
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			cost_paise = excluded.cost_paise,
			deadline_offset_minutes = excluded.deadline_offset_minutes,
			active = excluded.active,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at`,
		string(slot.MealType),
		formatClock(slot.Start),
		formatClock(slot.End),
		int64(slot.Cost),
		int64(slot.DeadlineOffset/time.Minute),
		boolToInt(slot.Active),
		slot.UpdatedBy,
		formatInstant(slot.UpdatedAt),
	)
	return mapError(err)
}

func scanMealSlot(row rowScanner) (domain.MealSlot, error) {
	var (
		mealType, start, end, updatedBy, updatedAt string
		cost, offset                               int64
		active                                     int
	)
	if err := row.Scan(&mealType, &start, &end, &cost, &offset, &active, &updatedBy, &updatedAt); err != nil {
		return domain.MealSlot{}, mapError(err)
	}

	slot := domain.MealSlot{
		MealType:       domain.MealType(mealType),
		Cost:           domain.Money(cost),
		DeadlineOffset: time.Duration(offset) * time.Minute,
		Active:         active == 1,
		UpdatedBy:      updatedBy,
	}
	var err error
	if slot.Start, err = parseClock(start); err != nil {
		return domain.MealSlot{}, err
	}
	if slot.End, err = parseClock(end); err != nil {
		return domain.MealSlot{}, err
	}
	if slot.UpdatedAt, err = parseInstant(updatedAt); err != nil {
		return domain.MealSlot{}, err
	}
	return slot, nil
}
