package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/persistence"
)

// CreateBooking stores a booking together with its meal sub-records.
func (s *Storage) CreateBooking(ctx context.Context, booking domain.Booking) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bookings (id, kind, host_user_id, guest_name, booking_date, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			booking.ID,
			string(booking.Kind),
			booking.HostUserID,
			booking.GuestName,
			formatDate(booking.Date),
			formatInstant(booking.CreatedAt),
		); err != nil {
			return mapError(err)
		}
		for _, meal := range booking.Meals {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO booking_meals (booking_id, meal_type, attended, attended_at, scanned_by)
				VALUES (?, ?, ?, ?, ?)`,
				booking.ID,
				string(meal.MealType),
				boolToInt(meal.Attended),
				nullableInstant(meal.AttendedAt),
				nullableString(meal.ScannedBy),
			); err != nil {
				return mapError(err)
			}
		}
		return nil
	})
}

// GetBooking returns the booking with id.
func (s *Storage) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	var (
		booking        domain.Booking
		kind, date, ts string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, host_user_id, guest_name, booking_date, created_at
		FROM bookings WHERE id = ?`, id).
		Scan(&booking.ID, &kind, &booking.HostUserID, &booking.GuestName, &date, &ts)
	if err != nil {
		return domain.Booking{}, mapError(err)
	}
	booking.Kind = domain.BookingKind(kind)
	if booking.Date, err = parseDate(date); err != nil {
		return domain.Booking{}, err
	}
	if booking.CreatedAt, err = parseInstant(ts); err != nil {
		return domain.Booking{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT meal_type, attended, attended_at, scanned_by
		FROM booking_meals WHERE booking_id = ? ORDER BY rowid`, id)
	if err != nil {
		return domain.Booking{}, mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			meal                domain.BookingMeal
			mealType            string
			attended            int
			attendedAt, scanner sql.NullString
		)
		if err := rows.Scan(&mealType, &attended, &attendedAt, &scanner); err != nil {
			return domain.Booking{}, mapError(err)
		}
		meal.MealType = domain.MealType(mealType)
		meal.Attended = attended == 1
		meal.ScannedBy = scanner.String
		if meal.AttendedAt, err = parseNullInstant(attendedAt); err != nil {
			return domain.Booking{}, err
		}
		booking.Meals = append(booking.Meals, meal)
	}
	return booking, mapError(rows.Err())
}

// MarkBookingMealAttended serves one meal of a booking exactly once.
func (s *Storage) MarkBookingMealAttended(ctx context.Context, mark persistence.BookingAttendance, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE booking_meals SET attended = 1, attended_at = ?, scanned_by = ?
		WHERE booking_id = ? AND meal_type = ? AND attended = 0`,
		formatInstant(at), nullableString(mark.ScannedBy), mark.BookingID, string(mark.MealType))
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if affected > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM booking_meals WHERE booking_id = ? AND meal_type = ?`,
		mark.BookingID, string(mark.MealType)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("booking %s has no %s: %w", mark.BookingID, mark.MealType, persistence.ErrNotFound)
	}
	if err != nil {
		return mapError(err)
	}
	return persistence.ErrConflict
}
