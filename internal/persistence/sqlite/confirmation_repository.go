package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/persistence"
)

const confirmationColumns = `id, user_id, meal_date, meal_type, notes, walk_in, created_at,
	attendance_status, attended_at, attendance_by, attendance_method,
	cost_paise, frozen, frozen_at, freeze_reason, frozen_by, fine_applied_paise`

// CreateConfirmation inserts c. The (user, date, meal type) unique constraint
// rejects concurrent duplicates with persistence.ErrDuplicate.
func (s *Storage) CreateConfirmation(ctx context.Context, c domain.Confirmation) error {
	status := c.Attendance.Status
	if status == "" {
		status = domain.AttendanceUnknown
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meal_confirmations (`+confirmationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.UserID,
		formatDate(c.Date),
		string(c.MealType),
		c.Notes,
		boolToInt(c.WalkIn),
		formatInstant(c.CreatedAt),
		string(status),
		nullableInstant(c.Attendance.At),
		nullableString(c.Attendance.By),
		nullableString(string(c.Attendance.Method)),
		int64(c.Cost),
		boolToInt(c.Freeze.Frozen),
		nullableInstant(c.Freeze.At),
		nullableString(c.Freeze.Reason),
		nullableString(c.Freeze.By),
		int64(c.FineApplied),
	)
	return mapError(err)
}

// GetConfirmation loads a confirmation by id.
func (s *Storage) GetConfirmation(ctx context.Context, id string) (domain.Confirmation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+confirmationColumns+` FROM meal_confirmations WHERE id = ?`, id)
	return scanConfirmation(row)
}

// FindConfirmation loads the confirmation for a (user, date, meal type) triple.
func (s *Storage) FindConfirmation(ctx context.Context, userID string, date civil.Date, mealType domain.MealType) (domain.Confirmation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+confirmationColumns+` FROM meal_confirmations
		WHERE user_id = ? AND meal_date = ? AND meal_type = ?`,
		userID, formatDate(date), string(mealType))
	return scanConfirmation(row)
}

// ListConfirmations returns confirmations matching filter ordered by date,
// meal type and user.
func (s *Storage) ListConfirmations(ctx context.Context, filter persistence.ConfirmationFilter) ([]domain.Confirmation, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.MealType != "" {
		clauses = append(clauses, "meal_type = ?")
		args = append(args, string(filter.MealType))
	}
	if filter.From.IsValid() {
		clauses = append(clauses, "meal_date >= ?")
		args = append(args, formatDate(filter.From))
	}
	if filter.To.IsValid() {
		clauses = append(clauses, "meal_date <= ?")
		args = append(args, formatDate(filter.To))
	}

	query := `SELECT ` + confirmationColumns + ` FROM meal_confirmations`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY meal_date, meal_type, user_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]domain.Confirmation, 0)
	for rows.Next() {
		c, err := scanConfirmation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, mapError(rows.Err())
}

// ListConfirmationsForMeal returns every confirmation for one service.
func (s *Storage) ListConfirmationsForMeal(ctx context.Context, mealType domain.MealType, date civil.Date) ([]domain.Confirmation, error) {
	return s.ListConfirmations(ctx, persistence.ConfirmationFilter{MealType: mealType, From: date, To: date})
}

// RecordAttendance applies update only while the record is not attended,
// unless Override is set.
func (s *Storage) RecordAttendance(ctx context.Context, update persistence.AttendanceUpdate) (domain.Confirmation, error) {
	a := update.Attendance
	row := s.db.QueryRowContext(ctx, `
		UPDATE meal_confirmations SET
			attendance_status = ?,
			attended_at = ?,
			attendance_by = ?,
			attendance_method = ?,
			fine_applied_paise = CASE WHEN ? > 0 THEN ? ELSE fine_applied_paise END
		WHERE id = ? AND (? = 1 OR attendance_status <> 'attended')
		RETURNING `+confirmationColumns,
		string(a.Status),
		nullableInstant(a.At),
		nullableString(a.By),
		nullableString(string(a.Method)),
		int64(update.FineApplied), int64(update.FineApplied),
		update.ConfirmationID,
		boolToInt(update.Override),
	)
	c, err := scanConfirmation(row)
	if errors.Is(err, persistence.ErrNotFound) {
		return domain.Confirmation{}, s.missingOrConflict(ctx, update.ConfirmationID)
	}
	return c, err
}

// DeleteConfirmation removes a confirmation that is neither attended nor frozen.
func (s *Storage) DeleteConfirmation(ctx context.Context, id string) error {
	return s.CancelConfirmation(ctx, id, nil)
}

// CancelConfirmation deletes a mutable confirmation and inserts fine, when
// given, inside one transaction.
func (s *Storage) CancelConfirmation(ctx context.Context, id string, fine *domain.Fine) error {
	deleted := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM meal_confirmations
			WHERE id = ? AND frozen = 0 AND attendance_status <> 'attended'`, id)
		if err != nil {
			return mapError(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return mapError(err)
		}
		if affected == 0 {
			return nil
		}
		deleted = true
		if fine == nil {
			return nil
		}
		_, err = tx.ExecContext(ctx, insertFine, fineArgs(*fine)...)
		return mapError(err)
	})
	if err != nil {
		return err
	}
	if !deleted {
		return s.missingOrConflict(ctx, id)
	}
	return nil
}

// FreezeConfirmations freezes every unfrozen record of one service and
// returns the number of rows changed.
func (s *Storage) FreezeConfirmations(ctx context.Context, mealType domain.MealType, date civil.Date, mark domain.FreezeMark) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE meal_confirmations
		SET frozen = 1, frozen_at = ?, freeze_reason = ?, frozen_by = ?
		WHERE meal_type = ? AND meal_date = ? AND frozen = 0`,
		nullableInstant(mark.At),
		nullableString(mark.Reason),
		nullableString(mark.By),
		string(mealType),
		formatDate(date),
	)
	if err != nil {
		return 0, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, mapError(err)
	}
	return int(affected), nil
}

// SetFineApplied records the fine attached to a confirmation.
func (s *Storage) SetFineApplied(ctx context.Context, id string, amount domain.Money) error {
	res, err := s.db.ExecContext(ctx, `UPDATE meal_confirmations SET fine_applied_paise = ? WHERE id = ?`, int64(amount), id)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *Storage) missingOrConflict(ctx context.Context, id string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM meal_confirmations WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}
	if err != nil {
		return mapError(err)
	}
	return persistence.ErrConflict
}

func scanConfirmation(row rowScanner) (domain.Confirmation, error) {
	var (
		c                                 domain.Confirmation
		date, mealType, createdAt, status string
		walkIn, frozen                    int
		attendedAt, attendanceBy, method  sql.NullString
		frozenAt, freezeReason, frozenBy  sql.NullString
		cost, fineApplied                 int64
	)
	if err := row.Scan(
		&c.ID, &c.UserID, &date, &mealType, &c.Notes, &walkIn, &createdAt,
		&status, &attendedAt, &attendanceBy, &method,
		&cost, &frozen, &frozenAt, &freezeReason, &frozenBy, &fineApplied,
	); err != nil {
		return domain.Confirmation{}, mapError(err)
	}

	var err error
	if c.Date, err = parseDate(date); err != nil {
		return domain.Confirmation{}, err
	}
	if c.CreatedAt, err = parseInstant(createdAt); err != nil {
		return domain.Confirmation{}, err
	}
	if c.Attendance.At, err = parseNullInstant(attendedAt); err != nil {
		return domain.Confirmation{}, err
	}
	if c.Freeze.At, err = parseNullInstant(frozenAt); err != nil {
		return domain.Confirmation{}, err
	}

	c.MealType = domain.MealType(mealType)
	c.WalkIn = walkIn == 1
	c.Attendance.Status = domain.AttendanceStatus(status)
	c.Attendance.By = attendanceBy.String
	c.Attendance.Method = domain.AttendanceMethod(method.String)
	c.Cost = domain.Money(cost)
	c.Freeze.Frozen = frozen == 1
	c.Freeze.Reason = freezeReason.String
	c.Freeze.By = frozenBy.String
	c.FineApplied = domain.Money(fineApplied)
	return c, nil
}
