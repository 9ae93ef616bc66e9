package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/persistence"
)

const fineColumns = `id, user_id, fine_type, amount_paise, reason, confirmation_id,
	paid, payment_reference, paid_at, waived, waived_by, waiver_reason, waived_at, created_at`

const insertFine = `
	INSERT INTO fines (` + fineColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func fineArgs(fine domain.Fine) []any {
	return []any{
		fine.ID,
		fine.UserID,
		string(fine.Type),
		int64(fine.Amount),
		fine.Reason,
		nullableString(fine.ConfirmationID),
		boolToInt(fine.Payment.Paid),
		nullableString(fine.Payment.Reference),
		nullableInstant(fine.Payment.At),
		boolToInt(fine.Waiver.Waived),
		nullableString(fine.Waiver.By),
		nullableString(fine.Waiver.Reason),
		nullableInstant(fine.Waiver.At),
		formatInstant(fine.CreatedAt),
	}
}

// CreateFine inserts a new fine. Duplicate identifiers map to ErrDuplicate.
func (s *Storage) CreateFine(ctx context.Context, fine domain.Fine) error {
	_, err := s.db.ExecContext(ctx, insertFine, fineArgs(fine)...)
	return mapError(err)
}

// GetFine returns the fine with id.
func (s *Storage) GetFine(ctx context.Context, id string) (domain.Fine, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fineColumns+` FROM fines WHERE id = ?`, id)
	return scanFine(row)
}

// ListFinesByUser returns a user's fines in creation order.
func (s *Storage) ListFinesByUser(ctx context.Context, userID string) ([]domain.Fine, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fineColumns+` FROM fines WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]domain.Fine, 0)
	for rows.Next() {
		fine, err := scanFine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fine)
	}
	return out, mapError(rows.Err())
}

// MarkFinePaid settles an open fine.
func (s *Storage) MarkFinePaid(ctx context.Context, id string, payment domain.Payment) (domain.Fine, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE fines SET paid = 1, payment_reference = ?, paid_at = ?
		WHERE id = ? AND paid = 0 AND waived = 0
		RETURNING `+fineColumns,
		nullableString(payment.Reference), nullableInstant(payment.At), id)
	fine, err := scanFine(row)
	if errors.Is(err, persistence.ErrNotFound) {
		return domain.Fine{}, s.fineMissingOrSettled(ctx, id)
	}
	return fine, err
}

// MarkFineWaived forgives an open fine.
func (s *Storage) MarkFineWaived(ctx context.Context, id string, waiver domain.Waiver) (domain.Fine, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE fines SET waived = 1, waived_by = ?, waiver_reason = ?, waived_at = ?
		WHERE id = ? AND paid = 0 AND waived = 0
		RETURNING `+fineColumns,
		nullableString(waiver.By), nullableString(waiver.Reason), nullableInstant(waiver.At), id)
	fine, err := scanFine(row)
	if errors.Is(err, persistence.ErrNotFound) {
		return domain.Fine{}, s.fineMissingOrSettled(ctx, id)
	}
	return fine, err
}

func (s *Storage) fineMissingOrSettled(ctx context.Context, id string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM fines WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}
	if err != nil {
		return mapError(err)
	}
	return persistence.ErrConflict
}

func scanFine(row rowScanner) (domain.Fine, error) {
	var (
		fine                              domain.Fine
		fineType, createdAt               string
		amount                            int64
		paid, waived                      int
		confirmationID, reference, paidAt sql.NullString
		waivedBy, waiverReason, waivedAt  sql.NullString
	)
	if err := row.Scan(
		&fine.ID, &fine.UserID, &fineType, &amount, &fine.Reason, &confirmationID,
		&paid, &reference, &paidAt, &waived, &waivedBy, &waiverReason, &waivedAt, &createdAt,
	); err != nil {
		return domain.Fine{}, mapError(err)
	}

	var err error
	if fine.CreatedAt, err = parseInstant(createdAt); err != nil {
		return domain.Fine{}, err
	}
	if fine.Payment.At, err = parseNullInstant(paidAt); err != nil {
		return domain.Fine{}, err
	}
	if fine.Waiver.At, err = parseNullInstant(waivedAt); err != nil {
		return domain.Fine{}, err
	}
	fine.Type = domain.FineType(fineType)
	fine.Amount = domain.Money(amount)
	fine.ConfirmationID = confirmationID.String
	fine.Payment.Paid = paid == 1
	fine.Payment.Reference = reference.String
	fine.Waiver.Waived = waived == 1
	fine.Waiver.By = waivedBy.String
	fine.Waiver.Reason = waiverReason.String
	return fine, nil
}
