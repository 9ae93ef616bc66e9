package sqlite

import (
	"context"
	"time"

	"cloud.google.com/go/civil"

	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/persistence"
)

const subscriptionColumns = `id, user_id, meal_types, start_date, end_date, status, monthly_cost_paise, created_at, updated_at`

// CreateSubscription inserts sub. The partial unique index on active
// subscriptions turns a second active plan into persistence.ErrDuplicate.
func (s *Storage) CreateSubscription(ctx context.Context, sub domain.Subscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mess_subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.UserID,
		joinMealTypes(sub.MealTypes),
		formatDate(sub.StartDate),
		formatDate(sub.EndDate),
		string(sub.Status),
		int64(sub.MonthlyCost),
		formatInstant(sub.CreatedAt),
		formatInstant(sub.UpdatedAt),
	)
	return mapError(err)
}

// GetSubscription returns the subscription with id.
func (s *Storage) GetSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM mess_subscriptions WHERE id = ?`, id)
	return scanSubscription(row)
}

// FindActiveSubscription returns the user's active subscription.
func (s *Storage) FindActiveSubscription(ctx context.Context, userID string) (domain.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+` FROM mess_subscriptions
		WHERE user_id = ? AND status = 'active'`, userID)
	return scanSubscription(row)
}

// UpdateSubscription replaces a stored subscription.
func (s *Storage) UpdateSubscription(ctx context.Context, sub domain.Subscription) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mess_subscriptions
		SET meal_types = ?, start_date = ?, end_date = ?, status = ?, monthly_cost_paise = ?, updated_at = ?
		WHERE id = ?`,
		joinMealTypes(sub.MealTypes),
		formatDate(sub.StartDate),
		formatDate(sub.EndDate),
		string(sub.Status),
		int64(sub.MonthlyCost),
		formatInstant(sub.UpdatedAt),
		sub.ID,
	)
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

// ExpireSubscriptions flips active plans whose end date precedes endedBefore.
func (s *Storage) ExpireSubscriptions(ctx context.Context, endedBefore civil.Date, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mess_subscriptions SET status = 'expired', updated_at = ?
		WHERE status = 'active' AND end_date < ?`,
		formatInstant(at), formatDate(endedBefore))
	if err != nil {
		return 0, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, mapError(err)
	}
	return int(affected), nil
}

func scanSubscription(row rowScanner) (domain.Subscription, error) {
	var (
		sub                           domain.Subscription
		mealTypes, start, end, status string
		createdAt, updatedAt          string
		cost                          int64
	)
	if err := row.Scan(&sub.ID, &sub.UserID, &mealTypes, &start, &end, &status, &cost, &createdAt, &updatedAt); err != nil {
		return domain.Subscription{}, mapError(err)
	}

	var err error
	if sub.StartDate, err = parseDate(start); err != nil {
		return domain.Subscription{}, err
	}
	if sub.EndDate, err = parseDate(end); err != nil {
		return domain.Subscription{}, err
	}
	if sub.CreatedAt, err = parseInstant(createdAt); err != nil {
		return domain.Subscription{}, err
	}
	if sub.UpdatedAt, err = parseInstant(updatedAt); err != nil {
		return domain.Subscription{}, err
	}
	sub.MealTypes = splitMealTypes(mealTypes)
	sub.Status = domain.SubscriptionStatus(status)
	sub.MonthlyCost = domain.Money(cost)
	return sub, nil
}
