package sqlite

import (
	"context"
	"time"

	"cloud.google.com/go/civil"

	"github.com/example/mess-attendance/internal/domain"
)

// ClaimAssessment inserts the run marker for (mealType, date) and reports
// whether this caller won the claim.
func (s *Storage) ClaimAssessment(ctx context.Context, mealType domain.MealType, date civil.Date, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fine_assessment_runs (meal_type, meal_date, ran_at) VALUES (?, ?, ?)
		ON CONFLICT (meal_type, meal_date) DO NOTHING`,
		string(mealType), formatDate(date), formatInstant(at))
	if err != nil {
		return false, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, mapError(err)
	}
	return affected == 1, nil
}
