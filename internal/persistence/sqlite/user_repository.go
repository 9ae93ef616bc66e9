package sqlite

import (
	"context"

	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/persistence"
)

// UpsertUser records or refreshes the role of a user.
func (s *Storage) UpsertUser(ctx context.Context, id string, role domain.Role) error {
	if id == "" || !role.Valid() {
		return persistence.ErrConstraintViolation
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, role) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET role = excluded.role`, id, string(role))
	return mapError(err)
}

// GetUser returns the user with id.
func (s *Storage) GetUser(ctx context.Context, id string) (domain.User, error) {
	var (
		user domain.User
		role string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, role, offense_month, offense_count FROM users WHERE id = ?`, id).
		Scan(&user.ID, &role, &user.Offense.Month, &user.Offense.Count)
	if err != nil {
		return domain.User{}, mapError(err)
	}
	user.Role = domain.Role(role)
	return user, nil
}

// IncrementOffense bumps the monthly counter in a single statement. SQLite
// evaluates every SET expression against the pre-update row, so the month
// comparison sees the stored key.
func (s *Storage) IncrementOffense(ctx context.Context, userID, monthKey string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE users SET
			offense_count = CASE WHEN offense_month = ? THEN offense_count + 1 ELSE 1 END,
			offense_month = ?
		WHERE id = ?
		RETURNING offense_count`, monthKey, monthKey, userID).Scan(&count)
	if err != nil {
		return 0, mapError(err)
	}
	return count, nil
}
