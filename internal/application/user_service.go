package application

import (
	"context"
	"log/slog"
	"strings"

	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/persistence"
)

// UserService maintains the local projection of identity-provider accounts.
type UserService struct {
	users persistence.UserRepository
	rt    Runtime
}

// NewUserService constructs the service.
func NewUserService(users persistence.UserRepository, rt Runtime) *UserService {
	return &UserService{users: users, rt: rt.withDefaults()}
}

func (s *UserService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.rt.Logger, "UserService", operation, attrs...)
}

// SyncUser creates or updates a user's role. Administrators only.
func (s *UserService) SyncUser(ctx context.Context, params SyncUserParams) (user domain.User, err error) {
	logger := s.loggerWith(ctx, "SyncUser",
		"principal_id", params.Principal.UserID,
		"user_id", params.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to sync user", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "user synced", "role", user.Role)
	}()

	if !params.Principal.IsAdmin() {
		err = ErrForbidden
		return
	}

	vErr := &ValidationError{}
	id := strings.TrimSpace(params.UserID)
	if id == "" {
		vErr.add("user_id", "must not be empty")
	}
	role, roleErr := domain.ParseRole(params.Role)
	if roleErr != nil {
		vErr.add("role", "must be one of student, employee, mess_staff, hod, admin")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	if err = s.users.UpsertUser(ctx, id, role); err != nil {
		err = mapRepoError("upsert user", err)
		return
	}
	user, err = s.users.GetUser(ctx, id)
	if err != nil {
		err = mapRepoError("get user", err)
	}
	return
}

// GetUser returns a user visible to the principal.
func (s *UserService) GetUser(ctx context.Context, principal Principal, id string) (domain.User, error) {
	if principal.UserID == "" {
		return domain.User{}, ErrUnauthorized
	}
	if id != principal.UserID && !principal.IsStaff() {
		return domain.User{}, ErrForbidden
	}
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, mapRepoError("get user", err)
	}
	return user, nil
}
