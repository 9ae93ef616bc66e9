package application

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/example/mess-attendance/internal/clock"
	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/persistence"
)

// SubscriptionService manages prepaid meal plans and answers coverage queries.
type SubscriptionService struct {
	subs  persistence.SubscriptionRepository
	users persistence.UserRepository
	rt    Runtime
}

// NewSubscriptionService constructs the service.
func NewSubscriptionService(subs persistence.SubscriptionRepository, users persistence.UserRepository, rt Runtime) *SubscriptionService {
	return &SubscriptionService{subs: subs, users: users, rt: rt.withDefaults()}
}

func (s *SubscriptionService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.rt.Logger, "SubscriptionService", operation, attrs...)
}

// CheckCoverage reports whether userID's active subscription covers mealType
// on date.
func (s *SubscriptionService) CheckCoverage(ctx context.Context, userID string, mealType domain.MealType, date civil.Date) (Coverage, error) {
	sub, err := s.subs.FindActiveSubscription(ctx, userID)
	if errors.Is(err, persistence.ErrNotFound) {
		return Coverage{}, nil
	}
	if err != nil {
		return Coverage{}, mapRepoError("find active subscription", err)
	}
	if !sub.Covers(mealType, date) {
		return Coverage{Subscription: &sub}, nil
	}
	return Coverage{Covered: true, Subscription: &sub}, nil
}

// Active returns the user's active subscription.
func (s *SubscriptionService) Active(ctx context.Context, principal Principal, userID string) (domain.Subscription, error) {
	if userID == "" {
		userID = principal.UserID
	}
	if principal.UserID == "" {
		return domain.Subscription{}, ErrUnauthorized
	}
	if userID != principal.UserID && !principal.IsStaff() {
		return domain.Subscription{}, ErrForbidden
	}
	sub, err := s.subs.FindActiveSubscription(ctx, userID)
	if err != nil {
		return domain.Subscription{}, mapRepoError("find active subscription", err)
	}
	return sub, nil
}

// Create registers a subscription. Staff may create one for any user; other
// callers only for themselves.
func (s *SubscriptionService) Create(ctx context.Context, params CreateSubscriptionParams) (sub domain.Subscription, err error) {
	target := strings.TrimSpace(params.UserID)
	if target == "" {
		target = params.Principal.UserID
	}

	logger := s.loggerWith(ctx, "Create",
		"principal_id", params.Principal.UserID,
		"user_id", target,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create subscription", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "subscription created", "subscription_id", sub.ID)
	}()

	if params.Principal.UserID == "" {
		err = ErrUnauthorized
		return
	}
	if target != params.Principal.UserID && !params.Principal.IsStaff() {
		err = ErrForbidden
		return
	}

	today := clock.Today(s.rt.Clock, s.rt.Location)
	if vErr := validateSubscription(params, today); vErr.HasErrors() {
		err = vErr
		return
	}

	if target == params.Principal.UserID {
		if err = s.users.UpsertUser(ctx, target, params.Principal.Role); err != nil {
			err = mapRepoError("upsert user", err)
			return
		}
	} else if _, err = s.users.GetUser(ctx, target); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			vErr := &ValidationError{}
			vErr.add("user_id", "unknown user")
			err = vErr
			return
		}
		err = mapRepoError("get user", err)
		return
	}

	now := s.rt.now()
	sub = domain.Subscription{
		ID:          s.rt.IDGenerator(),
		UserID:      target,
		MealTypes:   uniqueMealTypes(params.MealTypes),
		StartDate:   params.StartDate,
		EndDate:     params.EndDate,
		Status:      domain.SubscriptionActive,
		MonthlyCost: params.MonthlyCost,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err = s.subs.CreateSubscription(ctx, sub); err != nil {
		err = mapRepoError("create subscription", err)
		return
	}
	return sub, nil
}

// Renew moves a subscription's end date forward and reactivates it if it had
// expired.
func (s *SubscriptionService) Renew(ctx context.Context, params RenewSubscriptionParams) (sub domain.Subscription, err error) {
	logger := s.loggerWith(ctx, "Renew",
		"principal_id", params.Principal.UserID,
		"subscription_id", params.SubscriptionID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to renew subscription", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "subscription renewed", "end_date", sub.EndDate.String())
	}()

	if !params.Principal.IsStaff() {
		err = ErrForbidden
		return
	}
	sub, err = s.subs.GetSubscription(ctx, params.SubscriptionID)
	if err != nil {
		err = mapRepoError("get subscription", err)
		return
	}
	if !params.EndDate.IsValid() || !params.EndDate.After(sub.EndDate) {
		vErr := &ValidationError{}
		vErr.add("end_date", "must be after the current end date")
		err = vErr
		return
	}
	if sub.Status == domain.SubscriptionSuspended {
		vErr := &ValidationError{}
		vErr.add("status", "suspended subscriptions cannot be renewed")
		err = vErr
		return
	}
	sub.EndDate = params.EndDate
	sub.Status = domain.SubscriptionActive
	sub.UpdatedAt = s.rt.now()
	if err = s.subs.UpdateSubscription(ctx, sub); err != nil {
		err = mapRepoError("update subscription", err)
		return
	}
	return sub, nil
}

// Suspend deactivates a subscription immediately.
func (s *SubscriptionService) Suspend(ctx context.Context, principal Principal, id string) (sub domain.Subscription, err error) {
	logger := s.loggerWith(ctx, "Suspend", "principal_id", principal.UserID, "subscription_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to suspend subscription", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "subscription suspended")
	}()

	if !principal.IsStaff() {
		err = ErrForbidden
		return
	}
	sub, err = s.subs.GetSubscription(ctx, id)
	if err != nil {
		err = mapRepoError("get subscription", err)
		return
	}
	sub.Status = domain.SubscriptionSuspended
	sub.UpdatedAt = s.rt.now()
	if err = s.subs.UpdateSubscription(ctx, sub); err != nil {
		err = mapRepoError("update subscription", err)
		return
	}
	return sub, nil
}

// ExpireLapsed marks active subscriptions whose end date is before today as
// expired.
func (s *SubscriptionService) ExpireLapsed(ctx context.Context) (int, error) {
	today := clock.Today(s.rt.Clock, s.rt.Location)
	n, err := s.subs.ExpireSubscriptions(ctx, today, s.rt.now())
	if err != nil {
		return 0, mapRepoError("expire subscriptions", err)
	}
	if n > 0 {
		s.loggerWith(ctx, "ExpireLapsed").InfoContext(ctx, "subscriptions expired", "count", n, "before", today.String())
	}
	return n, nil
}

func validateSubscription(params CreateSubscriptionParams, today civil.Date) *ValidationError {
	vErr := &ValidationError{}
	if len(params.MealTypes) == 0 {
		vErr.add("meal_types", "must include at least one meal type")
	}
	for _, mt := range params.MealTypes {
		if !mt.Valid() {
			vErr.add("meal_types", "must only contain breakfast, lunch, snacks, dinner")
			break
		}
	}
	if !params.StartDate.IsValid() {
		vErr.add("start_date", "must be a valid YYYY-MM-DD date")
	}
	if !params.EndDate.IsValid() {
		vErr.add("end_date", "must be a valid YYYY-MM-DD date")
	}
	if params.StartDate.IsValid() && params.EndDate.IsValid() {
		if params.EndDate.Before(params.StartDate) {
			vErr.add("end_date", "must not be before start_date")
		} else if params.EndDate.Before(today) {
			vErr.add("end_date", "must not be in the past")
		}
	}
	if params.MonthlyCost < 0 {
		vErr.add("monthly_cost", "must not be negative")
	}
	return vErr
}

func uniqueMealTypes(types []domain.MealType) []domain.MealType {
	out := make([]domain.MealType, 0, len(types))
	for _, mt := range domain.MealTypes {
		if slices.Contains(types, mt) {
			out = append(out, mt)
		}
	}
	return out
}
