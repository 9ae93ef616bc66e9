package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/mess-attendance/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = base
	}
	if logger == nil {
		logger = slog.Default()
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// ErrorKind maps sentinel and validation errors to a stable label used in logs
// and API error codes.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrPastDate):
		return "past_date"
	case errors.Is(err, ErrPastMeal):
		return "past_meal"
	case errors.Is(err, ErrDeadlinePassed):
		return "deadline_passed"
	case errors.Is(err, ErrAlreadyAttended):
		return "already_attended"
	case errors.Is(err, ErrFrozen):
		return "frozen"
	case errors.Is(err, ErrInvalidQR):
		return "invalid_qr"
	case errors.Is(err, ErrNoActiveMealWindow):
		return "no_active_meal_window"
	case errors.Is(err, ErrNoActiveSubscription):
		return "no_active_subscription"
	case errors.Is(err, ErrMealNotBooked):
		return "meal_not_booked"
	case errors.Is(err, ErrAlreadyPaid):
		return "already_paid"
	case errors.Is(err, ErrAlreadyWaived):
		return "already_waived"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}
	var sErr *StorageError
	if errors.As(err, &sErr) {
		return "storage"
	}

	return "unexpected"
}
