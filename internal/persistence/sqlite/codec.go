package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/example/mess-attendance/internal/domain"
)

// Dates are stored as YYYY-MM-DD, times of day as HH:MM:SS and instants as
// UTC RFC3339Nano so that text comparison matches chronological order.

func formatDate(d civil.Date) string {
	return d.String()
}

func parseDate(value string) (civil.Date, error) {
	d, err := civil.ParseDate(value)
	if err != nil {
		return civil.Date{}, fmt.Errorf("sqlite: decode date %q: %w", value, err)
	}
	return d, nil
}

func formatClock(t civil.Time) string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

func parseClock(value string) (civil.Time, error) {
	t, err := civil.ParseTime(value)
	if err != nil {
		return civil.Time{}, fmt.Errorf("sqlite: decode time %q: %w", value, err)
	}
	return t, nil
}

func formatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseInstant(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: decode timestamp %q: %w", value, err)
	}
	return t, nil
}

func nullableInstant(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatInstant(t)
}

func parseNullInstant(value sql.NullString) (time.Time, error) {
	if !value.Valid || value.String == "" {
		return time.Time{}, nil
	}
	return parseInstant(value.String)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinMealTypes(types []domain.MealType) string {
	parts := make([]string, len(types))
	for i, mt := range types {
		parts[i] = string(mt)
	}
	return strings.Join(parts, ",")
}

func splitMealTypes(value string) []domain.MealType {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]domain.MealType, 0, len(parts))
	for _, p := range parts {
		out = append(out, domain.MealType(p))
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}
