package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gorilla/mux"

	"github.com/example/mess-attendance/internal/domain"
)

const maxBodyBytes = 1 << 20

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func pathParam(r *http.Request, name string) string {
	return strings.TrimSpace(mux.Vars(r)[name])
}

// fieldErrors collects request parsing problems in the same shape as
// application.ValidationError.
type fieldErrors map[string]string

func (f fieldErrors) add(field, message string) { f[field] = message }

func (f fieldErrors) empty() bool { return len(f) == 0 }

// parseDate reads a YYYY-MM-DD value. An empty value yields fallback.
func parseDate(value string, fallback civil.Date, field string, errs fieldErrors) civil.Date {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	d, err := civil.ParseDate(value)
	if err != nil {
		errs.add(field, "must be a valid YYYY-MM-DD date")
		return civil.Date{}
	}
	return d
}

// parseMealType reads an optional meal type. An empty value yields "".
func parseMealType(value, field string, errs fieldErrors) domain.MealType {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	mt, err := domain.ParseMealType(value)
	if err != nil {
		errs.add(field, "must be one of breakfast, lunch, snacks, dinner")
		return ""
	}
	return mt
}

func parseMoney(value, field string, errs fieldErrors) domain.Money {
	if strings.TrimSpace(value) == "" {
		return 0
	}
	m, err := domain.ParseMoney(value)
	if err != nil {
		errs.add(field, "must be an amount such as 40 or 40.50")
		return 0
	}
	return m
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func formatClock(t civil.Time) string {
	return t.String()[:5]
}
