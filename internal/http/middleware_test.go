package http

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/example/mess-attendance/internal/application"
	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/metrics"
)

func TestRequireIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		userID         string
		role           string
		expectedStatus int
		expected       application.Principal
	}{
		{name: "missing headers", expectedStatus: http.StatusUnauthorized},
		{name: "missing user id", role: "student", expectedStatus: http.StatusUnauthorized},
		{name: "unknown role", userID: "u1", role: "warden", expectedStatus: http.StatusUnauthorized},
		{
			name:           "role is case insensitive",
			userID:         " u1 ",
			role:           "Mess_Staff",
			expectedStatus: http.StatusOK,
			expected:       application.Principal{UserID: "u1", Role: domain.RoleMessStaff},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got application.Principal
			var seen bool
			handler := RequireIdentity(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, seen = PrincipalFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/meals", nil)
			if tt.userID != "" {
				req.Header.Set(HeaderUserID, tt.userID)
			}
			if tt.role != "" {
				req.Header.Set(HeaderUserRole, tt.role)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if tt.expectedStatus != http.StatusOK {
				if seen {
					t.Fatalf("expected handler not to run")
				}
				if code := decode[errorResponse](t, rec).ErrorCode; code != "unauthorized" {
					t.Fatalf("expected unauthorized error_code, got %q", code)
				}
				return
			}
			if !seen || got != tt.expected {
				t.Fatalf("expected principal %+v, got %+v", tt.expected, got)
			}
		})
	}
}

func TestScanLimiter(t *testing.T) {
	t.Parallel()

	t.Run("each scanner gets its own bucket", func(t *testing.T) {
		t.Parallel()
		now := time.Date(2025, time.March, 10, 13, 0, 0, 0, time.UTC)
		limiter := NewScanLimiter(1, 2, time.Minute)
		limiter.now = func() time.Time { return now }

		if !limiter.Allow("staff-1") || !limiter.Allow("staff-1") {
			t.Fatalf("expected burst of two to be allowed")
		}
		if limiter.Allow("staff-1") {
			t.Fatalf("expected third scan within the same instant to be throttled")
		}
		if !limiter.Allow("staff-2") {
			t.Fatalf("expected a different scanner to be unaffected")
		}

		now = now.Add(time.Second)
		if !limiter.Allow("staff-1") {
			t.Fatalf("expected a token to refill after one second")
		}
	})

	t.Run("idle scanners are forgotten", func(t *testing.T) {
		t.Parallel()
		now := time.Date(2025, time.March, 10, 13, 0, 0, 0, time.UTC)
		limiter := NewScanLimiter(0.001, 1, time.Minute)
		limiter.now = func() time.Time { return now }

		limiter.Allow("staff-1")
		now = now.Add(2 * time.Minute)
		limiter.Allow("staff-2")

		limiter.mu.Lock()
		_, kept := limiter.scanners["staff-1"]
		size := len(limiter.scanners)
		limiter.mu.Unlock()
		if kept || size != 1 {
			t.Fatalf("expected only staff-2 to be tracked, got %d scanners (staff-1 kept=%v)", size, kept)
		}
	})

	t.Run("nil limiter lets scans through", func(t *testing.T) {
		t.Parallel()
		var limiter *ScanLimiter
		handler := limiter.Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/qr/scan", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
	})
}

func TestInstrumentRequestsUsesRouteTemplate(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	r := mux.NewRouter()
	r.Use(InstrumentRequests(m))
	r.HandleFunc("/fines/{id}/payment", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}).Methods(http.MethodPost)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/fines/fine-%d/payment", i), nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	count, err := testutil.GatherAndCount(reg, "mess_http_requests_total")
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single series for the templated route, got %d", count)
	}
}

func TestStatusForKind(t *testing.T) {
	t.Parallel()

	tests := map[string]int{
		"unauthorized":           http.StatusUnauthorized,
		"forbidden":              http.StatusForbidden,
		"not_found":              http.StatusNotFound,
		"already_exists":         http.StatusConflict,
		"already_attended":       http.StatusConflict,
		"frozen":                 http.StatusConflict,
		"already_paid":           http.StatusConflict,
		"already_waived":         http.StatusConflict,
		"validation":             http.StatusUnprocessableEntity,
		"past_date":              http.StatusUnprocessableEntity,
		"past_meal":              http.StatusUnprocessableEntity,
		"deadline_passed":        http.StatusUnprocessableEntity,
		"invalid_qr":             http.StatusUnprocessableEntity,
		"no_active_meal_window":  http.StatusUnprocessableEntity,
		"no_active_subscription": http.StatusUnprocessableEntity,
		"meal_not_booked":        http.StatusUnprocessableEntity,
		"storage":                http.StatusInternalServerError,
		"unexpected":             http.StatusInternalServerError,
	}
	for kind, status := range tests {
		if got := statusForKind(kind); got != status {
			t.Fatalf("expected %s to map to %d, got %d", kind, status, got)
		}
	}
}

func TestHandleServiceErrorHidesStorageDetail(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	err := &application.StorageError{Op: "list fines", Err: fmt.Errorf("disk I/O error at /var/lib/mess.db")}
	newResponder(nil).handleServiceError(httptest.NewRequest(http.MethodGet, "/", nil).Context(), rec, err)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	resp := decode[errorResponse](t, rec)
	if resp.ErrorCode != "storage" || resp.Message != "internal server error" {
		t.Fatalf("unexpected response %+v", resp)
	}
}
