package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/mess-attendance/internal/metrics"
)

type RouterConfig struct {
	Meals         *MealHandler
	Confirmations *ConfirmationHandler
	QR            *QRHandler
	Fines         *FineHandler
	Subscriptions *SubscriptionHandler
	Users         *UserHandler

	ScanLimiter    *ScanLimiter
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	Health         func(ctx context.Context) error
	Logger         *slog.Logger
}

// NewRouter wires every handler under /api/v1 behind the identity
// middleware. /healthz and /metrics are served without identity.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := defaultLogger(cfg.Logger)
	responder := newResponder(logger)

	r := mux.NewRouter()
	r.Use(RequestLogger(logger))
	r.Use(InstrumentRequests(cfg.Metrics))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if cfg.Health != nil {
			ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.Health(ctx); err != nil {
				responder.writeJSON(req.Context(), w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy"})
				return
			}
		}
		responder.writeJSON(req.Context(), w, http.StatusOK, healthResponse{Status: "ok"})
	}).Methods(http.MethodGet)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(RequireIdentity(logger))

	if h := cfg.Meals; h != nil {
		api.HandleFunc("/meals", h.List).Methods(http.MethodGet)
		api.HandleFunc("/meals/current", h.Current).Methods(http.MethodGet)
		api.HandleFunc("/meals/{mealType}", h.Upsert).Methods(http.MethodPut)
		api.HandleFunc("/meals/{mealType}/deadline", h.Deadline).Methods(http.MethodGet)
	}

	if h := cfg.Confirmations; h != nil {
		api.HandleFunc("/confirmations", h.Create).Methods(http.MethodPost)
		api.HandleFunc("/confirmations", h.List).Methods(http.MethodGet)
		api.HandleFunc("/confirmations/bulk", h.Bulk).Methods(http.MethodPost)
		api.HandleFunc("/confirmations/{id}", h.Get).Methods(http.MethodGet)
		api.HandleFunc("/confirmations/{id}", h.Cancel).Methods(http.MethodDelete)
		api.HandleFunc("/confirmations/{id}/attendance", h.RecordAttendance).Methods(http.MethodPost)
		api.HandleFunc("/freezes", h.Freeze).Methods(http.MethodPost)
		api.HandleFunc("/reports/daily", h.DailyReport).Methods(http.MethodGet)
	}

	if h := cfg.QR; h != nil {
		api.HandleFunc("/qr/profile", h.IssueProfile).Methods(http.MethodPost)
		api.HandleFunc("/qr/bookings/{id}", h.IssueBooking).Methods(http.MethodPost)

		var scan http.Handler = http.HandlerFunc(h.Scan)
		if cfg.ScanLimiter != nil {
			scan = cfg.ScanLimiter.Middleware(logger)(scan)
		}
		api.Handle("/qr/scan", scan).Methods(http.MethodPost)
	}

	if h := cfg.Fines; h != nil {
		api.HandleFunc("/fines", h.List).Methods(http.MethodGet)
		api.HandleFunc("/fines/{id}/payment", h.Pay).Methods(http.MethodPost)
		api.HandleFunc("/fines/{id}/waiver", h.Waive).Methods(http.MethodPost)
	}

	if h := cfg.Subscriptions; h != nil {
		api.HandleFunc("/subscriptions", h.Create).Methods(http.MethodPost)
		api.HandleFunc("/subscriptions/coverage", h.Coverage).Methods(http.MethodGet)
		api.HandleFunc("/subscriptions/{id}/renewal", h.Renew).Methods(http.MethodPost)
		api.HandleFunc("/subscriptions/{id}/suspension", h.Suspend).Methods(http.MethodPost)
	}

	if h := cfg.Users; h != nil {
		api.HandleFunc("/users/{id}", h.Get).Methods(http.MethodGet)
		api.HandleFunc("/users/{id}", h.Sync).Methods(http.MethodPut)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		responder.writeJSON(req.Context(), w, http.StatusNotFound, errorResponse{ErrorCode: "not_found", Message: "route not found"})
	})
	return r
}

type healthResponse struct {
	Status string `json:"status"`
}
