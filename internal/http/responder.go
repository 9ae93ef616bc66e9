package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/mess-attendance/internal/application"
)

var (
	errBadRequestBody  = errors.New("request body is not valid JSON")
	errMissingIdentity = errors.New("missing or invalid identity headers")
	errTooManyScans    = errors.New("too many scans, slow down")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// writeError responds with a request level failure that did not come from a
// service, such as a malformed body.
func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, code string, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request rejected", "status", status, "error", err)
	}
	r.writeJSON(ctx, w, status, errorResponse{ErrorCode: code, Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, "unexpected", errors.New("unknown error"))
		return
	}

	kind := application.ErrorKind(err)
	status := statusForKind(kind)
	resp := errorResponse{ErrorCode: kind, Message: messageForKind(kind, err)}

	var vErr *application.ValidationError
	if errors.As(err, &vErr) && vErr.HasErrors() {
		resp.Errors = vErr.FieldErrors
	}
	if status >= http.StatusInternalServerError {
		r.loggerFor(ctx).ErrorContext(ctx, "internal error", "error", err, "error_kind", kind)
	}
	r.writeJSON(ctx, w, status, resp)
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

func statusForKind(kind string) int {
	switch kind {
	case "unauthorized":
		return http.StatusUnauthorized
	case "forbidden":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "already_exists", "already_attended", "frozen", "already_paid", "already_waived":
		return http.StatusConflict
	case "validation", "past_date", "past_meal", "deadline_passed", "invalid_qr",
		"no_active_meal_window", "no_active_subscription", "meal_not_booked":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// messageForKind keeps detail attached with %w (such as the deadline instant)
// but never leaks storage errors.
func messageForKind(kind string, err error) string {
	switch kind {
	case "storage", "unexpected":
		return "internal server error"
	case "validation":
		return "request validation failed"
	}
	msg := strings.TrimPrefix(err.Error(), "application: ")
	return msg
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}
