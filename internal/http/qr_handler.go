package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/example/mess-attendance/internal/application"
	"github.com/example/mess-attendance/internal/metrics"
)

type attendanceService interface {
	IssueProfileQR(ctx context.Context, principal application.Principal) (application.IssuedQR, error)
	IssueBookingQR(ctx context.Context, principal application.Principal, bookingID string) (application.IssuedQR, error)
	Scan(ctx context.Context, principal application.Principal, code string) (application.ScanResult, error)
}

// QRHandler issues and scans attendance QR codes.
type QRHandler struct {
	service   attendanceService
	metrics   *metrics.Metrics
	responder responder
	logger    *slog.Logger
}

func NewQRHandler(service attendanceService, m *metrics.Metrics, logger *slog.Logger) *QRHandler {
	base := defaultLogger(logger)
	return &QRHandler{service: service, metrics: m, responder: newResponder(base), logger: base}
}

func (h *QRHandler) IssueProfile(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	issued, err := h.service.IssueProfileQR(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toIssuedQRDTO(issued))
}

func (h *QRHandler) IssueBooking(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	issued, err := h.service.IssueBookingQR(r.Context(), principal, pathParam(r, "id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toIssuedQRDTO(issued))
}

func (h *QRHandler) Scan(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		h.metrics.ObserveScan("bad_request")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, "bad_request", errBadRequestBody)
		return
	}

	logger := handlerLogger(r.Context(), h.logger, "QRHandler", "Scan", "scanner_id", principal.UserID)
	result, err := h.service.Scan(r.Context(), principal, req.Code)
	if err != nil {
		kind := application.ErrorKind(err)
		h.metrics.ObserveScan(kind)
		logger.InfoContext(r.Context(), "scan rejected", "error_kind", kind)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.metrics.ObserveScan("ok")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, scanResultDTO{
		Kind:           string(result.Kind),
		UserID:         result.UserID,
		BookingID:      result.BookingID,
		MealType:       string(result.MealType),
		Date:           result.Date.String(),
		ConfirmationID: result.ConfirmationID,
		WalkIn:         result.WalkIn,
		ScannedAt:      formatTime(result.ScannedAt),
	})
}

type scanRequest struct {
	Code string `json:"code"`
}

type issuedQRDTO struct {
	Code         string `json:"code"`
	Kind         string `json:"kind"`
	ExpiresAt    string `json:"expires_at"`
	RefreshAfter string `json:"refresh_after,omitempty"`
}

func toIssuedQRDTO(issued application.IssuedQR) issuedQRDTO {
	return issuedQRDTO{
		Code:         issued.Code,
		Kind:         string(issued.Kind),
		ExpiresAt:    formatTime(issued.ExpiresAt),
		RefreshAfter: formatTime(issued.RefreshAfter),
	}
}

type scanResultDTO struct {
	Kind           string `json:"kind"`
	UserID         string `json:"user_id,omitempty"`
	BookingID      string `json:"booking_id,omitempty"`
	MealType       string `json:"meal_type"`
	Date           string `json:"date"`
	ConfirmationID string `json:"confirmation_id,omitempty"`
	WalkIn         bool   `json:"walk_in"`
	ScannedAt      string `json:"scanned_at"`
}
