package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/example/mess-attendance/internal/application"
	"github.com/example/mess-attendance/internal/domain"
)

type fineService interface {
	ListForUser(ctx context.Context, principal application.Principal, userID string) ([]domain.Fine, error)
	Pay(ctx context.Context, params application.PayFineParams) (domain.Fine, error)
	Waive(ctx context.Context, params application.WaiveFineParams) (domain.Fine, error)
}

type FineHandler struct {
	service   fineService
	responder responder
}

func NewFineHandler(service fineService, logger *slog.Logger) *FineHandler {
	return &FineHandler{service: service, responder: newResponder(logger)}
}

func (h *FineHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	fines, err := h.service.ListForUser(r.Context(), principal, r.URL.Query().Get("user_id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := listFinesResponse{Fines: make([]fineDTO, 0, len(fines))}
	var outstanding domain.Money
	for _, fine := range fines {
		resp.Fines = append(resp.Fines, toFineDTO(fine))
		if !fine.Settled() {
			outstanding += fine.Amount
		}
	}
	resp.Outstanding = outstanding.String()
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *FineHandler) Pay(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req payFineRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, "bad_request", errBadRequestBody)
		return
	}

	fine, err := h.service.Pay(r.Context(), application.PayFineParams{
		Principal: principal,
		FineID:    pathParam(r, "id"),
		Reference: req.Reference,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, fineResponse{Fine: toFineDTO(fine)})
}

func (h *FineHandler) Waive(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req waiveFineRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, "bad_request", errBadRequestBody)
		return
	}

	fine, err := h.service.Waive(r.Context(), application.WaiveFineParams{
		Principal: principal,
		FineID:    pathParam(r, "id"),
		Reason:    req.Reason,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, fineResponse{Fine: toFineDTO(fine)})
}

type payFineRequest struct {
	Reference string `json:"reference"`
}

type waiveFineRequest struct {
	Reason string `json:"reason"`
}

type fineDTO struct {
	ID               string `json:"id"`
	UserID           string `json:"user_id"`
	Type             string `json:"type"`
	Amount           string `json:"amount"`
	Reason           string `json:"reason"`
	ConfirmationID   string `json:"confirmation_id,omitempty"`
	Paid             bool   `json:"paid"`
	PaymentReference string `json:"payment_reference,omitempty"`
	PaidAt           string `json:"paid_at,omitempty"`
	Waived           bool   `json:"waived"`
	WaivedBy         string `json:"waived_by,omitempty"`
	WaiverReason     string `json:"waiver_reason,omitempty"`
	WaivedAt         string `json:"waived_at,omitempty"`
	CreatedAt        string `json:"created_at"`
}

func toFineDTO(f domain.Fine) fineDTO {
	return fineDTO{
		ID:               f.ID,
		UserID:           f.UserID,
		Type:             string(f.Type),
		Amount:           f.Amount.String(),
		Reason:           f.Reason,
		ConfirmationID:   f.ConfirmationID,
		Paid:             f.Payment.Paid,
		PaymentReference: f.Payment.Reference,
		PaidAt:           formatTime(f.Payment.At),
		Waived:           f.Waiver.Waived,
		WaivedBy:         f.Waiver.By,
		WaiverReason:     f.Waiver.Reason,
		WaivedAt:         formatTime(f.Waiver.At),
		CreatedAt:        formatTime(f.CreatedAt),
	}
}

type fineResponse struct {
	Fine fineDTO `json:"fine"`
}

type listFinesResponse struct {
	Fines       []fineDTO `json:"fines"`
	Outstanding string    `json:"outstanding"`
}
